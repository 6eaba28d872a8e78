// Package structrpc registers gRPC services whose request and response messages are
// google.protobuf.Struct values, and provides field accessors for those messages.
package structrpc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Method handles one unary RPC.
type Method func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Service is the handler type registered for every Struct-based service.
type Service interface {
	Methods() map[string]Method
}

// ServiceDesc builds the descriptor for service name from svc's methods. Methods are sorted by name.
func ServiceDesc(name string, svc Service) *grpc.ServiceDesc {
	methods := svc.Methods()
	names := make([]string, 0, len(methods))
	for n := range methods {
		names = append(names, n)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*Service)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    name,
	}
	for _, n := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: n,
			Handler:    unaryHandler("/"+name+"/"+n, methods[n]),
		})
	}
	return desc
}

// Register registers svc under name on s.
func Register(s grpc.ServiceRegistrar, name string, svc Service) {
	s.RegisterService(ServiceDesc(name, svc), svc)
}

func unaryHandler(fullMethod string, m Method) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return m(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Invoke calls service/method on cc.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, service, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// String returns the string field key, or "" when absent or not a string.
func String(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// Bool returns the bool field key, or false.
func Bool(s *structpb.Struct, key string) bool {
	v, ok := s.GetFields()[key]
	if !ok {
		return false
	}
	return v.GetBoolValue()
}

// Int returns the number field key truncated to int, or 0.
func Int(s *structpb.Struct, key string) int {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0
	}
	return int(v.GetNumberValue())
}

// Map returns the struct field key as a Go map, or nil.
func Map(s *structpb.Struct, key string) map[string]any {
	v, ok := s.GetFields()[key]
	if !ok || v.GetStructValue() == nil {
		return nil
	}
	return v.GetStructValue().AsMap()
}

// NewStruct converts m to a Struct. Values structpb cannot represent are converted: string slices
// to lists, times to RFC 3339 strings, nested maps recursively, and anything else to its %v form.
func NewStruct(m map[string]any) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(m))}
	for k, v := range m {
		out.Fields[k] = NewValue(v)
	}
	return out
}

// NewValue converts v to a Value using the rules of NewStruct.
func NewValue(v any) *structpb.Value {
	switch t := v.(type) {
	case []string:
		list := make([]*structpb.Value, len(t))
		for i, s := range t {
			list[i] = structpb.NewStringValue(s)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: list})
	case time.Time:
		if t.IsZero() {
			return structpb.NewNullValue()
		}
		return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if t == nil {
			return structpb.NewNullValue()
		}
		return NewValue(*t)
	case map[string]any:
		return structpb.NewStructValue(NewStruct(t))
	case *structpb.Struct:
		return structpb.NewStructValue(t)
	case []map[string]any:
		list := make([]*structpb.Value, len(t))
		for i, m := range t {
			list[i] = structpb.NewStructValue(NewStruct(m))
		}
		return structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	val, err := structpb.NewValue(v)
	if err != nil {
		return structpb.NewStringValue(fmt.Sprintf("%v", v))
	}
	return val
}
