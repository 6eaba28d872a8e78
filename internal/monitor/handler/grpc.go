package handler

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sweetpy/intelXv2-sub001/internal/monitor"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

// ServiceName is the gRPC service name of the security service.
const ServiceName = "intellx.security.v1.SecurityService"

// Full method names, for interceptor configuration. None of them require an access token.
const (
	MethodGetSecurityContext  = "/" + ServiceName + "/GetSecurityContext"
	MethodReportSecurityEvent = "/" + ServiceName + "/ReportSecurityEvent"
	MethodRecordClipboard     = "/" + ServiceName + "/RecordClipboard"
	MethodHandleKeyCombo      = "/" + ServiceName + "/HandleKeyCombo"
	MethodHandleContextMenu   = "/" + ServiceName + "/HandleContextMenu"
	MethodReportViewport      = "/" + ServiceName + "/ReportViewport"
)

// PublicMethods lists the methods callable without an access token.
var PublicMethods = []string{
	MethodGetSecurityContext,
	MethodReportSecurityEvent,
	MethodRecordClipboard,
	MethodHandleKeyCombo,
	MethodHandleContextMenu,
	MethodReportViewport,
}

// Default budget for the reporting methods, shared by all callers.
const (
	DefaultReportRate  = rate.Limit(50)
	DefaultReportBurst = 100
)

// Server implements SecurityService over the process security context.
type Server struct {
	sec      *monitor.SecurityContext
	viewport *monitor.ReportedViewport
	reports  *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithReportRate replaces the budget of the methods that write to the audit trail.
func WithReportRate(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.reports = rate.NewLimiter(limit, burst) }
}

// NewServer returns a new Security gRPC server. viewport receives ReportViewport calls and may be
// nil. Pass a nil sec for stub (Unimplemented).
func NewServer(sec *monitor.SecurityContext, viewport *monitor.ReportedViewport, opts ...Option) *Server {
	s := &Server{
		sec:      sec,
		viewport: viewport,
		reports:  rate.NewLimiter(DefaultReportRate, DefaultReportBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Methods implements structrpc.Service.
func (s *Server) Methods() map[string]structrpc.Method {
	return map[string]structrpc.Method{
		"GetSecurityContext":  s.GetSecurityContext,
		"ReportSecurityEvent": s.ReportSecurityEvent,
		"RecordClipboard":     s.RecordClipboard,
		"HandleKeyCombo":      s.HandleKeyCombo,
		"HandleContextMenu":   s.HandleContextMenu,
		"ReportViewport":      s.ReportViewport,
	}
}

// GetSecurityContext returns the security level. Unauthenticated callers also receive the page
// CSRF token. When the request carries an environment, its own assessment is returned alongside.
func (s *Server) GetSecurityContext(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sec == nil {
		return nil, status.Error(codes.Unimplemented, "method GetSecurityContext not implemented")
	}
	a := s.sec.Assessment()
	out := map[string]any{
		"level":       string(a.Level),
		"score":       a.Score,
		"environment": environmentToMap(s.sec.Environment()),
	}
	if _, ok := interceptors.GetUserID(ctx); !ok {
		out["csrf_token"] = s.sec.CSRFToken()
	}
	if env, ok := environmentFromRequest(req); ok {
		ca := s.sec.Assess(ctx, env)
		out["client_level"] = string(ca.Level)
		out["client_score"] = ca.Score
	}
	return structrpc.NewStruct(out), nil
}

// ReportSecurityEvent records a client-reported security event.
func (s *Server) ReportSecurityEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sec == nil {
		return nil, status.Error(codes.Unimplemented, "method ReportSecurityEvent not implemented")
	}
	if !s.reports.Allow() {
		return nil, errReportsExhausted
	}
	ev := monitor.Event{
		Type:        monitor.EventType(structrpc.String(req, "type")),
		Severity:    monitor.Severity(structrpc.String(req, "severity")),
		Description: structrpc.String(req, "description"),
		Metadata:    structrpc.Map(req, "metadata"),
	}
	if err := s.sec.ReportSecurityEvent(ctx, ev); err != nil {
		if errors.Is(err, monitor.ErrInvalidEvent) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, "failed to report security event")
	}
	return &structpb.Struct{}, nil
}

// RecordClipboard records a clipboard copy or paste.
func (s *Server) RecordClipboard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sec == nil {
		return nil, status.Error(codes.Unimplemented, "method RecordClipboard not implemented")
	}
	if !s.reports.Allow() {
		return nil, errReportsExhausted
	}
	length := structrpc.Int(req, "length")
	if length < 0 {
		return nil, status.Error(codes.InvalidArgument, "length must be non-negative")
	}
	if err := s.sec.RecordClipboard(ctx, monitor.ClipboardAction(structrpc.String(req, "action")), length); err != nil {
		return nil, status.Error(codes.InvalidArgument, "action must be copy or paste")
	}
	return &structpb.Struct{}, nil
}

// HandleKeyCombo reports whether the client should suppress the key combination.
func (s *Server) HandleKeyCombo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sec == nil {
		return nil, status.Error(codes.Unimplemented, "method HandleKeyCombo not implemented")
	}
	if !s.reports.Allow() {
		return nil, errReportsExhausted
	}
	combo := structrpc.String(req, "combo")
	if combo == "" {
		return nil, status.Error(codes.InvalidArgument, "combo is required")
	}
	return structrpc.NewStruct(map[string]any{"suppress": s.sec.HandleKeyCombo(ctx, combo)}), nil
}

// HandleContextMenu reports whether the client should suppress the context menu.
func (s *Server) HandleContextMenu(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sec == nil {
		return nil, status.Error(codes.Unimplemented, "method HandleContextMenu not implemented")
	}
	if !s.reports.Allow() {
		return nil, errReportsExhausted
	}
	return structrpc.NewStruct(map[string]any{"suppress": s.sec.HandleContextMenu(ctx)}), nil
}

// ReportViewport stores the client's window dimensions for the developer tools detector.
func (s *Server) ReportViewport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.viewport == nil {
		return nil, status.Error(codes.Unimplemented, "method ReportViewport not implemented")
	}
	s.viewport.Update(monitor.Viewport{
		OuterWidth:  structrpc.Int(req, "outer_width"),
		OuterHeight: structrpc.Int(req, "outer_height"),
		InnerWidth:  structrpc.Int(req, "inner_width"),
		InnerHeight: structrpc.Int(req, "inner_height"),
	})
	return &structpb.Struct{}, nil
}

var errReportsExhausted = status.Error(codes.ResourceExhausted, "too many security reports")

func environmentFromRequest(req *structpb.Struct) (domain.Environment, bool) {
	v, ok := req.GetFields()["environment"]
	if !ok || v.GetStructValue() == nil {
		return domain.Environment{}, false
	}
	env := v.GetStructValue()
	return domain.Environment{
		SecureTransport:  structrpc.Bool(env, "secure_transport"),
		CryptoAvailable:  structrpc.Bool(env, "crypto_available"),
		SecureContext:    structrpc.Bool(env, "secure_context"),
		StorageAvailable: structrpc.Bool(env, "storage_available"),
	}, true
}

func environmentToMap(env domain.Environment) map[string]any {
	return map[string]any{
		"secure_transport":  env.SecureTransport,
		"crypto_available":  env.CryptoAvailable,
		"secure_context":    env.SecureContext,
		"storage_available": env.StorageAvailable,
	}
}
