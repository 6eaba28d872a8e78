package audit

import (
	"strings"
	"unicode"
)

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /intellx.auth.v1.AuthService/ChangePassword).
// Action is "RPC_" plus the method in upper snake case (RPC_CHANGE_PASSWORD).
// Resource is derived from the service name (AuthService -> auth, SecurityService -> security).
func ParseFullMethod(fullMethod string) ActionResource {
	// fullMethod format: /intellx.package.v1.ServiceName/MethodName
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "RPC_UNKNOWN", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	action := "RPC_" + upperSnake(method)
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: action, Resource: "unknown"}
	}
	return ActionResource{Action: action, Resource: serviceToResource(beforeSlash[dot+1:])}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

// upperSnake converts CamelCase to UPPER_SNAKE (ChangePassword -> CHANGE_PASSWORD).
func upperSnake(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
