package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CSRFHeader is the metadata key carrying the session's CSRF token.
const CSRFHeader = "x-csrf-token"

// CSRFVerifier checks a presented CSRF token against the session's token.
type CSRFVerifier interface {
	VerifyCSRF(ctx context.Context, sessionID, token string) bool
}

// CSRFUnary returns a unary server interceptor that requires a matching x-csrf-token on the
// state-changing methods in protectedMethods. Only authenticated calls are checked; it must run
// after AuthUnary.
func CSRFUnary(verifier CSRFVerifier, protectedMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !protectedMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		sessionID, _ := GetSessionID(ctx)
		if sessionID == "" {
			return handler(ctx, req)
		}
		if !verifier.VerifyCSRF(ctx, sessionID, metadataValue(ctx, CSRFHeader)) {
			return nil, status.Error(codes.PermissionDenied, "invalid csrf token")
		}
		return handler(ctx, req)
	}
}
