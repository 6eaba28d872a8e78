package interceptors

import (
	"context"
	"log"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/session"
)

const bearerPrefix = "bearer "

// SessionValidator checks that the session named in an access token is still live.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (session.Validation, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets user_id, client_id, session_id in context for protected RPCs.
// The token's session must still be valid in sessions (when non-nil) and belong to the token's user,
// and an x-client-id header, when present, must name the token's client.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. AuthService Login, GetState; SecurityService GetSecurityContext).
func AuthUnary(tokens *security.TokenProvider, sessions SessionValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		reject := func(msg string) (interface{}, error) {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, msg)
		}

		if token == "" {
			return reject("missing or invalid authorization")
		}
		sessionID, userID, clientID, err := tokens.ValidateAccess(token)
		if err != nil {
			return reject("missing or invalid authorization")
		}
		if header, ok := GetClientID(ctx); ok && header != "" && header != clientID {
			return reject("client mismatch")
		}
		if sessions != nil {
			v, err := sessions.ValidateSession(ctx, sessionID)
			if err != nil {
				log.Printf("auth: validate session: %v", err)
				return nil, status.Error(codes.Internal, "failed to validate session")
			}
			if !v.IsValid || v.UserID != userID {
				return reject("session expired")
			}
		}

		ctx = WithIdentity(ctx, userID, clientID, sessionID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	v := metadataValue(ctx, "authorization")
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
