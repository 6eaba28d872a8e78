package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ClientIDHeader is the metadata key carrying the caller's client ID.
const ClientIDHeader = "x-client-id"

type contextKey struct{ name string }

var (
	userIDKey    = contextKey{"user_id"}
	clientIDKey  = contextKey{"client_id"}
	sessionIDKey = contextKey{"session_id"}
)

// WithIdentity returns a context with user_id, client_id, and session_id set.
// Handlers read these via GetUserID, GetClientID, GetSessionID.
func WithIdentity(ctx context.Context, userID, clientID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, clientIDKey, clientID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return ctx
}

// WithClientID returns a context with only client_id set.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetClientID returns the client_id from context and true if set; otherwise "", false.
func GetClientID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientIDKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}

// ClientUnary returns a unary server interceptor that copies the x-client-id metadata value into
// the context. Requests without the header proceed with no client ID.
func ClientUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if id := metadataValue(ctx, ClientIDHeader); id != "" {
			ctx = WithClientID(ctx, id)
		}
		return handler(ctx, req)
	}
}

// metadataValue returns the first trimmed value for key, or "".
func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
