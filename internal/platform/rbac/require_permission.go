// Package rbac holds the permission checks handlers run before serving a request.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

// PermissionAuditRead guards the audit trail. Only users holding "all" (admins) or this
// permission may read it.
const PermissionAuditRead = "audit:read"

// PermissionChecker reports whether userID, signed in on clientID, holds permission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, clientID, userID, permission string) (bool, error)
}

// RequireAuthenticated ensures the caller is authenticated with a client and user in context.
// Returns (clientID, userID, nil) on success; returns a gRPC Unauthenticated error otherwise.
func RequireAuthenticated(ctx context.Context) (clientID, userID string, err error) {
	clientID, okClient := interceptors.GetClientID(ctx)
	userID, okUser := interceptors.GetUserID(ctx)
	if !okClient || clientID == "" || !okUser || userID == "" {
		return "", "", status.Error(codes.Unauthenticated, "client and user context required")
	}
	return clientID, userID, nil
}

// RequirePermission ensures the caller is authenticated and holds permission.
// Returns (clientID, userID, nil) on success; returns a gRPC error (Unauthenticated or PermissionDenied) on failure.
func RequirePermission(ctx context.Context, checker PermissionChecker, permission string) (clientID, userID string, err error) {
	clientID, userID, err = RequireAuthenticated(ctx)
	if err != nil {
		return "", "", err
	}
	ok, err := checker.HasPermission(ctx, clientID, userID, permission)
	if err != nil {
		return "", "", status.Error(codes.Internal, "failed to resolve permissions")
	}
	if !ok {
		return "", "", status.Error(codes.PermissionDenied, "permission "+permission+" required")
	}
	return clientID, userID, nil
}
