package rbac

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

// mockChecker implements PermissionChecker for tests.
type mockChecker struct {
	grants map[string][]string // clientID:userID -> permissions
	err    error
}

func (m *mockChecker) HasPermission(ctx context.Context, clientID, userID, permission string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, p := range m.grants[clientID+":"+userID] {
		if p == permission || p == "all" {
			return true, nil
		}
	}
	return false, nil
}

func TestRequirePermission(t *testing.T) {
	checker := &mockChecker{grants: map[string][]string{
		"client-1:admin":   {"all"},
		"client-1:analyst": {"read", "write", "export"},
	}}
	testCases := []struct {
		name     string
		ctx      context.Context
		checker  *mockChecker
		wantCode codes.Code
	}{
		{"admin", interceptors.WithIdentity(context.Background(), "admin", "client-1", "s1"), checker, codes.OK},
		{"analyst lacks permission", interceptors.WithIdentity(context.Background(), "analyst", "client-1", "s1"), checker, codes.PermissionDenied},
		{"other client", interceptors.WithIdentity(context.Background(), "admin", "client-2", "s1"), checker, codes.PermissionDenied},
		{"no identity", context.Background(), checker, codes.Unauthenticated},
		{"client only", interceptors.WithClientID(context.Background(), "client-1"), checker, codes.Unauthenticated},
		{"checker error", interceptors.WithIdentity(context.Background(), "admin", "client-1", "s1"), &mockChecker{err: errors.New("boom")}, codes.Internal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clientID, userID, err := RequirePermission(tc.ctx, tc.checker, PermissionAuditRead)
			if status.Code(err) != tc.wantCode {
				t.Fatalf("code = %v, want %v (err %v)", status.Code(err), tc.wantCode, err)
			}
			if tc.wantCode == codes.OK && (clientID != "client-1" || userID != "admin") {
				t.Errorf("got %q/%q", clientID, userID)
			}
		})
	}
}

func TestRequireAuthenticated(t *testing.T) {
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "client-1", "s1")
	clientID, userID, err := RequireAuthenticated(ctx)
	if err != nil {
		t.Fatalf("RequireAuthenticated: %v", err)
	}
	if clientID != "client-1" || userID != "user-1" {
		t.Errorf("got %q/%q", clientID, userID)
	}
	if _, _, err := RequireAuthenticated(interceptors.WithIdentity(context.Background(), "", "client-1", "")); status.Code(err) != codes.Unauthenticated {
		t.Errorf("empty user: code = %v", status.Code(err))
	}
}
