package handler

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

// mockPermissions implements rbac.PermissionChecker for tests.
type mockPermissions struct {
	admins map[string]bool
	err    error
}

func (m *mockPermissions) HasPermission(ctx context.Context, clientID, userID, permission string) (bool, error) {
	return m.admins[userID], m.err
}

func seededLogger() *audit.Logger {
	l := audit.NewLogger(100, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.LogEvent(ctx, "user-1", audit.ActionLoginSuccess, audit.ResourceAuth, true, map[string]any{"n": i})
	}
	l.LogEvent(ctx, "user-2", audit.ActionLogout, audit.ResourceAuth, true, nil)
	l.LogEvent(ctx, "", audit.ActionClipboardCopy, audit.ResourceClipboard, true, nil)
	return l
}

func adminCtx() context.Context {
	return interceptors.WithIdentity(context.Background(), "admin", "client-1", "session-1")
}

func logs(t *testing.T, resp *structpb.Struct) []*structpb.Struct {
	t.Helper()
	var out []*structpb.Struct
	for _, v := range resp.Fields["logs"].GetListValue().GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}

func TestListAuditLogs_NilLogs(t *testing.T) {
	srv := NewServer(nil, nil)
	_, err := srv.ListAuditLogs(adminCtx(), &structpb.Struct{})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("code = %v, want Unimplemented", status.Code(err))
	}
}

func TestListAuditLogs_Permission(t *testing.T) {
	testCases := []struct {
		name     string
		ctx      context.Context
		perms    *mockPermissions
		wantCode codes.Code
	}{
		{"admin", adminCtx(), &mockPermissions{admins: map[string]bool{"admin": true}}, codes.OK},
		{"non-admin", interceptors.WithIdentity(context.Background(), "user-1", "client-1", "s"), &mockPermissions{admins: map[string]bool{"admin": true}}, codes.PermissionDenied},
		{"anonymous", context.Background(), &mockPermissions{}, codes.Unauthenticated},
		{"checker error", adminCtx(), &mockPermissions{err: errors.New("boom")}, codes.Internal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(seededLogger(), tc.perms)
			_, err := srv.ListAuditLogs(tc.ctx, &structpb.Struct{})
			if status.Code(err) != tc.wantCode {
				t.Errorf("code = %v, want %v", status.Code(err), tc.wantCode)
			}
		})
	}
}

func TestListAuditLogs_Filters(t *testing.T) {
	srv := NewServer(seededLogger(), &mockPermissions{admins: map[string]bool{"admin": true}})
	testCases := []struct {
		name  string
		req   map[string]any
		total int
		first string
	}{
		{"all newest first", nil, 7, audit.ActionClipboardCopy},
		{"by user", map[string]any{"user_id": "user-2"}, 1, audit.ActionLogout},
		{"by action", map[string]any{"action": audit.ActionLoginSuccess}, 5, audit.ActionLoginSuccess},
		{"by resource", map[string]any{"resource": audit.ResourceClipboard}, 1, audit.ActionClipboardCopy},
		{"no match", map[string]any{"action": "NOPE"}, 0, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := srv.ListAuditLogs(adminCtx(), structrpc.NewStruct(tc.req))
			if err != nil {
				t.Fatalf("ListAuditLogs: %v", err)
			}
			if got := structrpc.Int(resp, "total"); got != tc.total {
				t.Errorf("total = %d, want %d", got, tc.total)
			}
			page := logs(t, resp)
			if len(page) != tc.total {
				t.Fatalf("page size = %d, want %d", len(page), tc.total)
			}
			if tc.total > 0 && structrpc.String(page[0], "action") != tc.first {
				t.Errorf("first action = %q, want %q", structrpc.String(page[0], "action"), tc.first)
			}
		})
	}
}

func TestListAuditLogs_Pagination(t *testing.T) {
	srv := NewServer(seededLogger(), &mockPermissions{admins: map[string]bool{"admin": true}})
	req := map[string]any{"action": audit.ActionLoginSuccess, "page_size": 2}

	var seen []string
	for offset := 0; ; {
		req["offset"] = offset
		resp, err := srv.ListAuditLogs(adminCtx(), structrpc.NewStruct(req))
		if err != nil {
			t.Fatalf("ListAuditLogs: %v", err)
		}
		for _, e := range logs(t, resp) {
			seen = append(seen, strconv.Itoa(int(structrpc.Map(e, "details")["n"].(float64))))
		}
		if _, ok := resp.Fields["next_offset"]; !ok {
			break
		}
		offset = structrpc.Int(resp, "next_offset")
	}
	if got := len(seen); got != 5 {
		t.Fatalf("entries = %d, want 5", got)
	}
	if seen[0] != "4" || seen[4] != "0" {
		t.Errorf("order = %v, want newest first", seen)
	}

	if _, err := srv.ListAuditLogs(adminCtx(), structrpc.NewStruct(map[string]any{"offset": -1})); status.Code(err) != codes.InvalidArgument {
		t.Errorf("negative offset: code = %v", status.Code(err))
	}
}
