package handler

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/monitor"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

var highEnv = domain.Environment{SecureTransport: true, CryptoAvailable: true, SecureContext: true, StorageAvailable: true}

func newTestServer(t *testing.T, env domain.Environment) (*Server, *audit.Logger, *monitor.ReportedViewport, *monitor.SecurityContext) {
	t.Helper()
	logs := audit.NewLogger(100, nil, nil)
	sec, err := monitor.NewSecurityContext(context.Background(), monitor.Config{
		Audit:       logs,
		Environment: env,
		Identity: func(ctx context.Context) string {
			id, _ := interceptors.GetUserID(ctx)
			return id
		},
	})
	if err != nil {
		t.Fatalf("NewSecurityContext: %v", err)
	}
	t.Cleanup(sec.Close)
	viewport := &monitor.ReportedViewport{}
	return NewServer(sec, viewport), logs, viewport, sec
}

func TestNilServer_Unimplemented(t *testing.T) {
	srv := NewServer(nil, nil)
	for name, m := range srv.Methods() {
		t.Run(name, func(t *testing.T) {
			_, err := m(context.Background(), &structpb.Struct{})
			if status.Code(err) != codes.Unimplemented {
				t.Errorf("code = %v, want Unimplemented", status.Code(err))
			}
		})
	}
}

func TestGetSecurityContext(t *testing.T) {
	srv, _, _, sec := newTestServer(t, highEnv)

	resp, err := srv.GetSecurityContext(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("GetSecurityContext: %v", err)
	}
	if structrpc.String(resp, "level") != "high" || structrpc.Int(resp, "score") != 5 {
		t.Errorf("resp = %v", resp)
	}
	if structrpc.String(resp, "csrf_token") != sec.CSRFToken() {
		t.Error("unauthenticated caller should receive the page CSRF token")
	}
	if !structrpc.Bool(resp.Fields["environment"].GetStructValue(), "secure_transport") {
		t.Error("environment.secure_transport should be true")
	}
	if _, ok := resp.Fields["client_level"]; ok {
		t.Error("client_level should be absent without an environment")
	}

	authCtx := interceptors.WithIdentity(context.Background(), "user-1", "client-1", "session-1")
	req := structrpc.NewStruct(map[string]any{
		"environment": map[string]any{"secure_transport": true},
	})
	resp, err = srv.GetSecurityContext(authCtx, req)
	if err != nil {
		t.Fatalf("GetSecurityContext: %v", err)
	}
	if _, ok := resp.Fields["csrf_token"]; ok {
		t.Error("authenticated caller should not receive the page CSRF token")
	}
	if structrpc.String(resp, "client_level") != "medium" || structrpc.Int(resp, "client_score") != 2 {
		t.Errorf("client assessment = %v/%v, want medium/2", resp.Fields["client_level"], resp.Fields["client_score"])
	}
}

func TestReportSecurityEvent(t *testing.T) {
	srv, logs, _, _ := newTestServer(t, highEnv)
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "client-1", "session-1")

	req := structrpc.NewStruct(map[string]any{
		"type":        "unauthorized_access",
		"severity":    "high",
		"description": "token replay",
		"metadata":    map[string]any{"path": "/admin"},
	})
	if _, err := srv.ReportSecurityEvent(ctx, req); err != nil {
		t.Fatalf("ReportSecurityEvent: %v", err)
	}
	entries := logs.GetLogs("user-1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Resource != "unauthorized_access" || entries[0].Details["path"] != "/admin" {
		t.Errorf("entry = %+v", entries[0])
	}

	_, err := srv.ReportSecurityEvent(ctx, structrpc.NewStruct(map[string]any{"type": "bogus", "severity": "low"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestRecordClipboard(t *testing.T) {
	srv, logs, _, _ := newTestServer(t, highEnv)
	testCases := []struct {
		name string
		req  map[string]any
		code codes.Code
	}{
		{"copy", map[string]any{"action": "copy", "length": 10}, codes.OK},
		{"paste", map[string]any{"action": "paste", "length": 0}, codes.OK},
		{"unknown action", map[string]any{"action": "cut", "length": 1}, codes.InvalidArgument},
		{"negative length", map[string]any{"action": "copy", "length": -1}, codes.InvalidArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.RecordClipboard(context.Background(), structrpc.NewStruct(tc.req))
			if status.Code(err) != tc.code {
				t.Errorf("code = %v, want %v", status.Code(err), tc.code)
			}
		})
	}
	if logs.Len() != 2 {
		t.Errorf("Len = %d, want 2", logs.Len())
	}
}

func TestHandleKeyComboAndContextMenu(t *testing.T) {
	high, _, _, _ := newTestServer(t, highEnv)
	low, _, _, _ := newTestServer(t, domain.Environment{})
	ctx := context.Background()

	resp, err := high.HandleKeyCombo(ctx, structrpc.NewStruct(map[string]any{"combo": "F12"}))
	if err != nil || !structrpc.Bool(resp, "suppress") {
		t.Errorf("high F12: resp = %v, err = %v, want suppress", resp, err)
	}
	resp, err = low.HandleKeyCombo(ctx, structrpc.NewStruct(map[string]any{"combo": "F12"}))
	if err != nil || structrpc.Bool(resp, "suppress") {
		t.Errorf("low F12: resp = %v, err = %v, want no suppress", resp, err)
	}
	if _, err := high.HandleKeyCombo(ctx, &structpb.Struct{}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty combo code = %v, want InvalidArgument", status.Code(err))
	}

	resp, err = high.HandleContextMenu(ctx, &structpb.Struct{})
	if err != nil || !structrpc.Bool(resp, "suppress") {
		t.Errorf("high context menu: resp = %v, err = %v", resp, err)
	}
	resp, err = low.HandleContextMenu(ctx, &structpb.Struct{})
	if err != nil || structrpc.Bool(resp, "suppress") {
		t.Errorf("low context menu: resp = %v, err = %v", resp, err)
	}
}

func TestReportViewport_FeedsDetector(t *testing.T) {
	srv, logs, viewport, sec := newTestServer(t, highEnv)
	sec.WatchDevTools(viewport, 5*time.Millisecond)

	req := structrpc.NewStruct(map[string]any{
		"outer_width": 1600, "inner_width": 1200, "outer_height": 900, "inner_height": 880,
	})
	if _, err := srv.ReportViewport(context.Background(), req); err != nil {
		t.Fatalf("ReportViewport: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for logs.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if logs.Len() != 1 {
		t.Fatalf("Len = %d, want 1", logs.Len())
	}
}

func TestReportRate_ExhaustedReturnsResourceExhausted(t *testing.T) {
	logs := audit.NewLogger(100, nil, nil)
	sec, err := monitor.NewSecurityContext(context.Background(), monitor.Config{Audit: logs, Environment: highEnv})
	if err != nil {
		t.Fatalf("NewSecurityContext: %v", err)
	}
	t.Cleanup(sec.Close)
	srv := NewServer(sec, &monitor.ReportedViewport{}, WithReportRate(rate.Every(time.Hour), 2))
	ctx := context.Background()
	req := structrpc.NewStruct(map[string]any{"action": "copy", "length": 3})

	for i := 0; i < 2; i++ {
		if _, err := srv.RecordClipboard(ctx, req); err != nil {
			t.Fatalf("RecordClipboard %d: %v", i, err)
		}
	}
	if _, err := srv.RecordClipboard(ctx, req); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("code = %v, want ResourceExhausted", status.Code(err))
	}
	if _, err := srv.HandleContextMenu(ctx, &structpb.Struct{}); status.Code(err) != codes.ResourceExhausted {
		t.Errorf("HandleContextMenu code = %v, want ResourceExhausted", status.Code(err))
	}
	if _, err := srv.GetSecurityContext(ctx, &structpb.Struct{}); err != nil {
		t.Errorf("GetSecurityContext should not share the report budget: %v", err)
	}
	if got := len(logs.GetLogs("")); got != 2 {
		t.Errorf("audit entries = %d, want 2", got)
	}
}
