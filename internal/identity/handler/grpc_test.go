package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/clientstore"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/provider"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/service"
	"github.com/sweetpy/intelXv2-sub001/internal/mfa"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
	"github.com/sweetpy/intelXv2-sub001/internal/ratelimit"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
	"github.com/sweetpy/intelXv2-sub001/internal/session"
	sessionrepo "github.com/sweetpy/intelXv2-sub001/internal/session/repository"
)

var (
	demoOnce sync.Once
	demo     *provider.DemoProvider
)

func newTestServer(t *testing.T) (*AuthServer, *security.TokenProvider) {
	t.Helper()
	demoOnce.Do(func() {
		p, err := provider.NewDemoProvider(security.NewHasher(4))
		if err != nil {
			t.Fatalf("NewDemoProvider: %v", err)
		}
		demo = p
	})
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	registry := service.NewRegistry(service.RegistryConfig{
		Sessions:        session.NewManager(sessionrepo.NewMemoryRepository(), 30*time.Minute),
		Audit:           audit.NewLogger(100, nil, nil),
		Limiter:         ratelimit.NewLimiter(),
		Provider:        demo,
		MFA:             mfa.NewStaticVerifier(""),
		Backend:         clientstore.NewMemoryBackend(),
		RefreshInterval: time.Hour,
	})
	t.Cleanup(registry.Close)
	return NewAuthServer(registry, tokens), tokens
}

func loginRequest(email, password string) *structpb.Struct {
	return structrpc.NewStruct(map[string]any{"email": email, "password": password})
}

// login signs in on clientID and returns the authenticated request context and the CSRF token.
func login(t *testing.T, srv *AuthServer, tokens *security.TokenProvider, clientID string, req *structpb.Struct) (context.Context, *structpb.Struct) {
	t.Helper()
	resp, err := srv.Login(interceptors.WithClientID(context.Background(), clientID), req)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	sessionID, userID, tokenClient, err := tokens.ValidateAccess(structrpc.String(resp, "access_token"))
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if tokenClient != clientID {
		t.Fatalf("token client = %q, want %q", tokenClient, clientID)
	}
	return interceptors.WithIdentity(context.Background(), userID, clientID, sessionID), resp
}

func TestAuthServer_NilControllers(t *testing.T) {
	srv := NewAuthServer(nil, nil)
	ctx := interceptors.WithClientID(context.Background(), "client-1")
	for name, m := range srv.Methods() {
		t.Run(name, func(t *testing.T) {
			_, err := m(ctx, loginRequest("a@b.co", "secret1"))
			if status.Code(err) != codes.Unimplemented {
				t.Errorf("code = %v, want Unimplemented", status.Code(err))
			}
		})
	}
}

func TestLogin_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	testCases := []struct {
		name string
		ctx  context.Context
		req  *structpb.Struct
	}{
		{"missing client", context.Background(), loginRequest("a@b.co", "secret1")},
		{"missing email", interceptors.WithClientID(context.Background(), "c1"), loginRequest("", "secret1")},
		{"missing password", interceptors.WithClientID(context.Background(), "c1"), loginRequest("a@b.co", "")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.Login(tc.ctx, tc.req)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("code = %v, want InvalidArgument", status.Code(err))
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	srv, tokens := newTestServer(t)
	_, resp := login(t, srv, tokens, "client-1", loginRequest("trial.user@example.com", "longenough"))

	if structrpc.Bool(resp, "requires_mfa") {
		t.Error("requires_mfa should be false")
	}
	if len(structrpc.String(resp, "csrf_token")) != 64 {
		t.Errorf("csrf_token = %q", structrpc.String(resp, "csrf_token"))
	}
	user := structrpc.Map(resp, "user")
	if user["role"] != "trial" || user["name"] != "Trial User" {
		t.Errorf("user = %v", user)
	}
	perms, _ := user["permissions"].([]any)
	if len(perms) != 1 || perms[0] != "read" {
		t.Errorf("permissions = %v", user["permissions"])
	}
	if structrpc.String(resp, "expires_at") == "" {
		t.Error("expires_at should be set")
	}
}

func TestLogin_MFAFlow(t *testing.T) {
	srv, tokens := newTestServer(t)
	ctx := interceptors.WithClientID(context.Background(), "client-1")

	resp, err := srv.Login(ctx, loginRequest(provider.DemoAdminEmail, provider.DemoAdminPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !structrpc.Bool(resp, "requires_mfa") || structrpc.String(resp, "access_token") != "" {
		t.Fatalf("response = %v, want requires_mfa only", resp)
	}

	req := loginRequest(provider.DemoAdminEmail, provider.DemoAdminPassword)
	req.Fields["mfa_code"] = structpb.NewStringValue("000000")
	if _, err := srv.Login(ctx, req); status.Code(err) != codes.Unauthenticated {
		t.Errorf("wrong code: code = %v, want Unauthenticated", status.Code(err))
	}

	req.Fields["mfa_code"] = structpb.NewStringValue(mfa.DemoCode)
	authed, _ := login(t, srv, tokens, "client-1", req)
	resp, err = srv.CheckPermission(authed, structrpc.NewStruct(map[string]any{"permission": "audit:read"}))
	if err != nil {
		t.Fatalf("CheckPermission: %v", err)
	}
	if !structrpc.Bool(resp, "allowed") {
		t.Error("admin should hold every permission")
	}
}

func TestLogin_ErrorCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := interceptors.WithClientID(context.Background(), "client-1")

	if _, err := srv.Login(ctx, loginRequest(provider.DemoAnalystEmail, "wrong-pass")); status.Code(err) != codes.Unauthenticated {
		t.Errorf("wrong password: code = %v, want Unauthenticated", status.Code(err))
	}
	for i := 0; i < 4; i++ {
		_, _ = srv.Login(ctx, loginRequest(provider.DemoAnalystEmail, "wrong-pass"))
	}
	if _, err := srv.Login(ctx, loginRequest(provider.DemoAnalystEmail, provider.DemoAnalystPassword)); status.Code(err) != codes.ResourceExhausted {
		t.Errorf("sixth attempt: code = %v, want ResourceExhausted", status.Code(err))
	}
	other := interceptors.WithClientID(context.Background(), "client-1")
	if _, err := srv.Login(other, loginRequest("fresh@example.com", "longenough")); status.Code(err) != codes.PermissionDenied {
		t.Errorf("locked client: code = %v, want PermissionDenied", status.Code(err))
	}
}

func TestLogout(t *testing.T) {
	srv, tokens := newTestServer(t)
	authed, _ := login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	if _, err := srv.Logout(authed, &structpb.Struct{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := srv.Logout(authed, &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("second logout: code = %v, want Unauthenticated", status.Code(err))
	}
	st, err := srv.GetState(interceptors.WithClientID(context.Background(), "client-1"), &structpb.Struct{})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if structrpc.Bool(st, "is_authenticated") {
		t.Error("client should be unauthenticated after logout")
	}
	if _, err := srv.Logout(context.Background(), &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("no identity: code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestGetState(t *testing.T) {
	srv, tokens := newTestServer(t)
	authed, resp := login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	st, err := srv.GetState(authed, &structpb.Struct{})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !structrpc.Bool(st, "is_authenticated") || structrpc.Bool(st, "is_loading") {
		t.Errorf("state = %v", st)
	}
	if structrpc.String(st, "csrf_token") != structrpc.String(resp, "csrf_token") {
		t.Error("owner should see the session CSRF token")
	}

	anon, err := srv.GetState(interceptors.WithClientID(context.Background(), "client-1"), &structpb.Struct{})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if _, ok := anon.Fields["csrf_token"]; ok {
		t.Error("anonymous callers must not see the CSRF token")
	}
}

func TestChangePassword(t *testing.T) {
	srv, tokens := newTestServer(t)
	authed, _ := login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	testCases := []struct {
		name     string
		current  string
		next     string
		wantCode codes.Code
	}{
		{"missing fields", "", "", codes.InvalidArgument},
		{"weak password", "longenough", "short", codes.InvalidArgument},
		{"short current password", "abc", "Str0ng-Passw0rd!", codes.Unauthenticated},
		{"success", "longenough", "Str0ng-Passw0rd!", codes.OK},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.ChangePassword(authed, structrpc.NewStruct(map[string]any{
				"current_password": tc.current,
				"new_password":     tc.next,
			}))
			if status.Code(err) != tc.wantCode {
				t.Errorf("code = %v, want %v (err %v)", status.Code(err), tc.wantCode, err)
			}
		})
	}
}

func TestRefreshSession(t *testing.T) {
	srv, tokens := newTestServer(t)
	authed, _ := login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	st, err := srv.RefreshSession(authed, &structpb.Struct{})
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if !structrpc.Bool(st, "is_authenticated") {
		t.Error("session should still be valid")
	}
	user := structrpc.Map(st, "user")
	if user["email"] != "trial@example.com" {
		t.Errorf("user = %v", user)
	}

	sessionID, _ := interceptors.GetSessionID(authed)
	gotSession, _, gotClient, err := tokens.ValidateAccess(structrpc.String(st, "access_token"))
	if err != nil {
		t.Fatalf("refreshed access token: %v", err)
	}
	if gotSession != sessionID || gotClient != "client-1" {
		t.Errorf("refreshed token binds session %q client %q", gotSession, gotClient)
	}
	if structrpc.String(st, "expires_at") == "" {
		t.Error("expires_at missing from refresh response")
	}
}

func TestRefreshSession_NoTokenWithoutSessionOwner(t *testing.T) {
	srv, tokens := newTestServer(t)
	login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	st, err := srv.RefreshSession(interceptors.WithClientID(context.Background(), "client-1"), &structpb.Struct{})
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if !structrpc.Bool(st, "is_authenticated") {
		t.Error("client should still be signed in")
	}
	if _, ok := st.Fields["access_token"]; ok {
		t.Error("access token must only be reissued to the session owner")
	}
	if _, ok := st.Fields["csrf_token"]; ok {
		t.Error("csrf token must only be returned to the session owner")
	}
}

func TestCheckPermission(t *testing.T) {
	srv, tokens := newTestServer(t)
	authed, _ := login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	testCases := []struct {
		permission string
		want       bool
	}{
		{"read", true},
		{"write", false},
		{"audit:read", false},
	}
	for _, tc := range testCases {
		t.Run(tc.permission, func(t *testing.T) {
			resp, err := srv.CheckPermission(authed, structrpc.NewStruct(map[string]any{"permission": tc.permission}))
			if err != nil {
				t.Fatalf("CheckPermission: %v", err)
			}
			if structrpc.Bool(resp, "allowed") != tc.want {
				t.Errorf("allowed = %v, want %v", structrpc.Bool(resp, "allowed"), tc.want)
			}
		})
	}
	if _, err := srv.CheckPermission(authed, &structpb.Struct{}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("missing permission: code = %v", status.Code(err))
	}
}

func TestAuthenticated_SupersededSession(t *testing.T) {
	srv, tokens := newTestServer(t)
	first, _ := login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))
	_, _ = login(t, srv, tokens, "client-1", loginRequest("trial@example.com", "longenough"))

	if _, err := srv.CheckPermission(first, structrpc.NewStruct(map[string]any{"permission": "read"})); status.Code(err) != codes.Unauthenticated {
		t.Errorf("superseded session: code = %v, want Unauthenticated", status.Code(err))
	}
}
