package handler

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/service"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/rbac"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

// ServiceName is the gRPC service name of the auth service.
const ServiceName = "intellx.auth.v1.AuthService"

// Full method names, for interceptor configuration.
const (
	MethodLogin           = "/" + ServiceName + "/Login"
	MethodLogout          = "/" + ServiceName + "/Logout"
	MethodRefreshSession  = "/" + ServiceName + "/RefreshSession"
	MethodChangePassword  = "/" + ServiceName + "/ChangePassword"
	MethodGetState        = "/" + ServiceName + "/GetState"
	MethodCheckPermission = "/" + ServiceName + "/CheckPermission"
)

// Controllers resolves the auth controller of a client.
type Controllers interface {
	Get(ctx context.Context, clientID string) (*service.Controller, error)
}

// AuthServer implements AuthService over the per-client auth controllers.
// Login, GetState, and RefreshSession address the client named by x-client-id; the other methods
// require an access token.
type AuthServer struct {
	controllers Controllers
	tokens      *security.TokenProvider
}

// NewAuthServer returns a new Auth gRPC server. Pass nil controllers for stub (Unimplemented).
func NewAuthServer(controllers Controllers, tokens *security.TokenProvider) *AuthServer {
	return &AuthServer{controllers: controllers, tokens: tokens}
}

// Methods implements structrpc.Service.
func (s *AuthServer) Methods() map[string]structrpc.Method {
	return map[string]structrpc.Method{
		"Login":           s.Login,
		"Logout":          s.Logout,
		"RefreshSession":  s.RefreshSession,
		"ChangePassword":  s.ChangePassword,
		"GetState":        s.GetState,
		"CheckPermission": s.CheckPermission,
	}
}

// Login runs the login workflow for the calling client. On success the response carries an access
// token, the session's CSRF token, and the user. When a second factor is needed the response has
// requires_mfa set and nothing else.
func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctrl, clientID, err := s.clientController(ctx)
	if err != nil {
		return nil, err
	}
	creds := domain.Credentials{
		Email:      structrpc.String(req, "email"),
		Password:   structrpc.String(req, "password"),
		MFACode:    structrpc.String(req, "mfa_code"),
		RememberMe: structrpc.Bool(req, "remember_me"),
	}
	if creds.Email == "" || creds.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}

	res, err := ctrl.Login(ctx, creds)
	if errors.Is(err, service.ErrMFARequired) {
		return structrpc.NewStruct(map[string]any{"requires_mfa": true}), nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	st := ctrl.State()
	token, expiresAt, err := s.tokens.IssueAccess(st.SessionID, res.User.ID, clientID)
	if err != nil {
		log.Printf("auth: issue access token: %v", err)
		return nil, status.Error(codes.Internal, "failed to issue access token")
	}
	return structrpc.NewStruct(map[string]any{
		"requires_mfa": false,
		"access_token": token,
		"expires_at":   expiresAt,
		"csrf_token":   st.CSRFToken,
		"user":         userToMap(res.User),
	}), nil
}

// Logout ends the caller's session.
func (s *AuthServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctrl, err := s.authenticated(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// RefreshSession re-validates the calling client's session, extending it, and returns its state.
// When the caller presents an access token for the live session, the response also carries a
// fresh access token, so a client that keeps refreshing stays usable past the token lifetime.
func (s *AuthServer) RefreshSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctrl, clientID, err := s.clientController(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctrl.RefreshSession(ctx); err != nil {
		return nil, toStatus(err)
	}
	st := ctrl.State()
	resp := stateToStruct(ctx, st)
	sessionID, _ := interceptors.GetSessionID(ctx)
	if !st.IsAuthenticated || st.User == nil || sessionID == "" || sessionID != st.SessionID {
		return resp, nil
	}
	token, expiresAt, err := s.tokens.IssueAccess(st.SessionID, st.User.ID, clientID)
	if err != nil {
		log.Printf("auth: reissue access token: %v", err)
		return nil, status.Error(codes.Internal, "failed to issue access token")
	}
	resp.Fields["access_token"] = structpb.NewStringValue(token)
	resp.Fields["expires_at"] = structrpc.NewValue(expiresAt)
	return resp, nil
}

// ChangePassword changes the caller's password. A weak password yields InvalidArgument with the
// strength feedback in the message.
func (s *AuthServer) ChangePassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctrl, err := s.authenticated(ctx)
	if err != nil {
		return nil, err
	}
	current := structrpc.String(req, "current_password")
	next := structrpc.String(req, "new_password")
	if current == "" || next == "" {
		return nil, status.Error(codes.InvalidArgument, "current_password and new_password are required")
	}
	if err := ctrl.ChangePassword(ctx, current, next); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// GetState returns the calling client's auth state. The CSRF token is included only for the
// authenticated owner of the session.
func (s *AuthServer) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctrl, _, err := s.clientController(ctx)
	if err != nil {
		return nil, err
	}
	return stateToStruct(ctx, ctrl.State()), nil
}

// CheckPermission reports whether the caller holds the named permission.
func (s *AuthServer) CheckPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctrl, err := s.authenticated(ctx)
	if err != nil {
		return nil, err
	}
	permission := structrpc.String(req, "permission")
	if permission == "" {
		return nil, status.Error(codes.InvalidArgument, "permission is required")
	}
	return structrpc.NewStruct(map[string]any{"allowed": ctrl.HasPermission(permission)}), nil
}

// clientController returns the controller of the client named in the request context.
func (s *AuthServer) clientController(ctx context.Context) (*service.Controller, string, error) {
	if s.controllers == nil {
		return nil, "", status.Error(codes.Unimplemented, "auth service not configured")
	}
	clientID, _ := interceptors.GetClientID(ctx)
	if clientID == "" {
		return nil, "", status.Error(codes.InvalidArgument, interceptors.ClientIDHeader+" is required")
	}
	ctrl, err := s.controllers.Get(ctx, clientID)
	if err != nil {
		return nil, "", toStatus(err)
	}
	return ctrl, clientID, nil
}

// authenticated returns the caller's controller, requiring that the access token's session is the
// controller's current session.
func (s *AuthServer) authenticated(ctx context.Context) (*service.Controller, error) {
	if s.controllers == nil {
		return nil, status.Error(codes.Unimplemented, "auth service not configured")
	}
	clientID, _, err := rbac.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	ctrl, err := s.controllers.Get(ctx, clientID)
	if err != nil {
		return nil, toStatus(err)
	}
	sessionID, _ := interceptors.GetSessionID(ctx)
	if st := ctrl.State(); !st.IsAuthenticated || st.SessionID != sessionID {
		return nil, status.Error(codes.Unauthenticated, "session is no longer active")
	}
	return ctrl, nil
}

// toStatus maps controller errors to gRPC status errors.
func toStatus(err error) error {
	var weak *service.WeakPasswordError
	switch {
	case errors.As(err, &weak):
		return status.Error(codes.InvalidArgument, weak.Error())
	case errors.Is(err, service.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, service.ErrRateLimited.Error())
	case errors.Is(err, service.ErrAccountLocked):
		return status.Error(codes.PermissionDenied, service.ErrAccountLocked.Error())
	case errors.Is(err, service.ErrInvalidMFACode):
		return status.Error(codes.Unauthenticated, service.ErrInvalidMFACode.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, service.ErrInvalidCredentials.Error())
	case errors.Is(err, service.ErrNotAuthenticated):
		return status.Error(codes.Unauthenticated, service.ErrNotAuthenticated.Error())
	case errors.Is(err, service.ErrMissingClientID):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		log.Printf("auth: %v", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func stateToStruct(ctx context.Context, st service.State) *structpb.Struct {
	m := map[string]any{
		"is_authenticated": st.IsAuthenticated,
		"is_loading":       st.IsLoading,
		"login_attempts":   st.LoginAttempts,
		"is_locked":        st.IsLocked,
		"lockout_expires":  st.LockoutExpires,
	}
	if st.User != nil {
		m["user"] = userToMap(st.User)
	}
	if sessionID, _ := interceptors.GetSessionID(ctx); sessionID != "" && sessionID == st.SessionID {
		m["csrf_token"] = st.CSRFToken
	}
	return structrpc.NewStruct(m)
}

func userToMap(u *domain.User) map[string]any {
	return map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"name":        u.Name,
		"role":        u.Role,
		"permissions": u.Permissions,
		"mfa_enabled": u.MFAEnabled,
		"last_login":  u.LastLogin,
		"company":     u.Company,
		"region":      u.Region,
		"avatar":      u.Avatar,
	}
}
