package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	audithandler "github.com/sweetpy/intelXv2-sub001/internal/audit/handler"
	identityhandler "github.com/sweetpy/intelXv2-sub001/internal/identity/handler"
	"github.com/sweetpy/intelXv2-sub001/internal/monitor"
	monitorhandler "github.com/sweetpy/intelXv2-sub001/internal/monitor/handler"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/rbac"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/structrpc"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Controllers resolves per-client auth controllers. If nil, auth RPCs return Unimplemented.
	Controllers identityhandler.Controllers
	// Tokens issues and validates access tokens. Required for AuthService and the auth interceptor.
	Tokens *security.TokenProvider
	// Sessions validates the session behind an access token. If nil, tokens are trusted until expiry.
	Sessions interceptors.SessionValidator
	// CSRF verifies x-csrf-token on state-changing auth RPCs. If nil, no CSRF check is made.
	CSRF interceptors.CSRFVerifier
	// Audit is the audit trail for AuditService and the audit interceptor. If nil, ListAuditLogs
	// returns Unimplemented and no RPCs are audited.
	Audit *audit.Logger
	// Permissions backs the audit:read check of AuditService.
	Permissions rbac.PermissionChecker
	// Security is the process security context. If nil, SecurityService RPCs return Unimplemented.
	Security *monitor.SecurityContext
	// Viewport receives client viewport reports for the developer tools detector.
	Viewport *monitor.ReportedViewport
	// Health is the standard gRPC health service. If nil, a server that is always SERVING is registered.
	Health *health.Server
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - AuthService     → internal/identity/handler
//   - AuditService    → internal/audit/handler
//   - SecurityService → internal/monitor/handler
//   - grpc.health.v1.Health → google.golang.org/grpc/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	structrpc.Register(s, identityhandler.ServiceName, identityhandler.NewAuthServer(deps.Controllers, deps.Tokens))

	var logs audithandler.LogReader
	if deps.Audit != nil {
		logs = deps.Audit
	}
	structrpc.Register(s, audithandler.ServiceName, audithandler.NewServer(logs, deps.Permissions))
	structrpc.Register(s, monitorhandler.ServiceName, monitorhandler.NewServer(deps.Security, deps.Viewport))

	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}

// PublicMethods returns the full method names callable without an access token.
func PublicMethods() map[string]bool {
	public := map[string]bool{
		identityhandler.MethodLogin:          true,
		identityhandler.MethodGetState:       true,
		identityhandler.MethodRefreshSession: true,
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	for _, m := range monitorhandler.PublicMethods {
		public[m] = true
	}
	return public
}

// CSRFProtectedMethods returns the state-changing methods that require x-csrf-token.
func CSRFProtectedMethods() map[string]bool {
	return map[string]bool{
		identityhandler.MethodLogout:         true,
		identityhandler.MethodChangePassword: true,
	}
}

// auditSkipMethods are not recorded by the audit interceptor: the auth workflow and the security
// service write their own entries, and health checks are noise.
func auditSkipMethods() map[string]bool {
	skip := map[string]bool{
		identityhandler.MethodLogin:          true,
		identityhandler.MethodLogout:         true,
		identityhandler.MethodRefreshSession: true,
		identityhandler.MethodChangePassword: true,
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	for _, m := range monitorhandler.PublicMethods {
		skip[m] = true
	}
	return skip
}

// UnaryInterceptors returns the interceptor chain in order: client id, auth, CSRF, audit.
func UnaryInterceptors(deps Deps) []grpc.UnaryServerInterceptor {
	chain := []grpc.UnaryServerInterceptor{
		interceptors.ClientUnary(),
		interceptors.AuthUnary(deps.Tokens, deps.Sessions, PublicMethods()),
	}
	if deps.CSRF != nil {
		chain = append(chain, interceptors.CSRFUnary(deps.CSRF, CSRFProtectedMethods()))
	}
	if deps.Audit != nil {
		chain = append(chain, interceptors.AuditUnary(deps.Audit, auditSkipMethods()))
	}
	return chain
}

// NewServer returns a gRPC server instrumented with otelgrpc, running the interceptor chain, with
// all services registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryInterceptors(deps)...),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}
