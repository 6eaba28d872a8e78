package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/clientstore"
	"github.com/sweetpy/intelXv2-sub001/internal/config"
	"github.com/sweetpy/intelXv2-sub001/internal/db"
	"github.com/sweetpy/intelXv2-sub001/internal/db/migrate"
	"github.com/sweetpy/intelXv2-sub001/internal/health"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/provider"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/service"
	"github.com/sweetpy/intelXv2-sub001/internal/mfa"
	"github.com/sweetpy/intelXv2-sub001/internal/monitor"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/background"
	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/policy/engine"
	"github.com/sweetpy/intelXv2-sub001/internal/ratelimit"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/server"
	"github.com/sweetpy/intelXv2-sub001/internal/server/interceptors"
	"github.com/sweetpy/intelXv2-sub001/internal/session"
	sessionrepo "github.com/sweetpy/intelXv2-sub001/internal/session/repository"
	telemetry "github.com/sweetpy/intelXv2-sub001/internal/telemetry/otel"
)

const (
	tokenIssuer         = "intellx-security"
	tokenAudience       = "intellx-client"
	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry: shutdown: %v", err)
		}
	}()

	master, err := security.ParseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("config: ENCRYPTION_KEY: %v", err)
	}
	tokenKey, err := security.DeriveKey(master, security.PurposeAccessToken)
	if err != nil {
		log.Fatalf("keys: %v", err)
	}
	storeKey, err := security.DeriveKey(master, security.PurposeClientStore)
	if err != nil {
		log.Fatalf("keys: %v", err)
	}

	checks := map[string]health.Check{}

	var pg *sql.DB
	if cfg.SessionStore == config.StorePostgres || cfg.ClientStore == config.StorePostgres {
		pg, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		if cfg.MigrateOnStart {
			if err := migrate.RunDB(pg, migrate.Up); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		checks["postgres"] = pg.PingContext
	}
	var rdb *redis.Client
	if cfg.SessionStore == config.StoreRedis {
		rdb, err = db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	sessions := session.NewManager(sessionRepository(cfg.SessionStore, pg, rdb), cfg.SessionTimeout())
	sessions.Start(ctx, cfg.SessionSweepInterval())
	defer sessions.Close()

	var backend clientstore.Backend = clientstore.NewMemoryBackend()
	if cfg.ClientStore == config.StorePostgres {
		backend = clientstore.NewPostgresBackend(pg)
	}
	backend, err = clientstore.NewEncryptedBackend(backend, storeKey)
	if err != nil {
		log.Fatalf("clientstore: %v", err)
	}

	auditLog := audit.NewLogger(cfg.AuditCapacity,
		telemetry.NewAuditSink(providers.LoggerProvider, providers.MeterProvider), interceptors.ClientIP)

	evaluator, err := engine.NewOPAEvaluator(ctx, "")
	if err != nil {
		log.Printf("policy: %v; using built-in security level weights", err)
	} else {
		checks["policy"] = evaluator.HealthCheck
	}

	// The escalator needs the registry, which needs the provider, whose transport is counted by
	// the security context.
	var registry *service.Registry
	sec, err := monitor.NewSecurityContext(ctx, monitor.Config{
		Audit:        auditLog,
		Evaluator:    policyEvaluator(evaluator),
		Environment:  serverEnvironment(ctx, cfg, backend),
		RequestLimit: cfg.MonitorRequestLimit,
		Identity: func(ctx context.Context) string {
			userID, _ := interceptors.GetUserID(ctx)
			return userID
		},
		Escalator: monitor.EscalatorFunc(func(ctx context.Context, ev monitor.Event) error {
			clientID, _ := interceptors.GetClientID(ctx)
			if clientID == "" || registry == nil {
				return nil
			}
			log.Printf("monitor: forcing logout of client %s after %s", clientID, ev.Type)
			return registry.ForceLogout(ctx, clientID)
		}),
	})
	if err != nil {
		log.Fatalf("monitor: %v", err)
	}
	defer sec.Close()
	viewport := &monitor.ReportedViewport{}
	sec.WatchDevTools(viewport, cfg.DevToolsPollInterval())

	idp, err := identityProvider(cfg, sec)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	limiter := ratelimit.NewLimiter()
	limiterTask := limiter.Start(ctx)
	defer limiterTask.Stop()

	registry = service.NewRegistry(service.RegistryConfig{
		Sessions:           sessions,
		Audit:              auditLog,
		Limiter:            limiter,
		Provider:           idp,
		MFA:                mfa.NewTOTPVerifier(mfa.NewStaticVerifier(cfg.DemoMFACode)),
		Backend:            backend,
		LoginRateLimit:     cfg.LoginRateLimit,
		LockoutMaxAttempts: cfg.LockoutMaxAttempts,
		LockoutDuration:    cfg.LockoutDuration(),
		RefreshInterval:    cfg.SessionRefreshInterval(),
		IdleTimeout:        cfg.SessionTimeout(),
	})
	defer registry.Close()
	registryTask := registry.Start(ctx, cfg.SessionSweepInterval())
	defer registryTask.Stop()

	healthServer := grpchealth.NewServer()
	checker := health.NewChecker(healthServer, checks)
	checker.Run(ctx)
	healthTask := background.Every(ctx, healthCheckInterval, checker.Tick)
	defer healthTask.Stop()

	var opts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			log.Fatalf("tls: %v", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	s := server.NewServer(server.Deps{
		Controllers: registry,
		Tokens:      security.NewTokenProvider(tokenKey, tokenIssuer, tokenAudience, cfg.AccessTokenTTL()),
		Sessions:    sessions,
		CSRF:        sessions,
		Audit:       auditLog,
		Permissions: registry,
		Security:    sec,
		Viewport:    viewport,
		Health:      healthServer,
	}, opts...)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go func() {
		log.Printf("gRPC server listening on %s (security level %s)", cfg.GRPCAddr, sec.Level())
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	healthServer.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		s.Stop()
	}
	log.Println("gRPC server stopped")
}

func sessionRepository(store string, pg *sql.DB, rdb *redis.Client) sessionrepo.Repository {
	switch store {
	case config.StorePostgres:
		return sessionrepo.NewPostgresRepository(pg)
	case config.StoreRedis:
		repo, err := sessionrepo.NewRedisRepository(rdb)
		if err != nil {
			log.Fatalf("session: %v", err)
		}
		return repo
	default:
		return sessionrepo.NewMemoryRepository()
	}
}

// identityProvider returns the external provider backed by the demo directory, or whichever of the
// two is configured.
func identityProvider(cfg *config.Config, sec *monitor.SecurityContext) (provider.Provider, error) {
	var external provider.Provider
	if cfg.IdentityProviderURL != "" {
		external = provider.NewHTTPProvider(cfg.IdentityProviderURL, cfg.IdentityProviderAPIKey, sec.RequestCounter(nil))
	}
	if !cfg.DemoAuthEnabled {
		return external, nil
	}
	demo, err := provider.NewDemoProvider(security.NewHasher(cfg.BcryptCost))
	if err != nil {
		return nil, err
	}
	if external == nil {
		log.Println("identity: no external provider configured; using demo directory")
		return demo, nil
	}
	return provider.NewFallback(external, demo), nil
}

// policyEvaluator avoids handing monitor a typed nil when OPA failed to compile.
func policyEvaluator(e *engine.OPAEvaluator) engine.Evaluator {
	if e == nil {
		return nil
	}
	return e
}

// serverEnvironment derives the security level signals for this process.
func serverEnvironment(ctx context.Context, cfg *config.Config, backend clientstore.Backend) domain.Environment {
	_, randErr := security.RandomHex(1)
	return domain.Environment{
		SecureTransport:  cfg.TLSEnabled(),
		CryptoAvailable:  randErr == nil,
		SecureContext:    cfg.TLSEnabled() || loopbackAddr(cfg.GRPCAddr),
		StorageAvailable: storageWritable(ctx, backend),
	}
}

func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func storageWritable(ctx context.Context, backend clientstore.Backend) bool {
	const namespace, key = "__probe__", "write"
	if err := backend.Set(ctx, namespace, key, "ok"); err != nil {
		log.Printf("clientstore: probe: %v", err)
		return false
	}
	if err := backend.Remove(ctx, namespace, key); err != nil {
		log.Printf("clientstore: probe cleanup: %v", err)
	}
	return true
}
