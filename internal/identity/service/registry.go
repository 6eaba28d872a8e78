package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/clientstore"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/provider"
	"github.com/sweetpy/intelXv2-sub001/internal/lockout"
	"github.com/sweetpy/intelXv2-sub001/internal/mfa"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/background"
)

// DefaultIdleTimeout is how long an unauthenticated controller is kept without calls.
const DefaultIdleTimeout = 30 * time.Minute

// ErrMissingClientID is returned when a controller is requested without a client ID.
var ErrMissingClientID = errors.New("client id is required")

// RegistryConfig holds the dependencies shared by every client's controller.
type RegistryConfig struct {
	Sessions           SessionManager
	Audit              audit.AuditLogger
	Limiter            RateLimiter
	Provider           provider.Provider
	MFA                mfa.Verifier
	Backend            clientstore.Backend
	LoginRateLimit     int
	LockoutMaxAttempts int
	LockoutDuration    time.Duration
	RefreshInterval    time.Duration
	// IdleTimeout is how long an unauthenticated client's controller survives without calls.
	IdleTimeout time.Duration
}

// Registry maps client IDs to controllers. Each client gets its own namespace in the client store
// and its own lockout record; sessions, audit, rate limiting, and the provider are shared.
// Unauthenticated controllers are dropped by Sweep once idle; their lockout record stays in the store.
type Registry struct {
	cfg  RegistryConfig
	nowF func() time.Time

	mu          sync.Mutex
	controllers map[string]*registryEntry
}

type registryEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Registry{cfg: cfg, nowF: time.Now, controllers: make(map[string]*registryEntry)}
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowF = now
}

// Get returns the controller for clientID, creating it and restoring any mirrored session on first use.
// Every call counts as activity for Sweep.
func (r *Registry) Get(ctx context.Context, clientID string) (*Controller, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.controllers[clientID]; ok {
		e.lastSeen = r.nowF()
		return e.ctrl, nil
	}
	store := clientstore.Namespaced(r.cfg.Backend, clientID)
	c := NewController(clientID, Config{
		Sessions:        r.cfg.Sessions,
		Audit:           r.cfg.Audit,
		Limiter:         r.cfg.Limiter,
		Provider:        r.cfg.Provider,
		MFA:             r.cfg.MFA,
		Store:           store,
		Lockout:         lockout.NewTracker(store, r.cfg.LockoutMaxAttempts, r.cfg.LockoutDuration),
		LoginRateLimit:  r.cfg.LoginRateLimit,
		RefreshInterval: r.cfg.RefreshInterval,
	})
	if err := c.Restore(ctx); err != nil {
		c.Close()
		return nil, err
	}
	r.controllers[clientID] = &registryEntry{ctrl: c, lastSeen: r.nowF()}
	return c, nil
}

// Sweep drops unauthenticated controllers with no calls for the idle timeout and returns how many
// were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	cutoff := r.nowF().Add(-r.cfg.IdleTimeout)
	var idle []*Controller
	for id, e := range r.controllers {
		if e.lastSeen.After(cutoff) || e.ctrl.State().IsAuthenticated {
			continue
		}
		delete(r.controllers, id)
		idle = append(idle, e.ctrl)
	}
	r.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
	return len(idle)
}

// Start runs Sweep every interval until ctx is cancelled or the returned task is stopped.
// interval <= 0 uses the idle timeout.
func (r *Registry) Start(ctx context.Context, interval time.Duration) *background.Task {
	if interval <= 0 {
		interval = r.cfg.IdleTimeout
	}
	return background.Every(ctx, interval, func(context.Context) {
		if n := r.Sweep(); n > 0 {
			log.Printf("auth: dropped %d idle clients", n)
		}
	})
}

// Lookup returns the controller for clientID if it has been created.
func (r *Registry) Lookup(clientID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.controllers[clientID]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// ForceLogout logs out clientID if it has a controller. Unknown clients are ignored.
func (r *Registry) ForceLogout(ctx context.Context, clientID string) error {
	c, ok := r.Lookup(clientID)
	if !ok {
		return nil
	}
	return c.Logout(ctx)
}

// Len returns the number of controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Close stops every controller's refresh loop.
func (r *Registry) Close() {
	r.mu.Lock()
	list := make([]*Controller, 0, len(r.controllers))
	for _, e := range r.controllers {
		list = append(list, e.ctrl)
	}
	r.controllers = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, c := range list {
		c.Close()
	}
}

// HasPermission reports whether userID is the user signed in on clientID and holds permission.
func (r *Registry) HasPermission(ctx context.Context, clientID, userID, permission string) (bool, error) {
	c, err := r.Get(ctx, clientID)
	if err != nil {
		return false, err
	}
	st := c.State()
	if !st.IsAuthenticated || st.User == nil || st.User.ID != userID {
		return false, nil
	}
	return c.HasPermission(permission), nil
}
