// Package service holds the auth controller: the per-client login, logout, password-change, and
// session-refresh workflows over the session manager, lockout tracker, and identity provider.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/clientstore"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/identity/provider"
	"github.com/sweetpy/intelXv2-sub001/internal/lockout"
	"github.com/sweetpy/intelXv2-sub001/internal/mfa"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/background"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/session"
)

const instrumentationName = "github.com/sweetpy/intelXv2-sub001/internal/identity/service"

// Defaults for Config.
const (
	DefaultLoginRateLimit  = 5
	DefaultRefreshInterval = 5 * time.Minute
)

// loginRateKeyPrefix is prepended to the email to form the rate limiter identifier.
const loginRateKeyPrefix = "login_"

// SessionManager is the subset of *session.Manager the controller needs.
type SessionManager interface {
	CreateSession(ctx context.Context, userID string) (sessionID, csrfToken string, err error)
	ValidateSession(ctx context.Context, sessionID string) (session.Validation, error)
	PeekSession(ctx context.Context, sessionID string) (session.Validation, error)
	DestroySession(ctx context.Context, sessionID string) error
}

// RateLimiter is the subset of *ratelimit.Limiter the controller needs.
type RateLimiter interface {
	IsAllowed(identifier string, limit int) bool
}

// State is the auth state exposed to callers.
type State struct {
	User            *domain.User
	IsAuthenticated bool
	IsLoading       bool
	SessionID       string
	CSRFToken       string
	LoginAttempts   int
	IsLocked        bool
	LockoutExpires  time.Time
}

// LoginResult is returned by Login on success and when a second factor is needed.
type LoginResult struct {
	User        *domain.User
	RequiresMFA bool
}

// Config holds the dependencies and settings of a Controller. Store and Lockout are per client;
// the rest may be shared between controllers.
type Config struct {
	Sessions        SessionManager
	Audit           audit.AuditLogger
	Limiter         RateLimiter
	Provider        provider.Provider
	MFA             mfa.Verifier
	Store           clientstore.Store
	Lockout         *lockout.Tracker
	LoginRateLimit  int
	RefreshInterval time.Duration
}

// Controller runs the auth workflows for one client. Operations are serialized; State and
// HasPermission may be called concurrently with them.
type Controller struct {
	clientID string
	cfg      Config

	op sync.Mutex // serializes workflows

	mu      sync.RWMutex // guards state and refresh
	state   State
	refresh *background.Task

	tracer         trace.Tracer
	loginAttempts  metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
}

// NewController returns a Controller for clientID. The controller starts in the loading state
// until Restore runs.
func NewController(clientID string, cfg Config) *Controller {
	if cfg.LoginRateLimit <= 0 {
		cfg.LoginRateLimit = DefaultLoginRateLimit
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	meter := otel.Meter(instrumentationName)
	loginAttempts, _ := meter.Int64Counter("intellx.auth.login.attempts",
		metric.WithDescription("Login attempts by outcome"))
	activeSessions, _ := meter.Int64UpDownCounter("intellx.session.active",
		metric.WithDescription("Authenticated clients"))
	return &Controller{
		clientID:       clientID,
		cfg:            cfg,
		state:          State{IsLoading: true},
		tracer:         otel.Tracer(instrumentationName),
		loginAttempts:  loginAttempts,
		activeSessions: activeSessions,
	}
}

// ClientID returns the client this controller serves.
func (c *Controller) ClientID() string {
	return c.clientID
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	if st.User != nil {
		u := *st.User
		u.Permissions = append([]string(nil), u.Permissions...)
		st.User = &u
	}
	return st
}

// HasPermission reports whether the authenticated user holds permission.
func (c *Controller) HasPermission(permission string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IsAuthenticated && c.state.User.HasPermission(permission)
}

// Restore re-establishes a session mirrored in the client store. A missing, expired, or malformed
// mirror leaves the client unauthenticated and is purged.
func (c *Controller) Restore(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "auth.Restore")
	defer span.End()
	c.op.Lock()
	defer c.op.Unlock()
	defer c.update(func(s *State) { s.IsLoading = false })

	if err := c.loadLockout(ctx); err != nil {
		return recordErr(span, err)
	}

	sessionID, haveSession, err := c.cfg.Store.Get(ctx, clientstore.KeySession)
	if err != nil && !errors.Is(err, clientstore.ErrCorrupt) {
		return recordErr(span, err)
	}
	corrupt := errors.Is(err, clientstore.ErrCorrupt)
	rawUser, haveUser, err := c.cfg.Store.Get(ctx, clientstore.KeyUser)
	if err != nil && !errors.Is(err, clientstore.ErrCorrupt) {
		return recordErr(span, err)
	}
	corrupt = corrupt || errors.Is(err, clientstore.ErrCorrupt)

	if !haveSession && !haveUser && !corrupt {
		return nil
	}
	var user domain.User
	if corrupt || !haveSession || !haveUser || json.Unmarshal([]byte(rawUser), &user) != nil || user.Validate() != nil {
		log.Printf("auth: client %s: discarding malformed session mirror", c.clientID)
		return recordErr(span, c.purge(ctx))
	}

	v, err := c.cfg.Sessions.ValidateSession(ctx, sessionID)
	if err != nil {
		return recordErr(span, err)
	}
	if !v.IsValid || v.UserID != user.ID {
		c.cfg.Audit.LogEvent(ctx, user.ID, audit.ActionSessionExpired, audit.ResourceSession, false, map[string]any{"phase": "restore"})
		return recordErr(span, c.purge(ctx))
	}

	c.setAuthenticated(&user, sessionID, v.CSRFToken)
	c.cfg.Audit.LogEvent(ctx, user.ID, audit.ActionSessionRestored, audit.ResourceSession, true, nil)
	return nil
}

// Login runs the login workflow: rate limit, lockout check, provider sign-in, MFA, session creation.
// Policy rejections are returned as sentinel errors. When a second factor is needed the result has
// RequiresMFA set and the error is ErrMFARequired.
func (c *Controller) Login(ctx context.Context, creds domain.Credentials) (*LoginResult, error) {
	ctx, span := c.startSpan(ctx, "auth.Login")
	defer span.End()
	c.op.Lock()
	defer c.op.Unlock()

	email := domain.NormalizeEmail(creds.Email)
	span.SetAttributes(attribute.String("intellx.login.email_domain", emailDomain(email)))

	if !c.cfg.Limiter.IsAllowed(loginRateKeyPrefix+email, c.cfg.LoginRateLimit) {
		c.cfg.Audit.LogEvent(ctx, "", audit.ActionLoginRateLimited, audit.ResourceAuth, false, map[string]any{"email": email})
		c.countLogin(ctx, "rate_limited")
		return nil, recordErr(span, ErrRateLimited)
	}

	st, err := c.cfg.Lockout.Check(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	c.applyLockout(st)
	if st.Locked {
		c.cfg.Audit.LogEvent(ctx, "", audit.ActionLoginLocked, audit.ResourceAuth, false, map[string]any{
			"email":          email,
			"lockoutExpires": st.Expires.UTC().Format(time.RFC3339),
		})
		c.countLogin(ctx, "locked")
		return nil, recordErr(span, ErrAccountLocked)
	}

	user, err := c.cfg.Provider.SignIn(ctx, email, creds.Password)
	if err != nil {
		return nil, recordErr(span, c.loginFailed(ctx, email, err))
	}

	if user.MFAEnabled {
		if creds.MFACode == "" {
			c.cfg.Audit.LogEvent(ctx, user.ID, audit.ActionLoginMFARequired, audit.ResourceAuth, false, map[string]any{"email": email})
			c.countLogin(ctx, "mfa_required")
			return &LoginResult{RequiresMFA: true}, ErrMFARequired
		}
		if !c.cfg.MFA.Verify(ctx, user, creds.MFACode) {
			return nil, recordErr(span, c.loginFailed(ctx, email, ErrInvalidMFACode))
		}
	}

	if prev := c.State().SessionID; prev != "" {
		if err := c.cfg.Sessions.DestroySession(ctx, prev); err != nil {
			log.Printf("auth: client %s: destroy previous session: %v", c.clientID, err)
		}
	}
	sessionID, csrfToken, err := c.cfg.Sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, recordErr(span, err)
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("auth: encode user: %w", err))
	}
	if err := c.cfg.Store.Set(ctx, clientstore.KeySession, sessionID); err != nil {
		return nil, recordErr(span, err)
	}
	if err := c.cfg.Store.Set(ctx, clientstore.KeyUser, string(rawUser)); err != nil {
		return nil, recordErr(span, err)
	}
	if err := c.cfg.Lockout.Clear(ctx); err != nil {
		return nil, recordErr(span, err)
	}
	c.applyLockout(lockout.Status{})
	c.setAuthenticated(user, sessionID, csrfToken)

	c.cfg.Audit.LogEvent(ctx, user.ID, audit.ActionLoginSuccess, audit.ResourceAuth, true, map[string]any{
		"email":      email,
		"role":       user.Role,
		"mfa":        user.MFAEnabled,
		"rememberMe": creds.RememberMe,
	})
	c.countLogin(ctx, "success")
	return &LoginResult{User: c.State().User}, nil
}

// loginFailed records a failed attempt and returns the error to surface.
func (c *Controller) loginFailed(ctx context.Context, email string, cause error) error {
	st, err := c.cfg.Lockout.RecordFailure(ctx)
	if err != nil {
		return err
	}
	c.applyLockout(st)
	details := map[string]any{
		"email":    email,
		"attempts": st.Attempts,
		"reason":   cause.Error(),
	}
	if st.Locked {
		details["locked"] = true
	}
	c.cfg.Audit.LogEvent(ctx, "", audit.ActionLoginFailed, audit.ResourceAuth, false, details)
	c.countLogin(ctx, "failed")
	if errors.Is(cause, ErrInvalidMFACode) || errors.Is(cause, ErrInvalidCredentials) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrInvalidCredentials, cause)
}

// Logout destroys the session, purges the session mirror, and returns the client to the
// unauthenticated state. The lockout record is kept.
func (c *Controller) Logout(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "auth.Logout")
	defer span.End()
	c.op.Lock()
	defer c.op.Unlock()
	return recordErr(span, c.logout(ctx))
}

// logout must be called with op held.
func (c *Controller) logout(ctx context.Context) error {
	st := c.State()
	var errs []error
	if st.SessionID != "" {
		if err := c.cfg.Sessions.DestroySession(ctx, st.SessionID); err != nil {
			errs = append(errs, err)
		}
	}
	userID := ""
	if st.User != nil {
		userID = st.User.ID
	}
	c.cfg.Audit.LogEvent(ctx, userID, audit.ActionLogout, audit.ResourceAuth, true, nil)
	if err := c.purge(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ChangePassword changes the signed-in user's password. A weak new password yields *WeakPasswordError.
func (c *Controller) ChangePassword(ctx context.Context, current, next string) error {
	ctx, span := c.startSpan(ctx, "auth.ChangePassword")
	defer span.End()
	c.op.Lock()
	defer c.op.Unlock()

	st := c.State()
	if !st.IsAuthenticated || st.User == nil {
		return recordErr(span, ErrNotAuthenticated)
	}
	if strength := security.ScorePassword(next); !strength.IsValid {
		c.cfg.Audit.LogEvent(ctx, st.User.ID, audit.ActionPasswordChangeFailed, audit.ResourceAuth, false, map[string]any{
			"reason": "weak_password",
			"score":  strength.Score,
		})
		return recordErr(span, &WeakPasswordError{Feedback: strength.Feedback})
	}
	if err := c.cfg.Provider.UpdatePassword(ctx, st.User, current, next); err != nil {
		c.cfg.Audit.LogEvent(ctx, st.User.ID, audit.ActionPasswordChangeFailed, audit.ResourceAuth, false, map[string]any{
			"reason": err.Error(),
		})
		return recordErr(span, err)
	}
	c.cfg.Audit.LogEvent(ctx, st.User.ID, audit.ActionPasswordChanged, audit.ResourceAuth, true, nil)
	return nil
}

// RefreshSession re-validates the current session on behalf of the client, extending it, logging
// out when it is no longer valid, and picking up the session's CSRF token otherwise. No-op while
// unauthenticated.
func (c *Controller) RefreshSession(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "auth.RefreshSession")
	defer span.End()
	c.op.Lock()
	defer c.op.Unlock()
	return recordErr(span, c.revalidate(ctx, "refresh", c.cfg.Sessions.ValidateSession))
}

// checkSession is the refresh loop body. It observes the session without extending it, so only
// client calls keep a session alive and an idle client is logged out once the session lapses.
func (c *Controller) checkSession(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.revalidate(ctx, "watch", c.cfg.Sessions.PeekSession)
}

// revalidate must be called with op held.
func (c *Controller) revalidate(ctx context.Context, phase string, check func(context.Context, string) (session.Validation, error)) error {
	st := c.State()
	if !st.IsAuthenticated {
		return nil
	}
	v, err := check(ctx, st.SessionID)
	if err != nil {
		return err
	}
	if !v.IsValid {
		userID := ""
		if st.User != nil {
			userID = st.User.ID
		}
		c.cfg.Audit.LogEvent(ctx, userID, audit.ActionSessionExpired, audit.ResourceSession, false, map[string]any{"phase": phase})
		return c.logout(ctx)
	}
	c.update(func(s *State) { s.CSRFToken = v.CSRFToken })
	return nil
}

// Close stops the refresh loop. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	task := c.refresh
	c.refresh = nil
	c.mu.Unlock()
	task.Stop()
}

// setAuthenticated flips the state to authenticated and starts the refresh loop on the false→true edge.
func (c *Controller) setAuthenticated(user *domain.User, sessionID, csrfToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.state.IsAuthenticated
	c.state.User = user
	c.state.IsAuthenticated = true
	c.state.SessionID = sessionID
	c.state.CSRFToken = csrfToken
	if was {
		return
	}
	c.activeSessions.Add(context.Background(), 1)
	c.refresh = background.Every(context.Background(), c.cfg.RefreshInterval, func(ctx context.Context) {
		if err := c.checkSession(ctx); err != nil {
			log.Printf("auth: client %s: session check: %v", c.clientID, err)
		}
	})
}

// purge removes the session mirror and resets the state to unauthenticated, cancelling the refresh
// loop on the true→false edge. Cancel does not wait, so purge may run on the refresh goroutine.
func (c *Controller) purge(ctx context.Context) error {
	errs := []error{
		c.cfg.Store.Remove(ctx, clientstore.KeySession),
		c.cfg.Store.Remove(ctx, clientstore.KeyUser),
	}
	c.mu.Lock()
	was := c.state.IsAuthenticated
	task := c.refresh
	c.refresh = nil
	c.state.User = nil
	c.state.IsAuthenticated = false
	c.state.SessionID = ""
	c.state.CSRFToken = ""
	c.mu.Unlock()
	task.Cancel()
	if was {
		c.activeSessions.Add(context.Background(), -1)
	}
	return errors.Join(errs...)
}

func (c *Controller) loadLockout(ctx context.Context) error {
	st, err := c.cfg.Lockout.Check(ctx)
	if err != nil {
		return err
	}
	c.applyLockout(st)
	return nil
}

func (c *Controller) applyLockout(st lockout.Status) {
	c.update(func(s *State) {
		s.LoginAttempts = st.Attempts
		s.IsLocked = st.Locked
		s.LockoutExpires = st.Expires
	})
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

func (c *Controller) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("intellx.client_id", c.clientID)))
}

func (c *Controller) countLogin(ctx context.Context, outcome string) {
	c.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// recordErr marks span as failed when err is non-nil and returns err.
func recordErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
