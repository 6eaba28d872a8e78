// Package session issues and validates sliding-expiry login sessions with a bound CSRF token.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/platform/background"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
	"github.com/sweetpy/intelXv2-sub001/internal/session/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/session/repository"
)

// DefaultTimeout is the sliding session lifetime.
const DefaultTimeout = 30 * time.Minute

// tokenBytes is the entropy of session IDs and CSRF tokens (64 hex characters).
const tokenBytes = 32

// Validation is the outcome of ValidateSession. UserID and CSRFToken are set only when IsValid.
type Validation struct {
	IsValid   bool
	UserID    string
	CSRFToken string
}

// Manager is the authoritative session table. Safe for concurrent use.
type Manager struct {
	repo    repository.Repository
	timeout time.Duration
	nowF    func() time.Time

	mu      sync.Mutex
	sweeper *background.Task
}

// NewManager returns a Manager storing sessions in repo. timeout <= 0 uses DefaultTimeout.
func NewManager(repo repository.Repository, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{repo: repo, timeout: timeout, nowF: time.Now}
}

// SetClock replaces the time source. Must be called before the manager is shared; intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.nowF = now
}

// Timeout returns the sliding session lifetime.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// CreateSession stores a new session for userID and returns its ID and CSRF token.
func (m *Manager) CreateSession(ctx context.Context, userID string) (sessionID, csrfToken string, err error) {
	sessionID, err = security.RandomHex(tokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("session: generate id: %w", err)
	}
	csrfToken, err = security.RandomHex(tokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("session: generate csrf token: %w", err)
	}
	now := m.nowF().UTC()
	s := &domain.Session{
		ID:        sessionID,
		UserID:    userID,
		CSRFToken: csrfToken,
		ExpiresAt: now.Add(m.timeout),
		CreatedAt: now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return "", "", fmt.Errorf("session: create: %w", err)
	}
	return sessionID, csrfToken, nil
}

// ValidateSession reports whether sessionID names a live session. A live session has its expiry
// pushed to now+timeout. An expired session is deleted. Errors are returned only for store failures.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (Validation, error) {
	if sessionID == "" {
		return Validation{}, nil
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return Validation{}, fmt.Errorf("session: get: %w", err)
	}
	if s == nil {
		return Validation{}, nil
	}
	now := m.nowF().UTC()
	if s.Expired(now) {
		if err := m.repo.Delete(ctx, sessionID); err != nil {
			return Validation{}, fmt.Errorf("session: delete expired: %w", err)
		}
		return Validation{}, nil
	}
	if err := m.repo.UpdateExpiry(ctx, sessionID, now.Add(m.timeout)); err != nil {
		return Validation{}, fmt.Errorf("session: extend: %w", err)
	}
	return Validation{IsValid: true, UserID: s.UserID, CSRFToken: s.CSRFToken}, nil
}

// PeekSession reports whether sessionID names a live session without extending it. Expired sessions
// are left for Sweep.
func (m *Manager) PeekSession(ctx context.Context, sessionID string) (Validation, error) {
	if sessionID == "" {
		return Validation{}, nil
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return Validation{}, fmt.Errorf("session: get: %w", err)
	}
	if s == nil || s.Expired(m.nowF().UTC()) {
		return Validation{}, nil
	}
	return Validation{IsValid: true, UserID: s.UserID, CSRFToken: s.CSRFToken}, nil
}

// DestroySession removes the session. Destroying an unknown session is not an error.
func (m *Manager) DestroySession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// VerifyCSRF reports whether token matches the CSRF token of a live session. It does not extend the session.
func (m *Manager) VerifyCSRF(ctx context.Context, sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		log.Printf("session: csrf lookup failed: %v", err)
		return false
	}
	if s == nil || s.Expired(m.nowF().UTC()) {
		return false
	}
	return security.TokensEqual(token, s.CSRFToken)
}

// Sweep deletes every expired session and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.nowF().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return n, nil
}

// Start runs Sweep every interval until Close is called or ctx is cancelled.
// interval <= 0 uses the session timeout. Calling Start again replaces the previous sweeper.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.timeout
	}
	task := background.Every(ctx, interval, func(ctx context.Context) {
		n, err := m.Sweep(ctx)
		if err != nil {
			log.Printf("session: %v", err)
			return
		}
		if n > 0 {
			log.Printf("session: swept %d expired sessions", n)
		}
	})
	m.mu.Lock()
	prev := m.sweeper
	m.sweeper = task
	m.mu.Unlock()
	prev.Stop()
}

// Close stops the background sweeper, if running.
func (m *Manager) Close() {
	m.mu.Lock()
	task := m.sweeper
	m.sweeper = nil
	m.mu.Unlock()
	task.Stop()
}
