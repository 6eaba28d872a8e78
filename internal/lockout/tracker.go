// Package lockout counts consecutive failed logins for one client and suspends logins once a limit is reached.
package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/clientstore"
)

// Defaults for NewTracker.
const (
	DefaultMaxAttempts = 5
	DefaultDuration    = 15 * time.Minute
)

// State is the persisted record under clientstore.KeyLockout. Timestamp is the time of the most
// recent failure in Unix milliseconds.
type State struct {
	Attempts  int   `json:"attempts"`
	Timestamp int64 `json:"timestamp"`
}

// Status is the lockout view exposed to callers.
type Status struct {
	Attempts int
	Locked   bool
	// Expires is when the lockout lifts; zero unless Locked.
	Expires time.Time
}

// Tracker reads and updates the lockout record. RecordFailure is atomic with respect to other
// calls on the same Tracker.
type Tracker struct {
	mu          sync.Mutex
	store       clientstore.Store
	maxAttempts int
	duration    time.Duration
	nowF        func() time.Time
}

// NewTracker returns a Tracker persisting to store. Non-positive arguments use the defaults.
func NewTracker(store clientstore.Store, maxAttempts int, duration time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Tracker{store: store, maxAttempts: maxAttempts, duration: duration, nowF: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowF = now
}

// Check returns the current status. A lockout whose duration has passed is cleared and the counter reset.
func (t *Tracker) Check(ctx context.Context) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.load(ctx)
	if err != nil {
		return Status{}, err
	}
	if st.Attempts < t.maxAttempts {
		return Status{Attempts: st.Attempts}, nil
	}
	expires := time.UnixMilli(st.Timestamp).Add(t.duration)
	if t.nowF().Before(expires) {
		return Status{Attempts: st.Attempts, Locked: true, Expires: expires}, nil
	}
	if err := t.store.Remove(ctx, clientstore.KeyLockout); err != nil {
		return Status{}, fmt.Errorf("lockout: clear: %w", err)
	}
	return Status{}, nil
}

// RecordFailure increments the attempt counter and stamps it with the current time.
// The returned status is Locked once the counter reaches the limit.
func (t *Tracker) RecordFailure(ctx context.Context) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.load(ctx)
	if err != nil {
		return Status{}, err
	}
	now := t.nowF()
	st.Attempts++
	st.Timestamp = now.UnixMilli()
	raw, err := json.Marshal(st)
	if err != nil {
		return Status{}, fmt.Errorf("lockout: encode: %w", err)
	}
	if err := t.store.Set(ctx, clientstore.KeyLockout, string(raw)); err != nil {
		return Status{}, fmt.Errorf("lockout: save: %w", err)
	}
	if st.Attempts >= t.maxAttempts {
		return Status{Attempts: st.Attempts, Locked: true, Expires: time.UnixMilli(st.Timestamp).Add(t.duration)}, nil
	}
	return Status{Attempts: st.Attempts}, nil
}

// Clear removes the lockout record, resetting the counter to zero.
func (t *Tracker) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.Remove(ctx, clientstore.KeyLockout); err != nil {
		return fmt.Errorf("lockout: clear: %w", err)
	}
	return nil
}

// load must be called with mu held. A missing record is the zero State; a malformed one is discarded.
func (t *Tracker) load(ctx context.Context) (State, error) {
	raw, ok, err := t.store.Get(ctx, clientstore.KeyLockout)
	if errors.Is(err, clientstore.ErrCorrupt) {
		return t.discard(ctx)
	}
	if err != nil {
		return State{}, fmt.Errorf("lockout: load: %w", err)
	}
	if !ok {
		return State{}, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.Attempts < 0 {
		return t.discard(ctx)
	}
	return st, nil
}

func (t *Tracker) discard(ctx context.Context) (State, error) {
	log.Printf("lockout: discarding malformed lockout record")
	if err := t.store.Remove(ctx, clientstore.KeyLockout); err != nil {
		return State{}, fmt.Errorf("lockout: clear: %w", err)
	}
	return State{}, nil
}
