package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweetpy/intelXv2-sub001/internal/audit/domain"
)

// DefaultCapacity is the number of entries kept before the oldest are evicted.
const DefaultCapacity = 1000

// Action tags recorded by the auth and security code paths.
const (
	ActionLoginSuccess         = "LOGIN_SUCCESS"
	ActionLoginFailed          = "LOGIN_FAILED"
	ActionLoginRateLimited     = "LOGIN_RATE_LIMITED"
	ActionLoginLocked          = "LOGIN_LOCKED"
	ActionLoginMFARequired     = "LOGIN_MFA_REQUIRED"
	ActionLogout               = "LOGOUT"
	ActionSessionRestored      = "SESSION_RESTORED"
	ActionSessionExpired       = "SESSION_EXPIRED"
	ActionPasswordChanged      = "PASSWORD_CHANGED"
	ActionPasswordChangeFailed = "PASSWORD_CHANGE_FAILED"
	ActionSecurityEvent        = "SECURITY_EVENT"
	ActionClipboardCopy        = "CLIPBOARD_COPY"
	ActionClipboardPaste       = "CLIPBOARD_PASTE"
)

// Resource tags.
const (
	ResourceAuth      = "auth"
	ResourceSession   = "session"
	ResourceClipboard = "clipboard"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Sink receives a copy of every entry after it is stored, e.g. to mirror it as a telemetry log record.
// Export is best-effort and must not block for long.
type Sink interface {
	Export(ctx context.Context, entry domain.Entry)
}

// AuditLogger writes a single audit event. Used by auth, session, and monitoring code paths.
// LogEvent is best-effort and never fails the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, success bool, details map[string]any)
}

// Logger is an in-memory, fixed-capacity audit trail. When full, the oldest entry is evicted (FIFO).
// Entries live for the process lifetime only. Safe for concurrent use.
type Logger struct {
	mu          sync.RWMutex
	buf         []domain.Entry
	start       int // index of the oldest entry
	n           int // number of stored entries
	sink        Sink
	ipExtractor IPExtractor
	nowF        func() time.Time
}

// NewLogger returns a Logger keeping at most capacity entries (DefaultCapacity if capacity <= 0).
// sink and ipExtractor may be nil.
func NewLogger(capacity int, sink Sink, ipExtractor IPExtractor) *Logger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Logger{
		buf:         make([]domain.Entry, capacity),
		sink:        sink,
		ipExtractor: ipExtractor,
		nowF:        time.Now,
	}
}

// LogEvent records one entry with the given fields.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, success bool, details map[string]any) {
	l.Log(ctx, domain.Entry{
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Success:  success,
		Details:  details,
	})
}

// Log appends entry, stamping ID and Timestamp (and IP, when an extractor is set and IP is empty).
func (l *Logger) Log(ctx context.Context, entry domain.Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.nowF().UTC()
	}
	if entry.IP == "" && l.ipExtractor != nil {
		entry.IP = l.ipExtractor(ctx)
	}
	entry.Details = maps.Clone(entry.Details)

	l.mu.Lock()
	capacity := len(l.buf)
	if l.n < capacity {
		l.buf[(l.start+l.n)%capacity] = entry
		l.n++
	} else {
		l.buf[l.start] = entry
		l.start = (l.start + 1) % capacity
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Export(ctx, entry)
	}
}

// GetLogs returns a snapshot of stored entries, oldest first. When userID is non-empty only that
// user's entries are returned. The result does not alias the logger's storage.
func (l *Logger) GetLogs(userID string) []domain.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Entry, 0, l.n)
	capacity := len(l.buf)
	for i := 0; i < l.n; i++ {
		e := l.buf[(l.start+i)%capacity]
		if userID != "" && e.UserID != userID {
			continue
		}
		e.Details = maps.Clone(e.Details)
		out = append(out, e)
	}
	return out
}

// Len returns the number of stored entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.n
}

// Capacity returns the maximum number of stored entries.
func (l *Logger) Capacity() int {
	return len(l.buf)
}
