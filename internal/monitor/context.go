package monitor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/platform/background"
	"github.com/sweetpy/intelXv2-sub001/internal/policy/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/policy/engine"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
)

// DefaultRequestLimit is the outbound request budget per minute.
const DefaultRequestLimit = 100

// ClipboardAction is a clipboard operation recorded in the audit trail.
type ClipboardAction string

const (
	ClipboardCopy  ClipboardAction = "copy"
	ClipboardPaste ClipboardAction = "paste"
)

// Escalator acts on critical security events.
type Escalator interface {
	Escalate(ctx context.Context, ev Event) error
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, ev Event) error

func (f EscalatorFunc) Escalate(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Config holds the dependencies of a SecurityContext.
type Config struct {
	Audit audit.AuditLogger
	// Evaluator assesses Environment; nil uses domain.Assess.
	Evaluator engine.Evaluator
	// Environment is the signal set the level is computed from, once, at construction.
	Environment domain.Environment
	// Escalator is invoked for critical events; may be nil.
	Escalator Escalator
	// Identity returns the user to attribute events to; may be nil.
	Identity func(context.Context) string
	// RequestLimit is the outbound request budget per minute; non-positive uses DefaultRequestLimit.
	RequestLimit int
}

// SecurityContext is the process-wide security context.
type SecurityContext struct {
	cfg        Config
	csrfToken  string
	assessment domain.Assessment

	mu       sync.Mutex
	monitors []*background.Task
}

// NewSecurityContext generates the page CSRF token and assesses the security level.
func NewSecurityContext(ctx context.Context, cfg Config) (*SecurityContext, error) {
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = DefaultRequestLimit
	}
	token, err := security.RandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("monitor: generate csrf token: %w", err)
	}
	s := &SecurityContext{cfg: cfg, csrfToken: token}
	s.assessment = s.Assess(ctx, cfg.Environment)
	log.Printf("monitor: security level %s (score %d)", s.assessment.Level, s.assessment.Score)
	return s, nil
}

// CSRFToken returns the page CSRF token. It is not accepted on authenticated requests, which use
// the session's token.
func (s *SecurityContext) CSRFToken() string {
	return s.csrfToken
}

// Level returns the security level assessed at construction.
func (s *SecurityContext) Level() domain.Level {
	return s.assessment.Level
}

// Assessment returns the score and level assessed at construction.
func (s *SecurityContext) Assessment() domain.Assessment {
	return s.assessment
}

// Environment returns the signals the level was assessed from.
func (s *SecurityContext) Environment() domain.Environment {
	return s.cfg.Environment
}

// Assess evaluates env with the configured evaluator.
func (s *SecurityContext) Assess(ctx context.Context, env domain.Environment) domain.Assessment {
	if s.cfg.Evaluator == nil {
		return domain.Assess(env)
	}
	a, err := s.cfg.Evaluator.Evaluate(ctx, env)
	if err != nil {
		log.Printf("monitor: assess security level: %v", err)
		return domain.Assess(env)
	}
	return a
}

// ReportSecurityEvent records ev in the audit trail. Critical events are also logged as warnings
// and passed to the escalator.
func (s *SecurityContext) ReportSecurityEvent(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	details := make(map[string]any, len(ev.Metadata)+2)
	for k, v := range ev.Metadata {
		details[k] = v
	}
	details["severity"] = string(ev.Severity)
	details["description"] = ev.Description
	s.cfg.Audit.LogEvent(ctx, s.userID(ctx), audit.ActionSecurityEvent, string(ev.Type), false, details)

	if ev.Severity != SeverityCritical {
		return nil
	}
	log.Printf("monitor: WARNING critical security event %s: %s", ev.Type, ev.Description)
	if s.cfg.Escalator != nil {
		if err := s.cfg.Escalator.Escalate(ctx, ev); err != nil {
			log.Printf("monitor: escalate %s: %v", ev.Type, err)
		}
	}
	return nil
}

// RecordClipboard records a clipboard copy or paste of length characters.
func (s *SecurityContext) RecordClipboard(ctx context.Context, action ClipboardAction, length int) error {
	var tag string
	switch action {
	case ClipboardCopy:
		tag = audit.ActionClipboardCopy
	case ClipboardPaste:
		tag = audit.ActionClipboardPaste
	default:
		return fmt.Errorf("monitor: unknown clipboard action %q", action)
	}
	s.cfg.Audit.LogEvent(ctx, s.userID(ctx), tag, audit.ResourceClipboard, true, map[string]any{"length": length})
	return nil
}

// inspectionCombos are the blocked shortcuts, as sorted lower-case parts joined by "+".
var inspectionCombos = map[string]bool{
	"f12":          true,
	"ctrl+i+shift": true,
	"ctrl+j+shift": true,
	"c+ctrl+shift": true,
	"ctrl+u":       true,
}

// HandleKeyCombo reports whether combo (e.g. "Ctrl+Shift+I") should be suppressed. Inspection
// shortcuts are suppressed, and reported as a security violation, only at the high level.
func (s *SecurityContext) HandleKeyCombo(ctx context.Context, combo string) bool {
	if s.Level() != domain.LevelHigh || !inspectionCombos[normalizeCombo(combo)] {
		return false
	}
	s.report(ctx, Event{
		Type:        EventSecurityViolation,
		Severity:    SeverityMedium,
		Description: "Attempted to open developer tools",
		Metadata:    map[string]any{"combo": combo},
	})
	return true
}

// HandleContextMenu reports whether the context menu should be suppressed, which happens only at
// the high level.
func (s *SecurityContext) HandleContextMenu(ctx context.Context) bool {
	if s.Level() != domain.LevelHigh {
		return false
	}
	s.report(ctx, Event{
		Type:        EventSecurityViolation,
		Severity:    SeverityLow,
		Description: "Context menu blocked",
	})
	return true
}

// RequestCounter wraps next with the outbound request monitor.
func (s *SecurityContext) RequestCounter(next http.RoundTripper) *RequestCounter {
	return NewRequestCounter(next, s.cfg.RequestLimit, s.report)
}

// WatchDevTools polls probe every interval and reports when developer tools appear to open.
// The detector runs until Close.
func (s *SecurityContext) WatchDevTools(probe ViewportProbe, interval time.Duration) {
	d := NewDevToolsDetector(probe, s.report)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors = append(s.monitors, background.Every(context.Background(), interval, d.Check))
}

// Close stops all monitors.
func (s *SecurityContext) Close() {
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = nil
	s.mu.Unlock()
	for _, t := range monitors {
		t.Stop()
	}
}

func (s *SecurityContext) report(ctx context.Context, ev Event) {
	if err := s.ReportSecurityEvent(ctx, ev); err != nil {
		log.Printf("monitor: report %s: %v", ev.Type, err)
	}
}

func (s *SecurityContext) userID(ctx context.Context) string {
	if s.cfg.Identity == nil {
		return ""
	}
	return s.cfg.Identity(ctx)
}

func normalizeCombo(combo string) string {
	parts := strings.Split(strings.ToLower(combo), "+")
	keys := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "":
			continue
		case "control":
			p = "ctrl"
		}
		keys = append(keys, p)
	}
	sort.Strings(keys)
	return strings.Join(keys, "+")
}
