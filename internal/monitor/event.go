// Package monitor holds the process-wide security context: the page CSRF token, the assessed
// security level, the security event sink, and the passive monitors that feed it.
package monitor

import (
	"errors"
	"fmt"
)

// EventType classifies a security event. The type becomes the audit entry's resource.
type EventType string

const (
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventSecurityViolation  EventType = "security_violation"
	EventDataBreach         EventType = "data_breach"
	EventUnauthorizedAccess EventType = "unauthorized_access"
)

// Severity of a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrInvalidEvent is returned for events with an unknown type or severity.
var ErrInvalidEvent = errors.New("invalid security event")

// Event is a security event. It is converted to an audit entry and not stored otherwise.
type Event struct {
	Type        EventType
	Severity    Severity
	Description string
	Metadata    map[string]any
}

// Validate checks the event's type and severity.
func (e Event) Validate() error {
	switch e.Type {
	case EventSuspiciousActivity, EventSecurityViolation, EventDataBreach, EventUnauthorizedAccess:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidEvent, e.Type)
	}
	switch e.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("%w: severity %q", ErrInvalidEvent, e.Severity)
	}
	return nil
}
