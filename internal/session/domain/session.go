package domain

import "time"

// Session is a server-side login session. CSRFToken is bound to the session for its lifetime;
// ExpiresAt slides forward on every successful validation.
type Session struct {
	ID        string
	UserID    string
	CSRFToken string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
