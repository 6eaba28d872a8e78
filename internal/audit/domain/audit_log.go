package domain

import "time"

// Entry is one security-relevant event in the audit trail. Entries are append-only.
type Entry struct {
	ID        string
	Timestamp time.Time
	UserID    string // empty when the actor is unknown (e.g. failed login)
	Action    string // upper snake tag, e.g. LOGIN_SUCCESS
	Resource  string // lower snake tag, e.g. auth, session, clipboard
	Success   bool
	IP        string
	Details   map[string]any
}
