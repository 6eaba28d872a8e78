package domain

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Roles assigned by identity providers.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleTrial   = "trial"
)

// PermissionAll grants every permission.
const PermissionAll = "all"

// User is the authenticated dashboard user. The JSON form is what clients persist under intellx_user.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions"`
	MFAEnabled  bool       `json:"mfaEnabled"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	Company     string     `json:"company,omitempty"`
	Region      string     `json:"region,omitempty"`
	Avatar      string     `json:"avatar,omitempty"`
	// TOTPSecret is the base32 TOTP seed; never serialized to clients.
	TOTPSecret string `json:"-"`
}

// Validate checks the fields a restored or provider-supplied user must carry.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if !strings.Contains(u.Email, "@") {
		return errors.New("user email is invalid")
	}
	return nil
}

// HasPermission reports whether the user holds permission directly or via PermissionAll.
func (u *User) HasPermission(permission string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Permissions, PermissionAll) || slices.Contains(u.Permissions, permission)
}

// Credentials is a login request.
type Credentials struct {
	Email    string
	Password string
	// MFACode is required on the second step for users with MFAEnabled.
	MFACode string
	// RememberMe is recorded in the audit trail; the session mirror is always persisted.
	RememberMe bool
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
