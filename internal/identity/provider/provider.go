// Package provider authenticates users against an identity source. The auth controller depends only on
// Provider, so the external provider and the demo directory are interchangeable.
package provider

import (
	"context"
	"errors"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
)

var (
	// ErrInvalidCredentials is returned when the email/password pair is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProfileNotFound is returned when sign-in succeeds but no profile matches the email.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrUnavailable is returned when the provider cannot be reached or answers unexpectedly.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Provider signs users in and changes their passwords.
type Provider interface {
	// SignIn returns the user for email/password. The returned user is owned by the caller.
	SignIn(ctx context.Context, email, password string) (*domain.User, error)
	// UpdatePassword changes user's password from current to next.
	UpdatePassword(ctx context.Context, user *domain.User, current, next string) error
}
