package service

import (
	"errors"
	"strings"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/provider"
)

// Sentinel errors for the auth controller; handlers map them to gRPC codes.
var (
	ErrRateLimited        = errors.New("too many login attempts, please try again later")
	ErrAccountLocked      = errors.New("account temporarily locked due to too many failed attempts")
	ErrMFARequired        = errors.New("MFA code required")
	ErrInvalidMFACode     = errors.New("invalid MFA code")
	ErrInvalidCredentials = provider.ErrInvalidCredentials
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// WeakPasswordError is returned by ChangePassword when the new password fails the strength rules.
type WeakPasswordError struct {
	Feedback []string
}

func (e *WeakPasswordError) Error() string {
	return "password does not meet requirements: " + strings.Join(e.Feedback, "; ")
}
