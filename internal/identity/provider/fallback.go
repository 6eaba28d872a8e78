package provider

import (
	"context"
	"log"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
)

// Fallback consults primary first and secondary whenever primary fails for any reason.
type Fallback struct {
	primary   Provider
	secondary Provider
}

// NewFallback returns a provider chaining primary and secondary. A nil primary means secondary only.
func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	if f.primary != nil {
		u, err := f.primary.SignIn(ctx, email, password)
		if err == nil {
			return u, nil
		}
		log.Printf("identity: primary sign-in failed, using fallback: %v", err)
	}
	return f.secondary.SignIn(ctx, email, password)
}

func (f *Fallback) UpdatePassword(ctx context.Context, user *domain.User, current, next string) error {
	if f.primary != nil {
		err := f.primary.UpdatePassword(ctx, user, current, next)
		if err == nil {
			return nil
		}
		log.Printf("identity: primary password update failed, using fallback: %v", err)
	}
	return f.secondary.UpdatePassword(ctx, user, current, next)
}
