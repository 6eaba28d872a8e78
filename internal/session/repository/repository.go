package repository

import (
	"context"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/session/domain"
)

// Repository defines persistence for sessions.
// GetByID returns (nil, nil) when the session does not exist.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions with ExpiresAt before the given time and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
