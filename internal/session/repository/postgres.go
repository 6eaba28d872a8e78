package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sweetpy/intelXv2-sub001/internal/session/domain"
)

const (
	insertSessionSQL = `INSERT INTO sessions (id, user_id, csrf_token, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, csrf_token = EXCLUDED.csrf_token,
	expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`

	getSessionSQL          = `SELECT id, user_id, csrf_token, expires_at, created_at FROM sessions WHERE id = $1`
	updateSessionExpirySQL = `UPDATE sessions SET expires_at = $2 WHERE id = $1`
	deleteSessionSQL       = `DELETE FROM sessions WHERE id = $1`
	deleteExpiredSQL       = `DELETE FROM sessions WHERE expires_at < $1`
)

// PostgresRepository persists sessions in the sessions table (see internal/db/migrations).
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, insertSessionSQL, s.ID, s.UserID, s.CSRFToken, s.ExpiresAt.UTC(), s.CreatedAt.UTC())
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRowContext(ctx, getSessionSQL, id).Scan(&s.ID, &s.UserID, &s.CSRFToken, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpdateExpiry sets the session's expiry. Updating a missing session is not an error.
func (r *PostgresRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, updateSessionExpirySQL, id, expiresAt.UTC())
	return err
}

// Delete removes the session with the given id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, deleteSessionSQL, id)
	return err
}

// DeleteExpired removes sessions that expired before the given time.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredSQL, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
