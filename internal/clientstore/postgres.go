package clientstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	getValueSQL    = `SELECT value FROM client_storage WHERE namespace = $1 AND key = $2`
	upsertValueSQL = `INSERT INTO client_storage (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

const removeValueSQL = `DELETE FROM client_storage WHERE namespace = $1 AND key = $2`

// PostgresBackend persists values in the client_storage table (see internal/db/migrations).
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend returns a backend using db.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var v string
	err := p.db.QueryRowContext(ctx, getValueSQL, namespace, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("clientstore: get %s: %w", key, err)
	}
	return v, true, nil
}

func (p *PostgresBackend) Set(ctx context.Context, namespace, key, value string) error {
	if _, err := p.db.ExecContext(ctx, upsertValueSQL, namespace, key, value); err != nil {
		return fmt.Errorf("clientstore: set %s: %w", key, err)
	}
	return nil
}

func (p *PostgresBackend) Remove(ctx context.Context, namespace, key string) error {
	if _, err := p.db.ExecContext(ctx, removeValueSQL, namespace, key); err != nil {
		return fmt.Errorf("clientstore: remove %s: %w", key, err)
	}
	return nil
}
