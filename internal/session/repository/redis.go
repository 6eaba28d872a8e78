package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpy/intelXv2-sub001/internal/session/domain"
)

const redisKeyPrefix = "intellx:session:"

// RedisRepository stores each session as a hash with a native key expiry matching ExpiresAt.
// Expired sessions disappear on their own, so DeleteExpired is a no-op.
type RedisRepository struct {
	rdb redis.Cmdable
}

// NewRedisRepository returns a session repository backed by rdb.
func NewRedisRepository(rdb redis.Cmdable) (*RedisRepository, error) {
	if rdb == nil {
		return nil, errors.New("session: redis client is required")
	}
	return &RedisRepository{rdb: rdb}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Create writes the session hash and sets its expiry in one transaction.
func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	key := redisKey(s.ID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"user_id":    s.UserID,
			"csrf_token": s.CSRFToken,
			"expires_at": s.ExpiresAt.UnixMilli(),
			"created_at": s.CreatedAt.UnixMilli(),
		})
		pipe.PExpireAt(ctx, key, s.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: redis create: %w", err)
	}
	return nil
}

// GetByID returns the session, or nil if the key does not exist (including after expiry).
func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, redisKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: redis get: bad expires_at: %w", err)
	}
	createdMs, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &domain.Session{
		ID:        id,
		UserID:    fields["user_id"],
		CSRFToken: fields["csrf_token"],
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
		CreatedAt: time.UnixMilli(createdMs).UTC(),
	}, nil
}

// UpdateExpiry moves the key expiry and the stored expires_at field. Missing sessions are ignored.
func (r *RedisRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	key := redisKey(id)
	ok, err := r.rdb.PExpireAt(ctx, key, expiresAt).Result()
	if err != nil {
		return fmt.Errorf("session: redis expire: %w", err)
	}
	if !ok {
		return nil
	}
	if err := r.rdb.HSet(ctx, key, "expires_at", expiresAt.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("session: redis expire: %w", err)
	}
	return nil
}

// Delete removes the session key.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	return nil
}

// DeleteExpired returns 0; Redis evicts expired keys itself.
func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
