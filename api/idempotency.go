package api

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix       = "idem:"
	headerIdempotencyKey  = "Idempotency-Key"
	maxIdempotencyKeySize = 200
)

// RedisDeduper stores seen idempotency keys in Redis so every API instance
// rejects replays of the same write.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return dedupeKeyPrefix + userID + ":" + key
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the client may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// claimIdempotencyKey records the request's Idempotency-Key, if any. The
// returned release func must be called when the write fails.
func (h *Handlers) claimIdempotencyKey(c echo.Context, userID string) (release func(), err error) {
	noop := func() {}
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key == "" || h.deduper == nil {
		return noop, nil
	}
	if len(key) > maxIdempotencyKeySize {
		return noop, invalidArgument("idempotency key too long")
	}
	ctx := c.Request().Context()
	added, err := h.deduper.Add(ctx, userID, key)
	if err != nil {
		// Fail open when Redis is unavailable.
		h.logger.WithError(err).Warn("idempotency check failed")
		return noop, nil
	}
	if !added {
		return noop, errDuplicateRequest
	}
	return func() {
		if rerr := h.deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
			h.logger.WithError(rerr).WithField("user", userID).Error("dedupe rollback failed")
		}
	}, nil
}
