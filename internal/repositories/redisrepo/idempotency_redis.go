// Package redisrepo holds repository implementations backed by Redis rather
// than Postgres.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
)

// IdempotencyRedis implements IdempotencyRepository on Redis. A key is
// claimed with SET NX so exactly one of any set of concurrent duplicates
// wins; the claim record is later overwritten with the resolved result and
// both share the same TTL window.
type IdempotencyRedis struct {
	client *redis.Client
}

func NewIdempotencyRedis(client *redis.Client) repositories.IdempotencyRepository {
	return &IdempotencyRedis{client: client}
}

func (r *IdempotencyRedis) key(userID, action, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", userID, action, key)
}

// Claim atomically registers the key for an in-flight request.
func (r *IdempotencyRedis) Claim(ctx context.Context, userID, action, key string, ttl time.Duration) (*models.IdempotencyRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("idempotency store not available")
	}

	now := time.Now().UTC()
	record := models.IdempotencyRecord{
		UserID:    userID,
		Action:    action,
		Key:       key,
		Status:    models.IdempotencyClaimed,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	redisKey := r.key(userID, action, key)
	ok, err := r.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return &record, nil
	}

	// Somebody holds the key already: either an unresolved in-flight request
	// or a stored result from an earlier success.
	existing, err := r.Get(ctx, userID, action, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			// The holder expired between SETNX and GET. Treat as a lost
			// race; the caller retries the claim.
			return nil, repositories.ErrIdempotencyClaimed
		}
		return nil, err
	}

	if existing.Resolved() {
		return existing, nil
	}
	return existing, repositories.ErrIdempotencyClaimed
}

// Resolve stores the successful result under the claimed key.
func (r *IdempotencyRedis) Resolve(ctx context.Context, userID, action, key string, result json.RawMessage, ttl time.Duration) error {
	return r.finalize(ctx, userID, action, key, result, "", ttl)
}

// ResolveError stores a failed outcome under the claimed key.
func (r *IdempotencyRedis) ResolveError(ctx context.Context, userID, action, key, errMsg string, ttl time.Duration) error {
	return r.finalize(ctx, userID, action, key, nil, errMsg, ttl)
}

func (r *IdempotencyRedis) finalize(ctx context.Context, userID, action, key string, result json.RawMessage, errMsg string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("idempotency store not available")
	}

	existing, err := r.Get(ctx, userID, action, key)
	if err != nil && !repositories.IsNotFound(err) {
		return err
	}

	now := time.Now().UTC()
	record := models.IdempotencyRecord{
		UserID:    userID,
		Action:    action,
		Key:       key,
		Status:    models.IdempotencyResolved,
		Result:    result,
		Error:     errMsg,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if existing != nil {
		record.ClaimedAt = existing.ClaimedAt
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	if err := r.client.Set(ctx, r.key(userID, action, key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to resolve idempotency key: %w", err)
	}

	return nil
}

// Release frees a claimed key after a failed request.
func (r *IdempotencyRedis) Release(ctx context.Context, userID, action, key string) error {
	if r.client == nil {
		return nil
	}

	if err := r.client.Del(ctx, r.key(userID, action, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Get returns the stored record, or ErrNotFound.
func (r *IdempotencyRedis) Get(ctx context.Context, userID, action, key string) (*models.IdempotencyRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("idempotency store not available")
	}

	data, err := r.client.Get(ctx, r.key(userID, action, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("idempotency key %q: %w", key, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	var record models.IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}

	return &record, nil
}

// Ping checks backend connectivity.
func (r *IdempotencyRedis) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("idempotency store not available")
	}
	return r.client.Ping(ctx).Err()
}
