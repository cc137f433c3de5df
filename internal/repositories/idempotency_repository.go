package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prepforge/practice-service/internal/models"
)

// IdempotencyRepository coordinates duplicate suppression for retried
// requests. Records are scoped by (userID, action, key) and expire after the
// configured TTL.
type IdempotencyRepository interface {
	// Claim atomically registers the key for an in-flight request. It returns
	// ErrIdempotencyClaimed when another unresolved request holds the key,
	// and the stored record when a resolved result already exists.
	Claim(ctx context.Context, userID, action, key string, ttl time.Duration) (*models.IdempotencyRecord, error)

	// Resolve stores the successful result under the claimed key.
	Resolve(ctx context.Context, userID, action, key string, result json.RawMessage, ttl time.Duration) error

	// ResolveError stores a failed outcome under the claimed key so that
	// duplicates replay the same failure instead of re-executing.
	ResolveError(ctx context.Context, userID, action, key, errMsg string, ttl time.Duration) error

	// Release frees a claimed key, allowing the slot to be claimed again.
	Release(ctx context.Context, userID, action, key string) error

	// Get returns the stored record, or ErrNotFound.
	Get(ctx context.Context, userID, action, key string) (*models.IdempotencyRecord, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
