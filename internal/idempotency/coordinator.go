// Package idempotency coordinates duplicate suppression for retried client
// requests. One request among any set of concurrent duplicates claims the
// (user, action, key) slot, executes, and stores its outcome; the rest read
// the stored outcome or are told to come back later.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
)

// ErrInFlight is returned to non-claimers while the claiming request has not
// resolved yet.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// Coordinator wraps the idempotency store with claim/execute/store semantics.
type Coordinator struct {
	store  repositories.IdempotencyRepository
	ttl    time.Duration
	logger *slog.Logger
}

func NewCoordinator(store repositories.IdempotencyRepository, ttl time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Find returns the stored non-expired record for the key, or nil.
func (c *Coordinator) Find(ctx context.Context, userID, action, key string) (*models.IdempotencyRecord, error) {
	record, err := c.store.Get(ctx, userID, action, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if record.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return record, nil
}

// Do executes fn exactly once per (userID, action, key) within the TTL
// window. The claimer runs fn and stores the JSON-encoded outcome; duplicate
// callers get the stored result unmarshaled into dest, or ErrInFlight while
// the claimer has not finished. An empty key disables coordination and runs
// fn directly.
func (c *Coordinator) Do(ctx context.Context, userID, action, key string, dest interface{}, fn func() (interface{}, error)) error {
	if key == "" {
		result, err := fn()
		if err != nil {
			return err
		}
		return assign(result, dest)
	}

	record, err := c.store.Claim(ctx, userID, action, key, c.ttl)
	if err != nil {
		if errors.Is(err, repositories.ErrIdempotencyClaimed) {
			return ErrInFlight
		}
		return fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	// A resolved record means an earlier identical request already ran;
	// replay its outcome without executing fn again.
	if record.Resolved() {
		c.logger.Debug("Replaying idempotent result",
			"user_id", userID,
			"action", action)
		if record.Error != "" {
			return errors.New(record.Error)
		}
		if dest == nil || len(record.Result) == 0 {
			return nil
		}
		return json.Unmarshal(record.Result, dest)
	}

	// We hold the claim: run the operation.
	result, err := fn()
	if err != nil {
		// Store the failure so duplicates replay it instead of re-running
		// the operation.
		if storeErr := c.store.ResolveError(ctx, userID, action, key, err.Error(), c.ttl); storeErr != nil {
			c.logger.Error("Failed to store idempotent error outcome",
				"error", storeErr,
				"user_id", userID,
				"action", action)
			c.release(ctx, userID, action, key)
		}
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		// The outcome cannot be recorded; drop the claim so a retry runs
		// instead of waiting out the TTL on ErrInFlight.
		c.release(ctx, userID, action, key)
		return fmt.Errorf("failed to encode idempotent result: %w", err)
	}

	if err := c.store.Resolve(ctx, userID, action, key, payload, c.ttl); err != nil {
		// The operation succeeded; a failed store must not fail the request.
		c.logger.Error("Failed to store idempotent result",
			"error", err,
			"user_id", userID,
			"action", action)
	}

	return assign(result, dest)
}

// release drops an unresolved claim whose outcome could not be recorded.
func (c *Coordinator) release(ctx context.Context, userID, action, key string) {
	if err := c.store.Release(ctx, userID, action, key); err != nil {
		c.logger.Error("Failed to release idempotency claim",
			"error", err,
			"user_id", userID,
			"action", action)
	}
}

func assign(result, dest interface{}) error {
	if dest == nil || result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return json.Unmarshal(data, dest)
}
