package models

import (
	"encoding/json"
	"time"
)

type IdempotencyStatus string

const (
	IdempotencyClaimed  IdempotencyStatus = "claimed"
	IdempotencyResolved IdempotencyStatus = "resolved"
)

// IdempotencyRecord is the stored outcome of a mutating operation keyed by
// (user, action, caller-supplied key). It lives in shared storage with a TTL
// so a crashed executor can never block retries forever.
type IdempotencyRecord struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
	Key    string `json:"key"`

	Status IdempotencyStatus `json:"status"`
	// Result payload of the wrapped operation, set when resolved successfully.
	Result json.RawMessage `json:"result,omitempty"`
	// Error message of the wrapped operation, set when resolved with an error.
	Error string `json:"error,omitempty"`

	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *IdempotencyRecord) Resolved() bool {
	return r.Status == IdempotencyResolved
}

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
