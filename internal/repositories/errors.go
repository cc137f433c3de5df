package repositories

import "errors"

var (
	// ErrNotFound is wrapped by repositories when a requested record does not
	// exist. Callers test with errors.Is.
	ErrNotFound = errors.New("record not found")

	// ErrStaleSession is returned by SessionRepository.UpdateStateCAS when the
	// conditional update matched no row: the session's version moved, the
	// session ended, or it never belonged to the caller. The service layer
	// reloads and retries.
	ErrStaleSession = errors.New("session state is stale")

	// ErrIdempotencyClaimed is returned when claiming an idempotency key that
	// is already held by an unresolved earlier request.
	ErrIdempotencyClaimed = errors.New("idempotency key already claimed")
)

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
