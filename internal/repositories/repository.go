package repositories

import "context"

// Repository aggregates all repository interfaces.
type Repository interface {
	// Question domain
	Question() QuestionRepository

	// Session domain
	Session() SessionRepository
	Attempt() AttemptRepository

	// Idempotency coordination (Redis-backed)
	Idempotency() IdempotencyRepository

	// User domain (read-only, owned by the identity provider)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
