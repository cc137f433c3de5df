package repositories

import (
	"context"

	"github.com/prepforge/practice-service/internal/models"
	"gorm.io/gorm"
)

// SessionRepository interface for practice session operations
type SessionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, session *models.PracticeSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.PracticeSession, error)
	GetByIDForUser(ctx context.Context, tx *gorm.DB, id uint, userID string) (*models.PracticeSession, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, userID string, filters SessionListFilters) ([]*models.PracticeSession, int64, error)
	GetActiveByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*models.PracticeSession, error)

	// UpdateStateCAS persists session mutations with optimistic concurrency.
	// The UPDATE is conditional on the stored version still equaling
	// expectedVersion and the session still being active for the owning user;
	// on success the session's Version is bumped to expectedVersion+1. When
	// no row matches it returns ErrStaleSession and writes nothing.
	UpdateStateCAS(ctx context.Context, tx *gorm.DB, session *models.PracticeSession, expectedVersion int) error

	// EndCAS closes the session under the same version condition, writing
	// EndedAt together with the final state snapshot.
	EndCAS(ctx context.Context, tx *gorm.DB, session *models.PracticeSession, expectedVersion int) error

	// Statistics
	CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}
