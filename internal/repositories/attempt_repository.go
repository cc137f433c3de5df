package repositories

import (
	"context"
	"time"

	"github.com/prepforge/practice-service/internal/models"
	"gorm.io/gorm"
)

// AttemptRepository interface for the append-only attempt log
type AttemptRepository interface {
	// Create appends an attempt record. Attempts are never updated or
	// deleted; latest-wins semantics live in the session state, not here.
	Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error

	// Query operations
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	GetByUser(ctx context.Context, tx *gorm.DB, userID string, filters AttemptFilters) ([]*models.Attempt, int64, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Attempt, error)
	GetLatestByUserAndQuestion(ctx context.Context, tx *gorm.DB, userID string, questionID uint) (*models.Attempt, error)

	// GetLatestAttemptTimes returns, per question id, when the user most
	// recently attempted it. Questions never attempted are absent from the
	// map. Selector support for the staleness ordering.
	GetLatestAttemptTimes(ctx context.Context, tx *gorm.DB, userID string, questionIDs []uint) (map[uint]time.Time, error)

	// Statistics
	GetUserStats(ctx context.Context, tx *gorm.DB, userID string) (*UserPracticeStats, error)
	CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}
