package repositories

import (
	"context"

	"github.com/prepforge/practice-service/internal/models"
	"gorm.io/gorm"
)

// QuestionRepository interface for question-specific operations
type QuestionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetByIDWithChoices(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Bulk operations
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters QuestionFilters) ([]*models.Question, int64, error)

	// Selector support: ids of published questions matching the filter set,
	// newest creation first, id descending as the tiebreak.
	GetPublishedIDs(ctx context.Context, tx *gorm.DB, filters QuestionFilters) ([]uint, error)
	CountPublished(ctx context.Context, tx *gorm.DB, filters QuestionFilters) (int64, error)

	// Validation and checks
	ExistsBySlug(ctx context.Context, tx *gorm.DB, slug string, excludeID *uint) (bool, error)
	IsPublished(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	// Statistics
	GetAttemptStats(ctx context.Context, tx *gorm.DB, questionID uint) (*QuestionAttemptStats, error)
}
