package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/prepforge/practice-service/internal/cache"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type QuestionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// ===== BASIC CRUD OPERATIONS =====

// Create creates a new question with its choices and invalidates cache
func (q *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Create(question).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, q.cacheManager.Question, "list:*")
	cache.SafeInvalidatePattern(ctx, q.cacheManager.Question, "ids:*")

	return nil
}

// GetByID retrieves a question by ID with caching
func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var question models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &question, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbQuestion models.Question
		if err := db.WithContext(ctx).First(&dbQuestion, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("question %d: %w", id, repositories.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to get question: %w", err)
		}
		return &dbQuestion, nil
	})

	if err != nil {
		return nil, err
	}

	return &question, nil
}

// GetByIDWithChoices retrieves a question together with its choices, ordered
// by their canonical sort order.
func (q *QuestionPostgreSQL) GetByIDWithChoices(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("choices:%d", id)
	var question models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &question, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbQuestion models.Question
		if err := db.WithContext(ctx).
			Preload("Choices", func(db *gorm.DB) *gorm.DB {
				return db.Order("sort_order ASC, id ASC")
			}).
			First(&dbQuestion, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("question %d: %w", id, repositories.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to get question with choices: %w", err)
		}
		return &dbQuestion, nil
	})

	if err != nil {
		return nil, err
	}

	return &question, nil
}

// GetBySlug retrieves a question by its stable slug
func (q *QuestionPostgreSQL) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*models.Question, error) {
	db := q.getDB(tx)
	var question models.Question
	if err := db.WithContext(ctx).
		Preload("Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		Where("slug = ?", slug).
		First(&question).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("question %q: %w", slug, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get question by slug: %w", err)
	}
	return &question, nil
}

// Update updates a question
func (q *QuestionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Save(question).Error; err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, q.cacheManager, question.ID)

	return nil
}

// Delete soft deletes a question and its choices
func (q *QuestionPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := q.getDB(tx)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("question_id = ?", id).Delete(&models.Choice{}).Error; err != nil {
			return fmt.Errorf("failed to delete question choices: %w", err)
		}
		if err := tx.WithContext(ctx).Delete(&models.Question{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete question: %w", err)
		}
		return nil
	})

	if err != nil {
		return err
	}

	cache.InvalidateQuestionCache(ctx, q.cacheManager, id)

	return nil
}

// ===== BULK OPERATIONS =====

// CreateBatch creates multiple questions in a batch
func (q *QuestionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}

	db := q.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(questions, 100).Error; err != nil {
		return fmt.Errorf("failed to create questions batch: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, q.cacheManager.Question, "list:*")
	cache.SafeInvalidatePattern(ctx, q.cacheManager.Question, "ids:*")

	return nil
}

// GetByIDs retrieves multiple questions by their IDs with choices preloaded
func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	if len(ids) == 0 {
		return []*models.Question{}, nil
	}

	db := q.getDB(tx)
	var questions []*models.Question
	if err := db.WithContext(ctx).
		Preload("Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		Where("id IN ?", ids).
		Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to get questions by ids: %w", err)
	}

	return questions, nil
}

// ===== QUERY OPERATIONS =====

// List retrieves questions with filters and total count
func (q *QuestionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	db := q.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Question{})
	query = q.helpers.ApplyQuestionFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count questions: %w", err)
	}

	query = q.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var questions []*models.Question
	if err := query.Find(&questions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list questions: %w", err)
	}

	return questions, total, nil
}

// GetPublishedIDs returns ids of published questions matching the filters,
// newest creation first with id as the tiebreak. The fixed order keeps
// downstream selection deterministic.
func (q *QuestionPostgreSQL) GetPublishedIDs(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]uint, error) {
	db := q.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Question{}).Where("status = ?", models.QuestionPublished)
	filters.Status = nil
	query = q.helpers.ApplyQuestionFilters(query, filters)

	var ids []uint
	if err := query.Order("created_at DESC, id DESC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to get published question ids: %w", err)
	}

	return ids, nil
}

// CountPublished counts published questions matching the filters
func (q *QuestionPostgreSQL) CountPublished(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) (int64, error) {
	db := q.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Question{}).Where("status = ?", models.QuestionPublished)
	filters.Status = nil
	query = q.helpers.ApplyQuestionFilters(query, filters)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count published questions: %w", err)
	}

	return count, nil
}

// ===== VALIDATION AND CHECKS =====

// ExistsBySlug checks whether a question with the slug exists
func (q *QuestionPostgreSQL) ExistsBySlug(ctx context.Context, tx *gorm.DB, slug string, excludeID *uint) (bool, error) {
	db := q.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Question{}).Where("slug = ?", slug)
	if excludeID != nil {
		query = query.Where("id != ?", *excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check question slug: %w", err)
	}

	return count > 0, nil
}

// IsPublished checks whether a question is published
func (q *QuestionPostgreSQL) IsPublished(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := q.getDB(tx)

	var count int64
	if err := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("id = ? AND status = ?", id, models.QuestionPublished).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check question status: %w", err)
	}

	return count > 0, nil
}

// ===== STATISTICS =====

// GetAttemptStats computes aggregate attempt statistics for a question
func (q *QuestionPostgreSQL) GetAttemptStats(ctx context.Context, tx *gorm.DB, questionID uint) (*repositories.QuestionAttemptStats, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("question:%d:attempts", questionID)
	var stats repositories.QuestionAttemptStats

	err := q.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		var result struct {
			Total   int64
			Correct int64
		}
		if err := db.WithContext(ctx).
			Model(&models.Attempt{}).
			Select("COUNT(*) as total, COUNT(*) FILTER (WHERE is_correct) as correct").
			Where("question_id = ?", questionID).
			Scan(&result).Error; err != nil {
			return nil, fmt.Errorf("failed to get question attempt stats: %w", err)
		}

		s := repositories.QuestionAttemptStats{
			TotalAttempts:   int(result.Total),
			CorrectAttempts: int(result.Correct),
		}
		if result.Total > 0 {
			s.CorrectRate = float64(result.Correct) / float64(result.Total)
		}
		return &s, nil
	})

	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}
