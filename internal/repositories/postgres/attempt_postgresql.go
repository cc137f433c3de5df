package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prepforge/practice-service/internal/cache"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Create appends an attempt record
func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, a.cacheManager.Stats, fmt.Sprintf("user:%s:*", attempt.UserID))
	cache.SafeInvalidatePattern(ctx, a.cacheManager.Stats, fmt.Sprintf("question:%d:*", attempt.QuestionID))

	return nil
}

// GetByID retrieves an attempt by ID
func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("attempt %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

// GetByUser retrieves a user's attempts with filters and total count
func (a *AttemptPostgreSQL) GetByUser(ctx context.Context, tx *gorm.DB, userID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	db := a.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Attempt{}).Where("user_id = ?", userID)
	query = a.helpers.ApplyAttemptFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = "answered_at"
	}
	query = a.helpers.ApplyPaginationAndSort(query, sortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var attempts []*models.Attempt
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get attempts: %w", err)
	}

	return attempts, total, nil
}

// GetBySession retrieves all attempts recorded under a session, oldest first
func (a *AttemptPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Attempt, error) {
	db := a.getDB(tx)
	var attempts []*models.Attempt
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("answered_at ASC, id ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get session attempts: %w", err)
	}
	return attempts, nil
}

// GetLatestByUserAndQuestion retrieves the most recent attempt a user made
// on a question
func (a *AttemptPostgreSQL) GetLatestByUserAndQuestion(ctx context.Context, tx *gorm.DB, userID string, questionID uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).
		Where("user_id = ? AND question_id = ?", userID, questionID).
		Order("answered_at DESC, id DESC").
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("attempt for question %d: %w", questionID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest attempt: %w", err)
	}
	return &attempt, nil
}

// GetLatestAttemptTimes returns the most recent attempt time per question id
// for a user. Never-attempted questions are absent from the result.
func (a *AttemptPostgreSQL) GetLatestAttemptTimes(ctx context.Context, tx *gorm.DB, userID string, questionIDs []uint) (map[uint]time.Time, error) {
	times := make(map[uint]time.Time, len(questionIDs))
	if len(questionIDs) == 0 {
		return times, nil
	}

	db := a.getDB(tx)
	var rows []struct {
		QuestionID uint
		LastAt     time.Time
	}
	if err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Select("question_id, MAX(answered_at) as last_at").
		Where("user_id = ? AND question_id IN ?", userID, questionIDs).
		Group("question_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get latest attempt times: %w", err)
	}

	for _, row := range rows {
		times[row.QuestionID] = row.LastAt
	}
	return times, nil
}

// GetUserStats computes aggregate practice statistics for a user
func (a *AttemptPostgreSQL) GetUserStats(ctx context.Context, tx *gorm.DB, userID string) (*repositories.UserPracticeStats, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("user:%s:practice", userID)
	var stats repositories.UserPracticeStats

	err := a.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		var result struct {
			Total   int64
			Correct int64
			AvgTime float64
		}
		if err := db.WithContext(ctx).
			Model(&models.Attempt{}).
			Select("COUNT(*) as total, COUNT(*) FILTER (WHERE is_correct) as correct, COALESCE(AVG(time_spent_seconds), 0) as avg_time").
			Where("user_id = ?", userID).
			Scan(&result).Error; err != nil {
			return nil, fmt.Errorf("failed to get user attempt stats: %w", err)
		}

		var sessionCount int64
		if err := db.WithContext(ctx).
			Model(&models.PracticeSession{}).
			Where("user_id = ?", userID).
			Count(&sessionCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count user sessions: %w", err)
		}

		s := repositories.UserPracticeStats{
			TotalAttempts:    int(result.Total),
			CorrectAttempts:  int(result.Correct),
			TotalSessions:    int(sessionCount),
			AverageTimeSpent: int(result.AvgTime),
		}
		if result.Total > 0 {
			s.Accuracy = float64(result.Correct) / float64(result.Total)
		}
		return &s, nil
	})

	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// CountByUser counts all attempts for a user
func (a *AttemptPostgreSQL) CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	db := a.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
