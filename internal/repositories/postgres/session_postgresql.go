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

type SessionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewSessionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Create persists a new session. Version starts at whatever the caller set
// (1 for fresh sessions).
func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.PracticeSession) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, s.cacheManager.Session, fmt.Sprintf("user:%s:*", session.UserID))

	return nil
}

// GetByID retrieves a session by ID
func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.PracticeSession, error) {
	db := s.getDB(tx)
	var session models.PracticeSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// GetByIDForUser retrieves a session by ID scoped to its owner. A session
// belonging to another user reads as not found, never as forbidden.
func (s *SessionPostgreSQL) GetByIDForUser(ctx context.Context, tx *gorm.DB, id uint, userID string) (*models.PracticeSession, error) {
	db := s.getDB(tx)
	var session models.PracticeSession
	if err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// List retrieves a user's sessions with filters and total count
func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, userID string, filters repositories.SessionListFilters) ([]*models.PracticeSession, int64, error) {
	db := s.getDB(tx)

	query := db.WithContext(ctx).Model(&models.PracticeSession{}).Where("user_id = ?", userID)
	query = s.helpers.ApplySessionFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = "started_at"
	}
	query = s.helpers.ApplyPaginationAndSort(query, sortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var sessions []*models.PracticeSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, total, nil
}

// GetActiveByUser retrieves all sessions the user has not ended yet
func (s *SessionPostgreSQL) GetActiveByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*models.PracticeSession, error) {
	db := s.getDB(tx)
	var sessions []*models.PracticeSession
	if err := db.WithContext(ctx).
		Where("user_id = ? AND ended_at IS NULL", userID).
		Order("started_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStateCAS writes the mutable session state under an optimistic
// concurrency check. The row must still carry expectedVersion, belong to the
// session's user and be active; otherwise nothing is written and
// ErrStaleSession is returned.
func (s *SessionPostgreSQL) UpdateStateCAS(ctx context.Context, tx *gorm.DB, session *models.PracticeSession, expectedVersion int) error {
	db := s.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.PracticeSession{}).
		Where("id = ? AND user_id = ? AND ended_at IS NULL AND version = ?",
			session.ID, session.UserID, expectedVersion).
		Updates(map[string]interface{}{
			"question_states": session.QuestionStates,
			"version":         expectedVersion + 1,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update session state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %d at version %d: %w", session.ID, expectedVersion, repositories.ErrStaleSession)
	}

	session.Version = expectedVersion + 1
	cache.InvalidateSessionCache(ctx, s.cacheManager, session.ID, session.UserID)

	return nil
}

// EndCAS closes the session under the same version condition as
// UpdateStateCAS, writing the final state snapshot and EndedAt together.
func (s *SessionPostgreSQL) EndCAS(ctx context.Context, tx *gorm.DB, session *models.PracticeSession, expectedVersion int) error {
	if session.EndedAt == nil {
		return fmt.Errorf("ended_at must be set before EndCAS")
	}

	db := s.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.PracticeSession{}).
		Where("id = ? AND user_id = ? AND ended_at IS NULL AND version = ?",
			session.ID, session.UserID, expectedVersion).
		Updates(map[string]interface{}{
			"question_states": session.QuestionStates,
			"ended_at":        session.EndedAt,
			"version":         expectedVersion + 1,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to end session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %d at version %d: %w", session.ID, expectedVersion, repositories.ErrStaleSession)
	}

	session.Version = expectedVersion + 1
	cache.InvalidateSessionCache(ctx, s.cacheManager, session.ID, session.UserID)

	return nil
}

// CountByUser counts all sessions for a user
func (s *SessionPostgreSQL) CountByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	db := s.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.PracticeSession{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
