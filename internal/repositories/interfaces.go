package repositories

import (
	"time"

	"github.com/prepforge/practice-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type QuestionFilters struct {
	Status       *models.QuestionStatus   `json:"status"`
	Difficulty   *models.DifficultyLevel  `json:"difficulty"`
	Difficulties []models.DifficultyLevel `json:"difficulties"`
	TagSlugs     []string                 `json:"tag_slugs"`
	Limit        int                      `json:"limit"`
	Offset       int                      `json:"offset"`
	SortBy       string                   `json:"sort_by"`    // "created_at", "slug", "difficulty"
	SortOrder    string                   `json:"sort_order"` // "asc", "desc"
}

type SessionListFilters struct {
	Mode       *models.SessionMode `json:"mode"`
	ActiveOnly bool                `json:"active_only"`
	DateFrom   *time.Time          `json:"date_from"`
	DateTo     *time.Time          `json:"date_to"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
	SortBy     string              `json:"sort_by"`
	SortOrder  string              `json:"sort_order"`
}

type AttemptFilters struct {
	QuestionID *uint      `json:"question_id"`
	SessionID  *uint      `json:"session_id"`
	IsCorrect  *bool      `json:"is_correct"`
	DateFrom   *time.Time `json:"date_from"`
	DateTo     *time.Time `json:"date_to"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
	SortBy     string     `json:"sort_by"`
	SortOrder  string     `json:"sort_order"`
}

// ===== SHARED STATISTICS STRUCTS =====

type UserPracticeStats struct {
	TotalAttempts    int     `json:"total_attempts"`
	CorrectAttempts  int     `json:"correct_attempts"`
	Accuracy         float64 `json:"accuracy"`
	TotalSessions    int     `json:"total_sessions"`
	AverageTimeSpent int     `json:"average_time_spent"`
}

type QuestionAttemptStats struct {
	TotalAttempts   int     `json:"total_attempts"`
	CorrectAttempts int     `json:"correct_attempts"`
	CorrectRate     float64 `json:"correct_rate"`
}
