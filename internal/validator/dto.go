package validator

import (
	"time"

	"github.com/prepforge/practice-service/internal/models"
)

// StartSessionRequest represents the request structure for starting a
// practice session
type StartSessionRequest struct {
	Mode          models.SessionMode    `json:"mode" validate:"required,session_mode"`
	QuestionCount int                   `json:"question_count" validate:"required,question_count"`
	Filters       SessionFiltersRequest `json:"filters"`
}

// SessionFiltersRequest narrows the question pool for a session
type SessionFiltersRequest struct {
	TagSlugs     []string                 `json:"tag_slugs" validate:"omitempty,dive,min=1,max=64"`
	Difficulties []models.DifficultyLevel `json:"difficulties" validate:"omitempty,dive,difficulty_level"`
}

// SubmitAnswerRequest represents answering a question, either inside a
// session (SessionID set) or as a standalone practice attempt.
type SubmitAnswerRequest struct {
	SessionID        *uint `json:"session_id" validate:"omitempty,min=1"`
	QuestionID       uint  `json:"question_id" validate:"required"`
	SelectedChoiceID uint  `json:"selected_choice_id" validate:"required"`
	TimeSpentSeconds int   `json:"time_spent_seconds" validate:"omitempty,min=0,max=86400"`
}

// MarkForReviewRequest toggles the review flag on a session question
type MarkForReviewRequest struct {
	QuestionID uint `json:"question_id" validate:"required"`
	Marked     bool `json:"marked"`
}

// NextQuestionRequest asks for the next question either inside a session or
// against an ad-hoc filter set. Exactly one of the two bindings applies:
// SessionID when present, Filters otherwise. QuestionID optionally targets a
// specific member of the bound session instead of the first unanswered one.
type NextQuestionRequest struct {
	SessionID  *uint                  `json:"session_id" validate:"omitempty,min=1"`
	QuestionID *uint                  `json:"question_id" validate:"omitempty,min=1,excluded_without=SessionID"`
	Filters    *SessionFiltersRequest `json:"filters" validate:"omitempty,excluded_with=SessionID"`
}

// ChoiceRequest represents one answer choice when authoring a question
type ChoiceRequest struct {
	Label         string  `json:"label" validate:"required,choice_label"`
	TextMd        string  `json:"text_md" validate:"required,min=1,max=4000"`
	IsCorrect     bool    `json:"is_correct"`
	ExplanationMd *string `json:"explanation_md" validate:"omitempty,max=8000"`
}

// QuestionCreateRequest represents the request structure for creating questions
type QuestionCreateRequest struct {
	Slug          string                 `json:"slug" validate:"required,min=3,max=128"`
	StemMd        string                 `json:"stem_md" validate:"required,min=1,max=8000"`
	ExplanationMd string                 `json:"explanation_md" validate:"required,min=1,max=16000"`
	Difficulty    models.DifficultyLevel `json:"difficulty" validate:"required,difficulty_level"`
	Tags          []string               `json:"tags" validate:"omitempty,dive,min=1,max=64"`
	Choices       []ChoiceRequest        `json:"choices" validate:"required,min=2,max=5,dive"`
}

// QuestionUpdateRequest represents the request structure for updating questions
type QuestionUpdateRequest struct {
	StemMd        *string                 `json:"stem_md" validate:"omitempty,min=1,max=8000"`
	ExplanationMd *string                 `json:"explanation_md" validate:"omitempty,min=1,max=16000"`
	Difficulty    *models.DifficultyLevel `json:"difficulty" validate:"omitempty,difficulty_level"`
	Status        *models.QuestionStatus  `json:"status" validate:"omitempty,question_status"`
	Tags          []string                `json:"tags" validate:"omitempty,dive,min=1,max=64"`
	Choices       []ChoiceRequest         `json:"choices" validate:"omitempty,min=2,max=5,dive"`
}

// QuestionListRequest represents list/filter parameters for questions
type QuestionListRequest struct {
	Status     *models.QuestionStatus  `form:"status" validate:"omitempty,question_status"`
	Difficulty *models.DifficultyLevel `form:"difficulty" validate:"omitempty,difficulty_level"`
	Tags       []string                `form:"tags" validate:"omitempty,dive,min=1,max=64"`
	Limit      int                     `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int                     `form:"offset" validate:"omitempty,min=0"`
	SortBy     string                  `form:"sort_by" validate:"omitempty,oneof=created_at updated_at slug difficulty"`
	SortOrder  string                  `form:"sort_order" validate:"omitempty,oneof=asc desc ASC DESC"`
}

// SessionListRequest represents list/filter parameters for a user's sessions
type SessionListRequest struct {
	Mode       *models.SessionMode `form:"mode" validate:"omitempty,session_mode"`
	ActiveOnly bool                `form:"active_only"`
	DateFrom   *time.Time          `form:"date_from"`
	DateTo     *time.Time          `form:"date_to"`
	Limit      int                 `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int                 `form:"offset" validate:"omitempty,min=0"`
}

// AttemptHistoryRequest represents list/filter parameters for attempt history
type AttemptHistoryRequest struct {
	QuestionID *uint      `form:"question_id" validate:"omitempty,min=1"`
	SessionID  *uint      `form:"session_id" validate:"omitempty,min=1"`
	IsCorrect  *bool      `form:"is_correct"`
	DateFrom   *time.Time `form:"date_from"`
	DateTo     *time.Time `form:"date_to"`
	Limit      int        `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int        `form:"offset" validate:"omitempty,min=0"`
}
