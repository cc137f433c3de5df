package services

import (
	"context"
	"time"

	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/validator"
)

// ===== REQUEST DTOs =====
// Request validation lives in the validator package; the service layer aliases
// the request types so handlers depend on a single surface.

type StartSessionRequest = validator.StartSessionRequest
type SessionFiltersRequest = validator.SessionFiltersRequest
type SubmitAnswerRequest = validator.SubmitAnswerRequest
type MarkForReviewRequest = validator.MarkForReviewRequest
type NextQuestionRequest = validator.NextQuestionRequest
type CreateQuestionRequest = validator.QuestionCreateRequest
type UpdateQuestionRequest = validator.QuestionUpdateRequest
type QuestionListRequest = validator.QuestionListRequest
type SessionListRequest = validator.SessionListRequest
type AttemptHistoryRequest = validator.AttemptHistoryRequest

// ===== RESPONSE DTOs =====

// ChoiceView is a choice as shown to a learner: no correctness flag, no
// explanation. Choices arrive already reordered by the per-user display
// shuffle.
type ChoiceView struct {
	ID     uint   `json:"id"`
	Label  string `json:"label"`
	TextMd string `json:"text_md"`
}

// QuestionView is the learner-facing rendering of a published question.
// Position/Total are 1-based session coordinates and stay zero for
// filter-bound practice.
type QuestionView struct {
	ID         uint                   `json:"id"`
	Slug       string                 `json:"slug"`
	StemMd     string                 `json:"stem_md"`
	Difficulty models.DifficultyLevel `json:"difficulty"`
	Tags       []string               `json:"tags"`
	Choices    []ChoiceView           `json:"choices"`
	Position   int                    `json:"position,omitempty"`
	Total      int                    `json:"total,omitempty"`
}

// NextQuestionResponse carries the selected question, or Completed=true with
// a nil question when every question of the bound session is answered.
type NextQuestionResponse struct {
	SessionID *uint         `json:"session_id,omitempty"`
	Question  *QuestionView `json:"question"`
	Completed bool          `json:"completed"`
}

// ChoiceExplanation is the per-choice rationale revealed together with the
// question explanation.
type ChoiceExplanation struct {
	ChoiceID      uint   `json:"choice_id"`
	Label         string `json:"label"`
	ExplanationMd string `json:"explanation_md"`
}

// AnswerResponse is the graded outcome of a submitted answer. ExplanationMd
// and ChoiceExplanations are nil for exam sessions; exam explanations surface
// through the session review after the session ends.
type AnswerResponse struct {
	AttemptID          uint                `json:"attempt_id"`
	SessionID          *uint               `json:"session_id,omitempty"`
	QuestionID         uint                `json:"question_id"`
	SelectedChoiceID   uint                `json:"selected_choice_id"`
	IsCorrect          bool                `json:"is_correct"`
	CorrectChoiceID    uint                `json:"correct_choice_id"`
	ExplanationMd      *string             `json:"explanation_md,omitempty"`
	ChoiceExplanations []ChoiceExplanation `json:"choice_explanations,omitempty"`
	AnsweredAt         time.Time           `json:"answered_at"`
}

// MarkForReviewResponse echoes the resulting flag state.
type MarkForReviewResponse struct {
	SessionID       uint `json:"session_id"`
	QuestionID      uint `json:"question_id"`
	MarkedForReview bool `json:"marked_for_review"`
}

// SessionResponse is the session header plus live progress counters.
type SessionResponse struct {
	ID              uint                          `json:"id"`
	Mode            models.SessionMode            `json:"mode"`
	Filters         models.SessionFilters         `json:"filters"`
	QuestionIDs     []uint                        `json:"question_ids"`
	QuestionStates  []models.SessionQuestionState `json:"question_states"`
	AnsweredCount   int                           `json:"answered_count"`
	MarkedForReview []uint                        `json:"marked_for_review,omitempty"`
	StartedAt       time.Time                     `json:"started_at"`
	EndedAt         *time.Time                    `json:"ended_at,omitempty"`
}

// SessionReviewRow pairs one session question with its recorded state.
// Unavailable flags questions that have been unpublished since the session
// was built; their content fields stay empty. CorrectChoiceID and
// ExplanationMd are filled only when the review is allowed to reveal them
// (tutor sessions, or exam sessions after they end).
type SessionReviewRow struct {
	QuestionID      uint                        `json:"question_id"`
	Unavailable     bool                        `json:"unavailable,omitempty"`
	Question        *QuestionView               `json:"question,omitempty"`
	State           models.SessionQuestionState `json:"state"`
	CorrectChoiceID *uint                       `json:"correct_choice_id,omitempty"`
	ExplanationMd   *string                     `json:"explanation_md,omitempty"`
}

// SessionReviewResponse is the full read path for one session. Totals is set
// once the session has ended.
type SessionReviewResponse struct {
	Session   SessionResponse       `json:"session"`
	Questions []SessionReviewRow    `json:"questions"`
	Totals    *models.SessionTotals `json:"totals,omitempty"`
}

// SessionSummaryResponse is the terminal summary returned by End.
type SessionSummaryResponse struct {
	SessionID uint                 `json:"session_id"`
	Mode      models.SessionMode   `json:"mode"`
	Totals    models.SessionTotals `json:"totals"`
	EndedAt   time.Time            `json:"ended_at"`
}

// SessionListResponse is a paginated page of a user's sessions.
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// QuestionResponse is the editor-facing view: the full model including
// correctness flags and explanations.
type QuestionResponse struct {
	*models.Question
	AttemptStats *repositories.QuestionAttemptStats `json:"attempt_stats,omitempty"`
}

// QuestionListResponse is a paginated page of questions for editors.
type QuestionListResponse struct {
	Questions []*models.Question `json:"questions"`
	Total     int64              `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// AttemptHistoryRow enriches an attempt with question context. Unavailable
// marks attempts against questions that no longer exist or are no longer
// published.
type AttemptHistoryRow struct {
	*models.Attempt
	QuestionSlug string `json:"question_slug,omitempty"`
	QuestionStem string `json:"question_stem,omitempty"`
	Unavailable  bool   `json:"unavailable,omitempty"`
}

// AttemptHistoryResponse is a paginated page of a user's attempt history.
type AttemptHistoryResponse struct {
	Attempts []AttemptHistoryRow `json:"attempts"`
	Total    int64               `json:"total"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// ===== SERVICE INTERFACES =====

// SessionService drives the practice session lifecycle: start, question
// selection, answer submission, review marking, the terminal end transition
// and the review read path. Start, SubmitAnswer and End accept an optional
// idempotency key; an empty key disables duplicate coordination.
type SessionService interface {
	Start(ctx context.Context, req *StartSessionRequest, userID, idempotencyKey string) (*SessionResponse, error)
	NextQuestion(ctx context.Context, req *NextQuestionRequest, userID string) (*NextQuestionResponse, error)
	SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest, userID, idempotencyKey string) (*AnswerResponse, error)
	MarkForReview(ctx context.Context, sessionID uint, req *MarkForReviewRequest, userID string) (*MarkForReviewResponse, error)
	End(ctx context.Context, sessionID uint, userID, idempotencyKey string) (*SessionSummaryResponse, error)
	GetReview(ctx context.Context, sessionID uint, userID string) (*SessionReviewResponse, error)
	List(ctx context.Context, userID string, req *SessionListRequest) (*SessionListResponse, error)
}

// QuestionService covers question authoring for editors and the read paths
// learners practice against.
type QuestionService interface {
	Create(ctx context.Context, req *CreateQuestionRequest, editorID string) (*QuestionResponse, error)
	GetByID(ctx context.Context, id uint, requesterID string) (*QuestionResponse, error)
	Update(ctx context.Context, id uint, req *UpdateQuestionRequest, editorID string) (*QuestionResponse, error)
	Delete(ctx context.Context, id uint, editorID string) error
	List(ctx context.Context, req *QuestionListRequest, requesterID string) (*QuestionListResponse, error)
	Publish(ctx context.Context, id uint, editorID string) (*QuestionResponse, error)
	Archive(ctx context.Context, id uint, editorID string) (*QuestionResponse, error)
	GetForPractice(ctx context.Context, id uint, userID string) (*QuestionView, error)
}

// HistoryService exposes a user's cross-session attempt history, aggregate
// practice statistics and an xlsx export of the history.
type HistoryService interface {
	GetAttempts(ctx context.Context, userID string, req *AttemptHistoryRequest) (*AttemptHistoryResponse, error)
	GetStats(ctx context.Context, userID string) (*repositories.UserPracticeStats, error)
	ExportAttempts(ctx context.Context, userID string, req *AttemptHistoryRequest) ([]byte, string, error)
}

// ServiceManager wires and owns the service singletons.
type ServiceManager interface {
	Session() SessionService
	Question() QuestionService
	History() HistoryService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
