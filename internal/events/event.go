package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/prepforge/practice-service/internal/models"
)

// Event is the envelope for everything published on the event stream.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

const (
	eventSource  = "practice-service"
	eventVersion = "1.0"
)

// Event types
const (
	TypeSessionStarted  = "practice.session.started"
	TypeSessionEnded    = "practice.session.ended"
	TypeAttemptRecorded = "practice.attempt.recorded"
)

// NewEvent builds an envelope with a fresh id and timestamp.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SessionStartedEvent is published when a practice session is created.
type SessionStartedEvent struct {
	SessionID     uint               `json:"session_id"`
	UserID        string             `json:"user_id"`
	Mode          models.SessionMode `json:"mode"`
	QuestionCount int                `json:"question_count"`
	StartedAt     time.Time          `json:"started_at"`
}

// AttemptRecordedEvent is published after an answer is graded and persisted.
type AttemptRecordedEvent struct {
	AttemptID  uint   `json:"attempt_id"`
	SessionID  *uint  `json:"session_id,omitempty"`
	UserID     string `json:"user_id"`
	QuestionID uint   `json:"question_id"`
	IsCorrect  bool   `json:"is_correct"`
}

// SessionEndedEvent is published when a session is closed, with its final
// totals.
type SessionEndedEvent struct {
	SessionID uint                 `json:"session_id"`
	UserID    string               `json:"user_id"`
	Mode      models.SessionMode   `json:"mode"`
	Totals    models.SessionTotals `json:"totals"`
	EndedAt   time.Time            `json:"ended_at"`
}
