package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type SessionMode string

const (
	ModeTutor SessionMode = "tutor"
	ModeExam  SessionMode = "exam"
)

// SessionQuestionState tracks the latest answer to one question of a session.
// Re-answering overwrites the entry; only the latest answer counts toward the
// session summary.
type SessionQuestionState struct {
	QuestionID       uint       `json:"question_id"`
	MarkedForReview  bool       `json:"marked_for_review"`
	SelectedChoiceID *uint      `json:"selected_choice_id"`
	IsCorrect        *bool      `json:"is_correct"`
	AnsweredAt       *time.Time `json:"answered_at"`
}

func (s SessionQuestionState) Answered() bool {
	return s.SelectedChoiceID != nil
}

// SessionFilters are the tag/difficulty filters the session was built from,
// kept for display and for "practice more like this".
type SessionFilters struct {
	TagSlugs     []string          `json:"tag_slugs"`
	Difficulties []DifficultyLevel `json:"difficulties"`
}

// PracticeSession is owned exclusively by UserID. The question id list is
// fixed at creation; after that the row only changes through question-state
// updates and the terminal end transition. Version is the optimistic-lock
// guard for state writes.
type PracticeSession struct {
	ID     uint        `json:"id" gorm:"primaryKey"`
	UserID string      `json:"user_id" gorm:"not null;index;size:255"`
	Mode   SessionMode `json:"mode" gorm:"not null;size:10"`

	// []uint in session presentation order
	QuestionIDs datatypes.JSON `json:"question_ids" gorm:"type:jsonb;not null"`
	// []SessionQuestionState, one entry per question id
	QuestionStates datatypes.JSON `json:"question_states" gorm:"type:jsonb;not null"`
	// SessionFilters used to build the candidate list
	Filters datatypes.JSON `json:"filters" gorm:"type:jsonb"`

	Version   int        `json:"-" gorm:"not null;default:1"`
	StartedAt time.Time  `json:"started_at" gorm:"not null"`
	EndedAt   *time.Time `json:"ended_at" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *PracticeSession) Active() bool {
	return s.EndedAt == nil
}

func (s *PracticeSession) DecodeQuestionIDs() ([]uint, error) {
	var ids []uint
	if err := json.Unmarshal(s.QuestionIDs, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode session question ids: %w", err)
	}
	return ids, nil
}

func (s *PracticeSession) DecodeStates() ([]SessionQuestionState, error) {
	var states []SessionQuestionState
	if err := json.Unmarshal(s.QuestionStates, &states); err != nil {
		return nil, fmt.Errorf("failed to decode session question states: %w", err)
	}
	return states, nil
}

func (s *PracticeSession) EncodeStates(states []SessionQuestionState) error {
	data, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to encode session question states: %w", err)
	}
	s.QuestionStates = data
	return nil
}

func (s *PracticeSession) DecodeFilters() (*SessionFilters, error) {
	if len(s.Filters) == 0 {
		return &SessionFilters{}, nil
	}
	var filters SessionFilters
	if err := json.Unmarshal(s.Filters, &filters); err != nil {
		return nil, fmt.Errorf("failed to decode session filters: %w", err)
	}
	return &filters, nil
}

// SessionTotals is the end-of-session summary, computed strictly from the
// persisted question states.
type SessionTotals struct {
	Answered        int     `json:"answered"`
	Correct         int     `json:"correct"`
	Accuracy        float64 `json:"accuracy"`
	DurationSeconds int64   `json:"duration_seconds"`
}
