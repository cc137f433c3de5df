package models

import "time"

// Attempt is an append-only audit record of a single graded answer. It feeds
// cross-session history and the selector's staleness ordering. Session scoring
// never reads it; a session's summary comes from its own question states.
type Attempt struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	UserID     string `json:"user_id" gorm:"not null;index;size:255"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	SessionID  *uint  `json:"session_id" gorm:"index"`

	SelectedChoiceID uint `json:"selected_choice_id" gorm:"not null"`
	IsCorrect        bool `json:"is_correct" gorm:"not null"`
	TimeSpentSeconds int  `json:"time_spent_seconds"`

	AnsweredAt time.Time `json:"answered_at" gorm:"not null;index"`
	CreatedAt  time.Time `json:"created_at"`
}
