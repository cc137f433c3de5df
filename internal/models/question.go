package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

type QuestionStatus string

const (
	QuestionDraft     QuestionStatus = "draft"
	QuestionPublished QuestionStatus = "published"
	QuestionArchived  QuestionStatus = "archived"
)

// ChoiceLabels is the full label space for answer choices. A question may
// carry at most len(ChoiceLabels) choices.
var ChoiceLabels = []string{"A", "B", "C", "D", "E"}

// Question is owned by the content pipeline; the practice engine only reads
// published questions and never mutates them.
type Question struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Slug string `json:"slug" gorm:"uniqueIndex;not null;size:255"`

	StemMd        string          `json:"stem_md" gorm:"type:text;not null"`
	ExplanationMd string          `json:"explanation_md" gorm:"type:text"`
	Difficulty    DifficultyLevel `json:"difficulty" gorm:"default:medium;index"`
	Status        QuestionStatus  `json:"status" gorm:"default:draft;index"`

	// []string of tag slugs
	Tags datatypes.JSON `json:"tags" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Choices []Choice `json:"choices" gorm:"foreignKey:QuestionID"`
}

// Choice is one answer option of a question. Exactly one choice per question
// carries IsCorrect = true; SortOrder fixes the canonical order that seeded
// display shuffles start from. Choice only appears verbatim in editor
// responses; learner-facing payloads are built from view types that never
// carry the correctness flag.
type Choice struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	QuestionID uint `json:"question_id" gorm:"not null;index"`

	Label         string `json:"label" gorm:"not null;size:1"`
	TextMd        string `json:"text_md" gorm:"type:text;not null"`
	IsCorrect     bool   `json:"is_correct" gorm:"not null;default:false"`
	ExplanationMd string `json:"explanation_md" gorm:"type:text"`
	SortOrder     int    `json:"sort_order" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
}

// ShuffleID implements the seeded-shuffle item contract.
func (c Choice) ShuffleID() uint { return c.ID }

// ShuffleSortKey canonically orders choices by their fixed sort order before
// the display shuffle.
func (c Choice) ShuffleSortKey() int { return c.SortOrder }

// CorrectChoice returns the single correct choice, or nil when the question
// data violates the one-correct-choice invariant.
func (q *Question) CorrectChoice() *Choice {
	for i := range q.Choices {
		if q.Choices[i].IsCorrect {
			return &q.Choices[i]
		}
	}
	return nil
}

// ChoiceByID returns the choice with the given id, or nil.
func (q *Question) ChoiceByID(choiceID uint) *Choice {
	for i := range q.Choices {
		if q.Choices[i].ID == choiceID {
			return &q.Choices[i]
		}
	}
	return nil
}

func (q *Question) IsPublished() bool {
	return q.Status == QuestionPublished
}

func (q *Question) DecodeTags() ([]string, error) {
	if len(q.Tags) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(q.Tags, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode question tags: %w", err)
	}
	return tags, nil
}
