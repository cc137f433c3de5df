package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prepforge/practice-service/internal/events"
	"github.com/prepforge/practice-service/internal/idempotency"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/shuffle"
)

// getOwnedSession loads a session scoped to its owner. Somebody else's
// session is indistinguishable from a missing one.
func (s *sessionService) getOwnedSession(ctx context.Context, sessionID uint, userID string) (*models.PracticeSession, error) {
	session, err := s.repo.Session().GetByIDForUser(ctx, s.db, sessionID, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// buildQuestionView fetches a question and renders it for a learner. The
// question must still resolve to published content.
func (s *sessionService) buildQuestionView(ctx context.Context, questionID uint, userID string) (*QuestionView, error) {
	question, err := s.repo.Question().GetByIDWithChoices(ctx, s.db, questionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("question %d: %w", questionID, ErrQuestionNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if !question.IsPublished() {
		return nil, fmt.Errorf("question %d: %w", questionID, ErrQuestionNotFound)
	}
	return questionViewFor(question, userID), nil
}

// questionViewFor renders the learner-facing view of a loaded question, with
// choices in the user's stable display order.
func questionViewFor(question *models.Question, userID string) *QuestionView {
	choices := shuffle.WithSeed(question.Choices, shuffle.QuestionSeed(userID, question.ID))
	views := make([]ChoiceView, len(choices))
	for i, choice := range choices {
		views[i] = ChoiceView{
			ID:     choice.ID,
			Label:  choice.Label,
			TextMd: choice.TextMd,
		}
	}

	tags, _ := question.DecodeTags()
	return &QuestionView{
		ID:         question.ID,
		Slug:       question.Slug,
		StemMd:     question.StemMd,
		Difficulty: question.Difficulty,
		Tags:       tags,
		Choices:    views,
	}
}

// choiceExplanationsFor collects per-choice rationales in the user's display
// order, skipping choices without one.
func choiceExplanationsFor(question *models.Question, userID string) []ChoiceExplanation {
	choices := shuffle.WithSeed(question.Choices, shuffle.QuestionSeed(userID, question.ID))
	var out []ChoiceExplanation
	for _, choice := range choices {
		if choice.ExplanationMd == "" {
			continue
		}
		out = append(out, ChoiceExplanation{
			ChoiceID:      choice.ID,
			Label:         choice.Label,
			ExplanationMd: choice.ExplanationMd,
		})
	}
	return out
}

func (s *sessionService) toSessionResponse(session *models.PracticeSession) (*SessionResponse, error) {
	ids, err := session.DecodeQuestionIDs()
	if err != nil {
		return nil, err
	}
	states, err := session.DecodeStates()
	if err != nil {
		return nil, err
	}
	filters, err := session.DecodeFilters()
	if err != nil {
		return nil, err
	}

	answered := 0
	var marked []uint
	for _, state := range states {
		if state.Answered() {
			answered++
		}
		if state.MarkedForReview {
			marked = append(marked, state.QuestionID)
		}
	}

	return &SessionResponse{
		ID:              session.ID,
		Mode:            session.Mode,
		Filters:         *filters,
		QuestionIDs:     ids,
		QuestionStates:  states,
		AnsweredCount:   answered,
		MarkedForReview: marked,
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
	}, nil
}

// computeTotals scores a session strictly from its persisted question states.
func computeTotals(states []models.SessionQuestionState, startedAt, endedAt time.Time) models.SessionTotals {
	totals := models.SessionTotals{}
	for _, state := range states {
		if state.Answered() {
			totals.Answered++
			if state.IsCorrect != nil && *state.IsCorrect {
				totals.Correct++
			}
		}
	}
	if totals.Answered > 0 {
		totals.Accuracy = float64(totals.Correct) / float64(totals.Answered)
	}
	if duration := int64(endedAt.Sub(startedAt).Seconds()); duration > 0 {
		totals.DurationSeconds = duration
	}
	return totals
}

// questionFiltersFrom maps request filters to a published-only repository
// filter set.
func questionFiltersFrom(filters *SessionFiltersRequest) repositories.QuestionFilters {
	out := repositories.QuestionFilters{}
	if filters != nil {
		out.TagSlugs = filters.TagSlugs
		out.Difficulties = filters.Difficulties
	}
	return out
}

func stateIndexOf(states []models.SessionQuestionState, questionID uint) int {
	for i := range states {
		if states[i].QuestionID == questionID {
			return i
		}
	}
	return -1
}

func indexOf(ids []uint, id uint) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// mapIdempotencyError translates coordinator conflicts into the service error
// taxonomy; everything else passes through unchanged.
func (s *sessionService) mapIdempotencyError(err error) error {
	if errors.Is(err, idempotency.ErrInFlight) {
		return ErrIdempotencyInFlight
	}
	return err
}

// publish sends an event without letting publish failures affect the request.
func (s *sessionService) publish(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event", "event_type", event.Type, "error", err)
	}
}
