package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/prepforge/practice-service/internal/events"
	"github.com/prepforge/practice-service/internal/idempotency"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/shuffle"
	"github.com/prepforge/practice-service/internal/validator"
)

// casMaxAttempts bounds the optimistic-concurrency retry loop on session
// state writes. Conflicts are expected to be rare and short, so retries are
// immediate.
const casMaxAttempts = 3

// Idempotency action names scoping caller-supplied keys.
const (
	actionStartSession = "session.start"
	actionSubmitAnswer = "answer.submit"
	actionEndSession   = "session.end"
)

type sessionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	idem      *idempotency.Coordinator

	// maxQuestions caps the session length; zero means uncapped
	maxQuestions int
}

func NewSessionService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	validator *validator.Validator,
	publisher events.EventPublisher,
	idem *idempotency.Coordinator,
	maxQuestions int,
) SessionService {
	return &sessionService{
		repo:         repo,
		db:           db,
		logger:       logger,
		validator:    validator,
		publisher:    publisher,
		idem:         idem,
		maxQuestions: maxQuestions,
	}
}

// ===== LIFECYCLE OPERATIONS =====

func (s *sessionService) Start(ctx context.Context, req *StartSessionRequest, userID, idempotencyKey string) (*SessionResponse, error) {
	s.logger.Info("Starting practice session",
		"user_id", userID,
		"mode", req.Mode,
		"question_count", req.QuestionCount)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var resp SessionResponse
	err := s.idem.Do(ctx, userID, actionStartSession, idempotencyKey, &resp, func() (interface{}, error) {
		return s.start(ctx, req, userID)
	})
	if err != nil {
		return nil, s.mapIdempotencyError(err)
	}
	return &resp, nil
}

func (s *sessionService) start(ctx context.Context, req *StartSessionRequest, userID string) (*SessionResponse, error) {
	filters := questionFiltersFrom(&req.Filters)
	candidates, err := s.repo.Question().GetPublishedIDs(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate questions: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoQuestionsMatch
	}

	now := time.Now().UTC()
	seed := shuffle.SessionSeed(userID, now.UnixMilli())
	ordered := shuffle.IDsWithSeed(candidates, seed)
	limit := req.QuestionCount
	if s.maxQuestions > 0 && limit > s.maxQuestions {
		limit = s.maxQuestions
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	states := make([]models.SessionQuestionState, len(ordered))
	for i, id := range ordered {
		states[i] = models.SessionQuestionState{QuestionID: id}
	}

	session := &models.PracticeSession{
		UserID:    userID,
		Mode:      req.Mode,
		Version:   1,
		StartedAt: now,
	}
	if session.QuestionIDs, err = json.Marshal(ordered); err != nil {
		return nil, fmt.Errorf("failed to encode question ids: %w", err)
	}
	if err = session.EncodeStates(states); err != nil {
		return nil, err
	}
	sessionFilters := models.SessionFilters{
		TagSlugs:     req.Filters.TagSlugs,
		Difficulties: req.Filters.Difficulties,
	}
	if session.Filters, err = json.Marshal(sessionFilters); err != nil {
		return nil, fmt.Errorf("failed to encode session filters: %w", err)
	}

	if err = s.repo.Session().Create(ctx, s.db, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.publish(ctx, events.NewEvent(events.TypeSessionStarted, events.SessionStartedEvent{
		SessionID:     session.ID,
		UserID:        userID,
		Mode:          session.Mode,
		QuestionCount: len(ordered),
		StartedAt:     session.StartedAt,
	}))

	s.logger.Info("Practice session started",
		"session_id", session.ID,
		"user_id", userID,
		"question_count", len(ordered))

	return s.toSessionResponse(session)
}

func (s *sessionService) NextQuestion(ctx context.Context, req *NextQuestionRequest, userID string) (*NextQuestionResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if req.SessionID != nil {
		return s.nextInSession(ctx, *req.SessionID, req.QuestionID, userID)
	}
	return s.nextByFilters(ctx, req.Filters, userID)
}

// nextInSession returns the explicit target question, or the first question
// in session order without a recorded answer. A fully answered session yields
// Completed=true with no question.
func (s *sessionService) nextInSession(ctx context.Context, sessionID uint, questionID *uint, userID string) (*NextQuestionResponse, error) {
	session, err := s.getOwnedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, ErrSessionEnded
	}

	ids, err := session.DecodeQuestionIDs()
	if err != nil {
		return nil, err
	}
	states, err := session.DecodeStates()
	if err != nil {
		return nil, err
	}

	var target uint
	switch {
	case questionID != nil:
		if indexOf(ids, *questionID) < 0 {
			return nil, fmt.Errorf("question %d: %w", *questionID, ErrQuestionNotInSession)
		}
		target = *questionID
	default:
		for _, state := range states {
			if !state.Answered() {
				target = state.QuestionID
				break
			}
		}
		if target == 0 {
			return &NextQuestionResponse{SessionID: &sessionID, Completed: true}, nil
		}
	}

	view, err := s.buildQuestionView(ctx, target, userID)
	if err != nil {
		return nil, err
	}
	view.Position = indexOf(ids, target) + 1
	view.Total = len(ids)

	return &NextQuestionResponse{SessionID: &sessionID, Question: view}, nil
}

// nextByFilters implements ad-hoc selection: a never-attempted candidate wins
// (candidates arrive newest-created-first), otherwise the one whose latest
// attempt is oldest.
func (s *sessionService) nextByFilters(ctx context.Context, filters *SessionFiltersRequest, userID string) (*NextQuestionResponse, error) {
	candidates, err := s.repo.Question().GetPublishedIDs(ctx, s.db, questionFiltersFrom(filters))
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate questions: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoQuestionsMatch
	}

	lastAttempts, err := s.repo.Attempt().GetLatestAttemptTimes(ctx, s.db, userID, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt history: %w", err)
	}

	target := candidates[0]
	found := false
	for _, id := range candidates {
		if _, attempted := lastAttempts[id]; !attempted {
			target = id
			found = true
			break
		}
	}
	if !found {
		oldest := lastAttempts[target]
		for _, id := range candidates[1:] {
			if t := lastAttempts[id]; t.Before(oldest) {
				target = id
				oldest = t
			}
		}
	}

	view, err := s.buildQuestionView(ctx, target, userID)
	if err != nil {
		return nil, err
	}

	return &NextQuestionResponse{Question: view}, nil
}

func (s *sessionService) SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest, userID, idempotencyKey string) (*AnswerResponse, error) {
	s.logger.Info("Submitting answer",
		"user_id", userID,
		"question_id", req.QuestionID,
		"session_id", req.SessionID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var resp AnswerResponse
	err := s.idem.Do(ctx, userID, actionSubmitAnswer, idempotencyKey, &resp, func() (interface{}, error) {
		return s.submitAnswer(ctx, req, userID)
	})
	if err != nil {
		return nil, s.mapIdempotencyError(err)
	}
	return &resp, nil
}

func (s *sessionService) submitAnswer(ctx context.Context, req *SubmitAnswerRequest, userID string) (*AnswerResponse, error) {
	question, err := s.repo.Question().GetByIDWithChoices(ctx, s.db, req.QuestionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("question %d: %w", req.QuestionID, ErrQuestionNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if !question.IsPublished() {
		return nil, fmt.Errorf("question %d: %w", req.QuestionID, ErrQuestionNotFound)
	}

	selected := question.ChoiceByID(req.SelectedChoiceID)
	if selected == nil {
		return nil, fmt.Errorf("choice %d: %w", req.SelectedChoiceID, ErrChoiceNotFound)
	}
	correct := question.CorrectChoice()
	if correct == nil {
		return nil, fmt.Errorf("question %d has no correct choice: %w", question.ID, ErrInternal)
	}

	now := time.Now().UTC()
	attempt := &models.Attempt{
		UserID:           userID,
		QuestionID:       question.ID,
		SessionID:        req.SessionID,
		SelectedChoiceID: selected.ID,
		IsCorrect:        selected.ID == correct.ID,
		TimeSpentSeconds: req.TimeSpentSeconds,
		AnsweredAt:       now,
	}

	examMode := false
	if req.SessionID != nil {
		examMode, err = s.recordSessionAnswer(ctx, *req.SessionID, userID, attempt)
	} else {
		err = s.repo.Attempt().Create(ctx, s.db, attempt)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewEvent(events.TypeAttemptRecorded, events.AttemptRecordedEvent{
		AttemptID:  attempt.ID,
		SessionID:  attempt.SessionID,
		UserID:     userID,
		QuestionID: question.ID,
		IsCorrect:  attempt.IsCorrect,
	}))

	resp := &AnswerResponse{
		AttemptID:        attempt.ID,
		SessionID:        attempt.SessionID,
		QuestionID:       question.ID,
		SelectedChoiceID: selected.ID,
		IsCorrect:        attempt.IsCorrect,
		CorrectChoiceID:  correct.ID,
		AnsweredAt:       now,
	}
	// Exam sessions never see explanations on submit; the review read path
	// reveals them after the session ends.
	if !examMode {
		if question.ExplanationMd != "" {
			explanation := question.ExplanationMd
			resp.ExplanationMd = &explanation
		}
		resp.ChoiceExplanations = choiceExplanationsFor(question, userID)
	}
	return resp, nil
}

// recordSessionAnswer persists the attempt and the session question-state
// transition as one transaction, retrying the whole read-modify-write when a
// concurrent writer bumps the session version first. Returns whether the
// session is in exam mode.
func (s *sessionService) recordSessionAnswer(ctx context.Context, sessionID uint, userID string, attempt *models.Attempt) (bool, error) {
	examMode := false
	for i := 0; i < casMaxAttempts; i++ {
		session, err := s.getOwnedSession(ctx, sessionID, userID)
		if err != nil {
			return false, err
		}
		if !session.Active() {
			return false, fmt.Errorf("session %d: %w", sessionID, ErrSessionEnded)
		}
		examMode = session.Mode == models.ModeExam

		states, err := session.DecodeStates()
		if err != nil {
			return false, err
		}
		idx := stateIndexOf(states, attempt.QuestionID)
		if idx < 0 {
			return false, fmt.Errorf("question %d: %w", attempt.QuestionID, ErrQuestionNotInSession)
		}

		// Latest answer wins; the previous entry is overwritten wholesale.
		answeredAt := attempt.AnsweredAt
		isCorrect := attempt.IsCorrect
		states[idx].SelectedChoiceID = &attempt.SelectedChoiceID
		states[idx].IsCorrect = &isCorrect
		states[idx].AnsweredAt = &answeredAt
		if err = session.EncodeStates(states); err != nil {
			return false, err
		}

		attempt.ID = 0
		err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
			if err := txRepo.Attempt().Create(ctx, nil, attempt); err != nil {
				return err
			}
			return txRepo.Session().UpdateStateCAS(ctx, nil, session, session.Version)
		})
		if err == nil {
			return examMode, nil
		}
		if !errors.Is(err, repositories.ErrStaleSession) {
			return false, fmt.Errorf("failed to record answer: %w", err)
		}
		s.logger.Warn("Session state write lost the race, retrying",
			"session_id", sessionID,
			"attempt", i+1)
	}
	return false, fmt.Errorf("session %d state update exhausted %d attempts: %w", sessionID, casMaxAttempts, ErrInternal)
}

func (s *sessionService) MarkForReview(ctx context.Context, sessionID uint, req *MarkForReviewRequest, userID string) (*MarkForReviewResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	for i := 0; i < casMaxAttempts; i++ {
		session, err := s.getOwnedSession(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if session.Mode != models.ModeExam {
			return nil, fmt.Errorf("session %d: %w", sessionID, ErrMarkOutsideExam)
		}
		if !session.Active() {
			return nil, fmt.Errorf("session %d: %w", sessionID, ErrSessionEnded)
		}

		states, err := session.DecodeStates()
		if err != nil {
			return nil, err
		}
		idx := stateIndexOf(states, req.QuestionID)
		if idx < 0 {
			return nil, fmt.Errorf("question %d: %w", req.QuestionID, ErrQuestionNotInSession)
		}

		resp := &MarkForReviewResponse{
			SessionID:       sessionID,
			QuestionID:      req.QuestionID,
			MarkedForReview: req.Marked,
		}
		if states[idx].MarkedForReview == req.Marked {
			return resp, nil
		}

		states[idx].MarkedForReview = req.Marked
		if err = session.EncodeStates(states); err != nil {
			return nil, err
		}

		err = s.repo.Session().UpdateStateCAS(ctx, s.db, session, session.Version)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, repositories.ErrStaleSession) {
			return nil, fmt.Errorf("failed to update review mark: %w", err)
		}
	}
	return nil, fmt.Errorf("session %d state update exhausted %d attempts: %w", sessionID, casMaxAttempts, ErrInternal)
}

func (s *sessionService) End(ctx context.Context, sessionID uint, userID, idempotencyKey string) (*SessionSummaryResponse, error) {
	s.logger.Info("Ending practice session", "session_id", sessionID, "user_id", userID)

	var resp SessionSummaryResponse
	err := s.idem.Do(ctx, userID, actionEndSession, idempotencyKey, &resp, func() (interface{}, error) {
		return s.end(ctx, sessionID, userID)
	})
	if err != nil {
		return nil, s.mapIdempotencyError(err)
	}
	return &resp, nil
}

func (s *sessionService) end(ctx context.Context, sessionID uint, userID string) (*SessionSummaryResponse, error) {
	for i := 0; i < casMaxAttempts; i++ {
		session, err := s.getOwnedSession(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if !session.Active() {
			return nil, fmt.Errorf("session %d: %w", sessionID, ErrSessionEnded)
		}

		states, err := session.DecodeStates()
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		session.EndedAt = &now
		totals := computeTotals(states, session.StartedAt, now)

		err = s.repo.Session().EndCAS(ctx, s.db, session, session.Version)
		if err == nil {
			s.publish(ctx, events.NewEvent(events.TypeSessionEnded, events.SessionEndedEvent{
				SessionID: session.ID,
				UserID:    userID,
				Mode:      session.Mode,
				Totals:    totals,
				EndedAt:   now,
			}))
			s.logger.Info("Practice session ended",
				"session_id", session.ID,
				"answered", totals.Answered,
				"correct", totals.Correct)
			return &SessionSummaryResponse{
				SessionID: session.ID,
				Mode:      session.Mode,
				Totals:    totals,
				EndedAt:   now,
			}, nil
		}
		if !errors.Is(err, repositories.ErrStaleSession) {
			return nil, fmt.Errorf("failed to end session: %w", err)
		}
	}
	return nil, fmt.Errorf("session %d end exhausted %d attempts: %w", sessionID, casMaxAttempts, ErrInternal)
}

// ===== READ PATHS =====

func (s *sessionService) GetReview(ctx context.Context, sessionID uint, userID string) (*SessionReviewResponse, error) {
	session, err := s.getOwnedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	ids, err := session.DecodeQuestionIDs()
	if err != nil {
		return nil, err
	}
	states, err := session.DecodeStates()
	if err != nil {
		return nil, err
	}

	questions, err := s.repo.Question().GetByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load session questions: %w", err)
	}
	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	// Tutor sessions reveal explanations throughout; exam sessions only once
	// they have ended.
	reveal := session.Mode == models.ModeTutor || !session.Active()

	rows := make([]SessionReviewRow, 0, len(ids))
	for i, id := range ids {
		row := SessionReviewRow{QuestionID: id}
		if i < len(states) {
			row.State = states[i]
		}

		question, ok := byID[id]
		if !ok || !question.IsPublished() {
			// Content changed underneath the session; keep the row as an
			// unavailable marker instead of failing the review.
			row.Unavailable = true
			rows = append(rows, row)
			continue
		}

		view := questionViewFor(question, userID)
		view.Position = i + 1
		view.Total = len(ids)
		row.Question = view

		if reveal {
			if correct := question.CorrectChoice(); correct != nil {
				correctID := correct.ID
				row.CorrectChoiceID = &correctID
			}
			if question.ExplanationMd != "" {
				explanation := question.ExplanationMd
				row.ExplanationMd = &explanation
			}
		}
		rows = append(rows, row)
	}

	header, err := s.toSessionResponse(session)
	if err != nil {
		return nil, err
	}
	resp := &SessionReviewResponse{
		Session:   *header,
		Questions: rows,
	}
	if !session.Active() {
		totals := computeTotals(states, session.StartedAt, *session.EndedAt)
		resp.Totals = &totals
	}
	return resp, nil
}

func (s *sessionService) List(ctx context.Context, userID string, req *SessionListRequest) (*SessionListResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	filters := repositories.SessionListFilters{
		Mode:       req.Mode,
		ActiveOnly: req.ActiveOnly,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}

	sessions, total, err := s.repo.Session().List(ctx, s.db, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp, err := s.toSessionResponse(session)
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}

	return &SessionListResponse{
		Sessions: out,
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}, nil
}
