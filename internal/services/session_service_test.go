package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prepforge/practice-service/internal/events"
	"github.com/prepforge/practice-service/internal/idempotency"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/validator"
)

func newTestSessionService(repo *mockRepository) (*sessionService, *events.MockEventPublisher) {
	logger := testLogger()
	pub := events.NewMockEventPublisher(logger)
	svc := &sessionService{
		repo:      repo,
		logger:    logger,
		validator: validator.New(),
		publisher: pub,
		idem:      idempotency.NewCoordinator(newMemoryIdempotencyStore(), time.Hour, logger),
	}
	return svc, pub
}

func practiceQuestion(id uint, status models.QuestionStatus) *models.Question {
	return &models.Question{
		ID:            id,
		Slug:          fmt.Sprintf("question-%d", id),
		StemMd:        "Which statement is true?",
		ExplanationMd: "The first option holds in every case.",
		Difficulty:    models.DifficultyMedium,
		Status:        status,
		Choices: []models.Choice{
			{ID: id*10 + 1, QuestionID: id, Label: "A", TextMd: "Option A", IsCorrect: true, ExplanationMd: "This one is right.", SortOrder: 0},
			{ID: id*10 + 2, QuestionID: id, Label: "B", TextMd: "Option B", SortOrder: 1},
			{ID: id*10 + 3, QuestionID: id, Label: "C", TextMd: "Option C", SortOrder: 2},
		},
	}
}

func practiceTestSession(t *testing.T, id uint, userID string, mode models.SessionMode, questionIDs []uint) *models.PracticeSession {
	t.Helper()
	session := &models.PracticeSession{
		ID:        id,
		UserID:    userID,
		Mode:      mode,
		Version:   1,
		StartedAt: time.Now().UTC().Add(-5 * time.Minute),
	}
	raw, err := json.Marshal(questionIDs)
	if err != nil {
		t.Fatalf("Failed to encode question ids: %v", err)
	}
	session.QuestionIDs = raw
	states := make([]models.SessionQuestionState, len(questionIDs))
	for i, qid := range questionIDs {
		states[i] = models.SessionQuestionState{QuestionID: qid}
	}
	if err := session.EncodeStates(states); err != nil {
		t.Fatalf("Failed to encode question states: %v", err)
	}
	return session
}

func answerState(t *testing.T, session *models.PracticeSession, questionID, choiceID uint, correct bool) {
	t.Helper()
	states, err := session.DecodeStates()
	if err != nil {
		t.Fatalf("Failed to decode states: %v", err)
	}
	idx := stateIndexOf(states, questionID)
	if idx < 0 {
		t.Fatalf("Question %d not in session", questionID)
	}
	now := time.Now().UTC()
	states[idx].SelectedChoiceID = &choiceID
	states[idx].IsCorrect = &correct
	states[idx].AnsweredAt = &now
	if err := session.EncodeStates(states); err != nil {
		t.Fatalf("Failed to encode states: %v", err)
	}
}

// ===== START =====

func TestSessionService_Start(t *testing.T) {
	ctx := context.Background()
	candidates := []uint{5, 4, 3, 2, 1}

	var created *models.PracticeSession
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getPublishedIDs: func(filters repositories.QuestionFilters) ([]uint, error) {
				return candidates, nil
			},
		},
		session: &mockSessionRepo{
			create: func(session *models.PracticeSession) error {
				session.ID = 42
				created = session
				return nil
			},
		},
	}
	svc, pub := newTestSessionService(repo)

	resp, err := svc.Start(ctx, &StartSessionRequest{
		Mode:          models.ModeTutor,
		QuestionCount: 3,
	}, "user-1", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if resp.ID != 42 {
		t.Errorf("Expected session id 42, got %d", resp.ID)
	}
	if len(resp.QuestionIDs) != 3 {
		t.Fatalf("Expected 3 questions, got %d", len(resp.QuestionIDs))
	}
	seen := make(map[uint]bool)
	for _, id := range resp.QuestionIDs {
		if id < 1 || id > 5 {
			t.Errorf("Question %d is not a candidate", id)
		}
		if seen[id] {
			t.Errorf("Question %d appears twice", id)
		}
		seen[id] = true
	}
	for _, state := range resp.QuestionStates {
		if state.Answered() || state.MarkedForReview {
			t.Errorf("Expected fresh state for question %d", state.QuestionID)
		}
	}
	if created.Version != 1 {
		t.Errorf("Expected initial version 1, got %d", created.Version)
	}

	published := pub.GetPublishedEvents()
	if len(published) != 1 || published[0].Type != events.TypeSessionStarted {
		t.Errorf("Expected one %s event, got %v", events.TypeSessionStarted, published)
	}
}

func TestSessionService_Start_CapsQuestionCount(t *testing.T) {
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getPublishedIDs: func(filters repositories.QuestionFilters) ([]uint, error) {
				return []uint{1, 2, 3, 4, 5}, nil
			},
		},
		session: &mockSessionRepo{
			create: func(session *models.PracticeSession) error {
				session.ID = 1
				return nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)
	svc.maxQuestions = 2

	resp, err := svc.Start(context.Background(), &StartSessionRequest{
		Mode:          models.ModeTutor,
		QuestionCount: 5,
	}, "user-1", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(resp.QuestionIDs) != 2 {
		t.Errorf("Expected session capped at 2 questions, got %d", len(resp.QuestionIDs))
	}
}

func TestSessionService_Start_NoQuestionsMatch(t *testing.T) {
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getPublishedIDs: func(filters repositories.QuestionFilters) ([]uint, error) {
				return nil, nil
			},
		},
		session: &mockSessionRepo{
			create: func(session *models.PracticeSession) error {
				t.Fatal("Create should not be called when no questions match")
				return nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)

	_, err := svc.Start(context.Background(), &StartSessionRequest{
		Mode:          models.ModeExam,
		QuestionCount: 10,
	}, "user-1", "")
	if !errors.Is(err, ErrNoQuestionsMatch) {
		t.Errorf("Expected ErrNoQuestionsMatch, got %v", err)
	}
}

func TestSessionService_Start_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	createCalls := 0
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getPublishedIDs: func(filters repositories.QuestionFilters) ([]uint, error) {
				return []uint{1, 2, 3}, nil
			},
		},
		session: &mockSessionRepo{
			create: func(session *models.PracticeSession) error {
				createCalls++
				session.ID = 7
				return nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)
	req := &StartSessionRequest{Mode: models.ModeTutor, QuestionCount: 2}

	first, err := svc.Start(ctx, req, "user-1", "retry-key")
	if err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	second, err := svc.Start(ctx, req, "user-1", "retry-key")
	if err != nil {
		t.Fatalf("Duplicate start failed: %v", err)
	}

	if createCalls != 1 {
		t.Errorf("Expected exactly one session creation, got %d", createCalls)
	}
	if second.ID != first.ID {
		t.Errorf("Expected replayed session id %d, got %d", first.ID, second.ID)
	}
	if len(second.QuestionIDs) != len(first.QuestionIDs) {
		t.Errorf("Replayed response lost question ids: %v vs %v", second.QuestionIDs, first.QuestionIDs)
	}
}

// ===== SUBMIT ANSWER =====

func TestSessionService_SubmitAnswer_Standalone(t *testing.T) {
	ctx := context.Background()
	question := practiceQuestion(1, models.QuestionPublished)

	var recorded *models.Attempt
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				if id != 1 {
					return nil, repositories.ErrNotFound
				}
				return question, nil
			},
		},
		attempt: &mockAttemptRepo{
			create: func(attempt *models.Attempt) error {
				attempt.ID = 100
				recorded = attempt
				return nil
			},
		},
	}
	svc, pub := newTestSessionService(repo)

	t.Run("correct answer", func(t *testing.T) {
		resp, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			QuestionID:       1,
			SelectedChoiceID: 11,
		}, "user-1", "")
		if err != nil {
			t.Fatalf("SubmitAnswer failed: %v", err)
		}
		if !resp.IsCorrect {
			t.Error("Expected correct grading for choice 11")
		}
		if resp.CorrectChoiceID != 11 {
			t.Errorf("Expected correct choice 11, got %d", resp.CorrectChoiceID)
		}
		if resp.ExplanationMd == nil {
			t.Error("Expected explanation outside exam sessions")
		}
		if len(resp.ChoiceExplanations) != 1 || resp.ChoiceExplanations[0].ChoiceID != 11 {
			t.Errorf("Expected one choice explanation for choice 11, got %v", resp.ChoiceExplanations)
		}
		if recorded == nil || recorded.SessionID != nil {
			t.Errorf("Expected standalone attempt record, got %+v", recorded)
		}
		published := pub.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.TypeAttemptRecorded {
			t.Errorf("Expected one %s event, got %v", events.TypeAttemptRecorded, published)
		}
	})

	t.Run("wrong answer still reveals correction", func(t *testing.T) {
		resp, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			QuestionID:       1,
			SelectedChoiceID: 12,
		}, "user-1", "")
		if err != nil {
			t.Fatalf("SubmitAnswer failed: %v", err)
		}
		if resp.IsCorrect {
			t.Error("Expected incorrect grading for choice 12")
		}
		if resp.CorrectChoiceID != 11 {
			t.Errorf("Expected correct choice 11, got %d", resp.CorrectChoiceID)
		}
	})

	t.Run("unknown choice", func(t *testing.T) {
		_, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			QuestionID:       1,
			SelectedChoiceID: 999,
		}, "user-1", "")
		if !errors.Is(err, ErrChoiceNotFound) {
			t.Errorf("Expected ErrChoiceNotFound, got %v", err)
		}
	})

	t.Run("missing question", func(t *testing.T) {
		_, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			QuestionID:       2,
			SelectedChoiceID: 11,
		}, "user-1", "")
		if !errors.Is(err, ErrQuestionNotFound) {
			t.Errorf("Expected ErrQuestionNotFound, got %v", err)
		}
	})
}

func TestSessionService_SubmitAnswer_UnpublishedQuestion(t *testing.T) {
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				return practiceQuestion(id, models.QuestionArchived), nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)

	_, err := svc.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		QuestionID:       1,
		SelectedChoiceID: 11,
	}, "user-1", "")
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("Expected ErrQuestionNotFound for archived question, got %v", err)
	}
}

func TestSessionService_SubmitAnswer_ExamWithholdsExplanations(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(9)
	stored := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{1})

	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				return practiceQuestion(1, models.QuestionPublished), nil
			},
		},
		session: &mockSessionRepo{
			getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
				copied := *stored
				return &copied, nil
			},
			updateStateCAS: func(session *models.PracticeSession, expectedVersion int) error {
				session.Version = expectedVersion + 1
				stored = session
				return nil
			},
		},
		attempt: &mockAttemptRepo{
			create: func(attempt *models.Attempt) error {
				attempt.ID = 200
				return nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)

	resp, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
		SessionID:        &sessionID,
		QuestionID:       1,
		SelectedChoiceID: 12,
	}, "user-1", "")
	if err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}

	if resp.ExplanationMd != nil {
		t.Error("Exam submission must not carry an explanation")
	}
	if resp.ChoiceExplanations != nil {
		t.Error("Exam submission must not carry choice explanations")
	}
	if resp.IsCorrect {
		t.Error("Expected incorrect grading for choice 12")
	}
	if resp.CorrectChoiceID != 11 {
		t.Errorf("Expected correct choice 11, got %d", resp.CorrectChoiceID)
	}

	states, err := stored.DecodeStates()
	if err != nil {
		t.Fatalf("Failed to decode persisted states: %v", err)
	}
	if !states[0].Answered() {
		t.Error("Expected persisted state to record the answer")
	}
	if states[0].IsCorrect == nil || *states[0].IsCorrect {
		t.Error("Expected persisted state to record an incorrect answer")
	}
}

func TestSessionService_SubmitAnswer_LatestWins(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(9)
	stored := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{1, 2})

	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				return practiceQuestion(1, models.QuestionPublished), nil
			},
		},
		session: &mockSessionRepo{
			getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
				copied := *stored
				return &copied, nil
			},
			updateStateCAS: func(session *models.PracticeSession, expectedVersion int) error {
				session.Version = expectedVersion + 1
				stored = session
				return nil
			},
		},
		attempt: &mockAttemptRepo{
			create: func(attempt *models.Attempt) error { return nil },
		},
	}
	svc, _ := newTestSessionService(repo)

	for _, choiceID := range []uint{12, 11} {
		_, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			SessionID:        &sessionID,
			QuestionID:       1,
			SelectedChoiceID: choiceID,
		}, "user-1", "")
		if err != nil {
			t.Fatalf("SubmitAnswer(%d) failed: %v", choiceID, err)
		}
	}

	states, err := stored.DecodeStates()
	if err != nil {
		t.Fatalf("Failed to decode persisted states: %v", err)
	}
	answered := 0
	for _, state := range states {
		if state.Answered() {
			answered++
		}
	}
	if answered != 1 {
		t.Errorf("Expected one answered question after re-answering, got %d", answered)
	}
	if states[0].SelectedChoiceID == nil || *states[0].SelectedChoiceID != 11 {
		t.Errorf("Expected the latest answer (11) to win, got %v", states[0].SelectedChoiceID)
	}
	if states[0].IsCorrect == nil || !*states[0].IsCorrect {
		t.Error("Expected the latest answer to be graded correct")
	}
}

func TestSessionService_SubmitAnswer_RetriesStaleState(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(9)

	t.Run("recovers within the retry budget", func(t *testing.T) {
		casCalls := 0
		repo := &mockRepository{
			question: &mockQuestionRepo{
				getByIDWithChoices: func(id uint) (*models.Question, error) {
					return practiceQuestion(1, models.QuestionPublished), nil
				},
			},
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{1}), nil
				},
				updateStateCAS: func(session *models.PracticeSession, expectedVersion int) error {
					casCalls++
					if casCalls < 3 {
						return repositories.ErrStaleSession
					}
					return nil
				},
			},
			attempt: &mockAttemptRepo{
				create: func(attempt *models.Attempt) error { return nil },
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			SessionID:        &sessionID,
			QuestionID:       1,
			SelectedChoiceID: 11,
		}, "user-1", "")
		if err != nil {
			t.Fatalf("Expected recovery after stale writes, got %v", err)
		}
		if casCalls != 3 {
			t.Errorf("Expected 3 CAS attempts, got %d", casCalls)
		}
	})

	t.Run("gives up after exhausting retries", func(t *testing.T) {
		repo := &mockRepository{
			question: &mockQuestionRepo{
				getByIDWithChoices: func(id uint) (*models.Question, error) {
					return practiceQuestion(1, models.QuestionPublished), nil
				},
			},
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{1}), nil
				},
				updateStateCAS: func(session *models.PracticeSession, expectedVersion int) error {
					return repositories.ErrStaleSession
				},
			},
			attempt: &mockAttemptRepo{
				create: func(attempt *models.Attempt) error { return nil },
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
			SessionID:        &sessionID,
			QuestionID:       1,
			SelectedChoiceID: 11,
		}, "user-1", "")
		if !errors.Is(err, ErrInternal) {
			t.Errorf("Expected ErrInternal after exhausted retries, got %v", err)
		}
	})
}

// Two writers racing on different questions of the same session must both
// land: the loser reloads a state that already carries the winner's answer
// and re-applies its own on top.
func TestSessionService_SubmitAnswer_ConvergesWithConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(9)

	loads := 0
	casCalls := 0
	var final *models.PracticeSession
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				return practiceQuestion(id, models.QuestionPublished), nil
			},
		},
		session: &mockSessionRepo{
			getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
				loads++
				session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{1, 2})
				if loads > 1 {
					// The concurrent writer answered question 2 and
					// bumped the version while we were in flight.
					session.Version = 2
					answerState(t, session, 2, 22, false)
				}
				return session, nil
			},
			updateStateCAS: func(session *models.PracticeSession, expectedVersion int) error {
				casCalls++
				if casCalls == 1 {
					return repositories.ErrStaleSession
				}
				session.Version = expectedVersion + 1
				final = session
				return nil
			},
		},
		attempt: &mockAttemptRepo{
			create: func(attempt *models.Attempt) error { return nil },
		},
	}
	svc, _ := newTestSessionService(repo)

	_, err := svc.SubmitAnswer(ctx, &SubmitAnswerRequest{
		SessionID:        &sessionID,
		QuestionID:       1,
		SelectedChoiceID: 11,
	}, "user-1", "")
	if err != nil {
		t.Fatalf("Expected the losing writer to converge, got %v", err)
	}
	if loads != 2 {
		t.Errorf("Expected a reload after the stale write, got %d loads", loads)
	}
	if final == nil {
		t.Fatal("Expected a successful CAS write")
	}
	if final.Version != 3 {
		t.Errorf("Expected version 3 after both writers, got %d", final.Version)
	}

	states, err := final.DecodeStates()
	if err != nil {
		t.Fatalf("Failed to decode final states: %v", err)
	}
	byID := make(map[uint]models.SessionQuestionState, len(states))
	for _, state := range states {
		byID[state.QuestionID] = state
	}
	ours, ok := byID[1]
	if !ok || ours.SelectedChoiceID == nil || *ours.SelectedChoiceID != 11 {
		t.Errorf("Expected our answer (11) on question 1, got %+v", ours)
	}
	theirs, ok := byID[2]
	if !ok || theirs.SelectedChoiceID == nil || *theirs.SelectedChoiceID != 22 {
		t.Errorf("Expected the concurrent answer (22) on question 2 preserved, got %+v", theirs)
	}
}

func TestSessionService_SubmitAnswer_QuestionNotInSession(t *testing.T) {
	sessionID := uint(9)
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				return practiceQuestion(3, models.QuestionPublished), nil
			},
		},
		session: &mockSessionRepo{
			getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
				return practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{1, 2}), nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)

	_, err := svc.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID:        &sessionID,
		QuestionID:       3,
		SelectedChoiceID: 31,
	}, "user-1", "")
	if !errors.Is(err, ErrQuestionNotInSession) {
		t.Errorf("Expected ErrQuestionNotInSession, got %v", err)
	}
	// A session-bound target outside the session reads as not found, never
	// as a conflict.
	if !IsNotFoundError(err) {
		t.Errorf("Expected a not-found classification, got %v", err)
	}
	if IsConflictError(err) {
		t.Errorf("Expected no conflict classification for %v", err)
	}
}

func TestSessionService_SubmitAnswer_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	question := practiceQuestion(1, models.QuestionPublished)
	createCalls := 0
	repo := &mockRepository{
		question: &mockQuestionRepo{
			getByIDWithChoices: func(id uint) (*models.Question, error) {
				return question, nil
			},
		},
		attempt: &mockAttemptRepo{
			create: func(attempt *models.Attempt) error {
				createCalls++
				attempt.ID = 300
				return nil
			},
		},
	}
	svc, _ := newTestSessionService(repo)
	req := &SubmitAnswerRequest{QuestionID: 1, SelectedChoiceID: 11}

	first, err := svc.SubmitAnswer(ctx, req, "user-1", "submit-key")
	if err != nil {
		t.Fatalf("First submit failed: %v", err)
	}
	second, err := svc.SubmitAnswer(ctx, req, "user-1", "submit-key")
	if err != nil {
		t.Fatalf("Duplicate submit failed: %v", err)
	}

	if createCalls != 1 {
		t.Errorf("Expected exactly one attempt record, got %d", createCalls)
	}
	if second.AttemptID != first.AttemptID {
		t.Errorf("Expected replayed attempt id %d, got %d", first.AttemptID, second.AttemptID)
	}
}

// ===== NEXT QUESTION =====

func TestSessionService_NextQuestion_InSession(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(5)

	newRepo := func(session *models.PracticeSession) *mockRepository {
		return &mockRepository{
			question: &mockQuestionRepo{
				getByIDWithChoices: func(id uint) (*models.Question, error) {
					return practiceQuestion(id, models.QuestionPublished), nil
				},
			},
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return session, nil
				},
			},
		}
	}

	t.Run("first unanswered in session order", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11, 12, 13})
		answerState(t, session, 11, 111, true)
		svc, _ := newTestSessionService(newRepo(session))

		resp, err := svc.NextQuestion(ctx, &NextQuestionRequest{SessionID: &sessionID}, "user-1")
		if err != nil {
			t.Fatalf("NextQuestion failed: %v", err)
		}
		if resp.Question == nil || resp.Question.ID != 12 {
			t.Fatalf("Expected question 12, got %+v", resp.Question)
		}
		if resp.Question.Position != 2 || resp.Question.Total != 3 {
			t.Errorf("Expected position 2 of 3, got %d of %d", resp.Question.Position, resp.Question.Total)
		}
	})

	t.Run("explicit member question", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11, 12, 13})
		svc, _ := newTestSessionService(newRepo(session))
		target := uint(13)

		resp, err := svc.NextQuestion(ctx, &NextQuestionRequest{SessionID: &sessionID, QuestionID: &target}, "user-1")
		if err != nil {
			t.Fatalf("NextQuestion failed: %v", err)
		}
		if resp.Question == nil || resp.Question.ID != 13 {
			t.Fatalf("Expected question 13, got %+v", resp.Question)
		}
		if resp.Question.Position != 3 {
			t.Errorf("Expected position 3, got %d", resp.Question.Position)
		}
	})

	t.Run("explicit question outside session", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11, 12})
		svc, _ := newTestSessionService(newRepo(session))
		target := uint(99)

		_, err := svc.NextQuestion(ctx, &NextQuestionRequest{SessionID: &sessionID, QuestionID: &target}, "user-1")
		if !errors.Is(err, ErrQuestionNotInSession) {
			t.Errorf("Expected ErrQuestionNotInSession, got %v", err)
		}
	})

	t.Run("completed session", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11, 12})
		answerState(t, session, 11, 111, true)
		answerState(t, session, 12, 121, false)
		svc, _ := newTestSessionService(newRepo(session))

		resp, err := svc.NextQuestion(ctx, &NextQuestionRequest{SessionID: &sessionID}, "user-1")
		if err != nil {
			t.Fatalf("NextQuestion failed: %v", err)
		}
		if !resp.Completed || resp.Question != nil {
			t.Errorf("Expected completed session without question, got %+v", resp)
		}
	})

	t.Run("ended session", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11})
		now := time.Now().UTC()
		session.EndedAt = &now
		svc, _ := newTestSessionService(newRepo(session))

		_, err := svc.NextQuestion(ctx, &NextQuestionRequest{SessionID: &sessionID}, "user-1")
		if !errors.Is(err, ErrSessionEnded) {
			t.Errorf("Expected ErrSessionEnded, got %v", err)
		}
	})
}

func TestSessionService_NextQuestion_ByFilters(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	newRepo := func(candidates []uint, lastAttempts map[uint]time.Time) *mockRepository {
		return &mockRepository{
			question: &mockQuestionRepo{
				getPublishedIDs: func(filters repositories.QuestionFilters) ([]uint, error) {
					return candidates, nil
				},
				getByIDWithChoices: func(id uint) (*models.Question, error) {
					return practiceQuestion(id, models.QuestionPublished), nil
				},
			},
			attempt: &mockAttemptRepo{
				getLatestAttemptTimes: func(userID string, questionIDs []uint) (map[uint]time.Time, error) {
					return lastAttempts, nil
				},
			},
		}
	}

	t.Run("never attempted wins", func(t *testing.T) {
		// Candidates arrive newest-created-first; 10 has no attempt yet.
		svc, _ := newTestSessionService(newRepo([]uint{30, 20, 10}, map[uint]time.Time{
			30: base.Add(10 * time.Minute),
			20: base.Add(20 * time.Minute),
		}))

		resp, err := svc.NextQuestion(ctx, &NextQuestionRequest{Filters: &SessionFiltersRequest{}}, "user-1")
		if err != nil {
			t.Fatalf("NextQuestion failed: %v", err)
		}
		if resp.Question == nil || resp.Question.ID != 10 {
			t.Fatalf("Expected never-attempted question 10, got %+v", resp.Question)
		}
		if resp.SessionID != nil {
			t.Error("Ad-hoc selection must not be bound to a session")
		}
	})

	t.Run("oldest latest attempt wins when all attempted", func(t *testing.T) {
		svc, _ := newTestSessionService(newRepo([]uint{30, 20, 10}, map[uint]time.Time{
			30: base.Add(30 * time.Minute),
			20: base.Add(5 * time.Minute),
			10: base.Add(20 * time.Minute),
		}))

		resp, err := svc.NextQuestion(ctx, &NextQuestionRequest{Filters: &SessionFiltersRequest{}}, "user-1")
		if err != nil {
			t.Fatalf("NextQuestion failed: %v", err)
		}
		if resp.Question == nil || resp.Question.ID != 20 {
			t.Fatalf("Expected stalest question 20, got %+v", resp.Question)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		svc, _ := newTestSessionService(newRepo(nil, nil))

		_, err := svc.NextQuestion(ctx, &NextQuestionRequest{Filters: &SessionFiltersRequest{}}, "user-1")
		if !errors.Is(err, ErrNoQuestionsMatch) {
			t.Errorf("Expected ErrNoQuestionsMatch, got %v", err)
		}
	})
}

// ===== MARK FOR REVIEW =====

func TestSessionService_MarkForReview(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(5)

	t.Run("marks and is idempotent", func(t *testing.T) {
		stored := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{11, 12})
		casCalls := 0
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					copied := *stored
					return &copied, nil
				},
				updateStateCAS: func(session *models.PracticeSession, expectedVersion int) error {
					casCalls++
					session.Version = expectedVersion + 1
					stored = session
					return nil
				},
			},
		}
		svc, _ := newTestSessionService(repo)

		resp, err := svc.MarkForReview(ctx, sessionID, &MarkForReviewRequest{QuestionID: 12, Marked: true}, "user-1")
		if err != nil {
			t.Fatalf("MarkForReview failed: %v", err)
		}
		if !resp.MarkedForReview || resp.QuestionID != 12 {
			t.Errorf("Unexpected response: %+v", resp)
		}

		// Same flag value again writes nothing.
		if _, err := svc.MarkForReview(ctx, sessionID, &MarkForReviewRequest{QuestionID: 12, Marked: true}, "user-1"); err != nil {
			t.Fatalf("Repeated MarkForReview failed: %v", err)
		}
		if casCalls != 1 {
			t.Errorf("Expected one CAS write, got %d", casCalls)
		}

		states, err := stored.DecodeStates()
		if err != nil {
			t.Fatalf("Failed to decode persisted states: %v", err)
		}
		if !states[1].MarkedForReview {
			t.Error("Expected question 12 to be marked")
		}
	})

	t.Run("tutor session", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11})
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return session, nil
				},
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.MarkForReview(ctx, sessionID, &MarkForReviewRequest{QuestionID: 11, Marked: true}, "user-1")
		if !errors.Is(err, ErrMarkOutsideExam) {
			t.Errorf("Expected ErrMarkOutsideExam, got %v", err)
		}
	})

	t.Run("ended session", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{11})
		now := time.Now().UTC()
		session.EndedAt = &now
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return session, nil
				},
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.MarkForReview(ctx, sessionID, &MarkForReviewRequest{QuestionID: 11, Marked: true}, "user-1")
		if !errors.Is(err, ErrSessionEnded) {
			t.Errorf("Expected ErrSessionEnded, got %v", err)
		}
	})

	t.Run("question not in session", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{11})
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return session, nil
				},
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.MarkForReview(ctx, sessionID, &MarkForReviewRequest{QuestionID: 99, Marked: true}, "user-1")
		if !errors.Is(err, ErrQuestionNotInSession) {
			t.Errorf("Expected ErrQuestionNotInSession, got %v", err)
		}
	})
}

// ===== END =====

func TestSessionService_End(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(5)

	t.Run("computes totals from question states", func(t *testing.T) {
		stored := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{11, 12, 13})
		answerState(t, stored, 11, 111, true)
		answerState(t, stored, 12, 122, false)

		var ended *models.PracticeSession
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					copied := *stored
					return &copied, nil
				},
				endCAS: func(session *models.PracticeSession, expectedVersion int) error {
					ended = session
					return nil
				},
			},
		}
		svc, pub := newTestSessionService(repo)

		resp, err := svc.End(ctx, sessionID, "user-1", "")
		if err != nil {
			t.Fatalf("End failed: %v", err)
		}

		if resp.Totals.Answered != 2 {
			t.Errorf("Expected 2 answered, got %d", resp.Totals.Answered)
		}
		if resp.Totals.Correct != 1 {
			t.Errorf("Expected 1 correct, got %d", resp.Totals.Correct)
		}
		if resp.Totals.Accuracy != 0.5 {
			t.Errorf("Expected accuracy 0.5, got %f", resp.Totals.Accuracy)
		}
		if resp.Totals.DurationSeconds <= 0 {
			t.Errorf("Expected positive duration, got %d", resp.Totals.DurationSeconds)
		}
		if ended == nil || ended.EndedAt == nil {
			t.Fatal("Expected EndCAS to receive the ended session")
		}

		published := pub.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.TypeSessionEnded {
			t.Errorf("Expected one %s event, got %v", events.TypeSessionEnded, published)
		}
	})

	t.Run("already ended", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11})
		now := time.Now().UTC()
		session.EndedAt = &now
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return session, nil
				},
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.End(ctx, sessionID, "user-1", "")
		if !errors.Is(err, ErrSessionEnded) {
			t.Errorf("Expected ErrSessionEnded, got %v", err)
		}
	})

	t.Run("somebody else's session", func(t *testing.T) {
		repo := &mockRepository{
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return nil, repositories.ErrNotFound
				},
			},
		}
		svc, _ := newTestSessionService(repo)

		_, err := svc.End(ctx, sessionID, "user-2", "")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}

// ===== REVIEW =====

func TestSessionService_GetReview(t *testing.T) {
	ctx := context.Background()
	sessionID := uint(5)

	newRepo := func(session *models.PracticeSession, questions ...*models.Question) *mockRepository {
		return &mockRepository{
			question: &mockQuestionRepo{
				getByIDs: func(ids []uint) ([]*models.Question, error) {
					return questions, nil
				},
			},
			session: &mockSessionRepo{
				getByIDForUser: func(id uint, userID string) (*models.PracticeSession, error) {
					return session, nil
				},
			},
		}
	}

	t.Run("active exam hides answers", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{11, 12})
		answerState(t, session, 11, 111, true)
		svc, _ := newTestSessionService(newRepo(session,
			practiceQuestion(11, models.QuestionPublished),
			practiceQuestion(12, models.QuestionPublished)))

		resp, err := svc.GetReview(ctx, sessionID, "user-1")
		if err != nil {
			t.Fatalf("GetReview failed: %v", err)
		}
		if len(resp.Questions) != 2 {
			t.Fatalf("Expected 2 review rows, got %d", len(resp.Questions))
		}
		for _, row := range resp.Questions {
			if row.CorrectChoiceID != nil || row.ExplanationMd != nil {
				t.Errorf("Active exam row %d must not reveal answers", row.QuestionID)
			}
		}
		if resp.Totals != nil {
			t.Error("Active session must not carry totals")
		}
	})

	t.Run("ended exam reveals answers and totals", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeExam, []uint{11})
		answerState(t, session, 11, 111, true)
		now := time.Now().UTC()
		session.EndedAt = &now
		svc, _ := newTestSessionService(newRepo(session, practiceQuestion(11, models.QuestionPublished)))

		resp, err := svc.GetReview(ctx, sessionID, "user-1")
		if err != nil {
			t.Fatalf("GetReview failed: %v", err)
		}
		row := resp.Questions[0]
		if row.CorrectChoiceID == nil || *row.CorrectChoiceID != 111 {
			t.Errorf("Expected revealed correct choice 111, got %v", row.CorrectChoiceID)
		}
		if row.ExplanationMd == nil {
			t.Error("Expected revealed explanation")
		}
		if resp.Totals == nil || resp.Totals.Answered != 1 || resp.Totals.Correct != 1 {
			t.Errorf("Unexpected totals: %+v", resp.Totals)
		}
	})

	t.Run("active tutor reveals answers", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11})
		svc, _ := newTestSessionService(newRepo(session, practiceQuestion(11, models.QuestionPublished)))

		resp, err := svc.GetReview(ctx, sessionID, "user-1")
		if err != nil {
			t.Fatalf("GetReview failed: %v", err)
		}
		if resp.Questions[0].CorrectChoiceID == nil {
			t.Error("Tutor review must reveal the correct choice")
		}
	})

	t.Run("removed question becomes unavailable marker", func(t *testing.T) {
		session := practiceTestSession(t, sessionID, "user-1", models.ModeTutor, []uint{11, 12})
		// Question 12 was unpublished after the session started.
		svc, _ := newTestSessionService(newRepo(session,
			practiceQuestion(11, models.QuestionPublished),
			practiceQuestion(12, models.QuestionArchived)))

		resp, err := svc.GetReview(ctx, sessionID, "user-1")
		if err != nil {
			t.Fatalf("GetReview failed: %v", err)
		}
		if len(resp.Questions) != 2 {
			t.Fatalf("Expected 2 review rows, got %d", len(resp.Questions))
		}
		if resp.Questions[0].Unavailable {
			t.Error("Published question 11 must stay available")
		}
		row := resp.Questions[1]
		if !row.Unavailable || row.Question != nil {
			t.Errorf("Expected unavailable marker for question 12, got %+v", row)
		}
	})
}

// ===== TOTALS =====

func TestComputeTotals(t *testing.T) {
	choice := uint(1)
	yes, no := true, false
	now := time.Now().UTC()
	answered := func(correct *bool) models.SessionQuestionState {
		return models.SessionQuestionState{
			QuestionID:       1,
			SelectedChoiceID: &choice,
			IsCorrect:        correct,
			AnsweredAt:       &now,
		}
	}

	tests := []struct {
		name    string
		states  []models.SessionQuestionState
		started time.Time
		ended   time.Time
		want    models.SessionTotals
	}{
		{
			name:    "nothing answered",
			states:  []models.SessionQuestionState{{QuestionID: 1}, {QuestionID: 2}},
			started: now.Add(-time.Minute),
			ended:   now,
			want:    models.SessionTotals{DurationSeconds: 60},
		},
		{
			name:    "mixed answers",
			states:  []models.SessionQuestionState{answered(&yes), answered(&no), {QuestionID: 3}},
			started: now.Add(-2 * time.Minute),
			ended:   now,
			want:    models.SessionTotals{Answered: 2, Correct: 1, Accuracy: 0.5, DurationSeconds: 120},
		},
		{
			name:    "clock skew clamps duration",
			states:  []models.SessionQuestionState{answered(&yes)},
			started: now.Add(time.Minute),
			ended:   now,
			want:    models.SessionTotals{Answered: 1, Correct: 1, Accuracy: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeTotals(tt.states, tt.started, tt.ended)
			if got != tt.want {
				t.Errorf("computeTotals() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
