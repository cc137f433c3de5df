package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/prepforge/practice-service/internal/cache"
	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/validator"
)

type questionService struct {
	repo         repositories.Repository
	db           *gorm.DB
	logger       *slog.Logger
	validator    *validator.Validator
	cacheManager *cache.CacheManager
}

func NewQuestionService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	validator *validator.Validator,
	cacheManager *cache.CacheManager,
) QuestionService {
	return &questionService{
		repo:         repo,
		db:           db,
		logger:       logger,
		validator:    validator,
		cacheManager: cacheManager,
	}
}

// ===== AUTHORING OPERATIONS =====

func (s *questionService) Create(ctx context.Context, req *CreateQuestionRequest, editorID string) (*QuestionResponse, error) {
	s.logger.Info("Creating question", "slug", req.Slug, "editor_id", editorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := s.requireEditor(ctx, editorID, 0, "create"); err != nil {
		return nil, err
	}
	if err := validateChoiceSet(req.Choices); err != nil {
		return nil, err
	}

	exists, err := s.repo.Question().ExistsBySlug(ctx, s.db, req.Slug, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	}
	if exists {
		return nil, NewBusinessRuleError("unique_slug", fmt.Sprintf("slug %q is already taken", req.Slug))
	}

	question := &models.Question{
		Slug:          req.Slug,
		StemMd:        req.StemMd,
		ExplanationMd: req.ExplanationMd,
		Difficulty:    req.Difficulty,
		Status:        models.QuestionDraft,
		Choices:       choicesFrom(req.Choices),
	}
	if question.Tags, err = json.Marshal(req.Tags); err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	if err = s.repo.Question().Create(ctx, s.db, question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	s.logger.Info("Question created", "question_id", question.ID, "slug", question.Slug)
	return &QuestionResponse{Question: question}, nil
}

func (s *questionService) GetByID(ctx context.Context, id uint, requesterID string) (*QuestionResponse, error) {
	if err := s.requireEditor(ctx, requesterID, id, "read"); err != nil {
		return nil, err
	}

	question, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.repo.Question().GetAttemptStats(ctx, s.db, id)
	if err != nil {
		s.logger.Warn("Failed to load question attempt stats", "question_id", id, "error", err)
		stats = nil
	}

	return &QuestionResponse{Question: question, AttemptStats: stats}, nil
}

func (s *questionService) Update(ctx context.Context, id uint, req *UpdateQuestionRequest, editorID string) (*QuestionResponse, error) {
	s.logger.Info("Updating question", "question_id", id, "editor_id", editorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := s.requireEditor(ctx, editorID, id, "update"); err != nil {
		return nil, err
	}

	question, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.StemMd != nil {
		question.StemMd = *req.StemMd
	}
	if req.ExplanationMd != nil {
		question.ExplanationMd = *req.ExplanationMd
	}
	if req.Difficulty != nil {
		question.Difficulty = *req.Difficulty
	}
	if req.Status != nil {
		question.Status = *req.Status
	}
	if req.Tags != nil {
		if question.Tags, err = json.Marshal(req.Tags); err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
	}
	if req.Choices != nil {
		if err = validateChoiceSet(req.Choices); err != nil {
			return nil, err
		}
		question.Choices = choicesFrom(req.Choices)
		for i := range question.Choices {
			question.Choices[i].QuestionID = question.ID
		}
	}

	// Choice replacement is wholesale so stale choice rows cannot linger
	// alongside the new set.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if req.Choices != nil {
			if err := tx.WithContext(ctx).Where("question_id = ?", question.ID).Delete(&models.Choice{}).Error; err != nil {
				return fmt.Errorf("failed to replace choices: %w", err)
			}
		}
		return s.repo.Question().Update(ctx, tx, question)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, s.cacheManager, question.ID)
	return &QuestionResponse{Question: question}, nil
}

func (s *questionService) Delete(ctx context.Context, id uint, editorID string) error {
	s.logger.Info("Deleting question", "question_id", id, "editor_id", editorID)

	if err := s.requireEditor(ctx, editorID, id, "delete"); err != nil {
		return err
	}

	question, err := s.getQuestion(ctx, id)
	if err != nil {
		return err
	}
	if question.IsPublished() {
		return NewBusinessRuleError("no_delete_published", "published questions must be archived before deletion")
	}

	if err := s.repo.Question().Delete(ctx, s.db, id); err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return nil
}

func (s *questionService) List(ctx context.Context, req *QuestionListRequest, requesterID string) (*QuestionListResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	filters := repositories.QuestionFilters{
		Status:     req.Status,
		Difficulty: req.Difficulty,
		TagSlugs:   req.Tags,
		Limit:      req.Limit,
		Offset:     req.Offset,
		SortBy:     req.SortBy,
		SortOrder:  req.SortOrder,
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}

	// Learners only ever see the published pool; draft and archived content
	// stays editor-only.
	editor, err := s.isEditor(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !editor {
		published := models.QuestionPublished
		filters.Status = &published
	}

	questions, total, err := s.repo.Question().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	return &QuestionListResponse{
		Questions: questions,
		Total:     total,
		Limit:     filters.Limit,
		Offset:    filters.Offset,
	}, nil
}

func (s *questionService) Publish(ctx context.Context, id uint, editorID string) (*QuestionResponse, error) {
	s.logger.Info("Publishing question", "question_id", id, "editor_id", editorID)

	if err := s.requireEditor(ctx, editorID, id, "publish"); err != nil {
		return nil, err
	}

	question, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if question.IsPublished() {
		return &QuestionResponse{Question: question}, nil
	}
	if len(question.Choices) < 2 {
		return nil, NewBusinessRuleError("publishable_choices", "a question needs at least two choices to publish")
	}
	if question.CorrectChoice() == nil {
		return nil, NewBusinessRuleError("one_correct_choice", "a question needs exactly one correct choice to publish")
	}

	question.Status = models.QuestionPublished
	if err := s.repo.Question().Update(ctx, s.db, question); err != nil {
		return nil, fmt.Errorf("failed to publish question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, s.cacheManager, question.ID)
	return &QuestionResponse{Question: question}, nil
}

func (s *questionService) Archive(ctx context.Context, id uint, editorID string) (*QuestionResponse, error) {
	s.logger.Info("Archiving question", "question_id", id, "editor_id", editorID)

	if err := s.requireEditor(ctx, editorID, id, "archive"); err != nil {
		return nil, err
	}

	question, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if question.Status == models.QuestionArchived {
		return &QuestionResponse{Question: question}, nil
	}

	question.Status = models.QuestionArchived
	if err := s.repo.Question().Update(ctx, s.db, question); err != nil {
		return nil, fmt.Errorf("failed to archive question: %w", err)
	}

	cache.InvalidateQuestionCache(ctx, s.cacheManager, question.ID)
	return &QuestionResponse{Question: question}, nil
}

// ===== LEARNER READ PATH =====

func (s *questionService) GetForPractice(ctx context.Context, id uint, userID string) (*QuestionView, error) {
	question, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if !question.IsPublished() {
		return nil, fmt.Errorf("question %d: %w", id, ErrQuestionNotFound)
	}
	return questionViewFor(question, userID), nil
}

// ===== HELPERS =====

func (s *questionService) getQuestion(ctx context.Context, id uint) (*models.Question, error) {
	question, err := s.repo.Question().GetByIDWithChoices(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("question %d: %w", id, ErrQuestionNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return question, nil
}

func (s *questionService) isEditor(ctx context.Context, userID string) (bool, error) {
	editor, err := s.repo.User().HasRole(ctx, userID, models.RoleEditor)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	if editor {
		return true, nil
	}
	admin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return admin, nil
}

func (s *questionService) requireEditor(ctx context.Context, userID string, questionID uint, action string) error {
	editor, err := s.isEditor(ctx, userID)
	if err != nil {
		return err
	}
	if !editor {
		return NewPermissionError(userID, questionID, "question", action, "editor role required")
	}
	return nil
}

// validateChoiceSet enforces the invariants per-field rules cannot: exactly
// one correct choice, unique labels, and the A-E label space bound.
func validateChoiceSet(choices []validator.ChoiceRequest) error {
	if len(choices) > len(models.ChoiceLabels) {
		return fmt.Errorf("question has %d choices for %d labels: %w", len(choices), len(models.ChoiceLabels), ErrInternal)
	}

	correct := 0
	seen := make(map[string]bool, len(choices))
	for _, choice := range choices {
		if choice.IsCorrect {
			correct++
		}
		if seen[choice.Label] {
			return NewBusinessRuleError("unique_labels", fmt.Sprintf("duplicate choice label %q", choice.Label))
		}
		seen[choice.Label] = true
	}
	if correct != 1 {
		return NewBusinessRuleError("one_correct_choice", fmt.Sprintf("question has %d correct choices, want exactly 1", correct))
	}
	return nil
}

func choicesFrom(reqs []validator.ChoiceRequest) []models.Choice {
	choices := make([]models.Choice, len(reqs))
	for i, req := range reqs {
		choices[i] = models.Choice{
			Label:     req.Label,
			TextMd:    req.TextMd,
			IsCorrect: req.IsCorrect,
			SortOrder: i,
		}
		if req.ExplanationMd != nil {
			choices[i].ExplanationMd = *req.ExplanationMd
		}
	}
	return choices
}
