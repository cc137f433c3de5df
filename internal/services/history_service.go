package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/prepforge/practice-service/internal/models"
	"github.com/prepforge/practice-service/internal/repositories"
	"github.com/prepforge/practice-service/internal/validator"
)

type historyService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewHistoryService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) HistoryService {
	return &historyService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

func (s *historyService) GetAttempts(ctx context.Context, userID string, req *AttemptHistoryRequest) (*AttemptHistoryResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	filters := attemptFiltersFrom(req)
	attempts, total, err := s.repo.Attempt().GetByUser(ctx, s.db, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	rows, err := s.enrichAttempts(ctx, attempts)
	if err != nil {
		return nil, err
	}

	return &AttemptHistoryResponse{
		Attempts: rows,
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}, nil
}

func (s *historyService) GetStats(ctx context.Context, userID string) (*repositories.UserPracticeStats, error) {
	stats, err := s.repo.Attempt().GetUserStats(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get practice stats: %w", err)
	}
	return stats, nil
}

// ExportAttempts renders the user's attempt history as an xlsx workbook.
// Returns the file bytes and a suggested filename.
func (s *historyService) ExportAttempts(ctx context.Context, userID string, req *AttemptHistoryRequest) ([]byte, string, error) {
	s.logger.Info("Exporting attempt history", "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, "", fmt.Errorf("validation failed: %w", err)
	}

	filters := attemptFiltersFrom(req)
	// Exports walk the full filtered history regardless of page size.
	filters.Limit = 0
	filters.Offset = 0

	attempts, _, err := s.repo.Attempt().GetByUser(ctx, s.db, userID, filters)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get attempts: %w", err)
	}
	rows, err := s.enrichAttempts(ctx, attempts)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Attempts"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Attempt ID", "Question", "Session ID", "Correct", "Time Spent (s)", "Answered At"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build export header: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, "", fmt.Errorf("failed to build export header: %w", err)
		}
	}

	for i, row := range rows {
		questionLabel := row.QuestionSlug
		if row.Unavailable {
			questionLabel = fmt.Sprintf("question %d (unavailable)", row.QuestionID)
		}
		sessionLabel := ""
		if row.SessionID != nil {
			sessionLabel = fmt.Sprintf("%d", *row.SessionID)
		}

		values := []interface{}{
			row.Attempt.ID,
			questionLabel,
			sessionLabel,
			row.IsCorrect,
			row.TimeSpentSeconds,
			row.AnsweredAt.Format(time.RFC3339),
		}
		for j, value := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return nil, "", fmt.Errorf("failed to build export row: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, "", fmt.Errorf("failed to build export row: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write export: %w", err)
	}

	filename := fmt.Sprintf("practice-attempts-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}

// enrichAttempts joins attempts with their question context. Attempts against
// questions that vanished or fell out of publication become unavailable
// marker rows rather than errors.
func (s *historyService) enrichAttempts(ctx context.Context, attempts []*models.Attempt) ([]AttemptHistoryRow, error) {
	ids := make([]uint, 0, len(attempts))
	seen := make(map[uint]bool, len(attempts))
	for _, attempt := range attempts {
		if !seen[attempt.QuestionID] {
			seen[attempt.QuestionID] = true
			ids = append(ids, attempt.QuestionID)
		}
	}

	questions, err := s.repo.Question().GetByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt questions: %w", err)
	}
	byID := make(map[uint]*models.Question, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}

	rows := make([]AttemptHistoryRow, 0, len(attempts))
	for _, attempt := range attempts {
		row := AttemptHistoryRow{Attempt: attempt}
		question, ok := byID[attempt.QuestionID]
		if !ok || !question.IsPublished() {
			row.Unavailable = true
		} else {
			row.QuestionSlug = question.Slug
			row.QuestionStem = question.StemMd
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func attemptFiltersFrom(req *AttemptHistoryRequest) repositories.AttemptFilters {
	filters := repositories.AttemptFilters{
		QuestionID: req.QuestionID,
		SessionID:  req.SessionID,
		IsCorrect:  req.IsCorrect,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	return filters
}
