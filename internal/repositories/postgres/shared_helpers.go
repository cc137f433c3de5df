package postgres

import (
	"encoding/json"

	"github.com/prepforge/practice-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SharedHelpers contains common query building used by the postgres
// repositories.
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// ApplyQuestionFilters applies common filters to question queries
func (h *SharedHelpers) ApplyQuestionFilters(query *gorm.DB, filters repositories.QuestionFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Difficulty != nil {
		query = query.Where("difficulty = ?", *filters.Difficulty)
	}
	if len(filters.Difficulties) > 0 {
		query = query.Where("difficulty IN ?", filters.Difficulties)
	}
	if len(filters.TagSlugs) > 0 {
		// Tags are stored as a JSONB array of slugs; match any overlap.
		cond := h.db.Session(&gorm.Session{NewDB: true})
		for i, slug := range filters.TagSlugs {
			encoded, _ := json.Marshal([]string{slug})
			if i == 0 {
				cond = cond.Where("tags @> ?", datatypes.JSON(encoded))
			} else {
				cond = cond.Or("tags @> ?", datatypes.JSON(encoded))
			}
		}
		query = query.Where(cond)
	}
	return query
}

// ApplyAttemptFilters applies common filters to attempt queries
func (h *SharedHelpers) ApplyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.QuestionID != nil {
		query = query.Where("question_id = ?", *filters.QuestionID)
	}
	if filters.SessionID != nil {
		query = query.Where("session_id = ?", *filters.SessionID)
	}
	if filters.IsCorrect != nil {
		query = query.Where("is_correct = ?", *filters.IsCorrect)
	}
	if filters.DateFrom != nil {
		query = query.Where("answered_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("answered_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplySessionFilters applies common filters to session queries
func (h *SharedHelpers) ApplySessionFilters(query *gorm.DB, filters repositories.SessionListFilters) *gorm.DB {
	if filters.Mode != nil {
		query = query.Where("mode = ?", *filters.Mode)
	}
	if filters.ActiveOnly {
		query = query.Where("ended_at IS NULL")
	}
	if filters.DateFrom != nil {
		query = query.Where("started_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("started_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	// Whitelist allowed sort columns
	allowedSortColumns := map[string]bool{
		"created_at":  true,
		"updated_at":  true,
		"id":          true,
		"slug":        true,
		"difficulty":  true,
		"started_at":  true,
		"ended_at":    true,
		"answered_at": true,
	}

	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}
