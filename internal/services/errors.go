package services

import (
	"errors"
	"fmt"

	"github.com/prepforge/practice-service/internal/validator"
)

// ===== SENTINEL ERRORS =====

var (
	// Not found
	ErrQuestionNotFound     = errors.New("question not found")
	ErrChoiceNotFound       = errors.New("choice not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoQuestionsMatch     = errors.New("no questions match the given filters")
	ErrQuestionNotInSession = errors.New("question is not part of the session")

	// Conflict
	ErrSessionEnded        = errors.New("session has already ended")
	ErrMarkOutsideExam     = errors.New("marking for review is only available in exam sessions")
	ErrIdempotencyInFlight = errors.New("an identical request is already in flight")
	ErrStateConflict       = errors.New("session state changed concurrently")

	// Validation
	ErrValidationFailed = errors.New("validation failed")

	// Internal
	ErrInternal = errors.New("internal error")
)

// ===== TYPED ERRORS =====

// PermissionError indicates the user may not perform an operation on a
// resource.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError indicates a domain rule rejected the operation.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}

// ValidationErrors re-exported so handlers can type-assert without importing
// the validator package.
type ValidationErrors = validator.ValidationErrors

// IsNotFoundError reports whether err maps to a NOT_FOUND response.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrChoiceNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrQuestionNotInSession) ||
		errors.Is(err, ErrNoQuestionsMatch)
}

// IsConflictError reports whether err maps to a CONFLICT response.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSessionEnded) ||
		errors.Is(err, ErrMarkOutsideExam) ||
		errors.Is(err, ErrIdempotencyInFlight) ||
		errors.Is(err, ErrStateConflict)
}
