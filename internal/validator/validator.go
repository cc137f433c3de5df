package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/prepforge/practice-service/internal/models"
)

// ValidationError describes a single failed field rule
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of field validation failures
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(ve))
	for i, e := range ve {
		messages[i] = e.Message
	}
	return strings.Join(messages, "; ")
}

// Validator wraps go-playground validation with the domain's custom rules
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with all custom rules registered
func New() *Validator {
	v := &Validator{validate: validator.New()}
	v.registerRules()
	return v
}

// Validate validates a struct and returns nil or ValidationErrors
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	return ToValidationErrors(err)
}

// Engine exposes the underlying validate instance for handler binding
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

func (v *Validator) registerRules() {
	v.validate.RegisterValidation("session_mode", func(fl validator.FieldLevel) bool {
		switch models.SessionMode(fl.Field().String()) {
		case models.ModeTutor, models.ModeExam:
			return true
		}
		return false
	})

	v.validate.RegisterValidation("difficulty_level", func(fl validator.FieldLevel) bool {
		switch models.DifficultyLevel(fl.Field().String()) {
		case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
			return true
		}
		return false
	})

	v.validate.RegisterValidation("question_status", func(fl validator.FieldLevel) bool {
		switch models.QuestionStatus(fl.Field().String()) {
		case models.QuestionDraft, models.QuestionPublished, models.QuestionArchived:
			return true
		}
		return false
	})

	v.validate.RegisterValidation("question_count", func(fl validator.FieldLevel) bool {
		count := fl.Field().Int()
		return count >= 1 && count <= 200
	})

	v.validate.RegisterValidation("choice_label", func(fl validator.FieldLevel) bool {
		label := fl.Field().String()
		for _, allowed := range models.ChoiceLabels {
			if label == allowed {
				return true
			}
		}
		return false
	})
}

// ToValidationErrors converts go-playground errors to the domain type
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{
			Field:   "",
			Tag:     "struct",
			Message: err.Error(),
		}}
	}

	errors := make(ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		errors = append(errors, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: messageFor(fe),
		})
	}
	return errors
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "session_mode":
		return fmt.Sprintf("%s must be one of: tutor, exam", fe.Field())
	case "difficulty_level":
		return fmt.Sprintf("%s must be one of: easy, medium, hard", fe.Field())
	case "question_status":
		return fmt.Sprintf("%s must be one of: draft, published, archived", fe.Field())
	case "question_count":
		return fmt.Sprintf("%s must be between 1 and 200", fe.Field())
	case "choice_label":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.Join(models.ChoiceLabels, ", "))
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation rule %q", fe.Field(), fe.Tag())
	}
}
