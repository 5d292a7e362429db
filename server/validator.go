package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// entityIDMaxLen bounds ids that end up inside cache keys.
const entityIDMaxLen = 64

// Validator checks bound requests. Besides the stock tags it knows entity_id,
// which rejects ids that would break a cache key or widen a purge pattern.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a Validator with the entity_id tag registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("entity_id", entityID)
	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		return newValidationError(fields)
	}
	return err
}

// ValidationError lists every field that failed. It is rendered as a 400.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Errors: make([]FieldError, 0, len(errs))}
	for _, fe := range errs {
		out.Errors = append(out.Errors, FieldError{
			Field:   fe.Field(),
			Message: describe(fe),
			Value:   fmt.Sprint(fe.Value()),
		})
	}
	return out
}

func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return "validation failed: " + e.Errors[0].Message
	default:
		return fmt.Sprintf("validation failed: %d errors", len(e.Errors))
	}
}

func describe(fe validator.FieldError) string {
	name, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "entity_id":
		return name + " must be a single path segment without glob characters"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(param, " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", name, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, param)
	case "lte":
		return fmt.Sprintf("%s must be %s or less", name, param)
	case "gte":
		return fmt.Sprintf("%s must be %s or more", name, param)
	default:
		return name + " is invalid"
	}
}

func entityID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" || len(id) > entityIDMaxLen {
		return false
	}
	return !strings.ContainsAny(id, "/?*[]\\ ")
}
