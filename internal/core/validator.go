package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"hydromate/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// the application error taxonomy, so handlers get AppErrors with the precise
// per-field codes the API contract promises.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the default tag set.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates s against its struct tags. The first failing
// field determines the returned AppError; validating field-by-field keeps
// error responses deterministic for clients.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation invoked on a non-struct value",
			err,
		)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return types.NewAppError(
			tagToErrorCode(fe.Tag(), fe.Field()),
			fieldErrorMessage(fe),
			nil,
		)
	}

	return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
}

// tagToErrorCode maps a failed validation tag and field to an error code.
// Missing identity fields get their dedicated codes so clients can branch on
// them; everything else collapses to the generic missing-field code.
func tagToErrorCode(tag, field string) types.ErrorCode {
	if tag != "required" {
		return types.ErrCodeValidationMissingField
	}
	switch strings.ToLower(field) {
	case "openid", "owner":
		return types.ErrCodeValidationMissingOpenID
	case "taskid":
		return types.ErrCodeValidationMissingTaskID
	case "code":
		return types.ErrCodeValidationMissingCode
	default:
		return types.ErrCodeValidationMissingField
	}
}

// fieldErrorMessage renders a client-facing message for a field failure.
func fieldErrorMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
