package errors

import (
	"errors"
	"fmt"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid caller input.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeForeignKey indicates a foreign key constraint violation.
	ErrCodeForeignKey ErrorCode = "foreign_key"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeTransient marks a retryable agent or infrastructure failure.
	ErrCodeTransient ErrorCode = "transient_error"
	// ErrCodeInvalidOutput marks agent output that could not be used at all (unparseable, empty).
	ErrCodeInvalidOutput ErrorCode = "validation_error"
	// ErrCodeValidationExhausted marks a step whose retry budget ran out while output stayed invalid.
	ErrCodeValidationExhausted ErrorCode = "validation_exhausted"
	// ErrCodeRefinementLimit marks an attempt to refine past the configured round limit.
	ErrCodeRefinementLimit ErrorCode = "refinement_limit_exceeded"
	// ErrCodeJobInFlight marks a submission rejected because another job for the subject is running.
	ErrCodeJobInFlight ErrorCode = "job_already_in_flight"
	// ErrCodeAlreadyTerminal marks a cancel on a job that already finished.
	ErrCodeAlreadyTerminal ErrorCode = "already_terminal"
	// ErrCodePartialFailure marks a fan-out batch below its completeness threshold.
	ErrCodePartialFailure ErrorCode = "partial_failure"
	// ErrCodeFatalConfig marks misconfiguration or a gate violation that retries cannot fix.
	ErrCodeFatalConfig ErrorCode = "fatal_configuration_error"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
	// Step names the pipeline step the error originated from (optional)
	Step string
	// Violations carries the last schema violations (ValidationExhausted, InvalidOutput)
	Violations []model.Violation
	// TaskIDs lists failing fan-out tasks (PartialFailure)
	TaskIDs []string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a retryable failure.
func Transient(err error, message string) *AppError {
	return &AppError{Code: ErrCodeTransient, Message: message, Cause: err}
}

// InvalidOutput reports agent output that failed before schema checks could run.
func InvalidOutput(err error, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidOutput, Message: message, Cause: err}
}

// FatalConfig reports an unrecoverable configuration or gate error.
func FatalConfig(message string) *AppError {
	return &AppError{Code: ErrCodeFatalConfig, Message: message}
}

// FatalConfigf is FatalConfig with a formatted message.
func FatalConfigf(format string, args ...any) *AppError {
	return FatalConfig(fmt.Sprintf(format, args...))
}

// ValidationExhausted reports a step that never produced valid output.
func ValidationExhausted(step string, attempts int, last []model.Violation) *AppError {
	return &AppError{
		Code:       ErrCodeValidationExhausted,
		Message:    fmt.Sprintf("step %s produced invalid output after %d attempts", step, attempts),
		Step:       step,
		Violations: last,
	}
}

// RefinementLimitExceeded reports a refinement beyond the configured round limit.
func RefinementLimitExceeded(subjectID string, limit int) *AppError {
	return &AppError{
		Code:    ErrCodeRefinementLimit,
		Message: fmt.Sprintf("subject %s reached the refinement limit of %d rounds", subjectID, limit),
	}
}

// JobAlreadyInFlight reports a submission that collides with a running job.
func JobAlreadyInFlight(existingID string) *AppError {
	return &AppError{
		Code:    ErrCodeJobInFlight,
		Message: fmt.Sprintf("job %s is already in flight for this subject", existingID),
	}
}

// AlreadyTerminal reports a cancel on a finished job.
func AlreadyTerminal(id string, status model.JobStatus) *AppError {
	return &AppError{
		Code:    ErrCodeAlreadyTerminal,
		Message: fmt.Sprintf("job %s is already %s", id, status),
	}
}

// PartialFailure reports a fan-out batch that fell below its completeness threshold.
func PartialFailure(completeness, threshold float64, taskIDs []string) *AppError {
	return &AppError{
		Code:    ErrCodePartialFailure,
		Message: fmt.Sprintf("completeness %.2f below threshold %.2f", completeness, threshold),
		TaskIDs: taskIDs,
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithStep returns err annotated with the originating step. Non-AppErrors are wrapped as internal.
func WithStep(err error, step string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Step != "" {
			return err
		}
		cp := *appErr
		cp.Step = step
		return &cp
	}
	return &AppError{Code: ErrCodeInternal, Message: "step " + step + " failed", Cause: err, Step: step}
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsAppError reports whether err carries the given code.
func IsAppError(err error, code ErrorCode) bool {
	return isCode(err, code)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsTransient checks if an error is retryable.
func IsTransient(err error) bool {
	return isCode(err, ErrCodeTransient)
}

// IsInvalidOutput checks if an error reports unusable agent output.
func IsInvalidOutput(err error) bool {
	return isCode(err, ErrCodeInvalidOutput)
}

// IsFatalConfig checks if an error is a fatal configuration error.
func IsFatalConfig(err error) bool {
	return isCode(err, ErrCodeFatalConfig)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// ToJobError converts a terminal handler error into the record stored on a failed job.
func ToJobError(err error) *model.JobError {
	if err == nil {
		return nil
	}
	je := &model.JobError{Kind: string(ErrCodeInternal), Message: err.Error()}
	var appErr *AppError
	if errors.As(err, &appErr) {
		je.Kind = string(appErr.Code)
		je.Step = appErr.Step
		je.Violations = appErr.Violations
		je.TaskIDs = appErr.TaskIDs
		switch appErr.Code {
		case ErrCodeTimeout:
			je.Kind = string(ErrCodeTransient)
		case ErrCodeNotFound, ErrCodeValidation, ErrCodeConflict, ErrCodeForeignKey:
			je.Kind = string(ErrCodeFatalConfig)
		}
	}
	return je
}
