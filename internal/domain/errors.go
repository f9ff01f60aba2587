package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced in case documents and API responses
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyRunning   = "ALREADY_RUNNING"
	ErrCodeStageTimeout     = "STAGE_TIMEOUT"
	ErrCodeStageValidation  = "STAGE_VALIDATION_FAILED"
	ErrCodeStageConflict    = "STAGE_CONFLICT"
	ErrCodeUploadValidation = "VALIDATION_FAILED"
)

// Sentinel errors for registry- and store-level failures
var (
	// ErrNotFound indicates an unknown case or item identifier.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning indicates the per-case lock is held by another
	// execute or reset; callers must poll and retry.
	ErrAlreadyRunning = errors.New("case already running")

	// ErrConflict indicates the optimistic-concurrency check failed: the
	// case's status did not match the expected prior status at write time.
	ErrConflict = errors.New("status conflict")
)

// ValidationError describes a rejected layer commit or upload. It carries the
// field or item the validation tripped on so failed output stays diagnosable.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StageError is a stage-local failure: a collaborator timeout, malformed
// output, or a commit conflict. The code is recorded verbatim on the case
// document when the failure is fatal.
type StageError struct {
	Stage Stage
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a StageError wrapping the underlying cause.
func NewStageError(stage Stage, code string, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Err: err}
}

// AsStageError unwraps err into a StageError when possible.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
