package queues

import (
	"context"
	"errors"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMessageNotFound    = errors.New("message not found")
	ErrQueueClosed        = errors.New("queue is closed")
	ErrInvalidMessage     = errors.New("invalid message")
)

// ErrorCategory drives the retry decision for a failed job.
type ErrorCategory string

const (
	ErrorCategoryTransient  ErrorCategory = "transient"
	ErrorCategoryPermanent  ErrorCategory = "permanent"
	ErrorCategoryDependency ErrorCategory = "dependency"
)

// Job failure codes, recorded on dead-lettered messages.
const (
	ErrorCodeTimeout       = "TIMEOUT"
	ErrorCodeInvalidInput  = "INVALID_INPUT"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodePrecondition  = "PRECONDITION_FAILED"
	ErrorCodeDatabaseError = "DATABASE_ERROR"
	ErrorCodeLLMError      = "LLM_ERROR"
)

// ProcessingError is a handler failure tagged with its category.
type ProcessingError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt could succeed.
func (e *ProcessingError) IsRetryable() bool {
	return e.Category != ErrorCategoryPermanent
}

func NewTransientError(code, message string, err error) *ProcessingError {
	return &ProcessingError{ErrorCategoryTransient, code, message, err}
}

func NewPermanentError(code, message string, err error) *ProcessingError {
	return &ProcessingError{ErrorCategoryPermanent, code, message, err}
}

func NewDependencyError(code, message string, err error) *ProcessingError {
	return &ProcessingError{ErrorCategoryDependency, code, message, err}
}

// categories is checked in order; the first matching predicate wins.
var categories = []struct {
	match func(error) bool
	build func(error) *ProcessingError
}{
	{mnerrors.IsNotFound, func(err error) *ProcessingError {
		return NewPermanentError(ErrorCodeNotFound, "meeting not found", err)
	}},
	{func(err error) bool { return mnerrors.IsInvalidArgument(err) || mnerrors.IsValidation(err) }, func(err error) *ProcessingError {
		return NewPermanentError(ErrorCodeInvalidInput, "invalid job", err)
	}},
	{mnerrors.IsPreconditionFailed, func(err error) *ProcessingError {
		return NewPermanentError(ErrorCodePrecondition, "meeting not ready", err)
	}},
	// A missing key or exhausted quota does not fix itself between attempts.
	{mnerrors.IsAdapterUnavailable, func(err error) *ProcessingError {
		return NewPermanentError(ErrorCodeLLMError, "provider unavailable", err)
	}},
	{mnerrors.IsAdapterError, func(err error) *ProcessingError {
		return NewDependencyError(ErrorCodeLLMError, "provider failed", err)
	}},
	{func(err error) bool { return mnerrors.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) }, func(err error) *ProcessingError {
		return NewTransientError(ErrorCodeTimeout, "job timed out", err)
	}},
}

// Categorize maps a handler error onto a ProcessingError. Errors that are
// already categorized pass through; anything unrecognized is transient.
func Categorize(err error) *ProcessingError {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe
	}
	for _, c := range categories {
		if c.match(err) {
			return c.build(err)
		}
	}
	return NewTransientError(ErrorCodeDatabaseError, "job failed", err)
}
