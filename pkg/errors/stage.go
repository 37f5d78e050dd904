package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies an adapter failure.
type ErrorCode string

const (
	CodeNoKeyConfigured   ErrorCode = "no_key_configured"
	CodeQuotaExceeded     ErrorCode = "quota_exceeded"
	CodeModelUnavailable  ErrorCode = "model_unavailable"
	CodeTimeout           ErrorCode = "timeout"
	CodeContextCancelled  ErrorCode = "context_cancelled"
	CodeUnsupportedFormat ErrorCode = "unsupported_format"
	CodeParseError        ErrorCode = "parse_error"
	CodeProviderError     ErrorCode = "provider_error"
	CodeEmptyTranscript   ErrorCode = "empty_transcript"
)

// StageError is a structured failure from an adapter call made on behalf of a stage.
type StageError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Cause    error
}

// NewStageError builds a StageError with the given code.
func NewStageError(code ErrorCode, stage, message string, cause error) *StageError {
	return &StageError{Code: code, Stage: stage, Message: message, Cause: cause}
}

func (e *StageError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Is matches the taxonomy sentinel implied by the error code.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrAdapterUnavailable:
		return e.Unavailable()
	case ErrAdapterError:
		return !e.Unavailable()
	}
	return false
}

// Unavailable reports whether the failure means the provider cannot be used at all.
func (e *StageError) Unavailable() bool {
	return IsUnavailableCode(e.Code)
}

// Reason returns the short machine-readable reason recorded on degraded stages.
func (e *StageError) Reason() string {
	return string(e.Code)
}

// ClassifyError inspects an error and returns a *StageError with the appropriate code.
// An error that already carries a StageError keeps its code; the stage is filled in
// when missing. Unknown errors become CodeProviderError.
func ClassifyError(err error, stage string) *StageError {
	if err == nil {
		return nil
	}

	var existing *StageError
	if errors.As(err, &existing) {
		classified := *existing
		if classified.Stage == "" {
			classified.Stage = stage
		}
		return &classified
	}

	se := &StageError{Stage: stage, Cause: err, Message: err.Error()}

	if errors.Is(err, context.DeadlineExceeded) {
		se.Code = CodeTimeout
		se.Message = "operation timed out"
		return se
	}
	if errors.Is(err, context.Canceled) {
		se.Code = CodeContextCancelled
		se.Message = "operation cancelled"
		return se
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "no api key") || strings.Contains(lower, "api key not configured") ||
		strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		se.Code = CodeNoKeyConfigured
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient_quota"):
		se.Code = CodeQuotaExceeded
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "503") || strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "no such host"):
		se.Code = CodeModelUnavailable
	case strings.Contains(lower, "unsupported format") || strings.Contains(lower, "invalid file format") || strings.Contains(lower, "415"):
		se.Code = CodeUnsupportedFormat
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		se.Code = CodeTimeout
	default:
		se.Code = CodeProviderError
	}
	return se
}

// IsTimeout returns true if the error is a timed-out adapter call.
func IsTimeout(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code == CodeTimeout
	}
	return false
}

// IsErrorRetryable returns true if the error is a transient adapter failure.
func IsErrorRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return IsRetryable(se.Code)
	}
	return false
}

// ReasonOf returns the degraded-stage reason for err, or provider_error when err
// carries no code.
func ReasonOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason()
	}
	return string(CodeProviderError)
}
