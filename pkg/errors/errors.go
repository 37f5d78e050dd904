// Package errors defines the error taxonomy shared by every meetnotes package.
//
// Sentinel errors describe the condition; callers check them with errors.Is or
// the Is* helpers. Adapter failures are carried as *StageError values, which
// match ErrAdapterUnavailable or ErrAdapterError depending on their code.
//
// Usage:
//
//	import mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
//
//	if mnerrors.IsNotFound(err) {
//	    // handle missing meeting
//	}
package errors

import "errors"

var (
	// ErrNotFound indicates the requested meeting, event or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate id).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid configuration or stored data.
	ErrValidation = errors.New("validation error")

	// ErrInvalidArgument indicates a caller supplied a malformed or missing argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPreconditionFailed indicates the meeting is not in a state that allows the operation,
	// such as re-extracting action items without a transcript.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrIndexOutOfRange indicates an action item index outside the stored list.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrAdapterUnavailable indicates an AI provider could not be used at all:
	// no key configured, quota exhausted or the service unreachable.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrAdapterError indicates an AI provider was reached but the call failed.
	ErrAdapterError = errors.New("adapter error")

	// ErrCalendarUnavailable indicates the calendar service rejected or could not serve a call.
	ErrCalendarUnavailable = errors.New("calendar unavailable")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidArgument reports whether any error in err's chain is ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsPreconditionFailed reports whether any error in err's chain is ErrPreconditionFailed.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsIndexOutOfRange reports whether any error in err's chain is ErrIndexOutOfRange.
func IsIndexOutOfRange(err error) bool {
	return errors.Is(err, ErrIndexOutOfRange)
}

// IsAdapterUnavailable reports whether err is an unusable-provider failure.
func IsAdapterUnavailable(err error) bool {
	return errors.Is(err, ErrAdapterUnavailable)
}

// IsAdapterError reports whether err is a failed provider call.
func IsAdapterError(err error) bool {
	return errors.Is(err, ErrAdapterError)
}

// IsCalendarUnavailable reports whether any error in err's chain is ErrCalendarUnavailable.
func IsCalendarUnavailable(err error) bool {
	return errors.Is(err, ErrCalendarUnavailable)
}
