package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name     string
		sentinel error
		check    func(error) bool
	}{
		{"not found", ErrNotFound, IsNotFound},
		{"conflict", ErrConflict, IsConflict},
		{"validation", ErrValidation, IsValidation},
		{"invalid argument", ErrInvalidArgument, IsInvalidArgument},
		{"precondition failed", ErrPreconditionFailed, IsPreconditionFailed},
		{"index out of range", ErrIndexOutOfRange, IsIndexOutOfRange},
		{"adapter unavailable", ErrAdapterUnavailable, IsAdapterUnavailable},
		{"adapter error", ErrAdapterError, IsAdapterError},
		{"calendar unavailable", ErrCalendarUnavailable, IsCalendarUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.sentinel))
			assert.True(t, tt.check(fmt.Errorf("op: %w", tt.sentinel)))
			assert.True(t, tt.check(fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", tt.sentinel))))
			assert.False(t, tt.check(nil))
			assert.False(t, tt.check(errors.New("something else")))
		})
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{
		ErrNotFound, ErrConflict, ErrValidation, ErrInvalidArgument, ErrPreconditionFailed,
		ErrIndexOutOfRange, ErrAdapterUnavailable, ErrAdapterError, ErrCalendarUnavailable,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}
