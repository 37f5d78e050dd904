package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil, "summary"))
}

func TestClassifyError_Context(t *testing.T) {
	se := ClassifyError(fmt.Errorf("call: %w", context.DeadlineExceeded), "transcription")
	require.NotNil(t, se)
	assert.Equal(t, CodeTimeout, se.Code)
	assert.Equal(t, "transcription", se.Stage)
	assert.Equal(t, "operation timed out", se.Message)

	se = ClassifyError(context.Canceled, "summary")
	assert.Equal(t, CodeContextCancelled, se.Code)
	assert.Equal(t, "operation cancelled", se.Message)
}

func TestClassifyError_Patterns(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCode
	}{
		{"no api key configured", CodeNoKeyConfigured},
		{"HTTP 401 Unauthorized", CodeNoKeyConfigured},
		{"rate limit exceeded", CodeQuotaExceeded},
		{"HTTP 429 Too Many Requests", CodeQuotaExceeded},
		{"insufficient_quota", CodeQuotaExceeded},
		{"dial tcp: connection refused", CodeModelUnavailable},
		{"503 Service Unavailable", CodeModelUnavailable},
		{"unsupported format: audio/ogg", CodeUnsupportedFormat},
		{"read timed out", CodeTimeout},
		{"model returned garbage", CodeProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			se := ClassifyError(errors.New(tt.msg), "stage")
			assert.Equal(t, tt.want, se.Code)
			assert.Equal(t, tt.msg, se.Message)
		})
	}
}

func TestClassifyError_KeepsExistingCode(t *testing.T) {
	orig := NewStageError(CodeUnsupportedFormat, "", "bad container", nil)
	se := ClassifyError(fmt.Errorf("wrapped: %w", orig), "transcription")

	assert.Equal(t, CodeUnsupportedFormat, se.Code)
	assert.Equal(t, "transcription", se.Stage)
	assert.Empty(t, orig.Stage, "original error must not be mutated")
}

func TestStageError_MatchesTaxonomy(t *testing.T) {
	tests := []struct {
		code        ErrorCode
		unavailable bool
	}{
		{CodeNoKeyConfigured, true},
		{CodeQuotaExceeded, true},
		{CodeModelUnavailable, true},
		{CodeTimeout, false},
		{CodeUnsupportedFormat, false},
		{CodeParseError, false},
		{CodeProviderError, false},
		{CodeEmptyTranscript, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("generate: %w", NewStageError(tt.code, "qa", "x", nil))
			assert.Equal(t, tt.unavailable, IsAdapterUnavailable(err))
			assert.Equal(t, !tt.unavailable, IsAdapterError(err))
			assert.False(t, IsNotFound(err))
		})
	}
}

func TestStageError_Format(t *testing.T) {
	assert.Equal(t, "quota_exceeded: summary: slow down",
		NewStageError(CodeQuotaExceeded, "summary", "slow down", nil).Error())
	assert.Equal(t, "parse_error: bad json",
		NewStageError(CodeParseError, "", "bad json", nil).Error())
}

func TestStageError_UnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("blob: %w", ErrNotFound)
	err := NewStageError(CodeProviderError, "transcription", "audio missing", cause)
	assert.True(t, IsNotFound(err))
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "no_key_configured", ReasonOf(NewStageError(CodeNoKeyConfigured, "", "", nil)))
	assert.Equal(t, "provider_error", ReasonOf(errors.New("plain")))
}

func TestIsErrorRetryable(t *testing.T) {
	assert.True(t, IsErrorRetryable(NewStageError(CodeQuotaExceeded, "", "", nil)))
	assert.True(t, IsTimeout(ClassifyError(context.DeadlineExceeded, "qa")))
	assert.False(t, IsErrorRetryable(NewStageError(CodeParseError, "", "", nil)))
	assert.False(t, IsErrorRetryable(errors.New("plain")))
}
