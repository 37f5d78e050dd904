package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeRegistry_Completeness(t *testing.T) {
	allCodes := []ErrorCode{
		CodeNoKeyConfigured,
		CodeQuotaExceeded,
		CodeModelUnavailable,
		CodeTimeout,
		CodeContextCancelled,
		CodeUnsupportedFormat,
		CodeParseError,
		CodeProviderError,
		CodeEmptyTranscript,
	}

	for _, code := range allCodes {
		t.Run(string(code), func(t *testing.T) {
			info, ok := ErrorCodeRegistry[code]
			assert.True(t, ok)
			assert.Equal(t, code, info.Code)
			assert.NotEmpty(t, info.Description)
			assert.NotEmpty(t, info.SuggestedAction)
		})
	}
	assert.Len(t, ErrorCodeRegistry, len(allCodes))
}

func TestRegistryLookups_Unknown(t *testing.T) {
	assert.False(t, IsRetryable("bogus"))
	assert.False(t, IsUnavailableCode("bogus"))
	assert.Equal(t, "Unknown error", GetDescription("bogus"))
	assert.Equal(t, "Check server logs for more details", GetSuggestedAction("bogus"))
}
