package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Unavailable     bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeNoKeyConfigured: {
		Code:            CodeNoKeyConfigured,
		Unavailable:     true,
		Description:     "No usable AI provider key",
		SuggestedAction: "Store a key: meetnotes auth set-key, or set MEETNOTES_LLM_API_KEY",
	},
	CodeQuotaExceeded: {
		Code:            CodeQuotaExceeded,
		Retryable:       true,
		Unavailable:     true,
		Description:     "Provider quota or rate limit exhausted",
		SuggestedAction: "Wait for the quota to reset, then re-run the meeting",
	},
	CodeModelUnavailable: {
		Code:            CodeModelUnavailable,
		Retryable:       true,
		Unavailable:     true,
		Description:     "AI provider unreachable",
		SuggestedAction: "Check llm.base_url in config and provider status",
	},
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		Description:     "Provider call exceeded time limit",
		SuggestedAction: "Raise llm.timeout or llm.transcription_timeout",
	},
	CodeContextCancelled: {
		Code:            CodeContextCancelled,
		Description:     "Operation cancelled by caller",
		SuggestedAction: "Re-run the operation if the cancellation was not intended",
	},
	CodeUnsupportedFormat: {
		Code:            CodeUnsupportedFormat,
		Description:     "Audio format rejected by the transcription provider",
		SuggestedAction: "Convert the recording to webm, mp3, m4a or wav",
	},
	CodeParseError: {
		Code:            CodeParseError,
		Description:     "Provider output could not be parsed",
		SuggestedAction: "Retry extraction; the model returned malformed output",
	},
	CodeProviderError: {
		Code:            CodeProviderError,
		Description:     "Unclassified provider failure",
		SuggestedAction: "Check server logs for the provider response",
	},
	CodeEmptyTranscript: {
		Code:            CodeEmptyTranscript,
		Description:     "Transcription succeeded but returned no speech",
		SuggestedAction: "Check the recording has audible speech",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// IsUnavailableCode returns true if the code means the provider cannot be used at all.
func IsUnavailableCode(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Unavailable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check server logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
