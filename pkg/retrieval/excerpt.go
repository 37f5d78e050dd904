package retrieval

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// Truncator cuts text to at most maxTokens tokens.
type Truncator func(text string, maxTokens int) string

var (
	encOnce  sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// TokenTruncate counts cl100k_base tokens, falling back to RuneTruncate when
// the encoding cannot be loaded.
func TokenTruncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	enc := loadEncoding()
	if enc == nil {
		return RuneTruncate(text, maxTokens)
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	// A token boundary can fall inside a multi-byte rune.
	return strings.ToValidUTF8(enc.Decode(tokens[:maxTokens]), "") + "..."
}

// RuneTruncate estimates four runes per token.
func RuneTruncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}

// excerpt returns the text offered to the model for m. The summary comes
// first; withTranscript appends the transcript head after it. Meetings
// without a summary use the transcript alone.
func excerpt(m *meeting.Meeting, maxTokens int, withTranscript bool, truncate Truncator) string {
	summary := strings.TrimSpace(m.SummaryText())
	transcript := strings.TrimSpace(m.TranscriptText())

	var text string
	switch {
	case summary != "" && withTranscript && transcript != "":
		text = summary + "\n\nTranscript: " + transcript
	case summary != "":
		text = summary
	default:
		text = transcript
	}
	return truncate(text, maxTokens)
}
