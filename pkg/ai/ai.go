// Package ai contains the transcription and generation adapters.
//
// Both adapters talk to an OpenAI-compatible HTTP API. The caller's
// Credential is passed on every call and is never read from process state.
// Failures are returned as *mnerrors.StageError values so the pipeline can
// record a degraded stage with a short reason.
package ai

import (
	"context"
	"strings"
	"time"
)

// Credential carries the caller's provider key.
type Credential struct {
	APIKey string
}

// Empty reports whether no key is present.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.APIKey) == ""
}

// PromptKind selects the prompt template used by Generate.
type PromptKind string

const (
	KindSummary      PromptKind = "summary"
	KindActionItems  PromptKind = "action_items"
	KindQA           PromptKind = "qa"
	KindTopics       PromptKind = "topics"
	KindSmartSummary PromptKind = "smart_summary"
)

// Mode is the smart summary view.
type Mode string

const (
	ModeExecutive Mode = "executive"
	ModeDetailed  Mode = "detailed"
	ModeDecisions Mode = "decisions"
	ModePersona   Mode = "persona"
)

// ParseMode returns the mode named by s, ignoring case and surrounding space.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeExecutive, ModeDetailed, ModeDecisions, ModePersona:
		return m, true
	}
	return "", false
}

// Candidate is one meeting offered to the model as retrieval context.
type Candidate struct {
	MeetingID string
	Title     string
	CreatedAt time.Time
	Excerpt   string
}

// PromptInput is the material rendered into a prompt. Each kind reads the
// fields it needs and ignores the rest.
type PromptInput struct {
	Title       string
	CreatedAt   time.Time
	Transcript  string
	Summary     string
	Question    string
	Mode        Mode
	PersonaName string
	Candidates  []Candidate
}

// Options tunes a single generation call. Zero values use the client defaults.
type Options struct {
	MaxTokens   int
	Temperature *float64
}

// Transcriber turns stored audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, cred Credential, audioRef string) (string, error)
}

// Generator produces text for a prompt kind.
type Generator interface {
	Generate(ctx context.Context, cred Credential, kind PromptKind, input PromptInput, opts Options) (string, error)
}
