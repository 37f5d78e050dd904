package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

var created = time.Date(2024, 4, 3, 9, 30, 0, 0, time.UTC)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"executive", ModeExecutive, true},
		{" Detailed ", ModeDetailed, true},
		{"DECISIONS", ModeDecisions, true},
		{"persona", ModePersona, true},
		{"haiku", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMode(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderPrompt_Summary(t *testing.T) {
	out, err := RenderPrompt(KindSummary, PromptInput{Transcript: "We agreed to ship Friday."})
	require.NoError(t, err)
	assert.Contains(t, out, "expert meeting summarizer")
	assert.True(t, strings.HasSuffix(out, "Transcript:\nWe agreed to ship Friday."))
}

func TestRenderPrompt_ActionItems(t *testing.T) {
	out, err := RenderPrompt(KindActionItems, PromptInput{Transcript: "Alice will send the deck."})
	require.NoError(t, err)
	assert.Contains(t, out, `"due_date": "YYYY-MM-DD or null"`)
	assert.Contains(t, out, "return an empty list []")
	assert.Contains(t, out, "Alice will send the deck.")
}

func TestRenderPrompt_QA(t *testing.T) {
	out, err := RenderPrompt(KindQA, PromptInput{
		Question: "When do we ship?",
		Candidates: []Candidate{
			{MeetingID: "m-1", Title: "Planning", CreatedAt: created, Excerpt: "Ship Friday."},
			{MeetingID: "m-2", Title: "Retro", CreatedAt: created},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "- id: m-1\n  title: Planning\n  created_at: 2024-04-03T09:30:00Z\n  excerpt: Ship Friday.")
	assert.Contains(t, out, "excerpt: No summary available.")
	assert.Contains(t, out, "based ONLY on this context")
	assert.Contains(t, out, "Question: When do we ship?")
}

func TestRenderPrompt_Topics(t *testing.T) {
	out, err := RenderPrompt(KindTopics, PromptInput{
		Candidates: []Candidate{{MeetingID: "m-1", Title: "Budget", CreatedAt: created}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "create 3-8 coherent clusters")
	assert.Contains(t, out, "summary: No summary")
	assert.Contains(t, out, `"meeting_ids"`)
}

func TestRenderPrompt_SmartSummaryModes(t *testing.T) {
	base := PromptInput{Title: "Standup", CreatedAt: created, Transcript: "Bob is blocked."}

	tests := []struct {
		mode Mode
		want string
	}{
		{ModeExecutive, "EXECUTIVE SUMMARY"},
		{ModeDetailed, "DETAILED NOTES"},
		{ModeDecisions, "DECISIONS vs DISCUSSION"},
		{ModePersona, "short recap specifically for Bob"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			in := base
			in.Mode = tt.mode
			in.PersonaName = "Bob"
			out, err := RenderPrompt(KindSmartSummary, in)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			assert.Contains(t, out, "Title: Standup")
			assert.Contains(t, out, "Existing summary (may be empty):\nN/A")
			assert.Contains(t, out, "Transcript:\nBob is blocked.")
		})
	}
}

func TestRenderPrompt_Invalid(t *testing.T) {
	_, err := RenderPrompt("poem", PromptInput{})
	assert.True(t, mnerrors.IsInvalidArgument(err))

	_, err = RenderPrompt(KindSmartSummary, PromptInput{Mode: "haiku"})
	assert.True(t, mnerrors.IsInvalidArgument(err))
}

func TestGenerate(t *testing.T) {
	var prompt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Messages[0].Content
		assert.Equal(t, 64, req.MaxTokens)
		assert.InDelta(t, 0.0, req.Temperature, 1e-9)
		chatReply(w, "\n- Ship Friday\n")
	})

	zero := 0.0
	out, err := c.Generate(context.Background(), testCred, KindSummary, PromptInput{Transcript: "ship friday"}, Options{MaxTokens: 64, Temperature: &zero})
	require.NoError(t, err)
	assert.Equal(t, "- Ship Friday", out)
	assert.Contains(t, prompt, "ship friday")
}

func TestGenerate_EmptyReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(w, "   ")
	})

	_, err := c.Generate(context.Background(), testCred, KindSummary, PromptInput{Transcript: "x"}, Options{})
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeProviderError, stageCode(t, err))
}
