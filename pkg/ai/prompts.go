package ai

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

const summaryPrompt = `You are an expert meeting summarizer. Given the following transcript, produce a clear, concise summary in markdown. Focus on key decisions, topics discussed, and outcomes.

Transcript:
{{.Transcript}}`

const actionItemsPrompt = `You are an assistant that extracts ACTION ITEMS from meeting transcripts.
Return ONLY valid JSON in this exact format:

[
  {
    "task": "string, the actual action",
    "owner": "string or null",
    "due_date": "YYYY-MM-DD or null",
    "status": "open"
  }
]

If there are no action items, return an empty list [].

Transcript:
{{.Transcript}}
`

const qaPrompt = `You are an assistant that answers questions about past meetings.
You are given a list of meetings with id, title, created_at, and an excerpt.
Answer the user's question based ONLY on this context.
If you truly cannot answer from the data, say you don't know.
Respond in JSON with this exact shape:
{
  "answer": "short markdown answer",
  "references": [ { "meeting_id": "..." } ]
}

Meetings:
{{range $i, $c := .Candidates}}{{if $i}}
{{end}}- id: {{$c.MeetingID}}
  title: {{$c.Title}}
  created_at: {{iso $c.CreatedAt}}
  excerpt: {{or $c.Excerpt "No summary available."}}
{{end}}
Question: {{.Question}}
`

const topicsPrompt = `You are an assistant that groups related meetings into topics.
Given the list of meetings below, create 3-8 coherent clusters.
Respond ONLY as JSON with this shape:
{ "clusters": [
  {
    "name": "Short topic name",
    "description": "Optional one-sentence description",
    "meeting_ids": ["id1", "id2"]
  }
]}

Meetings:
{{range $i, $c := .Candidates}}{{if $i}}
{{end}}- id: {{$c.MeetingID}}
  title: {{$c.Title}}
  created_at: {{iso $c.CreatedAt}}
  summary: {{or $c.Excerpt "No summary"}}
{{end}}`

const smartSummaryPrompt = `You are an expert meeting note-taker.
{{- if eq .Mode "executive"}}
Write an EXECUTIVE SUMMARY for a busy leader.
- 3-7 concise bullet points.
- Focus on decisions, outcomes, and major risks.
- Do not include implementation details.
{{- else if eq .Mode "detailed"}}
Write DETAILED NOTES from this meeting in markdown.
- Use sections and subheadings.
- Capture key arguments, options considered, and rationale.
- Include a short 'Decisions' section and a 'Next Steps' section.
{{- else if eq .Mode "decisions"}}
Highlight DECISIONS vs DISCUSSION in markdown.
- Create two main sections: 'Decisions' and 'Discussion'.
- In 'Decisions', list only clear decisions and owners.
- In 'Discussion', summarize the main points and open questions.
{{- else if eq .Mode "persona"}}
Write a short recap specifically for {{.PersonaName}}.
- Focus only on information, decisions, and action items relevant to them.
- Use a friendly, concise tone.
- Mention what they should pay attention to and any tasks they own.
{{- end}}

Meeting content:
Title: {{.Title}}
Created at: {{iso .CreatedAt}}

Existing summary (may be empty):
{{or .Summary "N/A"}}

Transcript:
{{.Transcript}}
`

var funcs = template.FuncMap{
	"iso": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

var prompts = map[PromptKind]*template.Template{
	KindSummary:      template.Must(template.New(string(KindSummary)).Funcs(funcs).Parse(summaryPrompt)),
	KindActionItems:  template.Must(template.New(string(KindActionItems)).Funcs(funcs).Parse(actionItemsPrompt)),
	KindQA:           template.Must(template.New(string(KindQA)).Funcs(funcs).Parse(qaPrompt)),
	KindTopics:       template.Must(template.New(string(KindTopics)).Funcs(funcs).Parse(topicsPrompt)),
	KindSmartSummary: template.Must(template.New(string(KindSmartSummary)).Funcs(funcs).Parse(smartSummaryPrompt)),
}

// RenderPrompt renders the prompt for kind.
func RenderPrompt(kind PromptKind, input PromptInput) (string, error) {
	tmpl, ok := prompts[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown prompt kind %q", mnerrors.ErrInvalidArgument, kind)
	}
	if kind == KindSmartSummary {
		if _, ok := ParseMode(string(input.Mode)); !ok {
			return "", fmt.Errorf("%w: unknown summary mode %q", mnerrors.ErrInvalidArgument, input.Mode)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, input); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", kind, err)
	}
	return buf.String(), nil
}
