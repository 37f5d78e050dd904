// Package meeting defines the meeting record shared by the pipeline, the
// stores and the retrieval engine.
package meeting

import (
	"strings"
	"time"
)

// Status is the processing state of a meeting. A meeting only moves forward
// through the states; there is no failed state.
type Status string

const (
	StatusRecorded     Status = "recorded"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusSummarizing  Status = "summarizing"
	StatusReady        Status = "ready"
)

var statusRank = map[Status]int{
	StatusRecorded:     0,
	StatusTranscribing: 1,
	StatusTranscribed:  2,
	StatusSummarizing:  3,
	StatusReady:        4,
}

// Rank returns the position of s in the processing order, or -1 if unknown.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Stage names a unit of processing whose outcome is recorded independently.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageSummary       Stage = "summary"
	StageActionItems   Stage = "action_items"
)

// Outcome is ok or degraded.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
)

// ReasonNoTranscript is recorded for stages skipped because transcription produced nothing.
const ReasonNoTranscript = "no_transcript"

// StageOutcome records how a stage finished.
type StageOutcome struct {
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// ItemStatus is the completion state of an action item.
type ItemStatus string

const (
	ItemOpen ItemStatus = "open"
	ItemDone ItemStatus = "done"
)

// Normalize returns s when it is open or done, and open otherwise.
func (s ItemStatus) Normalize() ItemStatus {
	switch ItemStatus(strings.ToLower(strings.TrimSpace(string(s)))) {
	case ItemDone:
		return ItemDone
	default:
		return ItemOpen
	}
}

// ActionItem is a follow-up extracted from or edited on a meeting.
type ActionItem struct {
	Task    string     `json:"task"`
	Owner   *string    `json:"owner"`
	DueDate *string    `json:"due_date"`
	Status  ItemStatus `json:"status"`
}

// Meeting is a recorded meeting and everything derived from it.
type Meeting struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	StartTime       *time.Time             `json:"start_time,omitempty"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
	Status          Status                 `json:"status"`
	Transcript      *string                `json:"transcript"`
	Summary         *string                `json:"summary"`
	ActionItems     []ActionItem           `json:"action_items"`
	Outcomes        map[Stage]StageOutcome `json:"outcomes,omitempty"`
	AudioRef        string                 `json:"audio_ref"`
	CalendarEventID *string                `json:"calendar_event_id,omitempty"`
	IsFavorite      bool                   `json:"is_favorite"`
	FolderID        *string                `json:"folder_id,omitempty"`
}

// Advance moves the meeting to next if that is forward in the processing order.
// It reports whether the status changed.
func (m *Meeting) Advance(next Status) bool {
	if next.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = next
	return true
}

// RecordOutcome stores the outcome of a stage.
func (m *Meeting) RecordOutcome(stage Stage, outcome Outcome, reason string, at time.Time) {
	if m.Outcomes == nil {
		m.Outcomes = make(map[Stage]StageOutcome)
	}
	m.Outcomes[stage] = StageOutcome{Outcome: outcome, Reason: reason, At: at}
}

// TranscriptText returns the transcript, or "" when there is none.
func (m *Meeting) TranscriptText() string {
	return deref(m.Transcript)
}

// SummaryText returns the summary, or "" when there is none.
func (m *Meeting) SummaryText() string {
	return deref(m.Summary)
}

// HasTranscript reports whether the meeting has a non-blank transcript.
func (m *Meeting) HasTranscript() bool {
	return strings.TrimSpace(m.TranscriptText()) != ""
}

// HasText reports whether the meeting has a non-blank transcript or summary.
func (m *Meeting) HasText() bool {
	return m.HasTranscript() || strings.TrimSpace(m.SummaryText()) != ""
}

// Reference returns the lightweight pointer used in answers and topic clusters.
func (m *Meeting) Reference() Reference {
	return Reference{MeetingID: m.ID, Title: m.Title, CreatedAt: m.CreatedAt}
}

// Clone returns a deep copy of m.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	c := *m
	c.StartTime = cloneTime(m.StartTime)
	c.EndTime = cloneTime(m.EndTime)
	c.Transcript = cloneString(m.Transcript)
	c.Summary = cloneString(m.Summary)
	c.CalendarEventID = cloneString(m.CalendarEventID)
	c.FolderID = cloneString(m.FolderID)
	c.ActionItems = CloneItems(m.ActionItems)
	if m.Outcomes != nil {
		c.Outcomes = make(map[Stage]StageOutcome, len(m.Outcomes))
		for k, v := range m.Outcomes {
			c.Outcomes[k] = v
		}
	}
	return &c
}

// CloneItems returns a deep copy of items. A nil slice stays nil.
func CloneItems(items []ActionItem) []ActionItem {
	if items == nil {
		return nil
	}
	out := make([]ActionItem, len(items))
	for i, it := range items {
		out[i] = ActionItem{
			Task:    it.Task,
			Owner:   cloneString(it.Owner),
			DueDate: cloneString(it.DueDate),
			Status:  it.Status,
		}
	}
	return out
}

// Reference points at a meeting from an answer or topic cluster.
type Reference struct {
	MeetingID string    `json:"meeting_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// CalendarLink is the association between a meeting and an external calendar event.
type CalendarLink struct {
	EventID string    `json:"event_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Link returns the meeting's calendar link, if any.
func (m *Meeting) Link() *CalendarLink {
	if m.CalendarEventID == nil || *m.CalendarEventID == "" {
		return nil
	}
	link := &CalendarLink{EventID: *m.CalendarEventID}
	if m.StartTime != nil {
		link.Start = *m.StartTime
	}
	if m.EndTime != nil {
		link.End = *m.EndTime
	}
	return link
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// NonEmptyPtr returns nil for a blank string and a pointer to the trimmed value otherwise.
func NonEmptyPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
