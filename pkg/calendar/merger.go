package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

const (
	snippetHeader = "Meeting notes from meetnotes:"
	separator     = "\n\n---\n"

	actionCreate = "create"
	actionAppend = "append"
)

// SyncRequest selects the event times and an optional existing event.
type SyncRequest struct {
	Start         *time.Time
	End           *time.Time
	TargetEventID *string
}

// Merger syncs meetings to a calendar.
type Merger struct {
	repo    store.Repository
	api     API
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Merger) {
		m.logger = logger
	}
}

// WithMetrics records syncs on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Merger) {
		m.metrics = metrics
	}
}

// NewMerger creates a merger over repo and api.
func NewMerger(repo store.Repository, api API, opts ...Option) *Merger {
	m := &Merger{
		repo:   repo,
		api:    api,
		logger: logging.NewNopLogger(),
		tracer: observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.F("component", "calendar"))
	return m
}

// Sync creates a calendar event for the meeting, or appends its notes to
// req.TargetEventID, then stores the link on the meeting. Appending is
// idempotent: a description already containing the notes is left as is.
func (m *Merger) Sync(ctx context.Context, cred Credential, meetingID string, req SyncRequest) (*meeting.Meeting, error) {
	ctx = logging.ContextWithMeetingID(ctx, meetingID)
	ctx, span := m.tracer.StartCalendarSpan(ctx, meetingID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	mt, err := m.repo.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if cred.Empty() {
		return nil, fmt.Errorf("%w: no calendar access token", mnerrors.ErrCalendarUnavailable)
	}

	start, end := ResolveTimes(mt, req.Start, req.End)
	snippet := NotesSnippet(mt)

	action := actionCreate
	target := ""
	if req.TargetEventID != nil {
		target = strings.TrimSpace(*req.TargetEventID)
	}

	var (
		eventID  string
		original Event
	)
	if target == "" {
		created, err := m.api.CreateEvent(ctx, cred, Event{
			Title:       mt.Title,
			Description: snippet,
			Start:       start,
			End:         end,
		})
		if err != nil {
			return nil, m.fail(helper, action, "create event", err)
		}
		eventID = created.ID
	} else {
		action = actionAppend
		existing, err := m.api.GetEvent(ctx, cred, target)
		if err != nil {
			return nil, m.fail(helper, action, "load event "+target, err)
		}
		original = *existing
		original.ID = target

		title := existing.Title
		if strings.TrimSpace(title) == "" {
			title = mt.Title
		}
		updated, err := m.api.UpdateEvent(ctx, cred, Event{
			ID:          target,
			Title:       title,
			Description: AppendNotes(existing.Description, snippet),
			Start:       start,
			End:         end,
		})
		if err != nil {
			return nil, m.fail(helper, action, "update event "+target, err)
		}
		eventID = updated.ID
		if eventID == "" {
			eventID = target
		}
	}
	if eventID == "" {
		return nil, m.fail(helper, action, "sync", fmt.Errorf("calendar returned no event id"))
	}

	linked, err := m.repo.Modify(ctx, meetingID, func(stored *meeting.Meeting) error {
		stored.CalendarEventID = &eventID
		stored.StartTime = &start
		stored.EndTime = &end
		return nil
	})
	if err != nil {
		if action == actionCreate {
			m.compensate(ctx, cred, eventID)
		} else {
			m.restore(ctx, cred, original)
		}
		m.metrics.RecordCalendarSync(action, "store_error")
		return nil, fmt.Errorf("store calendar link: %w", err)
	}

	m.metrics.RecordCalendarSync(action, "success")
	helper.SetSuccess()
	m.logger.WithContext(ctx).Info("Calendar synced",
		logging.F("action", action),
		logging.F("event_id", eventID),
	)
	return linked, nil
}

// ListEvents returns calendar events in [from, to) for picking a sync target.
func (m *Merger) ListEvents(ctx context.Context, cred Credential, from, to time.Time, max int) ([]Event, error) {
	if cred.Empty() {
		return nil, fmt.Errorf("%w: no calendar access token", mnerrors.ErrCalendarUnavailable)
	}
	events, err := m.api.ListEvents(ctx, cred, from, to, max)
	if err != nil {
		return nil, mapError("list events", err)
	}
	return events, nil
}

// compensate removes an event created for a sync whose local write failed.
func (m *Merger) compensate(ctx context.Context, cred Credential, eventID string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := m.api.DeleteEvent(dctx, cred, eventID); err != nil {
		m.logger.WithContext(ctx).Warn("Failed to remove orphaned calendar event",
			logging.F("event_id", eventID),
			logging.Err(err),
		)
	}
}

// restore puts back the description and times of an event appended to by a
// sync whose local write failed.
func (m *Merger) restore(ctx context.Context, cred Credential, original Event) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if _, err := m.api.UpdateEvent(dctx, cred, original); err != nil {
		m.logger.WithContext(ctx).Warn("Failed to restore calendar event",
			logging.F("event_id", original.ID),
			logging.Err(err),
		)
	}
}

func (m *Merger) fail(helper *observability.SpanHelper, action, op string, err error) error {
	mapped := mapError(op, err)
	status := "unavailable"
	if mnerrors.IsNotFound(mapped) {
		status = "not_found"
	}
	m.metrics.RecordCalendarSync(action, status)
	helper.SetError(mapped, status, false)
	return mapped
}

// mapError keeps a missing event as NotFound and turns every other adapter
// failure into CalendarUnavailable.
func mapError(op string, err error) error {
	if mnerrors.IsNotFound(err) || mnerrors.IsCalendarUnavailable(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, mnerrors.ErrCalendarUnavailable, err)
}

// ResolveTimes picks the event times: the request, then the meeting's own
// times, then CreatedAt for the start. A missing end equals the start.
func ResolveTimes(m *meeting.Meeting, start, end *time.Time) (time.Time, time.Time) {
	var s time.Time
	switch {
	case start != nil && !start.IsZero():
		s = *start
	case m.StartTime != nil && !m.StartTime.IsZero():
		s = *m.StartTime
	default:
		s = m.CreatedAt
	}

	e := s
	switch {
	case end != nil && !end.IsZero():
		e = *end
	case m.EndTime != nil && !m.EndTime.IsZero():
		e = *m.EndTime
	}
	return s.UTC(), e.UTC()
}

// NotesSnippet renders the text appended to event descriptions.
func NotesSnippet(m *meeting.Meeting) string {
	lines := []string{
		snippetHeader,
		"Title: " + m.Title,
		"Created at: " + m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if summary := strings.TrimSpace(m.SummaryText()); summary != "" {
		lines = append(lines, "", "Summary:", summary)
	}
	return strings.Join(lines, "\n")
}

// AppendNotes appends snippet to description unless it is already present.
func AppendNotes(description, snippet string) string {
	switch {
	case strings.Contains(description, snippet):
		return description
	case description == "":
		return snippet
	default:
		return description + separator + snippet
	}
}
