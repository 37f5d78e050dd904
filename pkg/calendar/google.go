package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/otherjamesbrown/meetnotes/pkg/buildinfo"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
)

const (
	// DefaultBaseURL is the Google Calendar v3 API root.
	DefaultBaseURL = "https://www.googleapis.com/calendar/v3"
	// DefaultCalendarID targets the user's primary calendar.
	DefaultCalendarID = "primary"
)

// GoogleConfig holds Google Calendar client settings.
type GoogleConfig struct {
	BaseURL    string
	CalendarID string

	// Timeout bounds one call including retries.
	Timeout        time.Duration
	MaxElapsedTime time.Duration
}

// GoogleClient talks to the Google Calendar REST API, or any service that
// speaks its events resource.
type GoogleClient struct {
	cfg    GoogleConfig
	http   *http.Client
	logger logging.Logger
}

// GoogleOption configures a GoogleClient.
type GoogleOption func(*GoogleClient)

// WithGoogleLogger sets the logger.
func WithGoogleLogger(logger logging.Logger) GoogleOption {
	return func(c *GoogleClient) {
		c.logger = logger
	}
}

// WithGoogleHTTPClient replaces the HTTP client.
func WithGoogleHTTPClient(hc *http.Client) GoogleOption {
	return func(c *GoogleClient) {
		c.http = hc
	}
}

// NewGoogleClient creates a client. Empty fields take their defaults.
func NewGoogleClient(cfg GoogleConfig, opts ...GoogleOption) *GoogleClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CalendarID == "" {
		cfg.CalendarID = DefaultCalendarID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = 5 * time.Second
	}

	c := &GoogleClient{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "google_calendar"))
	return c
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
}

type googleEventList struct {
	Items []googleEvent `json:"items"`
}

func toGoogle(ev Event) googleEvent {
	return googleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &eventTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &eventTime{DateTime: ev.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
}

func fromGoogle(g googleEvent) Event {
	ev := Event{
		ID:          g.ID,
		Title:       g.Summary,
		Description: g.Description,
		HTMLLink:    g.HTMLLink,
		Start:       parseEventTime(g.Start),
	}
	ev.End = parseEventTime(g.End)
	if ev.End.IsZero() {
		ev.End = ev.Start
	}
	return ev
}

// parseEventTime reads a timed or all-day event boundary.
func parseEventTime(t *eventTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	if t.DateTime != "" {
		if ts, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return ts.UTC()
		}
	}
	if t.Date != "" {
		if ts, err := time.Parse("2006-01-02", t.Date); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func (c *GoogleClient) eventsURL(id string) string {
	u := c.cfg.BaseURL + "/calendars/" + url.PathEscape(c.cfg.CalendarID) + "/events"
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *GoogleClient) CreateEvent(ctx context.Context, cred Credential, ev Event) (*Event, error) {
	var out googleEvent
	if err := c.call(ctx, cred, http.MethodPost, c.eventsURL(""), toGoogle(ev), &out); err != nil {
		return nil, err
	}
	created := fromGoogle(out)
	return &created, nil
}

func (c *GoogleClient) GetEvent(ctx context.Context, cred Credential, id string) (*Event, error) {
	var out googleEvent
	if err := c.call(ctx, cred, http.MethodGet, c.eventsURL(id), nil, &out); err != nil {
		return nil, err
	}
	ev := fromGoogle(out)
	return &ev, nil
}

// UpdateEvent patches the event so fields the merger does not manage, such
// as attendees, are preserved.
func (c *GoogleClient) UpdateEvent(ctx context.Context, cred Credential, ev Event) (*Event, error) {
	var out googleEvent
	if err := c.call(ctx, cred, http.MethodPatch, c.eventsURL(ev.ID), toGoogle(ev), &out); err != nil {
		return nil, err
	}
	updated := fromGoogle(out)
	return &updated, nil
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, cred Credential, id string) error {
	return c.call(ctx, cred, http.MethodDelete, c.eventsURL(id), nil, nil)
}

func (c *GoogleClient) ListEvents(ctx context.Context, cred Credential, from, to time.Time, max int) ([]Event, error) {
	q := url.Values{}
	q.Set("timeMin", from.UTC().Format(time.RFC3339))
	if !to.IsZero() {
		q.Set("timeMax", to.UTC().Format(time.RFC3339))
	}
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	if max > 0 {
		q.Set("maxResults", strconv.Itoa(max))
	}

	var out googleEventList
	if err := c.call(ctx, cred, http.MethodGet, c.eventsURL("")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(out.Items))
	for _, g := range out.Items {
		ev := fromGoogle(g)
		if ev.Title == "" {
			ev.Title = "(No title)"
		}
		events = append(events, ev)
	}
	return events, nil
}

// call performs one JSON request, retrying 429 and 5xx responses.
func (c *GoogleClient) call(ctx context.Context, cred Credential, method, u string, in, out interface{}) error {
	if cred.Empty() {
		return fmt.Errorf("%w: no calendar access token", mnerrors.ErrCalendarUnavailable)
	}

	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		payload = data
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	attempt := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
		req.Header.Set("User-Agent", buildinfo.UserAgent())
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return backoff.Permanent(fmt.Errorf("event: %w", mnerrors.ErrNotFound))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("calendar returned status %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("calendar returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode calendar response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.cfg.MaxElapsedTime

	return backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Debug("Calendar request failed, retrying",
			logging.F("method", method),
			logging.F("wait", wait),
			logging.Err(err),
		)
	})
}

var _ API = (*GoogleClient)(nil)
