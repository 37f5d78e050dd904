// Package calendar links meetings to external calendar events.
//
// The Merger either creates a new event carrying the meeting notes or appends
// the notes to an existing event. The meeting is written only after the
// calendar call succeeds.
package calendar

import (
	"context"
	"strings"
	"time"
)

// Credential carries the caller's calendar access token.
type Credential struct {
	AccessToken string
}

// Empty reports whether no token is present.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == ""
}

// Event is the subset of a calendar event the merger reads and writes.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start_time"`
	End         time.Time `json:"end_time"`
	HTMLLink    string    `json:"html_link,omitempty"`
}

// API is the calendar service contract. GetEvent, UpdateEvent and DeleteEvent
// return mnerrors.ErrNotFound for a missing event.
type API interface {
	CreateEvent(ctx context.Context, cred Credential, ev Event) (*Event, error)
	GetEvent(ctx context.Context, cred Credential, id string) (*Event, error)

	// UpdateEvent writes the title, description and times of ev.ID.
	UpdateEvent(ctx context.Context, cred Credential, ev Event) (*Event, error)

	DeleteEvent(ctx context.Context, cred Credential, id string) error

	// ListEvents returns single events starting in [from, to), ordered by
	// start time. A zero to is unbounded; max <= 0 uses the service default.
	ListEvents(ctx context.Context, cred Credential, from, to time.Time, max int) ([]Event, error)
}
