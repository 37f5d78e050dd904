package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

// MemoryCalendar is an in-process calendar for tests and offline use.
type MemoryCalendar struct {
	mu     sync.Mutex
	seq    int
	events map[string]Event
}

// NewMemoryCalendar creates an empty calendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]Event)}
}

// Put stores ev as is, for seeding existing events.
func (c *MemoryCalendar) Put(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[ev.ID] = ev
}

func (c *MemoryCalendar) CreateEvent(ctx context.Context, cred Credential, ev Event) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	ev.ID = fmt.Sprintf("evt-%d", c.seq)
	c.events[ev.ID] = ev
	return &ev, nil
}

func (c *MemoryCalendar) GetEvent(ctx context.Context, cred Credential, id string) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev, ok := c.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, mnerrors.ErrNotFound)
	}
	return &ev, nil
}

func (c *MemoryCalendar) UpdateEvent(ctx context.Context, cred Credential, ev Event) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, ok := c.events[ev.ID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", ev.ID, mnerrors.ErrNotFound)
	}
	stored.Title = ev.Title
	stored.Description = ev.Description
	stored.Start = ev.Start
	stored.End = ev.End
	c.events[ev.ID] = stored
	return &stored, nil
}

func (c *MemoryCalendar) DeleteEvent(ctx context.Context, cred Credential, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.events[id]; !ok {
		return fmt.Errorf("event %s: %w", id, mnerrors.ErrNotFound)
	}
	delete(c.events, id)
	return nil
}

func (c *MemoryCalendar) ListEvents(ctx context.Context, cred Credential, from, to time.Time, max int) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Event
	for _, ev := range c.events {
		if ev.Start.Before(from) || (!to.IsZero() && !ev.Start.Before(to)) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Len returns the number of stored events.
func (c *MemoryCalendar) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

var _ API = (*MemoryCalendar)(nil)
