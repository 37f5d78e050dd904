// Package actionitems owns the action item list of a meeting: validation,
// full-list replacement, per-item toggling and summary statistics.
package actionitems

import (
	"context"
	"fmt"
	"strings"
	"time"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

// Store applies action item edits to meetings held in a Repository.
type Store struct {
	repo   store.Repository
	logger logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store over repo.
func NewStore(repo store.Repository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "action_items"))
	return s
}

// Normalize drops items whose task is blank and fills in defaults: the task,
// owner and due date are trimmed, blank owners and due dates become nil, and
// any status other than done becomes open. The result is never nil.
func Normalize(items []meeting.ActionItem) []meeting.ActionItem {
	out := make([]meeting.ActionItem, 0, len(items))
	for _, it := range items {
		task := strings.TrimSpace(it.Task)
		if task == "" {
			continue
		}
		out = append(out, meeting.ActionItem{
			Task:    task,
			Owner:   trimPtr(it.Owner),
			DueDate: trimPtr(it.DueDate),
			Status:  it.Status.Normalize(),
		})
	}
	return out
}

// ReplaceAll overwrites the meeting's action items with the normalized list.
// The prior list is discarded entirely, including items the user edited.
func (s *Store) ReplaceAll(ctx context.Context, meetingID string, items []meeting.ActionItem) (*meeting.Meeting, error) {
	normalized := Normalize(items)

	m, err := s.repo.ReplaceActionItems(ctx, meetingID, normalized)
	if err != nil {
		return nil, fmt.Errorf("replace action items: %w", err)
	}

	s.logger.WithContext(ctx).Debug("Action items replaced",
		logging.F("meeting_id", meetingID),
		logging.F("submitted", len(items)),
		logging.F("stored", len(normalized)),
	)
	return m, nil
}

// ToggleStatus flips the status of the item at index between open and done.
// No other item changes.
func (s *Store) ToggleStatus(ctx context.Context, meetingID string, index int) (*meeting.Meeting, error) {
	m, err := s.repo.ModifyActionItems(ctx, meetingID, func(items []meeting.ActionItem) ([]meeting.ActionItem, error) {
		if index < 0 || index >= len(items) {
			return nil, fmt.Errorf("action item %d of %d: %w", index, len(items), mnerrors.ErrIndexOutOfRange)
		}
		if items[index].Status == meeting.ItemDone {
			items[index].Status = meeting.ItemOpen
		} else {
			items[index].Status = meeting.ItemDone
		}
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("toggle action item: %w", err)
	}
	return m, nil
}

// StatsFor loads a meeting and computes its action item statistics for today.
func (s *Store) StatsFor(ctx context.Context, meetingID string, today time.Time) (Stats, error) {
	m, err := s.repo.Get(ctx, meetingID)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(m.ActionItems, today), nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return meeting.NonEmptyPtr(*s)
}
