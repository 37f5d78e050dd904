package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// MemoryStore is an in-process Repository. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	meetings map[string]*meeting.Meeting
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		meetings: make(map[string]*meeting.Meeting),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, m *meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[m.ID]; ok {
		return fmt.Errorf("meeting %s: %w", m.ID, mnerrors.ErrConflict)
	}
	now := s.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.ActionItems == nil {
		m.ActionItems = []meeting.ActionItem{}
	}
	s.meetings[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Modify(ctx context.Context, id string, fn MeetingMutator) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	settle(stored, next)
	next.UpdatedAt = s.now().UTC()
	s.meetings[id] = next.Clone()
	return next, nil
}

func (s *MemoryStore) ReplaceActionItems(ctx context.Context, id string, items []meeting.ActionItem) (*meeting.Meeting, error) {
	return s.ModifyActionItems(ctx, id, func([]meeting.ActionItem) ([]meeting.ActionItem, error) {
		return items, nil
	})
}

func (s *MemoryStore) ModifyActionItems(ctx context.Context, id string, fn ItemsMutator) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	items, err := fn(meeting.CloneItems(stored.ActionItems))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []meeting.ActionItem{}
	}
	stored.ActionItems = meeting.CloneItems(items)
	stored.UpdatedAt = s.now().UTC()
	return stored.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[id]; !ok {
		return fmt.Errorf("meeting %s: %w", id, mnerrors.ErrNotFound)
	}
	delete(s.meetings, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*meeting.Meeting, error) {
	return s.collect(func(m *meeting.Meeting) bool {
		if filter.FavoritesOnly && !m.IsFavorite {
			return false
		}
		if filter.FolderID != nil && (m.FolderID == nil || *m.FolderID != *filter.FolderID) {
			return false
		}
		return true
	}, 0), nil
}

func (s *MemoryStore) Search(ctx context.Context, q string) ([]*meeting.Meeting, error) {
	q = strings.TrimSpace(q)
	return s.collect(func(m *meeting.Meeting) bool {
		return containsFold(m.Title, q) || containsFold(m.SummaryText(), q) || containsFold(m.TranscriptText(), q)
	}, 0), nil
}

func (s *MemoryStore) ListWithText(ctx context.Context, limit int) ([]*meeting.Meeting, error) {
	return s.collect((*meeting.Meeting).HasText, limit), nil
}

func (s *MemoryStore) ClearFolder(ctx context.Context, folderID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.meetings {
		if m.FolderID != nil && *m.FolderID == folderID {
			m.FolderID = nil
			m.UpdatedAt = s.now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// collect returns clones of matching meetings, newest first.
func (s *MemoryStore) collect(match func(*meeting.Meeting) bool, limit int) []*meeting.Meeting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*meeting.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		if match(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
