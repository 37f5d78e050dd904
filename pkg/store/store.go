// Package store persists meetings. PostgresStore backs production deployments,
// SQLiteStore a single-user install, and MemoryStore tests and offline runs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// ListFilter narrows List results.
type ListFilter struct {
	FolderID      *string
	FavoritesOnly bool
}

// ItemsMutator receives the stored action items and returns the list to store.
// Returning an error aborts the write.
type ItemsMutator func(items []meeting.ActionItem) ([]meeting.ActionItem, error)

// MeetingMutator edits the stored meeting in place. Returning an error aborts
// the write. It must not call back into the repository.
type MeetingMutator func(m *meeting.Meeting) error

// Repository is the persistence contract for meetings. Every method returns
// mnerrors.ErrNotFound for unknown ids. Writes go through a row-locked
// read-modify-write so concurrent writers only touch the fields they change.
type Repository interface {
	// Create inserts a new meeting. CreatedAt and UpdatedAt are set when zero.
	Create(ctx context.Context, m *meeting.Meeting) error

	Get(ctx context.Context, id string) (*meeting.Meeting, error)

	// Modify applies fn to the current stored meeting under a row lock, writes
	// the result and refreshes UpdatedAt. The status never moves backwards: a
	// lower status set by fn keeps the stored one.
	Modify(ctx context.Context, id string, fn MeetingMutator) (*meeting.Meeting, error)

	// ReplaceActionItems swaps the whole action item list in a single atomic write.
	ReplaceActionItems(ctx context.Context, id string, items []meeting.ActionItem) (*meeting.Meeting, error)

	// ModifyActionItems applies fn to the stored list under a row lock and writes the result.
	ModifyActionItems(ctx context.Context, id string, fn ItemsMutator) (*meeting.Meeting, error)

	Delete(ctx context.Context, id string) error

	// List returns meetings newest first.
	List(ctx context.Context, filter ListFilter) ([]*meeting.Meeting, error)

	// Search returns meetings whose title, summary or transcript contains q,
	// ignoring case, newest first.
	Search(ctx context.Context, q string) ([]*meeting.Meeting, error)

	// ListWithText returns up to limit meetings, newest first, that have a
	// non-empty transcript or summary. A limit <= 0 returns all of them.
	ListWithText(ctx context.Context, limit int) ([]*meeting.Meeting, error)

	// ClearFolder removes the folder reference from every meeting in it.
	ClearFolder(ctx context.Context, folderID string) (int64, error)

	Close() error
}

// settle fixes the fields a mutator may not change on next.
func settle(stored, next *meeting.Meeting) {
	next.ID = stored.ID
	next.CreatedAt = stored.CreatedAt
	if next.Status.Rank() < stored.Status.Rank() {
		next.Status = stored.Status
	}
	if next.ActionItems == nil {
		next.ActionItems = []meeting.ActionItem{}
	}
}

func encodeItems(items []meeting.ActionItem) ([]byte, error) {
	if items == nil {
		items = []meeting.ActionItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action_items: %w", err)
	}
	return data, nil
}

func decodeItems(data []byte) ([]meeting.ActionItem, error) {
	items := []meeting.ActionItem{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action_items: %w", err)
	}
	return items, nil
}

func encodeOutcomes(outcomes map[meeting.Stage]meeting.StageOutcome) ([]byte, error) {
	if outcomes == nil {
		outcomes = map[meeting.Stage]meeting.StageOutcome{}
	}
	data, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcomes: %w", err)
	}
	return data, nil
}

func decodeOutcomes(data []byte) (map[meeting.Stage]meeting.StageOutcome, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var outcomes map[meeting.Stage]meeting.StageOutcome
	if err := json.Unmarshal(data, &outcomes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return nil, nil
	}
	return outcomes, nil
}

// likePattern builds a substring LIKE pattern, escaping wildcards with a backslash.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
