package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetnotes/migrations"
	"github.com/otherjamesbrown/meetnotes/pkg/db"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// repositoryFactories lists every Repository implementation exercised by the
// shared contract tests. Postgres joins when MEETNOTES_TEST_DATABASE_URL is set.
func repositoryFactories(t *testing.T) map[string]func(t *testing.T) Repository {
	factories := map[string]func(t *testing.T) Repository{
		"memory": func(t *testing.T) Repository {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Repository {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meetnotes.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}

	if url := os.Getenv("MEETNOTES_TEST_DATABASE_URL"); url != "" {
		factories["postgres"] = func(t *testing.T) Repository {
			ctx := context.Background()
			cfg := db.DefaultConfig()
			cfg.URL = url
			pool, err := db.Connect(ctx, cfg)
			require.NoError(t, err)
			t.Cleanup(pool.Close)

			_, err = db.RunMigrations(ctx, pool, migrations.FS)
			require.NoError(t, err)
			_, err = pool.Exec(ctx, "TRUNCATE meetings")
			require.NoError(t, err)
			return NewPostgresStore(pool, logging.NewNopLogger())
		}
	}
	return factories
}

func forEachRepository(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for name, factory := range repositoryFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newMeeting(id, title string, createdAt time.Time) *meeting.Meeting {
	return &meeting.Meeting{
		ID:        id,
		Title:     title,
		CreatedAt: createdAt,
		Status:    meeting.StatusRecorded,
		AudioRef:  id + ".webm",
	}
}

var base = time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)

func TestRepository_CreateGet(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		m := newMeeting("m1", "Standup Apr 3", base)
		m.StartTime = &base
		m.FolderID = meeting.StringPtr("f1")
		require.NoError(t, repo.Create(ctx, m))
		assert.False(t, m.UpdatedAt.IsZero())

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "Standup Apr 3", got.Title)
		assert.Equal(t, meeting.StatusRecorded, got.Status)
		assert.True(t, got.CreatedAt.Equal(base))
		require.NotNil(t, got.StartTime)
		assert.True(t, got.StartTime.Equal(base))
		assert.Nil(t, got.EndTime)
		assert.Nil(t, got.Transcript)
		assert.Nil(t, got.Summary)
		assert.Equal(t, "f1", *got.FolderID)
		assert.NotNil(t, got.ActionItems)
		assert.Empty(t, got.ActionItems)

		err = repo.Create(ctx, newMeeting("m1", "dup", base))
		assert.True(t, mnerrors.IsConflict(err))

		_, err = repo.Get(ctx, "missing")
		assert.True(t, mnerrors.IsNotFound(err))
	})
}

func TestRepository_Modify(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newMeeting("m1", "Planning", base)))

		got, err := repo.Modify(ctx, "m1", func(m *meeting.Meeting) error {
			m.Status = meeting.StatusReady
			m.Transcript = meeting.StringPtr("Alice will send the deck")
			m.Summary = meeting.StringPtr("Deck follow-up")
			m.CalendarEventID = meeting.StringPtr("evt-1")
			m.IsFavorite = true
			m.RecordOutcome(meeting.StageTranscription, meeting.OutcomeOK, "", base)
			m.RecordOutcome(meeting.StageSummary, meeting.OutcomeDegraded, "quota_exceeded", base)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, meeting.StatusReady, got.Status)

		got, err = repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, meeting.StatusReady, got.Status)
		assert.Equal(t, "Alice will send the deck", got.TranscriptText())
		assert.Equal(t, "evt-1", *got.CalendarEventID)
		assert.True(t, got.IsFavorite)
		assert.True(t, got.CreatedAt.Equal(base))
		require.Len(t, got.Outcomes, 2)
		assert.Equal(t, meeting.OutcomeDegraded, got.Outcomes[meeting.StageSummary].Outcome)
		assert.Equal(t, "quota_exceeded", got.Outcomes[meeting.StageSummary].Reason)

		boom := errors.New("boom")
		_, err = repo.Modify(ctx, "m1", func(m *meeting.Meeting) error {
			m.Title = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err = repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "Planning", got.Title, "aborted mutation must not write")

		_, err = repo.Modify(ctx, "missing", func(*meeting.Meeting) error { return nil })
		assert.True(t, mnerrors.IsNotFound(err))
	})
}

func TestRepository_Modify_StatusNeverMovesBackwards(t *testing.T) {
	tests := []struct {
		name   string
		stored meeting.Status
		next   meeting.Status
		want   meeting.Status
	}{
		{name: "forward", stored: meeting.StatusTranscribing, next: meeting.StatusSummarizing, want: meeting.StatusSummarizing},
		{name: "same", stored: meeting.StatusSummarizing, next: meeting.StatusSummarizing, want: meeting.StatusSummarizing},
		{name: "ready to summarizing", stored: meeting.StatusReady, next: meeting.StatusSummarizing, want: meeting.StatusReady},
		{name: "transcribed to recorded", stored: meeting.StatusTranscribed, next: meeting.StatusRecorded, want: meeting.StatusTranscribed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachRepository(t, func(t *testing.T, repo Repository) {
				ctx := context.Background()
				m := newMeeting("m1", "Planning", base)
				m.Status = tt.stored
				require.NoError(t, repo.Create(ctx, m))

				got, err := repo.Modify(ctx, "m1", func(m *meeting.Meeting) error {
					m.Status = tt.next
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.Status)

				stored, err := repo.Get(ctx, "m1")
				require.NoError(t, err)
				assert.Equal(t, tt.want, stored.Status)
			})
		})
	}
}

func TestRepository_Modify_ConcurrentFieldWrites(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newMeeting("m1", "Planning", base)))

		var wg sync.WaitGroup
		writes := []MeetingMutator{
			func(m *meeting.Meeting) error {
				m.CalendarEventID = meeting.StringPtr("evt-1")
				return nil
			},
			func(m *meeting.Meeting) error {
				m.IsFavorite = true
				return nil
			},
			func(m *meeting.Meeting) error {
				m.Summary = meeting.StringPtr("Recap")
				return nil
			},
			func(m *meeting.Meeting) error {
				m.Title = "Renamed"
				return nil
			},
		}
		for _, fn := range writes {
			wg.Add(1)
			go func(fn MeetingMutator) {
				defer wg.Done()
				_, err := repo.Modify(ctx, "m1", fn)
				assert.NoError(t, err)
			}(fn)
		}
		wg.Wait()

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, got.CalendarEventID)
		assert.Equal(t, "evt-1", *got.CalendarEventID)
		assert.True(t, got.IsFavorite)
		assert.Equal(t, "Recap", got.SummaryText())
		assert.Equal(t, "Renamed", got.Title)
	})
}

func TestRepository_ReplaceActionItems(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		m := newMeeting("m1", "Planning", base)
		m.Summary = meeting.StringPtr("kept")
		require.NoError(t, repo.Create(ctx, m))

		items := []meeting.ActionItem{
			{Task: "send deck", Owner: meeting.StringPtr("Alice"), Status: meeting.ItemOpen},
			{Task: "book room", DueDate: meeting.StringPtr("2026-04-10"), Status: meeting.ItemDone},
		}
		got, err := repo.ReplaceActionItems(ctx, "m1", items)
		require.NoError(t, err)
		require.Len(t, got.ActionItems, 2)
		assert.Equal(t, "Alice", *got.ActionItems[0].Owner)
		assert.Equal(t, "kept", got.SummaryText())

		got, err = repo.ReplaceActionItems(ctx, "m1", nil)
		require.NoError(t, err)
		assert.Empty(t, got.ActionItems)

		_, err = repo.ReplaceActionItems(ctx, "missing", items)
		assert.True(t, mnerrors.IsNotFound(err))
	})
}

func TestRepository_ModifyActionItems(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newMeeting("m1", "Planning", base)))
		_, err := repo.ReplaceActionItems(ctx, "m1", []meeting.ActionItem{{Task: "a", Status: meeting.ItemOpen}})
		require.NoError(t, err)

		got, err := repo.ModifyActionItems(ctx, "m1", func(items []meeting.ActionItem) ([]meeting.ActionItem, error) {
			items[0].Status = meeting.ItemDone
			return items, nil
		})
		require.NoError(t, err)
		assert.Equal(t, meeting.ItemDone, got.ActionItems[0].Status)

		boom := errors.New("boom")
		_, err = repo.ModifyActionItems(ctx, "m1", func([]meeting.ActionItem) ([]meeting.ActionItem, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, meeting.ItemDone, stored.ActionItems[0].Status, "aborted mutation must not write")
	})
}

func TestRepository_ModifyActionItems_Concurrent(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newMeeting("m1", "Planning", base)))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.ModifyActionItems(ctx, "m1", func(items []meeting.ActionItem) ([]meeting.ActionItem, error) {
					return append(items, meeting.ActionItem{Task: "t", Status: meeting.ItemOpen}), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Len(t, got.ActionItems, 10)
	})
}

func TestRepository_ListAndFilters(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		older := newMeeting("a", "Older", base)
		newer := newMeeting("b", "Newer", base.Add(time.Hour))
		newer.IsFavorite = true
		newer.FolderID = meeting.StringPtr("f1")
		for _, m := range []*meeting.Meeting{older, newer} {
			require.NoError(t, repo.Create(ctx, m))
		}

		all, err := repo.List(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "b", all[0].ID)

		favs, err := repo.List(ctx, ListFilter{FavoritesOnly: true})
		require.NoError(t, err)
		require.Len(t, favs, 1)
		assert.Equal(t, "b", favs[0].ID)

		inFolder, err := repo.List(ctx, ListFilter{FolderID: meeting.StringPtr("f1")})
		require.NoError(t, err)
		assert.Len(t, inFolder, 1)

		n, err := repo.ClearFolder(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		inFolder, err = repo.List(ctx, ListFilter{FolderID: meeting.StringPtr("f1")})
		require.NoError(t, err)
		assert.Empty(t, inFolder)

		got, err := repo.Get(ctx, "b")
		require.NoError(t, err)
		assert.Nil(t, got.FolderID, "folder reference cleared, meeting kept")
	})
}

func TestRepository_SearchAndListWithText(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		a := newMeeting("a", "Budget review", base)
		a.Summary = meeting.StringPtr("Approved the Q3 budget")
		b := newMeeting("b", "Standup", base.Add(time.Hour))
		b.Transcript = meeting.StringPtr("We discussed 100% of the BUDGET line")
		c := newMeeting("c", "Silent", base.Add(2*time.Hour))
		c.Transcript = meeting.StringPtr("   ")
		for _, m := range []*meeting.Meeting{a, b, c} {
			require.NoError(t, repo.Create(ctx, m))
		}

		hits, err := repo.Search(ctx, "budget")
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "b", hits[0].ID)

		hits, err = repo.Search(ctx, "100%")
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)

		withText, err := repo.ListWithText(ctx, 0)
		require.NoError(t, err)
		require.Len(t, withText, 2)
		assert.Equal(t, "b", withText[0].ID)

		limited, err := repo.ListWithText(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "b", limited[0].ID)
	})
}

func TestRepository_Delete(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newMeeting("m1", "x", base)))
		require.NoError(t, repo.Delete(ctx, "m1"))

		_, err := repo.Get(ctx, "m1")
		assert.True(t, mnerrors.IsNotFound(err))
		assert.True(t, mnerrors.IsNotFound(repo.Delete(ctx, "m1")))
	})
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithClock(func() time.Time { return base }))
	m := newMeeting("m1", "Original", time.Time{})
	require.NoError(t, s.Create(ctx, m))
	assert.Equal(t, base, m.CreatedAt)

	m.Title = "mutated after create"
	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)

	got.Title = "mutated after get"
	again, _ := s.Get(ctx, "m1")
	assert.Equal(t, "Original", again.Title)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%budget%`, likePattern("Budget"))
	assert.Equal(t, `%100\%\_x\\%`, likePattern(`100%_x\`))
}
