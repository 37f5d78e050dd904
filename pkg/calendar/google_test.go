package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

func newGoogle(t *testing.T, h http.HandlerFunc) *GoogleClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGoogleClient(GoogleConfig{
		BaseURL:        srv.URL,
		Timeout:        5 * time.Second,
		MaxElapsedTime: time.Second,
	}, WithGoogleHTTPClient(srv.Client()))
}

func TestGoogle_CreateEvent(t *testing.T) {
	start := time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer ya29.test", r.Header.Get("Authorization"))

		var body googleEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Kickoff", body.Summary)
		assert.Equal(t, "2024-04-03T09:00:00Z", body.Start.DateTime)
		assert.Equal(t, "UTC", body.End.TimeZone)

		body.ID = "g-1"
		body.HTMLLink = "https://calendar.example/g-1"
		_ = json.NewEncoder(w).Encode(body)
	})

	ev, err := client.CreateEvent(context.Background(), token, Event{Title: "Kickoff", Start: start, End: start})
	require.NoError(t, err)
	assert.Equal(t, "g-1", ev.ID)
	assert.Equal(t, start, ev.Start)
	assert.Equal(t, "https://calendar.example/g-1", ev.HTMLLink)
}

func TestGoogle_UpdateUsesPatch(t *testing.T) {
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/calendars/primary/events/team%20sync", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"id":"team sync","summary":"Team sync"}`))
	})

	ev, err := client.UpdateEvent(context.Background(), token, Event{ID: "team sync", Title: "Team sync"})
	require.NoError(t, err)
	assert.Equal(t, "team sync", ev.ID)
}

func TestGoogle_MissingEvent(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := client.GetEvent(context.Background(), token, "ghost")
		assert.True(t, mnerrors.IsNotFound(err), "status %d", status)
	}
}

func TestGoogle_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteEvent(context.Background(), token, "e"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGoogle_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`insufficient scope`))
	})

	_, err := client.GetEvent(context.Background(), token, "e")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient scope")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGoogle_ListEvents(t *testing.T) {
	from := time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2024-04-03T00:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "2024-04-04T00:00:00Z", q.Get("timeMax"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "10", q.Get("maxResults"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":"a","summary":"Standup","start":{"dateTime":"2024-04-03T09:00:00+02:00"}},
			{"id":"b","start":{"date":"2024-04-03"},"end":{"date":"2024-04-04"}}
		]}`))
	})

	events, err := client.ListEvents(context.Background(), token, from, from.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2024, 4, 3, 7, 0, 0, 0, time.UTC), events[0].Start)
	assert.Equal(t, events[0].Start, events[0].End)
	assert.Equal(t, "(No title)", events[1].Title)
	assert.Equal(t, from.Add(24*time.Hour), events[1].End)
}

func TestGoogle_NoToken(t *testing.T) {
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.GetEvent(context.Background(), Credential{}, "e")
	assert.True(t, mnerrors.IsCalendarUnavailable(err))
}

func TestSync_GoogleOutageIsUnavailable(t *testing.T) {
	client := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	repo := store.NewMemoryStore()
	require.NoError(t, repo.Create(context.Background(), &meeting.Meeting{ID: "m", Title: "T"}))

	_, err := NewMerger(repo, client).Sync(context.Background(), token, "m", SyncRequest{})
	assert.True(t, mnerrors.IsCalendarUnavailable(err))

	stored, err := repo.Get(context.Background(), "m")
	require.NoError(t, err)
	assert.Nil(t, stored.CalendarEventID)
}
