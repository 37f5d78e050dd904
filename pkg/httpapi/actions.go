package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otherjamesbrown/meetnotes/pkg/calendar"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/retrieval"
)

// ActionItemsPayload replaces a meeting's action items.
type ActionItemsPayload struct {
	ActionItems []meeting.ActionItem `json:"action_items"`
}

func (s *Server) handleReplaceItems(w http.ResponseWriter, r *http.Request) {
	var body ActionItemsPayload
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	m, err := s.deps.Items.ReplaceAll(r.Context(), chi.URLParam(r, "id"), body.ActionItems)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleExtractItems(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Pipeline.ReExtractActionItems(r.Context(), s.llmCredential(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: index must be an integer", mnerrors.ErrInvalidArgument))
		return
	}
	m, err := s.deps.Items.ToggleStatus(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleItemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Items.StatsFor(r.Context(), chi.URLParam(r, "id"), s.now())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// CalendarSyncPayload selects the event times and an optional existing event.
type CalendarSyncPayload struct {
	EventID   *string       `json:"event_id"`
	StartTime *meeting.Time `json:"start_time"`
	EndTime   *meeting.Time `json:"end_time"`
}

func (s *Server) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	var body CalendarSyncPayload
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	req := calendar.SyncRequest{
		Start:         body.StartTime.Ptr(),
		End:           body.EndTime.Ptr(),
		TargetEventID: optionalString(deref(body.EventID)),
	}
	m, err := s.deps.Calendar.Sync(r.Context(), s.calendarCredential(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := s.now().UTC()
	if t, err := parseTime("from", q.Get("from")); err != nil {
		s.respondError(w, r, err)
		return
	} else if t != nil {
		from = *t
	}
	var to time.Time
	if t, err := parseTime("to", q.Get("to")); err != nil {
		s.respondError(w, r, err)
		return
	} else if t != nil {
		to = *t
	}
	max := 0
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, r, fmt.Errorf("%w: max_results must be a non-negative integer", mnerrors.ErrInvalidArgument))
			return
		}
		max = n
	}

	events, err := s.deps.Calendar.ListEvents(r.Context(), s.calendarCredential(r), from, to, max)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []calendar.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// SmartSummaryRequest selects the summary view.
type SmartSummaryRequest struct {
	Mode        string `json:"mode"`
	PersonaName string `json:"persona_name"`
}

func (s *Server) handleSmartSummary(w http.ResponseWriter, r *http.Request) {
	var body SmartSummaryRequest
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	text, err := s.deps.Pipeline.SmartSummarize(r.Context(), s.llmCredential(r), chi.URLParam(r, "id"), body.Mode, body.PersonaName)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"summary": text})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	answer, err := s.deps.Retrieval.AnswerQuestion(r.Context(), s.llmCredential(r), strings.TrimSpace(body.Question))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.deps.Retrieval.DiscoverTopics(r.Context(), s.llmCredential(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if clusters == nil {
		clusters = []retrieval.Cluster{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"clusters": clusters})
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
