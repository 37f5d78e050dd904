package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/otherjamesbrown/meetnotes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/pipeline"
	"github.com/otherjamesbrown/meetnotes/pkg/queues"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

const multipartMemory = 32 << 20

// SubmitAccepted is the reply to an asynchronous submission.
type SubmitAccepted struct {
	Meeting   *meeting.Meeting `json:"meeting"`
	MessageID string           `json:"message_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: multipart form: %v", mnerrors.ErrInvalidArgument, err))
		return
	}

	async, err := parseBool(r.URL.Query().Get("async"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: async: %v", mnerrors.ErrInvalidArgument, err))
		return
	}
	if async && s.deps.Queue == nil {
		s.respondError(w, r, fmt.Errorf("%w: asynchronous processing is not configured", mnerrors.ErrInvalidArgument))
		return
	}

	req, err := submitRequestFromForm(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: audio file is required", mnerrors.ErrInvalidArgument))
		return
	}
	defer file.Close()

	req.ID = uuid.NewString()
	ref, err := s.deps.Blobs.Put(ctx, req.ID+strings.ToLower(filepath.Ext(header.Filename)), file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("store audio: %w", err))
		return
	}
	req.AudioRef = ref
	ctx = logging.ContextWithMeetingID(ctx, req.ID)

	if async {
		m, err := s.deps.Pipeline.Create(ctx, req)
		if err != nil {
			s.discardBlob(ctx, ref)
			s.respondError(w, r, err)
			return
		}
		msgID, err := s.deps.Queue.Enqueue(ctx, &queues.ProcessMeetingMessage{
			MeetingID:    m.ID,
			Priority:     queues.PriorityNormal,
			RequestedAt:  s.now().UTC(),
			RequestID:    middleware.GetReqID(ctx),
			TraceContext: observability.InjectTraceContext(ctx),
		})
		if err != nil {
			// The meeting stays Recorded and can be processed later.
			s.respondError(w, r, fmt.Errorf("enqueue meeting %s: %w", m.ID, err))
			return
		}
		respondJSON(w, http.StatusAccepted, SubmitAccepted{Meeting: m, MessageID: msgID})
		return
	}

	m, err := s.deps.Pipeline.Submit(ctx, s.llmCredential(r), req)
	if err != nil {
		s.discardBlob(ctx, ref)
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func submitRequestFromForm(r *http.Request) (pipeline.SubmitRequest, error) {
	req := pipeline.SubmitRequest{Title: strings.TrimSpace(r.FormValue("title"))}
	if req.Title == "" {
		return req, fmt.Errorf("%w: title is required", mnerrors.ErrInvalidArgument)
	}

	var err error
	if req.StartTime, err = parseTime("start_time", r.FormValue("start_time")); err != nil {
		return req, err
	}
	if req.EndTime, err = parseTime("end_time", r.FormValue("end_time")); err != nil {
		return req, err
	}
	req.CalendarEventID = optionalString(r.FormValue("calendar_event_id"))
	req.FolderID = optionalString(r.FormValue("folder_id"))
	return req, nil
}

func (s *Server) discardBlob(ctx context.Context, ref string) {
	if err := s.deps.Blobs.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.WithContext(ctx).Warn("Failed to remove orphaned audio, continuing",
			logging.F("audio_ref", ref),
			logging.Err(err),
		)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	favorites, err := parseBool(q.Get("favorites_only"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: favorites_only: %v", mnerrors.ErrInvalidArgument, err))
		return
	}
	filter := store.ListFilter{FavoritesOnly: favorites}
	if q.Has("folder_id") {
		folder := q.Get("folder_id")
		filter.FolderID = &folder
	}

	meetings, err := s.deps.Repo.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(meetings))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, r, fmt.Errorf("%w: q is required", mnerrors.ErrInvalidArgument))
		return
	}
	meetings, err := s.deps.Repo.Search(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(meetings))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// MetadataPatch carries the editable meeting fields. Absent fields are left
// alone; an empty folder_id or calendar_event_id clears the reference.
type MetadataPatch struct {
	Title           *string       `json:"title"`
	StartTime       *meeting.Time `json:"start_time"`
	EndTime         *meeting.Time `json:"end_time"`
	CalendarEventID *string       `json:"calendar_event_id"`
	FolderID        *string       `json:"folder_id"`
}

// Apply writes the patch to m.
func (p MetadataPatch) Apply(m *meeting.Meeting) error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return fmt.Errorf("%w: title cannot be blank", mnerrors.ErrInvalidArgument)
		}
		m.Title = title
	}
	if p.StartTime != nil {
		m.StartTime = p.StartTime.Ptr()
	}
	if p.EndTime != nil {
		m.EndTime = p.EndTime.Ptr()
	}
	if p.CalendarEventID != nil {
		m.CalendarEventID = optionalString(*p.CalendarEventID)
	}
	if p.FolderID != nil {
		m.FolderID = optionalString(*p.FolderID)
	}
	return nil
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var patch MetadataPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}

	m, err := s.deps.Repo.Modify(r.Context(), chi.URLParam(r, "id"), patch.Apply)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Favorite *bool `json:"favorite"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	if body.Favorite == nil {
		s.respondError(w, r, fmt.Errorf("%w: favorite is required", mnerrors.ErrInvalidArgument))
		return
	}

	m, err := s.deps.Repo.Modify(r.Context(), chi.URLParam(r, "id"), func(m *meeting.Meeting) error {
		m.IsFavorite = *body.Favorite
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	m, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.deps.Repo.Delete(ctx, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	if m.AudioRef != "" {
		s.discardBlob(logging.ContextWithMeetingID(ctx, id), m.AudioRef)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := s.deps.Repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if m.AudioRef == "" {
		s.respondError(w, r, fmt.Errorf("meeting %s has no audio: %w", m.ID, mnerrors.ErrNotFound))
		return
	}
	rc, err := s.deps.Blobs.Open(ctx, m.AudioRef)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", blob.ContentType(m.AudioRef))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.AudioRef))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.WithContext(ctx).Warn("Audio stream interrupted", logging.F("audio_ref", m.AudioRef), logging.Err(err))
	}
}

func (s *Server) handleClearFolder(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Repo.ClearFolder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseTime(field, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := meeting.ParseTime(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", mnerrors.ErrInvalidArgument, field, err)
	}
	return &t, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func nonNil(meetings []*meeting.Meeting) []*meeting.Meeting {
	if meetings == nil {
		return []*meeting.Meeting{}
	}
	return meetings
}
