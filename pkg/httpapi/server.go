// Package httpapi exposes meetnotes over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
	"github.com/otherjamesbrown/meetnotes/pkg/blob"
	"github.com/otherjamesbrown/meetnotes/pkg/buildinfo"
	"github.com/otherjamesbrown/meetnotes/pkg/calendar"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/pipeline"
	"github.com/otherjamesbrown/meetnotes/pkg/queues"
	"github.com/otherjamesbrown/meetnotes/pkg/retrieval"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

// Config holds listener and request settings.
type Config struct {
	Host            string
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	// LLMAPIKey and CalendarToken are used when a request carries no
	// credential headers of its own.
	LLMAPIKey     string
	CalendarToken string
}

// DefaultConfig returns settings for a local listener.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8080,
		RequestTimeout:  5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxUploadBytes:  512 << 20,
	}
}

// Deps are the components the handlers call into. Queue, Health and Gatherer
// are optional.
type Deps struct {
	Repo      store.Repository
	Pipeline  *pipeline.Pipeline
	Items     *actionitems.Store
	Calendar  *calendar.Merger
	Retrieval *retrieval.Engine
	Blobs     blob.Store
	Queue     queues.Queue
	Health    func(ctx context.Context) error
	Gatherer  prometheus.Gatherer
}

// Server is the meetnotes HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
	now    func() time.Time
	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for stats and default calendar ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer builds the router. Zero config fields take their defaults.
func NewServer(cfg Config, deps Deps, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "httpapi"))
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", buildinfo.Handler("meetnotes"))
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Route("/meetings", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Get("/search", s.handleSearch)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Patch("/", s.handlePatch)
				r.Delete("/", s.handleDelete)
				r.Post("/favorite", s.handleFavorite)
				r.Get("/audio", s.handleAudio)

				r.Put("/action-items", s.handleReplaceItems)
				r.Post("/action-items/extract", s.handleExtractItems)
				r.Get("/action-items/stats", s.handleItemStats)
				r.Post("/action-items/{index}/toggle", s.handleToggleItem)

				r.Post("/calendar-sync", s.handleCalendarSync)
				r.Post("/smart-summary", s.handleSmartSummary)
			})
		})

		r.Post("/qa", s.handleAsk)
		r.Post("/topics", s.handleTopics)
		r.Get("/calendar/events", s.handleCalendarEvents)
		r.Delete("/folders/{id}/meetings", s.handleClearFolder)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", logging.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.WithContext(r.Context()).Warn("Health check failed", logging.Err(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
