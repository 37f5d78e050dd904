// Package cmd provides CLI commands for the meetnotes tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetnotes/config"
	"github.com/otherjamesbrown/meetnotes/credentials"
	"github.com/otherjamesbrown/meetnotes/migrations"
	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	"github.com/otherjamesbrown/meetnotes/pkg/blob"
	"github.com/otherjamesbrown/meetnotes/pkg/calendar"
	"github.com/otherjamesbrown/meetnotes/pkg/db"
	"github.com/otherjamesbrown/meetnotes/pkg/httpapi"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/pipeline"
	"github.com/otherjamesbrown/meetnotes/pkg/queues"
	"github.com/otherjamesbrown/meetnotes/pkg/retrieval"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
	"github.com/otherjamesbrown/meetnotes/pkg/workers"
)

// currentConfig is set by the root command before any subcommand runs.
var currentConfig *config.Config

// SetConfig records the configuration loaded by the root command.
func SetConfig(cfg *config.Config) {
	currentConfig = cfg
}

// loadConfig returns the configuration set by the root command, loading the
// default file when a command runs on its own (as in tests).
func loadConfig() (*config.Config, error) {
	if currentConfig != nil {
		return currentConfig, nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	currentConfig = cfg
	return cfg, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config, service string) logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = logging.Level(cfg.Logging.Level)
	lc.JSONFormat = cfg.Logging.JSON
	if service != "" {
		lc.ServiceName = service
	}
	return logging.NewLogger(lc)
}

// App holds every component built from one configuration.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Repo      store.Repository
	Blobs     *blob.FileStore
	AI        *ai.Client
	Pipeline  *pipeline.Pipeline
	Items     *actionitems.Store
	Calendar  *calendar.Merger
	Retrieval *retrieval.Engine

	// Queue is nil unless Redis is configured and requested.
	Queue queues.Queue

	pool    *pgxpool.Pool
	redis   *redis.Client
	events  *observability.EventEmitter
	closers []func() error
}

// AppOptions selects optional parts of an App.
type AppOptions struct {
	// WithQueue connects to Redis when one is configured.
	WithQueue bool
	// Migrate applies the embedded PostgreSQL migrations before use.
	Migrate bool
}

// NewApp wires the storage, adapters and services described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger, opts AppOptions) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Tracer:   observability.NewTracer(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = observability.NewMetrics(app.Registry)

	if err := app.openRepository(ctx, opts.Migrate || cfg.Storage.MigrateOnStart); err != nil {
		app.Close()
		return nil, err
	}

	blobs, err := blob.NewFileStore(cfg.Blob.Dir)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	app.Blobs = blobs

	if opts.WithQueue && cfg.Redis.Enabled() {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.closers = append(app.closers, app.redis.Close)
		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		app.Queue = queues.NewRedisQueue(app.redis, QueueConfig(cfg),
			queues.WithLogger(logger), queues.WithMetrics(app.Metrics))
		app.events = observability.NewEventEmitter(observability.RedisPublisher(app.redis))
	}

	app.AI = ai.NewClient(AIConfig(cfg),
		ai.WithLogger(logger), ai.WithMetrics(app.Metrics), ai.WithTracer(app.Tracer))
	transcriber := ai.NewTranscriber(app.AI, app.Blobs)

	pipeOpts := []pipeline.Option{
		pipeline.WithConfig(PipelineConfig(cfg)),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(app.Metrics),
		pipeline.WithTracer(app.Tracer),
	}
	if app.events != nil {
		pipeOpts = append(pipeOpts, pipeline.WithEvents(app.events))
	}
	app.Pipeline = pipeline.New(app.Repo, transcriber, app.AI, pipeOpts...)
	app.Items = actionitems.NewStore(app.Repo, actionitems.WithLogger(logger))

	google := calendar.NewGoogleClient(CalendarConfig(cfg), calendar.WithGoogleLogger(logger))
	app.Calendar = calendar.NewMerger(app.Repo, google,
		calendar.WithLogger(logger), calendar.WithMetrics(app.Metrics))

	app.Retrieval = retrieval.NewEngine(app.Repo, app.AI,
		retrieval.WithConfig(RetrievalConfig(cfg)),
		retrieval.WithLogger(logger),
		retrieval.WithMetrics(app.Metrics),
		retrieval.WithTracer(app.Tracer))

	return app, nil
}

func (a *App) openRepository(ctx context.Context, migrate bool) error {
	switch a.Config.Storage.Driver {
	case config.StorageMemory:
		a.Repo = store.NewMemoryStore()
	case config.StoragePostgres:
		pool, err := db.ConnectWithRetry(ctx, db.ConfigFromEnv(), a.Config.Storage.ConnectWait.Duration)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.pool = pool
		if _, err := db.RegisterPoolStatsCollector(pool, "meetnotes", a.Registry); err != nil {
			a.Logger.Warn("Failed to register pool metrics, continuing", logging.Err(err))
		}
		if migrate {
			result, err := db.RunMigrations(ctx, pool, migrations.FS)
			if err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			if len(result.Applied) > 0 {
				a.Logger.Info("Applied migrations", logging.F("versions", result.Applied))
			}
		}
		a.Repo = store.NewPostgresStore(pool, a.Logger)
	case config.StorageSQLite:
		s, err := store.NewSQLiteStore(a.Config.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		a.Repo = s
	default:
		return fmt.Errorf("unknown storage driver %q", a.Config.Storage.Driver)
	}
	a.closers = append(a.closers, a.Repo.Close)
	return nil
}

// Health reports whether the backing services are reachable.
func (a *App) Health(ctx context.Context) error {
	if a.pool != nil {
		if status := db.Check(ctx, a.pool); !status.Healthy() {
			return status.Err
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Server builds the HTTP API over the app's components.
func (a *App) Server() *httpapi.Server {
	cfg := ServerConfig(a.Config)
	creds := credentialStore()
	if key, _, err := creds.ResolveLLMKey(); err == nil {
		cfg.LLMAPIKey = key
	}
	if tok, _, err := creds.ResolveCalendarToken(); err == nil {
		cfg.CalendarToken = tok
	} else {
		a.Logger.Warn("Stored calendar token unusable, continuing without one", logging.Err(err))
	}

	return httpapi.NewServer(cfg, httpapi.Deps{
		Repo:      a.Repo,
		Pipeline:  a.Pipeline,
		Items:     a.Items,
		Calendar:  a.Calendar,
		Retrieval: a.Retrieval,
		Blobs:     a.Blobs,
		Queue:     a.Queue,
		Health:    a.Health,
		Gatherer:  a.Registry,
	}, httpapi.WithLogger(a.Logger))
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Logger != nil {
			a.Logger.Warn("Close failed", logging.Err(err))
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// credentialStore opens the default store. A store that cannot be opened
// leaves only the environment variables as credential sources.
func credentialStore() *credentials.Store {
	s, err := credentials.NewStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: credential store unavailable: %v\n", err)
		return nil
	}
	return s
}

// resolveCredentials returns the caller's provider key and calendar token.
// A missing value yields an empty credential; the stages that need it degrade.
func resolveCredentials() (ai.Credential, calendar.Credential, error) {
	s := credentialStore()
	key, _, err := s.ResolveLLMKey()
	if err != nil {
		return ai.Credential{}, calendar.Credential{}, fmt.Errorf("reading provider key: %w", err)
	}
	tok, _, err := s.ResolveCalendarToken()
	if err != nil && !errors.Is(err, credentials.ErrExpiredToken) {
		return ai.Credential{}, calendar.Credential{}, fmt.Errorf("reading calendar token: %w", err)
	}
	return ai.Credential{APIKey: key}, calendar.Credential{AccessToken: tok}, nil
}

// AIConfig maps the llm section.
func AIConfig(cfg *config.Config) ai.Config {
	c := ai.DefaultConfig()
	c.BaseURL = cfg.LLM.BaseURL
	c.Model = cfg.LLM.Model
	c.STTModel = cfg.LLM.STTModel
	if cfg.LLM.Timeout.Duration > 0 {
		c.Timeout = cfg.LLM.Timeout.Duration
	}
	if cfg.LLM.TranscriptionTimeout.Duration > 0 {
		c.TranscriptionTimeout = cfg.LLM.TranscriptionTimeout.Duration
	}
	if cfg.LLM.RequestsPerSecond > 0 {
		c.RequestsPerSecond = cfg.LLM.RequestsPerSecond
	}
	if cfg.LLM.Burst > 0 {
		c.Burst = cfg.LLM.Burst
	}
	return c
}

// CalendarConfig maps the calendar section.
func CalendarConfig(cfg *config.Config) calendar.GoogleConfig {
	return calendar.GoogleConfig{
		BaseURL:    cfg.Calendar.BaseURL,
		CalendarID: cfg.Calendar.CalendarID,
		Timeout:    cfg.Calendar.Timeout.Duration,
	}
}

// RetrievalConfig maps the retrieval section. Zero values keep the defaults.
func RetrievalConfig(cfg *config.Config) retrieval.Config {
	c := retrieval.DefaultConfig()
	r := cfg.Retrieval
	if r.MaxCandidates > 0 {
		c.MaxCandidates = r.MaxCandidates
	}
	if r.MaxTopicMeetings > 0 {
		c.MaxTopicMeetings = r.MaxTopicMeetings
	}
	if r.ExcerptTokens > 0 {
		c.ExcerptTokens = r.ExcerptTokens
	}
	if r.CacheSize > 0 {
		c.CacheSize = r.CacheSize
	}
	return c
}

// PipelineConfig maps the pipeline section.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	c := pipeline.DefaultConfig()
	if cfg.Pipeline.Concurrency > 0 {
		c.Concurrency = cfg.Pipeline.Concurrency
	}
	return c
}

// QueueConfig maps the redis section.
func QueueConfig(cfg *config.Config) queues.QueueConfig {
	c := queues.DefaultQueueConfig(cfg.Redis.Queue)
	if cfg.Redis.MaxRetries > 0 {
		c.MaxRetries = cfg.Redis.MaxRetries
	}
	if cfg.Redis.VisibilityTimeout.Duration > 0 {
		c.VisibilityTimeout = cfg.Redis.VisibilityTimeout.Duration
	}
	return c
}

// WorkersConfig maps the workers section.
func WorkersConfig(cfg *config.Config) workers.Config {
	c := workers.DefaultConfig()
	if cfg.Workers.Count > 0 {
		c.Count = cfg.Workers.Count
	}
	if cfg.Workers.PollInterval.Duration > 0 {
		c.PollInterval = cfg.Workers.PollInterval.Duration
	}
	if cfg.Redis.VisibilityTimeout.Duration > 0 {
		c.VisibilityTimeout = cfg.Redis.VisibilityTimeout.Duration
	}
	return c
}

// ServerConfig maps the server section.
func ServerConfig(cfg *config.Config) httpapi.Config {
	c := httpapi.DefaultConfig()
	c.Host = cfg.Server.Host
	c.Port = cfg.Server.Port
	if cfg.Server.RequestTimeout.Duration > 0 {
		c.RequestTimeout = cfg.Server.RequestTimeout.Duration
	}
	if cfg.Server.ShutdownTimeout.Duration > 0 {
		c.ShutdownTimeout = cfg.Server.ShutdownTimeout.Duration
	}
	if cfg.Server.MaxUploadMB > 0 {
		c.MaxUploadBytes = cfg.Server.MaxUploadMB << 20
	}
	return c
}
