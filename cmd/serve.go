package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/workers"
)

// Serve command flags.
var (
	serveHost        string
	servePort        int
	serveMigrate     bool
	serveWithWorkers bool
)

// ServeCmd runs the HTTP API.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meetnotes HTTP API",
	Long: `Run the meetnotes HTTP API.

Clients upload recordings, browse meetings, edit action items, link calendar
events and ask questions over /api/v1. Each request carries its own provider
key in the X-LLM-API-Key header and its own calendar token in X-Calendar-Token;
when a header is missing the key configured with 'meetnotes auth set-key' is used.

When redis.addr is configured, uploads may be processed asynchronously
(async=true) by 'meetnotes worker' or by workers started in this process with
--with-workers.

Examples:
  meetnotes serve
  meetnotes serve --port 9000
  meetnotes serve --migrate --with-workers`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (overrides server.host)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	ServeCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply PostgreSQL migrations before serving")
	ServeCmd.Flags().BoolVar(&serveWithWorkers, "with-workers", false, "Also consume the processing queue in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := NewLogger(cfg, "meetnotes")
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger, AppOptions{WithQueue: true, Migrate: serveMigrate})
	if err != nil {
		return err
	}
	defer app.Close()

	if serveWithWorkers {
		if app.Queue == nil {
			return fmt.Errorf("--with-workers requires redis.addr to be configured")
		}
		pool, err := startWorkers(ctx, app)
		if err != nil {
			return err
		}
		defer pool.Stop()
	}

	logger.Info("meetnotes API ready",
		logging.F("storage", string(cfg.Storage.Driver)),
		logging.F("queue", app.Queue != nil))
	return app.Server().ListenAndServe(ctx)
}

// startWorkers starts a pool that processes queued meetings with the
// server's provider key. A missing key is allowed: every stage degrades.
func startWorkers(ctx context.Context, app *App) (*workers.Pool, error) {
	key, source, err := credentialStore().ResolveLLMKey()
	if err != nil {
		return nil, fmt.Errorf("reading provider key: %w", err)
	}
	if key == "" {
		app.Logger.Warn("No provider key configured, queued meetings will finish degraded")
	} else {
		app.Logger.Info("Workers using provider key", logging.F("source", string(source)))
	}

	handler := workers.NewPipelineHandler(app.Pipeline, ai.Credential{APIKey: key})
	pool := workers.NewPool(WorkersConfig(app.Config), app.Queue, handler, workers.WithLogger(app.Logger))
	pool.Start(ctx)
	return pool, nil
}
