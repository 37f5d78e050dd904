package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetnotes/pkg/logging"
)

var workerCount int

// WorkerCmd consumes the processing queue.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued meetings",
	Long: `Consume the Redis processing queue and run each queued meeting through
transcription, summarization and action item extraction.

Workers use the provider key from MEETNOTES_LLM_API_KEY (or LLM_API_KEY,
OPENAI_API_KEY) or the key stored with 'meetnotes auth set-key'. Keys sent by
HTTP clients are never written to the queue.

Examples:
  meetnotes worker
  meetnotes worker --count 8`,
	RunE: runWorker,
}

func init() {
	WorkerCmd.Flags().IntVar(&workerCount, "count", 0, "Number of workers (overrides workers.count)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled() {
		return fmt.Errorf("redis.addr is not configured; set it in the config file or MEETNOTES_REDIS_ADDR")
	}
	if workerCount > 0 {
		cfg.Workers.Count = workerCount
	}

	logger := NewLogger(cfg, "meetnotes-worker")
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger, AppOptions{WithQueue: true})
	if err != nil {
		return err
	}
	defer app.Close()

	pool, err := startWorkers(ctx, app)
	if err != nil {
		return err
	}
	logger.Info("Workers started", logging.F("count", WorkersConfig(cfg).Count), logging.F("queue", cfg.Redis.Queue))

	<-ctx.Done()
	logger.Info("Draining workers")
	start := time.Now()
	if !pool.Stop() {
		logger.Warn("Workers did not drain before the shutdown timeout")
	}
	logger.Info("Workers stopped", logging.F("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
