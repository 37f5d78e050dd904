// Package workers runs queued meeting jobs on a pool of workers.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/queues"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// MessageHandler processes a queue message.
type MessageHandler func(ctx context.Context, msg queues.Message) error

// StaleRecoverer is implemented by queues that can reclaim messages whose
// visibility timeout expired.
type StaleRecoverer interface {
	RecoverStaleMessages(ctx context.Context) (int, error)
}

// Config configures a pool.
type Config struct {
	Count             int           `yaml:"count"`
	BatchSize         int           `yaml:"batch_size"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RecoverInterval   time.Duration `yaml:"recover_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Count:             4,
		BatchSize:         1,
		VisibilityTimeout: 10 * time.Minute,
		PollInterval:      time.Second,
		RecoverInterval:   30 * time.Second,
		ShutdownTimeout:   2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Count <= 0 {
		c.Count = def.Count
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = def.VisibilityTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RecoverInterval <= 0 {
		c.RecoverInterval = def.RecoverInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// Worker represents a single worker processing messages.
type Worker struct {
	ID      string
	config  Config
	queue   queues.Queue
	handler MessageHandler
	logger  logging.Logger

	status       atomic.Value // WorkerStatus
	lastActivity atomic.Int64

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64
}

func newWorker(config Config, queue queues.Queue, handler MessageHandler, logger logging.Logger) *Worker {
	w := &Worker{
		ID:      uuid.New().String(),
		config:  config,
		queue:   queue,
		handler: handler,
	}
	w.logger = logger.With(logging.F("worker_id", w.ID))
	w.status.Store(WorkerStatusStarting)
	return w
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	return w.status.Load().(WorkerStatus)
}

// LastActivity returns when the worker last picked up a message.
func (w *Worker) LastActivity() time.Time {
	ns := w.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (w *Worker) run(ctx context.Context) {
	w.status.Store(WorkerStatusHealthy)
	defer w.status.Store(WorkerStatusStopped)

	for ctx.Err() == nil {
		messages, err := w.queue.Dequeue(ctx, w.config.BatchSize, w.config.PollInterval)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queues.ErrQueueClosed) {
				return
			}
			w.logger.Warn("Dequeue failed, continuing", logging.Err(err))
			select {
			case <-time.After(w.config.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, qm := range messages {
			w.processMessage(ctx, qm)
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, qm *queues.QueuedMessage) {
	w.lastActivity.Store(time.Now().UnixNano())
	// Queue bookkeeping must finish even while draining.
	bg := context.WithoutCancel(ctx)

	msg, err := qm.ParseMessage()
	if err != nil {
		if derr := w.queue.MoveToDeadLetter(bg, qm.ID, fmt.Sprintf("parse error: %v", err)); derr != nil {
			w.logger.Error("Failed to dead-letter message", logging.F("message_id", qm.ID), logging.Err(derr))
		}
		w.FailedCount.Add(1)
		return
	}

	jobCtx := logging.ContextWithMeetingID(ctx, msg.GetMeetingID())
	if pm, ok := msg.(*queues.ProcessMeetingMessage); ok {
		jobCtx = observability.ExtractTraceContext(jobCtx, pm.TraceContext)
		if pm.RequestID != "" {
			jobCtx = logging.ContextWithRequestID(jobCtx, pm.RequestID)
		}
	}
	// Leave headroom to ack before the message becomes visible again.
	timeout := w.config.VisibilityTimeout - 10*time.Second
	if timeout <= 0 {
		timeout = w.config.VisibilityTimeout
	}
	jobCtx, cancel := context.WithTimeout(jobCtx, timeout)
	defer cancel()

	started := time.Now()
	log := w.logger.WithContext(jobCtx).With(
		logging.F("message_id", qm.ID),
		logging.F("type", string(qm.MessageType)),
		logging.F("attempt", qm.RetryCount+1),
	)

	if err := w.handler(jobCtx, msg); err != nil {
		w.FailedCount.Add(1)
		log.Warn("Job failed", logging.Err(err), logging.F("duration", time.Since(started)))
		if nerr := w.queue.Nack(bg, qm.ID, err); nerr != nil {
			log.Error("Failed to nack message", logging.Err(nerr))
		}
		return
	}

	if err := w.queue.Ack(bg, qm.ID); err != nil {
		log.Error("Failed to ack message", logging.Err(err))
	}
	w.ProcessedCount.Add(1)
	log.Info("Job completed", logging.F("duration", time.Since(started)))
}

// Pool manages a pool of workers over one queue.
type Pool struct {
	config  Config
	queue   queues.Queue
	handler MessageHandler
	logger  logging.Logger

	mu      sync.RWMutex
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates a new worker pool.
func NewPool(config Config, queue queues.Queue, handler MessageHandler, opts ...PoolOption) *Pool {
	p := &Pool{
		config:  config.withDefaults(),
		queue:   queue,
		handler: handler,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.F("component", "workers"), logging.F("queue", queue.Name()))
	return p
}

// Start starts all workers, plus a stale message recoverer when the queue
// supports one. Workers stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Count; i++ {
		w := newWorker(p.config, p.queue, p.handler, p.logger)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}

	if r, ok := p.queue.(StaleRecoverer); ok {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.recoverLoop(ctx, r)
		}()
	}
	p.logger.Info("Worker pool started", logging.F("workers", p.config.Count))
}

func (p *Pool) recoverLoop(ctx context.Context, r StaleRecoverer) {
	ticker := time.NewTicker(p.config.RecoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RecoverStaleMessages(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("Stale message recovery failed, continuing", logging.Err(err))
			} else if n > 0 {
				p.logger.Info("Recovered stale messages", logging.F("count", n))
			}
		}
	}
}

// Stop signals all workers to finish their current job and waits up to the
// shutdown timeout. It reports whether every worker stopped in time.
func (p *Pool) Stop() bool {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return true
	}
	for _, w := range p.workers {
		w.status.Store(WorkerStatusDraining)
	}
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return true
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out")
		return false
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{Queue: p.queue.Name(), WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Queue       string `json:"queue"`
	WorkerCount int    `json:"worker_count"`
	ActiveCount int    `json:"active_count"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
}
