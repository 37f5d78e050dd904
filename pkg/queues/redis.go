package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
)

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"      // Ready messages (sorted set, lowest score first)
	keyPrefixDelayed    = "delayed:"    // Retries waiting for their backoff (score = visible at)
	keyPrefixProcessing = "processing:" // Messages being processed (score = visibility deadline)
	keyPrefixMessage    = "msg:"        // Message data
	keyPrefixDLQ        = "dlq:"        // Dead letter queue
)

// priorityStride separates priorities in the ready set. Enqueue times in
// Unix seconds stay well below it, so a higher priority always sorts first
// and messages of equal priority are served in arrival order.
const priorityStride = 1e11

// readyScore orders the ready set for ZPOPMIN.
func readyScore(p Priority, at time.Time) float64 {
	return float64(PriorityHigh-p)*priorityStride + float64(at.UnixMicro())/1e6
}

// RedisQueue implements Queue using Redis sorted sets.
type RedisQueue struct {
	client  *redis.Client
	name    string
	config  QueueConfig
	logger  logging.Logger
	metrics *observability.Metrics
	now     func() time.Time
	closed  atomic.Bool
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) RedisOption {
	return func(q *RedisQueue) {
		q.logger = logger
	}
}

// WithMetrics records queue activity on m.
func WithMetrics(m *observability.Metrics) RedisOption {
	return func(q *RedisQueue) {
		q.metrics = m
	}
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(client *redis.Client, config QueueConfig, opts ...RedisOption) *RedisQueue {
	def := DefaultQueueConfig(config.Name)
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = def.VisibilityTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = def.RetentionPeriod
	}
	if config.Retry.InitialBackoff <= 0 {
		config.Retry = def.Retry
	}

	q := &RedisQueue{
		client: client,
		name:   config.Name,
		config: config,
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(logging.F("component", "queue"), logging.F("queue", q.name))
	return q
}

func (q *RedisQueue) key(prefix string) string { return prefix + q.name }
func (q *RedisQueue) msgKey(id string) string  { return keyPrefixMessage + q.name + ":" + id }

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// Enqueue adds a message to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	now := q.now()
	qm, err := NewQueuedMessage(uuid.New().String(), msg, now)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(qm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queued message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.msgKey(qm.ID), data, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.key(keyPrefixQueue), redis.Z{Score: readyScore(qm.Priority, now), Member: qm.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	q.metrics.RecordQueueEnqueue(q.name)
	q.logger.Debug("Message enqueued",
		logging.F("message_id", qm.ID),
		logging.F("meeting_id", msg.GetMeetingID()),
		logging.F("type", string(qm.MessageType)),
	)
	return qm.ID, nil
}

// Dequeue retrieves messages from the queue, polling until at least one is
// available, timeout passes or ctx is done.
func (q *RedisQueue) Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	deadline := q.now().Add(timeout)
	var messages []*QueuedMessage

	for len(messages) < maxMessages {
		if err := q.promoteDelayed(ctx); err != nil {
			return messages, err
		}

		result, err := q.client.ZPopMin(ctx, q.key(keyPrefixQueue), 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return messages, fmt.Errorf("failed to pop from queue: %w", err)
		}
		if len(result) == 0 {
			if len(messages) > 0 || !q.now().Before(deadline) {
				return messages, nil
			}
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return messages, ctx.Err()
			}
		}

		messageID, _ := result[0].Member.(string)
		qm, err := q.load(ctx, messageID)
		if errors.Is(err, ErrMessageNotFound) {
			// Message expired, skip
			continue
		}
		if err != nil {
			return messages, err
		}

		qm.VisibleAfter = q.now().Add(q.config.VisibilityTimeout)
		if err := q.store(ctx, qm, func(pipe redis.Pipeliner) {
			pipe.ZAdd(ctx, q.key(keyPrefixProcessing), redis.Z{
				Score:  float64(qm.VisibleAfter.UnixNano()),
				Member: messageID,
			})
		}); err != nil {
			return messages, fmt.Errorf("failed to move to processing: %w", err)
		}

		q.metrics.RecordQueueWait(q.name, q.now().Sub(qm.EnqueuedAt).Seconds())
		messages = append(messages, qm)
	}

	return messages, nil
}

// promoteDelayed moves retries whose backoff has elapsed to the ready set.
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	now := q.now()
	due, err := q.client.ZRangeByScore(ctx, q.key(keyPrefixDelayed), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed messages: %w", err)
	}
	for _, id := range due {
		qm, err := q.load(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			q.client.ZRem(ctx, q.key(keyPrefixDelayed), id)
			continue
		}
		if err != nil {
			return err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key(keyPrefixDelayed), id)
		pipe.ZAdd(ctx, q.key(keyPrefixQueue), redis.Z{Score: readyScore(qm.Priority, qm.EnqueuedAt), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to promote message: %w", err)
		}
	}
	return nil
}

// Ack acknowledges successful processing of a message.
func (q *RedisQueue) Ack(ctx context.Context, messageID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key(keyPrefixProcessing), messageID)
	pipe.Del(ctx, q.msgKey(messageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack records the failure and schedules a retry after the policy's backoff.
// Permanent failures and messages out of retries go to the dead letter queue.
func (q *RedisQueue) Nack(ctx context.Context, messageID string, cause error) error {
	qm, err := q.load(ctx, messageID)
	if err != nil {
		return err
	}

	qm.RetryCount++
	if cause != nil {
		qm.LastError = cause.Error()
	}

	decision := q.config.Retry.DecideRetry(cause, qm.RetryCount, q.config.MaxRetries)
	if !decision.ShouldRetry {
		return q.deadLetter(ctx, qm, decision.Reason, errorType(cause))
	}

	qm.VisibleAfter = q.now().Add(decision.BackoffDuration)
	if err := q.store(ctx, qm, func(pipe redis.Pipeliner) {
		pipe.ZRem(ctx, q.key(keyPrefixProcessing), messageID)
		pipe.ZAdd(ctx, q.key(keyPrefixDelayed), redis.Z{
			Score:  float64(qm.VisibleAfter.UnixNano()),
			Member: messageID,
		})
	}); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}

	q.logger.Info("Message scheduled for retry",
		logging.F("message_id", messageID),
		logging.F("retry_count", qm.RetryCount),
		logging.F("backoff", decision.BackoffDuration),
	)
	return nil
}

// MoveToDeadLetter moves a message to the dead letter queue.
func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, messageID string, reason string) error {
	qm, err := q.load(ctx, messageID)
	if err != nil {
		return err
	}
	return q.deadLetter(ctx, qm, reason, "rejected")
}

// DeadLetterEntry is one message in the dead letter queue.
type DeadLetterEntry struct {
	Message   QueuedMessage `json:"message"`
	Reason    string        `json:"reason"`
	MovedAt   time.Time     `json:"moved_at"`
	QueueName string        `json:"queue_name"`
}

func (q *RedisQueue) deadLetter(ctx context.Context, qm *QueuedMessage, reason, errType string) error {
	entry, err := json.Marshal(DeadLetterEntry{
		Message:   *qm,
		Reason:    reason,
		MovedAt:   q.now().UTC(),
		QueueName: q.name,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key(keyPrefixProcessing), qm.ID)
	pipe.ZRem(ctx, q.key(keyPrefixDelayed), qm.ID)
	pipe.Del(ctx, q.msgKey(qm.ID))
	pipe.ZAdd(ctx, q.key(keyPrefixDLQ), redis.Z{
		Score:  float64(q.now().UnixNano()),
		Member: string(entry),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}

	q.metrics.RecordDLQItem(q.name, errType)
	q.logger.Warn("Message moved to dead letter queue",
		logging.F("message_id", qm.ID),
		logging.F("reason", reason),
		logging.F("last_error", qm.LastError),
	)
	return nil
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := q.client.ZRevRange(ctx, q.key(keyPrefixDLQ), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}
	entries := make([]DeadLetterEntry, 0, len(raw))
	for _, r := range raw {
		var e DeadLetterEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Depth returns the current queue depth.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, q.key(keyPrefixQueue))
	delayed := pipe.ZCard(ctx, q.key(keyPrefixDelayed))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	depth := ready.Val() + delayed.Val()
	q.metrics.RecordQueueDepth(q.name, float64(depth))
	return depth, nil
}

// RecoverStaleMessages returns messages whose visibility timeout expired to
// the queue, counting the expiry as a failed attempt. It should be called
// periodically by a background worker.
func (q *RedisQueue) RecoverStaleMessages(ctx context.Context) (int, error) {
	stale, err := q.client.ZRangeByScore(ctx, q.key(keyPrefixProcessing), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixNano(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale messages: %w", err)
	}

	recovered := 0
	for _, messageID := range stale {
		err := q.Nack(ctx, messageID, NewTransientError(ErrorCodeTimeout, "visibility timeout exceeded", nil))
		if errors.Is(err, ErrMessageNotFound) {
			q.client.ZRem(ctx, q.key(keyPrefixProcessing), messageID)
			continue
		}
		if err != nil {
			q.logger.Warn("Failed to recover stale message", logging.F("message_id", messageID), logging.Err(err))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Close stops the queue from accepting work. The Redis client is owned by
// the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func (q *RedisQueue) load(ctx context.Context, messageID string) (*QueuedMessage, error) {
	data, err := q.client.Get(ctx, q.msgKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	var qm QueuedMessage
	if err := json.Unmarshal(data, &qm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &qm, nil
}

// store writes qm and applies extra commands in the same transaction.
func (q *RedisQueue) store(ctx context.Context, qm *QueuedMessage, extra func(redis.Pipeliner)) error {
	data, err := json.Marshal(qm)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.msgKey(qm.ID), data, q.config.RetentionPeriod)
	extra(pipe)
	_, err = pipe.Exec(ctx)
	return err
}

func errorType(err error) string {
	if pe := Categorize(err); pe != nil {
		return string(pe.Category)
	}
	return "unknown"
}

// Verify interface compliance
var _ Queue = (*RedisQueue)(nil)
