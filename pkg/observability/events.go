// Package observability provides event schemas, metrics, and tracing for the meeting pipeline.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event channels for Redis pub/sub
const (
	ChannelStageCompleted = "events.meetnotes.stage_completed"
	ChannelMeetingReady   = "events.meetnotes.meeting_ready"
)

// StageEvent is emitted after each pipeline stage finishes.
type StageEvent struct {
	EventID    string    `json:"event_id"`
	MeetingID  string    `json:"meeting_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Stage      string    `json:"stage"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewStageEvent creates a new stage event with a generated ID.
func NewStageEvent(meetingID, stage, outcome, reason string, durationMs int64) *StageEvent {
	return &StageEvent{
		EventID:    uuid.New().String(),
		MeetingID:  meetingID,
		Stage:      stage,
		Outcome:    outcome,
		Reason:     reason,
		DurationMs: durationMs,
		Timestamp:  time.Now(),
	}
}

// MeetingReadyEvent is emitted when a meeting reaches ready.
type MeetingReadyEvent struct {
	EventID   string            `json:"event_id"`
	MeetingID string            `json:"meeting_id"`
	TraceID   string            `json:"trace_id,omitempty"`
	Degraded  map[string]string `json:"degraded,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewMeetingReadyEvent creates a ready event. degraded maps stage to reason.
func NewMeetingReadyEvent(meetingID string, degraded map[string]string) *MeetingReadyEvent {
	return &MeetingReadyEvent{
		EventID:   uuid.New().String(),
		MeetingID: meetingID,
		Degraded:  degraded,
		Timestamp: time.Now(),
	}
}

// EventPublisher publishes events to channels.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
}

// PublishFunc sends an encoded event. It adapts any pub/sub client to
// EventPublisher.
type PublishFunc func(ctx context.Context, channel string, payload []byte) error

// Publish JSON-encodes event and hands it to f.
func (f PublishFunc) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return f(ctx, channel, data)
}

// RedisPublisher publishes on Redis pub/sub through client.
func RedisPublisher(client redis.Cmdable) PublishFunc {
	return func(ctx context.Context, channel string, payload []byte) error {
		return client.Publish(ctx, channel, payload).Err()
	}
}

func discard(context.Context, string, []byte) error { return nil }

// EventEmitter stamps pipeline events with the current trace and publishes them.
type EventEmitter struct {
	publisher EventPublisher
}

// NewEventEmitter creates a new event emitter. A nil publisher discards events.
func NewEventEmitter(publisher EventPublisher) *EventEmitter {
	if publisher == nil {
		publisher = PublishFunc(discard)
	}
	return &EventEmitter{publisher: publisher}
}

// EmitStageCompleted emits a stage event.
func (e *EventEmitter) EmitStageCompleted(ctx context.Context, event *StageEvent) error {
	stampTrace(ctx, &event.TraceID)
	return e.publisher.Publish(ctx, ChannelStageCompleted, event)
}

// EmitMeetingReady emits a ready event.
func (e *EventEmitter) EmitMeetingReady(ctx context.Context, event *MeetingReadyEvent) error {
	stampTrace(ctx, &event.TraceID)
	return e.publisher.Publish(ctx, ChannelMeetingReady, event)
}

func stampTrace(ctx context.Context, traceID *string) {
	if *traceID == "" {
		*traceID = GetTraceID(ctx)
	}
}
