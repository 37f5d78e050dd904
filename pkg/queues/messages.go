// Package queues carries meeting processing jobs between the API and workers.
package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority levels for queue messages.
type Priority int

const (
	PriorityLow    Priority = 0 // Backfill, reprocessing
	PriorityNormal Priority = 1 // Uploads
	PriorityHigh   Priority = 2 // Interactive requests
)

// MessageType identifies the type of queue message.
type MessageType string

const (
	MessageTypeProcessMeeting MessageType = "process_meeting"
	MessageTypeReExtract      MessageType = "reextract_action_items"
)

// Message is the base interface for all queue messages.
type Message interface {
	GetMeetingID() string
	GetPriority() Priority
	GetMessageType() MessageType
}

// ProcessMeetingMessage asks a worker to run the processing pipeline for a
// meeting that has already been created. Credentials are never queued; the
// worker uses its own.
type ProcessMeetingMessage struct {
	MeetingID    string            `json:"meeting_id"`
	Priority     Priority          `json:"priority"`
	RequestedAt  time.Time         `json:"requested_at"`
	RequestID    string            `json:"request_id,omitempty"`
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

func (m *ProcessMeetingMessage) GetMeetingID() string        { return m.MeetingID }
func (m *ProcessMeetingMessage) GetPriority() Priority       { return m.Priority }
func (m *ProcessMeetingMessage) GetMessageType() MessageType { return MessageTypeProcessMeeting }

// ReExtractMessage asks a worker to regenerate a meeting's action items.
type ReExtractMessage struct {
	MeetingID   string    `json:"meeting_id"`
	Priority    Priority  `json:"priority"`
	RequestedAt time.Time `json:"requested_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

func (m *ReExtractMessage) GetMeetingID() string        { return m.MeetingID }
func (m *ReExtractMessage) GetPriority() Priority       { return m.Priority }
func (m *ReExtractMessage) GetMessageType() MessageType { return MessageTypeReExtract }

// QueuedMessage wraps a message with queue metadata.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	MessageType  MessageType     `json:"message_type"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// NewQueuedMessage wraps msg under id.
func NewQueuedMessage(id string, msg Message, now time.Time) (*QueuedMessage, error) {
	if msg == nil || strings.TrimSpace(msg.GetMeetingID()) == "" {
		return nil, fmt.Errorf("%w: meeting id is required", ErrInvalidMessage)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return &QueuedMessage{
		ID:          id,
		Message:     raw,
		MessageType: msg.GetMessageType(),
		Priority:    msg.GetPriority(),
		EnqueuedAt:  now,
	}, nil
}

// ParseMessage parses the raw message based on message type.
func (qm *QueuedMessage) ParseMessage() (Message, error) {
	var msg Message
	switch qm.MessageType {
	case MessageTypeProcessMeeting:
		msg = &ProcessMeetingMessage{}
	case MessageTypeReExtract:
		msg = &ReExtractMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, qm.MessageType)
	}
	if err := json.Unmarshal(qm.Message, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.GetMeetingID() == "" {
		return nil, fmt.Errorf("%w: meeting id is required", ErrInvalidMessage)
	}
	return msg, nil
}

// Queue defines the interface for a message queue.
type Queue interface {
	Name() string

	// Enqueue adds a message and returns its queue id.
	Enqueue(ctx context.Context, msg Message) (string, error)

	// Dequeue returns up to maxMessages, waiting at most timeout for the first.
	Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error)

	// Ack acknowledges successful processing of a message.
	Ack(ctx context.Context, messageID string) error

	// Nack schedules a retry, or dead-letters the message once retries run out.
	Nack(ctx context.Context, messageID string, cause error) error

	MoveToDeadLetter(ctx context.Context, messageID string, reason string) error

	// Depth returns the number of messages waiting, including delayed retries.
	Depth(ctx context.Context) (int64, error)

	Close() error
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
	Retry             RetryPolicy   `yaml:"retry"`
}

// DefaultQueueName is the queue meetings are processed from.
const DefaultQueueName = "meetnotes:process"

// DefaultQueueConfig returns the configuration for the named queue.
// Transcription of long recordings can take minutes, so messages stay
// invisible for longer than the transcription timeout.
func DefaultQueueConfig(name string) QueueConfig {
	if name == "" {
		name = DefaultQueueName
	}
	return QueueConfig{
		Name:              name,
		VisibilityTimeout: 10 * time.Minute,
		MaxRetries:        3,
		RetentionPeriod:   72 * time.Hour,
		Retry:             DefaultRetryPolicy(),
	}
}

var (
	_ Message = (*ProcessMeetingMessage)(nil)
	_ Message = (*ReExtractMessage)(nil)
)
