package workers

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/queues"
)

// Processor is the part of the pipeline the workers drive.
type Processor interface {
	Process(ctx context.Context, cred ai.Credential, meetingID string) (*meeting.Meeting, error)
	ReExtractActionItems(ctx context.Context, cred ai.Credential, meetingID string) (*meeting.Meeting, error)
}

// NewPipelineHandler runs queued jobs through p with the server credential.
// Degraded stages complete the job; only errors that stop processing, such
// as a failed store write, are returned for retry.
func NewPipelineHandler(p Processor, cred ai.Credential) MessageHandler {
	return func(ctx context.Context, msg queues.Message) error {
		var err error
		switch m := msg.(type) {
		case *queues.ProcessMeetingMessage:
			_, err = p.Process(ctx, cred, m.MeetingID)
		case *queues.ReExtractMessage:
			_, err = p.ReExtractActionItems(ctx, cred, m.MeetingID)
		default:
			return queues.NewPermanentError(queues.ErrorCodeInvalidInput,
				fmt.Sprintf("unsupported message type %q", msg.GetMessageType()), queues.ErrUnknownMessageType)
		}
		return err
	}
}
