package ai

import (
	"context"
	"path"

	"github.com/otherjamesbrown/meetnotes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

// BlobTranscriber reads recordings from a blob store and sends them to the
// transcription endpoint.
type BlobTranscriber struct {
	client *Client
	blobs  blob.Store
}

// NewTranscriber creates a transcriber over blobs.
func NewTranscriber(client *Client, blobs blob.Store) *BlobTranscriber {
	return &BlobTranscriber{client: client, blobs: blobs}
}

// Transcribe fetches audioRef and returns its transcript. A missing blob is a
// provider_error wrapping mnerrors.ErrNotFound.
func (t *BlobTranscriber) Transcribe(ctx context.Context, cred Credential, audioRef string) (string, error) {
	if cred.Empty() {
		return "", noKeyError()
	}

	audio, err := t.blobs.Fetch(ctx, audioRef)
	if err != nil {
		return "", mnerrors.NewStageError(mnerrors.CodeProviderError, "", "failed to read recording "+audioRef, err)
	}
	if len(audio) == 0 {
		return "", mnerrors.NewStageError(mnerrors.CodeUnsupportedFormat, "", "recording "+audioRef+" is empty", nil)
	}

	return t.client.TranscribeAudio(ctx, cred, path.Base(audioRef), audio)
}

var _ Transcriber = (*BlobTranscriber)(nil)
