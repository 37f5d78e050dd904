package ai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetnotes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

func newBlobs(t *testing.T) *blob.FileStore {
	t.Helper()
	fs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestBlobTranscriber(t *testing.T) {
	blobs := newBlobs(t)
	ref, err := blobs.Put(context.Background(), "m-1.wav", bytes.NewReader([]byte("RIFF")))
	require.NoError(t, err)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello team")
	})

	text, err := NewTranscriber(c, blobs).Transcribe(context.Background(), testCred, ref)
	require.NoError(t, err)
	assert.Equal(t, "hello team", text)
}

func TestBlobTranscriber_MissingBlob(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := NewTranscriber(c, newBlobs(t)).Transcribe(context.Background(), testCred, "gone.wav")
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeProviderError, stageCode(t, err))
	assert.True(t, mnerrors.IsNotFound(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestBlobTranscriber_NoKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := NewTranscriber(c, newBlobs(t)).Transcribe(context.Background(), Credential{}, "m-1.wav")
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeNoKeyConfigured, stageCode(t, err))
}

func TestBlobTranscriber_EmptyRecording(t *testing.T) {
	blobs := newBlobs(t)
	ref, err := blobs.Put(context.Background(), "empty.wav", bytes.NewReader(nil))
	require.NoError(t, err)

	_, err = NewTranscriber(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}), blobs).
		Transcribe(context.Background(), testCred, ref)
	assert.Equal(t, mnerrors.CodeUnsupportedFormat, stageCode(t, err))
}
