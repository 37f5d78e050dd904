package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
)

var testCred = Credential{APIKey: "sk-test"}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:         srv.URL + "/",
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  300 * time.Millisecond,
	}, opts...)
}

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"model": "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 11, "completion_tokens": 7},
	})
}

func stageCode(t *testing.T, err error) mnerrors.ErrorCode {
	t.Helper()
	var se *mnerrors.StageError
	require.ErrorAs(t, err, &se)
	return se.Code
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://llm.local/v1/"})
	cfg := c.Config()
	assert.Equal(t, "http://llm.local/v1", cfg.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultSTTModel, cfg.STTModel)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 300*time.Second, cfg.TranscriptionTimeout)
}

func TestComplete_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[0].Content)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)

		chatReply(w, "hi there")
	})

	resp, err := c.Complete(context.Background(), testCred, &CompletionRequest{Prompt: "hello", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 11, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestComplete_NoKey(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := c.Complete(context.Background(), Credential{APIKey: "  "}, &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeNoKeyConfigured, stageCode(t, err))
	assert.True(t, mnerrors.IsAdapterUnavailable(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestComplete_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    mnerrors.ErrorCode
		unavailable bool
		wantCalls   int32
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid key"}`, mnerrors.CodeNoKeyConfigured, true, 1},
		{"quota exhausted", http.StatusTooManyRequests, `{"error":{"code":"insufficient_quota"}}`, mnerrors.CodeQuotaExceeded, true, 1},
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, mnerrors.CodeProviderError, false, 1},
		{"model missing", http.StatusNotFound, `{"error":"no model"}`, mnerrors.CodeModelUnavailable, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Complete(context.Background(), testCred, &CompletionRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, stageCode(t, err))
			assert.Equal(t, tt.unavailable, mnerrors.IsAdapterUnavailable(err))
			assert.Equal(t, !tt.unavailable, mnerrors.IsAdapterError(err))
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		chatReply(w, "recovered")
	}, WithMetrics(metrics))

	resp, err := c.Complete(context.Background(), testCred, &CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AdapterRetriesTotal.WithLabelValues(opGenerate)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AdapterCallsTotal.WithLabelValues(opGenerate, DefaultModel, "success")))
}

func TestComplete_RetriesExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Complete(context.Background(), testCred, &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeProviderError, stageCode(t, err))
	assert.True(t, mnerrors.IsAdapterError(err))
	assert.Greater(t, atomic.LoadInt32(&calls), int32(1))
}

func TestComplete_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(w, "late")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, testCred, &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeContextCancelled, stageCode(t, err))
}

func TestDo_OversizedResponse(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "at limit", size: 64},
		{name: "one byte over", size: 65, wantErr: true},
		{name: "far over", size: 4096, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				_, _ = io.WriteString(w, strings.Repeat("a", tt.size))
			}))
			t.Cleanup(srv.Close)
			c := NewClient(Config{
				BaseURL:          srv.URL,
				InitialInterval:  time.Millisecond,
				MaxElapsedTime:   300 * time.Millisecond,
				MaxResponseBytes: 64,
			})

			text, err := c.TranscribeAudio(context.Background(), testCred, "a.wav", []byte("RIFF"))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Len(t, text, tt.size)
				return
			}
			require.Error(t, err)
			assert.Equal(t, mnerrors.CodeProviderError, stageCode(t, err))
			assert.Contains(t, err.Error(), "exceeds 64 bytes")
			assert.Empty(t, text)
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	})

	_, err := c.Complete(context.Background(), testCred, &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeProviderError, stageCode(t, err))
}

func TestTranscribeAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, DefaultSTTModel, r.FormValue("model"))
		assert.Equal(t, "text", r.FormValue("response_format"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "standup.wav", hdr.Filename)
		assert.Equal(t, "RIFF....", string(data))

		_, _ = io.WriteString(w, "  Alice will send the deck.\n")
	})

	text, err := c.TranscribeAudio(context.Background(), testCred, "standup.wav", []byte("RIFF...."))
	require.NoError(t, err)
	assert.Equal(t, "Alice will send the deck.", text)
}

func TestTranscribeAudio_UnsupportedFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid file format. Supported formats: flac, m4a, mp3"}}`)
	})

	_, err := c.TranscribeAudio(context.Background(), testCred, "notes.txt", []byte("plain"))
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeUnsupportedFormat, stageCode(t, err))
	assert.True(t, mnerrors.IsAdapterError(err))
}

func TestTranscribeAudio_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, InitialInterval: time.Millisecond, MaxElapsedTime: 50 * time.Millisecond})
	_, err := c.TranscribeAudio(context.Background(), testCred, "a.wav", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, mnerrors.CodeModelUnavailable, stageCode(t, err))
	assert.True(t, mnerrors.IsAdapterUnavailable(err))
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(http.StatusTooManyRequests, "slow down"))
	assert.False(t, retryableStatus(http.StatusTooManyRequests, `"insufficient_quota"`))
	assert.True(t, retryableStatus(http.StatusBadGateway, ""))
	assert.False(t, retryableStatus(http.StatusBadRequest, ""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate(" abc ", 5))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 20), 5), "..."))
}
