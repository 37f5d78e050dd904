package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/otherjamesbrown/meetnotes/pkg/buildinfo"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the chat model used for generation.
	DefaultModel = "gpt-4o-mini"
	// DefaultSTTModel is the speech-to-text model.
	DefaultSTTModel = "whisper-1"

	maxResponseBytes = 8 << 20
	maxErrorBody     = 512

	opGenerate   = "generate"
	opTranscribe = "transcribe"
)

// Config holds provider settings.
type Config struct {
	BaseURL  string
	Model    string
	STTModel string

	// Temperature is the default sampling temperature.
	Temperature float64

	// Timeout bounds one generation call including retries.
	Timeout time.Duration

	// TranscriptionTimeout bounds one transcription call including retries.
	TranscriptionTimeout time.Duration

	// RequestsPerSecond caps outbound requests. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	// InitialInterval and MaxElapsedTime shape the retry backoff.
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration

	// MaxResponseBytes caps a provider response body. Larger replies fail.
	MaxResponseBytes int64
}

// DefaultConfig returns defaults suitable for the hosted OpenAI API.
func DefaultConfig() Config {
	return Config{
		BaseURL:              DefaultBaseURL,
		Model:                DefaultModel,
		STTModel:             DefaultSTTModel,
		Temperature:          0.2,
		Timeout:              60 * time.Second,
		TranscriptionTimeout: 300 * time.Second,
		RequestsPerSecond:    5,
		Burst:                2,
		InitialInterval:      500 * time.Millisecond,
		MaxElapsedTime:       20 * time.Second,
		MaxResponseBytes:     maxResponseBytes,
	}
}

// CompletionRequest represents a request to the LLM.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// CompletionResponse represents a response from the LLM.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	FinishReason string `json:"finish_reason"`
	LatencyMs    int64  `json:"latency_ms"`
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls an OpenAI-compatible API. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithMetrics records adapter calls on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient creates a client. Empty config fields take their defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.STTModel == "" {
		cfg.STTModel = def.STTModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = def.TranscriptionTimeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.NewNopLogger(),
		tracer:  observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "ai_client"))
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a single-message chat completion.
func (c *Client) Complete(ctx context.Context, cred Credential, req *CompletionRequest) (*CompletionResponse, error) {
	if cred.Empty() {
		return nil, noKeyError()
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.StartAdapterSpan(ctx, opGenerate, model)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	start := time.Now()
	body, err := c.do(ctx, opGenerate, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+cred.APIKey)
		r.Header.Set("User-Agent", buildinfo.UserAgent())
		return r, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		se := c.classify(err)
		se.Duration = elapsed
		c.metrics.RecordAdapterCall(opGenerate, model, se.Reason(), elapsed.Seconds())
		helper.SetError(se, se.Reason(), mnerrors.IsRetryable(se.Code))
		return nil, se
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		se := mnerrors.NewStageError(mnerrors.CodeProviderError, "", "malformed completion response", err)
		c.metrics.RecordAdapterCall(opGenerate, model, se.Reason(), elapsed.Seconds())
		helper.SetError(se, se.Reason(), false)
		return nil, se
	}
	if len(parsed.Choices) == 0 {
		se := mnerrors.NewStageError(mnerrors.CodeProviderError, "", "completion returned no choices", nil)
		c.metrics.RecordAdapterCall(opGenerate, model, se.Reason(), elapsed.Seconds())
		helper.SetError(se, se.Reason(), false)
		return nil, se
	}

	resp := &CompletionResponse{
		Content:      parsed.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		FinishReason: parsed.Choices[0].FinishReason,
		LatencyMs:    elapsed.Milliseconds(),
	}
	if parsed.Model != "" {
		resp.Model = parsed.Model
	}

	c.metrics.RecordAdapterCall(opGenerate, model, "success", elapsed.Seconds())
	c.metrics.RecordAdapterTokens(model, resp.InputTokens, resp.OutputTokens)
	helper.SetLLMResult(resp.InputTokens, resp.OutputTokens, resp.LatencyMs)
	helper.SetSuccess()
	return resp, nil
}

// TranscribeAudio uploads audio to the transcription endpoint and returns the text.
func (c *Client) TranscribeAudio(ctx context.Context, cred Credential, filename string, audio []byte) (string, error) {
	if cred.Empty() {
		return "", noKeyError()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranscriptionTimeout)
	defer cancel()

	ctx, span := c.tracer.StartAdapterSpan(ctx, opTranscribe, c.cfg.STTModel)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.WriteField("model", c.cfg.STTModel); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	payload := form.Bytes()
	contentType := mw.FormDataContentType()

	start := time.Now()
	body, err := c.do(ctx, opTranscribe, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		r.Header.Set("Authorization", "Bearer "+cred.APIKey)
		r.Header.Set("User-Agent", buildinfo.UserAgent())
		return r, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		se := c.classify(err)
		se.Duration = elapsed
		c.metrics.RecordAdapterCall(opTranscribe, c.cfg.STTModel, se.Reason(), elapsed.Seconds())
		helper.SetError(se, se.Reason(), mnerrors.IsRetryable(se.Code))
		return "", se
	}

	c.metrics.RecordAdapterCall(opTranscribe, c.cfg.STTModel, "success", elapsed.Seconds())
	helper.SetDuration(elapsed.Milliseconds())
	helper.SetSuccess()
	return strings.TrimSpace(string(body)), nil
}

// do sends the request built by build, retrying transient failures with
// exponential backoff until the backoff or ctx gives up.
func (c *Client) do(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	var body []byte

	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			// Wait refuses up front when the deadline would pass first.
			return backoff.Permanent(fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
		}
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		limit := c.cfg.MaxResponseBytes
		data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if int64(len(data)) > limit {
				return backoff.Permanent(mnerrors.NewStageError(mnerrors.CodeProviderError, "",
					fmt.Sprintf("provider response exceeds %d bytes", limit), nil))
			}
			body = data
			return nil
		}

		se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorBody)}
		if retryableStatus(resp.StatusCode, se.Body) {
			return se
		}
		return backoff.Permanent(se)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxElapsedTime = c.cfg.MaxElapsedTime

	err := backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.metrics.RecordAdapterRetry(op)
		c.logger.Debug("Provider request failed, retrying",
			logging.F("operation", op),
			logging.F("wait", wait),
			logging.Err(err),
		)
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func retryableStatus(code int, body string) bool {
	switch {
	case code == http.StatusTooManyRequests:
		// An exhausted quota will not recover within the retry window.
		return !strings.Contains(body, "insufficient_quota")
	case code >= 500:
		return true
	}
	return false
}

// classify maps a transport or status failure to a StageError.
func (c *Client) classify(err error) *mnerrors.StageError {
	var se *StatusError
	if !errors.As(err, &se) {
		return mnerrors.ClassifyError(err, "")
	}

	code := mnerrors.CodeProviderError
	lower := strings.ToLower(se.Body)
	switch {
	case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
		code = mnerrors.CodeNoKeyConfigured
	case se.StatusCode == http.StatusTooManyRequests:
		code = mnerrors.CodeQuotaExceeded
	case se.StatusCode == http.StatusUnsupportedMediaType:
		code = mnerrors.CodeUnsupportedFormat
	case se.StatusCode == http.StatusBadRequest && (strings.Contains(lower, "file format") || strings.Contains(lower, "unsupported")):
		code = mnerrors.CodeUnsupportedFormat
	case se.StatusCode == http.StatusNotFound,
		se.StatusCode == http.StatusBadGateway,
		se.StatusCode == http.StatusServiceUnavailable,
		se.StatusCode == http.StatusGatewayTimeout:
		code = mnerrors.CodeModelUnavailable
	}
	return mnerrors.NewStageError(code, "", se.Error(), err)
}

func noKeyError() *mnerrors.StageError {
	return mnerrors.NewStageError(mnerrors.CodeNoKeyConfigured, "",
		"no LLM API key provided; set one with 'meetnotes auth set-key' or send X-LLM-API-Key", nil)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
