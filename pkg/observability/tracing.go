package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for meetnotes spans.
const TracerName = "meetnotes"

// Span attribute keys
const (
	AttrMeetingID    = "meeting_id"
	AttrStage        = "stage"
	AttrOutcome      = "outcome"
	AttrReason       = "reason"
	AttrOperation    = "operation"
	AttrDurationMs   = "duration_ms"
	AttrModel        = "model"
	AttrPromptKind   = "prompt_kind"
	AttrCandidates   = "candidates"
	AttrInputTokens  = "input_tokens"
	AttrOutputTokens = "output_tokens"
	AttrErrorType    = "error_type"
	AttrRetryable    = "retryable"
)

// Span names
const (
	SpanProcessMeeting = "meetnotes.process_meeting"
	SpanAdapterCall    = "meetnotes.adapter_call"
	SpanRetrieval      = "meetnotes.retrieval"
	SpanCalendarSync   = "meetnotes.calendar_sync"
	spanStagePrefix    = "meetnotes.stage."
)

// propagator carries W3C traceparent/tracestate across the job queue. It
// is fixed rather than read from otel's global, which defaults to a no-op.
var propagator = propagation.TraceContext{}

// Tracer starts the spans meetnotes emits.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerWithProvider(otel.GetTracerProvider())
}

// NewTracerWithProvider creates a tracer from tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartMeetingSpan starts the root span for one run of the pipeline.
func (t *Tracer) StartMeetingSpan(ctx context.Context, meetingID string) (context.Context, trace.Span) {
	return t.start(ctx, SpanProcessMeeting, attribute.String(AttrMeetingID, meetingID))
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.start(ctx, spanStagePrefix+stage, attribute.String(AttrStage, stage))
}

// StartAdapterSpan starts a span for an outbound provider call.
func (t *Tracer) StartAdapterSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return t.start(ctx, SpanAdapterCall,
		attribute.String(AttrOperation, operation),
		attribute.String(AttrModel, model))
}

// StartRetrievalSpan starts a span for a question or topic request.
func (t *Tracer) StartRetrievalSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.start(ctx, SpanRetrieval, attribute.String(AttrOperation, operation))
}

// StartCalendarSpan starts a span for a calendar sync.
func (t *Tracer) StartCalendarSpan(ctx context.Context, meetingID string) (context.Context, trace.Span) {
	return t.start(ctx, SpanCalendarSync, attribute.String(AttrMeetingID, meetingID))
}

// SpanHelper records meetnotes attributes on a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetOutcome records a stage outcome and, when degraded, its reason.
func (h *SpanHelper) SetOutcome(outcome, reason string) {
	attrs := []attribute.KeyValue{attribute.String(AttrOutcome, outcome)}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrReason, reason))
	}
	h.span.SetAttributes(attrs...)
}

// SetDuration sets the duration attribute.
func (h *SpanHelper) SetDuration(durationMs int64) {
	h.span.SetAttributes(attribute.Int64(AttrDurationMs, durationMs))
}

// SetPromptKind sets the prompt kind attribute.
func (h *SpanHelper) SetPromptKind(kind string) {
	h.span.SetAttributes(attribute.String(AttrPromptKind, kind))
}

// SetCandidates sets the number of retrieval candidates.
func (h *SpanHelper) SetCandidates(n int) {
	h.span.SetAttributes(attribute.Int(AttrCandidates, n))
}

// SetLLMResult records token usage and latency of a provider call.
func (h *SpanHelper) SetLLMResult(inputTokens, outputTokens int, latencyMs int64) {
	h.span.SetAttributes(
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
		attribute.Int64(AttrDurationMs, latencyMs),
	)
}

// SetError marks the span failed with the error's classification.
func (h *SpanHelper) SetError(err error, errorType string, retryable bool) {
	h.span.RecordError(err)
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorType, errorType),
		attribute.Bool(AttrRetryable, retryable),
	)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace id of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// InjectTraceContext serializes the span context in ctx for a queue
// message. The map is empty when ctx carries no valid span.
func InjectTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	return carrier
}

// ExtractTraceContext returns ctx with the remote span context from a queue
// message, so worker spans join the trace that enqueued the job.
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(headers))
}
