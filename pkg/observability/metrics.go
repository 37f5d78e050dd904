package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the meeting pipeline and its adapters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	StageOutcomesTotal *prometheus.CounterVec
	StageSeconds       *prometheus.HistogramVec
	MeetingsTotal      *prometheus.CounterVec

	// Adapter metrics
	AdapterCallsTotal     *prometheus.CounterVec
	AdapterLatencySeconds *prometheus.HistogramVec
	AdapterTokensTotal    *prometheus.CounterVec
	AdapterRetriesTotal   *prometheus.CounterVec

	// Queue metrics
	QueueItemsTotal  *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	QueueWaitSeconds *prometheus.HistogramVec
	DLQItemsTotal    *prometheus.CounterVec

	// Retrieval metrics
	RetrievalRequestsTotal *prometheus.CounterVec
	RetrievalCandidates    *prometheus.HistogramVec

	// Calendar metrics
	CalendarSyncsTotal *prometheus.CounterVec
}

// DefaultMetrics creates metrics registered with the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates a new set of metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_stage_outcomes_total",
				Help: "Stage outcomes by stage, outcome and reason",
			},
			[]string{"stage", "outcome", "reason"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetnotes_stage_seconds",
				Help:    "Stage latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		MeetingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_meetings_processed_total",
				Help: "Meetings that reached ready, by whether any stage degraded",
			},
			[]string{"result"},
		),
		AdapterCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_adapter_calls_total",
				Help: "Total adapter calls",
			},
			[]string{"operation", "model", "status"},
		),
		AdapterLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetnotes_adapter_latency_seconds",
				Help:    "Adapter call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60, 120, 300},
			},
			[]string{"operation", "model"},
		),
		AdapterTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_adapter_tokens_total",
				Help: "Total tokens reported by the generation provider",
			},
			[]string{"direction", "model"},
		),
		AdapterRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_adapter_retries_total",
				Help: "Adapter request retries",
			},
			[]string{"operation"},
		),
		QueueItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_queue_items_total",
				Help: "Total items entering each queue",
			},
			[]string{"queue"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meetnotes_queue_depth",
				Help: "Current queue depth",
			},
			[]string{"queue"},
		),
		QueueWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetnotes_queue_wait_seconds",
				Help:    "Time spent in queue before pickup",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
			},
			[]string{"queue"},
		),
		DLQItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_dlq_items_total",
				Help: "Total items added to dead letter queue",
			},
			[]string{"queue", "error_type"},
		),
		RetrievalRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_retrieval_requests_total",
				Help: "Retrieval requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		RetrievalCandidates: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetnotes_retrieval_candidates",
				Help:    "Candidate meetings sent to the model per request",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 40, 50, 100},
			},
			[]string{"operation"},
		),
		CalendarSyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetnotes_calendar_syncs_total",
				Help: "Calendar syncs by action and status",
			},
			[]string{"action", "status"},
		),
	}
}

// RecordStage records a finished stage.
func (m *Metrics) RecordStage(stage, outcome, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.StageOutcomesTotal.WithLabelValues(stage, outcome, reason).Inc()
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordMeetingReady records a meeting reaching ready.
func (m *Metrics) RecordMeetingReady(degraded bool) {
	if m == nil {
		return
	}
	result := "complete"
	if degraded {
		result = "degraded"
	}
	m.MeetingsTotal.WithLabelValues(result).Inc()
}

// RecordAdapterCall records one adapter call and its latency.
func (m *Metrics) RecordAdapterCall(operation, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.AdapterCallsTotal.WithLabelValues(operation, model, status).Inc()
	m.AdapterLatencySeconds.WithLabelValues(operation, model).Observe(seconds)
}

// RecordAdapterTokens records token usage.
func (m *Metrics) RecordAdapterTokens(model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.AdapterTokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.AdapterTokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// RecordAdapterRetry records a retried adapter request.
func (m *Metrics) RecordAdapterRetry(operation string) {
	if m == nil {
		return
	}
	m.AdapterRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordQueueEnqueue records an item entering a queue.
func (m *Metrics) RecordQueueEnqueue(queue string) {
	if m == nil {
		return
	}
	m.QueueItemsTotal.WithLabelValues(queue).Inc()
}

// RecordQueueDepth sets the current queue depth.
func (m *Metrics) RecordQueueDepth(queue string, depth float64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// RecordQueueWait records the time an item spent in the queue.
func (m *Metrics) RecordQueueWait(queue string, seconds float64) {
	if m == nil {
		return
	}
	m.QueueWaitSeconds.WithLabelValues(queue).Observe(seconds)
}

// RecordDLQItem records an item added to the dead letter queue.
func (m *Metrics) RecordDLQItem(queue, errorType string) {
	if m == nil {
		return
	}
	m.DLQItemsTotal.WithLabelValues(queue, errorType).Inc()
}

// RecordRetrieval records a retrieval request and the number of candidates it used.
func (m *Metrics) RecordRetrieval(operation, status string, candidates int) {
	if m == nil {
		return
	}
	m.RetrievalRequestsTotal.WithLabelValues(operation, status).Inc()
	m.RetrievalCandidates.WithLabelValues(operation).Observe(float64(candidates))
}

// RecordCalendarSync records a calendar sync.
func (m *Metrics) RecordCalendarSync(action, status string) {
	if m == nil {
		return
	}
	m.CalendarSyncsTotal.WithLabelValues(action, status).Inc()
}
