// Package pipeline runs the per-meeting processing state machine:
// transcription, then summary and action item extraction, ending in Ready.
//
// A stage that cannot use its adapter is recorded as degraded and the meeting
// moves on. Only persistence failures are returned to the caller.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

// Config holds pipeline tuning.
type Config struct {
	// Concurrency bounds ProcessBatch.
	Concurrency int

	// PersistTimeout bounds each store write. Writes run detached from the
	// caller's cancellation so a meeting is never left half-written.
	PersistTimeout time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		PersistTimeout: 10 * time.Second,
	}
}

// SubmitRequest describes a new recording.
type SubmitRequest struct {
	// ID is optional; a uuid is generated when empty.
	ID              string
	Title           string
	AudioRef        string
	StartTime       *time.Time
	EndTime         *time.Time
	CalendarEventID *string
	FolderID        *string
}

// Pipeline processes meetings held in a Repository.
type Pipeline struct {
	cfg         Config
	repo        store.Repository
	items       *actionitems.Store
	transcriber ai.Transcriber
	generator   ai.Generator
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	events      *observability.EventEmitter
	now         func() time.Time
	newID       func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig sets the pipeline configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics records stage outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithEvents publishes stage events through e.
func WithEvents(e *observability.EventEmitter) Option {
	return func(p *Pipeline) {
		p.events = e
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithIDGenerator overrides meeting id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		p.newID = fn
	}
}

// New creates a pipeline.
func New(repo store.Repository, transcriber ai.Transcriber, generator ai.Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:         DefaultConfig(),
		repo:        repo,
		transcriber: transcriber,
		generator:   generator,
		logger:      logging.NewNopLogger(),
		tracer:      observability.NewTracer(),
		events:      observability.NewEventEmitter(nil),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Concurrency <= 0 {
		p.cfg.Concurrency = 1
	}
	if p.cfg.PersistTimeout <= 0 {
		p.cfg.PersistTimeout = DefaultConfig().PersistTimeout
	}
	p.logger = p.logger.With(logging.F("component", "pipeline"))
	p.items = actionitems.NewStore(repo, actionitems.WithLogger(p.logger))
	return p
}

// Create persists a new meeting in Recorded without processing it.
func (p *Pipeline) Create(ctx context.Context, req SubmitRequest) (*meeting.Meeting, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", mnerrors.ErrInvalidArgument)
	}
	id := req.ID
	if id == "" {
		id = p.newID()
	}

	m := &meeting.Meeting{
		ID:              id,
		Title:           title,
		CreatedAt:       p.now().UTC(),
		Status:          meeting.StatusRecorded,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		AudioRef:        req.AudioRef,
		CalendarEventID: req.CalendarEventID,
		FolderID:        req.FolderID,
		ActionItems:     []meeting.ActionItem{},
	}
	if err := p.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}

	p.logger.WithContext(ctx).Info("Meeting recorded",
		logging.F("meeting_id", m.ID),
		logging.F("audio_ref", m.AudioRef),
	)
	return m, nil
}

// Submit records a meeting and processes it synchronously. Only the initial
// persist can fail; the returned meeting is Ready even when every AI stage
// degraded.
func (p *Pipeline) Submit(ctx context.Context, cred ai.Credential, req SubmitRequest) (*meeting.Meeting, error) {
	m, err := p.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	processed, err := p.Process(ctx, cred, m.ID)
	if err != nil {
		p.logger.WithContext(ctx).Error("Processing failed after meeting was recorded",
			logging.F("meeting_id", m.ID),
			logging.Err(err),
		)
		if latest, gerr := p.repo.Get(context.WithoutCancel(ctx), m.ID); gerr == nil {
			return latest, nil
		}
		return m, nil
	}
	return processed, nil
}

// Process runs the remaining stages of a persisted meeting. A meeting that is
// already Ready is returned unchanged, so redelivered jobs are harmless.
func (p *Pipeline) Process(ctx context.Context, cred ai.Credential, meetingID string) (*meeting.Meeting, error) {
	ctx = logging.ContextWithMeetingID(ctx, meetingID)
	log := p.logger.WithContext(ctx)

	m, err := p.repo.Get(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load meeting: %w", err)
	}
	if m.Status == meeting.StatusReady {
		log.Debug("Meeting already ready, skipping")
		return m, nil
	}

	ctx, span := p.tracer.StartMeetingSpan(ctx, meetingID)
	defer span.End()
	start := time.Now()

	if m.Status.Rank() < meeting.StatusTranscribed.Rank() {
		if err := p.transcribe(ctx, cred, m); err != nil {
			return nil, err
		}
	}

	if m.Status.Rank() < meeting.StatusReady.Rank() {
		if err := p.summarize(ctx, cred, m); err != nil {
			return nil, err
		}
	}

	m.Advance(meeting.StatusReady)
	if err := p.persist(ctx, m); err != nil {
		return nil, err
	}

	degraded := degradedStages(m)
	p.metrics.RecordMeetingReady(len(degraded) > 0)
	if err := p.events.EmitMeetingReady(ctx, observability.NewMeetingReadyEvent(m.ID, degraded)); err != nil {
		log.Debug("Failed to publish ready event", logging.Err(err))
	}
	observability.NewSpanHelper(span).SetSuccess()

	log.Info("Meeting ready",
		logging.F("degraded_stages", len(degraded)),
		logging.F("duration", time.Since(start)),
	)
	return m, nil
}

func (p *Pipeline) transcribe(ctx context.Context, cred ai.Credential, m *meeting.Meeting) error {
	m.Advance(meeting.StatusTranscribing)
	if err := p.persist(ctx, m); err != nil {
		return err
	}

	stage := meeting.StageTranscription
	ctx, span := p.tracer.StartStageSpan(ctx, string(stage))
	defer span.End()
	started := time.Now()

	text, err := p.transcriber.Transcribe(ctx, cred, m.AudioRef)
	if err == nil {
		if text = strings.TrimSpace(text); text != "" {
			m.Transcript = &text
		} else {
			err = mnerrors.NewStageError(mnerrors.CodeEmptyTranscript, string(stage), "transcription returned no text", nil)
		}
	}
	p.record(ctx, span, m, stage, err, started)

	m.Advance(meeting.StatusTranscribed)
	return p.persist(ctx, m)
}

func (p *Pipeline) summarize(ctx context.Context, cred ai.Credential, m *meeting.Meeting) error {
	if !m.HasTranscript() {
		at := p.now().UTC()
		for _, stage := range []meeting.Stage{meeting.StageSummary, meeting.StageActionItems} {
			m.RecordOutcome(stage, meeting.OutcomeDegraded, meeting.ReasonNoTranscript, at)
			p.metrics.RecordStage(string(stage), string(meeting.OutcomeDegraded), meeting.ReasonNoTranscript, 0)
		}
		p.logger.WithContext(ctx).Warn("No transcript, skipping summary and action items")
		return nil
	}

	m.Advance(meeting.StatusSummarizing)
	if err := p.persist(ctx, m); err != nil {
		return err
	}

	input := ai.PromptInput{
		Title:      m.Title,
		CreatedAt:  m.CreatedAt,
		Transcript: m.TranscriptText(),
	}

	var (
		wg         sync.WaitGroup
		summary    string
		summaryErr error
		items      []meeting.ActionItem
		itemsErr   error
	)
	summaryStart := time.Now()
	itemsStart := summaryStart

	sctx, summarySpan := p.tracer.StartStageSpan(ctx, string(meeting.StageSummary))
	ictx, itemsSpan := p.tracer.StartStageSpan(ctx, string(meeting.StageActionItems))

	wg.Add(2)
	go func() {
		defer wg.Done()
		summary, summaryErr = p.generator.Generate(sctx, cred, ai.KindSummary, input, ai.Options{})
	}()
	go func() {
		defer wg.Done()
		items, itemsErr = p.extract(ictx, cred, input)
	}()
	wg.Wait()

	if summaryErr == nil {
		m.Summary = &summary
	}
	p.record(ctx, summarySpan, m, meeting.StageSummary, summaryErr, summaryStart)
	summarySpan.End()

	if itemsErr == nil {
		stored, err := p.items.ReplaceAll(ctx, m.ID, items)
		if err != nil {
			p.logger.WithContext(ctx).Error("Failed to store action items", logging.Err(err))
			itemsErr = fmt.Errorf("store action items: %w", err)
		} else {
			m.ActionItems = stored.ActionItems
		}
	}
	p.record(ctx, itemsSpan, m, meeting.StageActionItems, itemsErr, itemsStart)
	itemsSpan.End()

	return nil
}

// extract asks the model for action items and parses its reply.
func (p *Pipeline) extract(ctx context.Context, cred ai.Credential, input ai.PromptInput) ([]meeting.ActionItem, error) {
	raw, err := p.generator.Generate(ctx, cred, ai.KindActionItems, input, ai.Options{})
	if err != nil {
		return nil, err
	}
	return actionitems.ParseExtraction(raw)
}

// record stores the outcome of a stage and reports it.
func (p *Pipeline) record(ctx context.Context, span trace.Span, m *meeting.Meeting, stage meeting.Stage, err error, started time.Time) {
	elapsed := time.Since(started)
	helper := observability.NewSpanHelper(span)

	outcome, reason := meeting.OutcomeOK, ""
	if err != nil {
		se := mnerrors.ClassifyError(err, string(stage))
		outcome, reason = meeting.OutcomeDegraded, se.Reason()
		helper.SetError(se, reason, mnerrors.IsRetryable(se.Code))
		p.logger.WithContext(ctx).Warn(stageLabel(stage)+" failed, continuing",
			logging.F("stage", string(stage)),
			logging.F("reason", reason),
			logging.F("suggested_action", mnerrors.GetSuggestedAction(se.Code)),
			logging.Err(err),
		)
	} else {
		helper.SetSuccess()
	}
	helper.SetOutcome(string(outcome), reason)
	helper.SetDuration(elapsed.Milliseconds())

	m.RecordOutcome(stage, outcome, reason, p.now().UTC())
	p.metrics.RecordStage(string(stage), string(outcome), reason, elapsed.Seconds())

	event := observability.NewStageEvent(m.ID, string(stage), string(outcome), reason, elapsed.Milliseconds())
	if err := p.events.EmitStageCompleted(ctx, event); err != nil {
		p.logger.WithContext(ctx).Debug("Failed to publish stage event", logging.Err(err))
	}
}

// persist writes the processing fields of m (status, transcript, summary and
// stage outcomes) with a context detached from the caller's cancellation, then
// reloads m from the stored row. Action items are written by ReplaceAll and
// every other field belongs to concurrent editors.
func (p *Pipeline) persist(ctx context.Context, m *meeting.Meeting) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PersistTimeout)
	defer cancel()
	fresh, err := p.repo.Modify(wctx, m.ID, func(stored *meeting.Meeting) error {
		stored.Advance(m.Status)
		if m.Transcript != nil {
			stored.Transcript = m.Transcript
		}
		if m.Summary != nil {
			stored.Summary = m.Summary
		}
		for stage, o := range m.Outcomes {
			stored.RecordOutcome(stage, o.Outcome, o.Reason, o.At)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist meeting %s at %s: %w", m.ID, m.Status, err)
	}
	*m = *fresh
	return nil
}

// ReExtractActionItems regenerates the action item list from the transcript
// and replaces the stored list. Summary and status are untouched. On any
// adapter or parse failure the stored items are left as they were.
func (p *Pipeline) ReExtractActionItems(ctx context.Context, cred ai.Credential, meetingID string) (*meeting.Meeting, error) {
	m, err := p.repo.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !m.HasTranscript() {
		return nil, fmt.Errorf("meeting %s has no transcript: %w", meetingID, mnerrors.ErrPreconditionFailed)
	}

	items, err := p.extract(ctx, cred, ai.PromptInput{
		Title:      m.Title,
		CreatedAt:  m.CreatedAt,
		Transcript: m.TranscriptText(),
	})
	if err != nil {
		return nil, fmt.Errorf("re-extract action items: %w", mnerrors.ClassifyError(err, string(meeting.StageActionItems)))
	}

	updated, err := p.items.ReplaceAll(ctx, meetingID, items)
	if err != nil {
		return nil, err
	}
	p.logger.WithContext(logging.ContextWithMeetingID(ctx, meetingID)).Info("Action items re-extracted",
		logging.F("count", len(updated.ActionItems)),
	)
	return updated, nil
}

// SmartSummarize produces an alternate view of a meeting. Nothing is persisted.
func (p *Pipeline) SmartSummarize(ctx context.Context, cred ai.Credential, meetingID, mode, personaName string) (string, error) {
	parsed, ok := ai.ParseMode(mode)
	if !ok {
		return "", fmt.Errorf("%w: unknown summary mode %q", mnerrors.ErrInvalidArgument, mode)
	}
	personaName = strings.TrimSpace(personaName)
	if parsed == ai.ModePersona && personaName == "" {
		return "", fmt.Errorf("%w: persona mode requires a persona name", mnerrors.ErrInvalidArgument)
	}

	m, err := p.repo.Get(ctx, meetingID)
	if err != nil {
		return "", err
	}
	if !m.HasText() {
		return "", fmt.Errorf("meeting %s has no transcript or summary: %w", meetingID, mnerrors.ErrPreconditionFailed)
	}

	input := ai.PromptInput{
		Title:       m.Title,
		CreatedAt:   m.CreatedAt,
		Summary:     m.SummaryText(),
		Transcript:  m.TranscriptText(),
		Mode:        parsed,
		PersonaName: personaName,
	}
	if !m.HasTranscript() {
		input.Transcript = m.SummaryText()
	}

	text, err := p.generator.Generate(ctx, cred, ai.KindSmartSummary, input, ai.Options{})
	if err != nil {
		return "", fmt.Errorf("smart summary: %w", mnerrors.ClassifyError(err, "smart_summary"))
	}
	return text, nil
}

// BatchResult is the outcome of one meeting in ProcessBatch.
type BatchResult struct {
	MeetingID string
	Meeting   *meeting.Meeting
	Err       error
}

// ProcessBatch processes independent meetings in parallel, bounded by the
// configured concurrency. Results are in the order of ids.
func (p *Pipeline) ProcessBatch(ctx context.Context, cred ai.Credential, ids []string) []BatchResult {
	results := make([]BatchResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			m, err := p.Process(gctx, cred, id)
			results[i] = BatchResult{MeetingID: id, Meeting: m, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func degradedStages(m *meeting.Meeting) map[string]string {
	out := make(map[string]string)
	for stage, o := range m.Outcomes {
		if o.Outcome == meeting.OutcomeDegraded {
			out[string(stage)] = o.Reason
		}
	}
	return out
}

func stageLabel(stage meeting.Stage) string {
	switch stage {
	case meeting.StageTranscription:
		return "Transcription"
	case meeting.StageSummary:
		return "Summary"
	default:
		return "Action item extraction"
	}
}
