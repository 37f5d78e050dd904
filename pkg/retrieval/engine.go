// Package retrieval answers questions across meetings and groups meetings
// into topics. It ranks the stored corpus lexically per query, hands the
// best candidates to the generator, and validates everything the model
// returns against that candidate set.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

const (
	opAnswer = "qa"
	opTopics = "topics"

	// EmptyCorpusAnswer is returned when no meeting has any text.
	EmptyCorpusAnswer = "There are no meetings in the system yet."
)

// Config bounds retrieval work per request.
type Config struct {
	MaxCandidates    int
	MaxTopicMeetings int
	ExcerptTokens    int
	CacheSize        int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:    40,
		MaxTopicMeetings: 50,
		ExcerptTokens:    400,
		CacheSize:        1024,
	}
}

// Answer is the response to a question.
type Answer struct {
	Text       string              `json:"answer"`
	References []meeting.Reference `json:"references"`
}

// Cluster is a named group of related meetings.
type Cluster struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Meetings    []meeting.Reference `json:"meetings"`
}

// Engine runs question answering and topic discovery.
type Engine struct {
	repo      store.Repository
	generator ai.Generator
	cfg       Config
	cache     *termCache
	truncate  Truncator
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default limits. Non-positive fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if cfg.MaxCandidates <= 0 {
			cfg.MaxCandidates = def.MaxCandidates
		}
		if cfg.MaxTopicMeetings <= 0 {
			cfg.MaxTopicMeetings = def.MaxTopicMeetings
		}
		if cfg.ExcerptTokens <= 0 {
			cfg.ExcerptTokens = def.ExcerptTokens
		}
		if cfg.CacheSize <= 0 {
			cfg.CacheSize = def.CacheSize
		}
		e.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records requests on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithTruncator replaces the token-based excerpt truncation.
func WithTruncator(t Truncator) Option {
	return func(e *Engine) {
		e.truncate = t
	}
}

// NewEngine creates an engine over repo.
func NewEngine(repo store.Repository, generator ai.Generator, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		generator: generator,
		cfg:       DefaultConfig(),
		truncate:  TokenTruncate,
		logger:    logging.NewNopLogger(),
		tracer:    observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = newTermCache(e.cfg.CacheSize)
	e.logger = e.logger.With(logging.F("component", "retrieval"))
	return e
}

// AnswerQuestion answers question from the most relevant meetings. References
// are limited to meetings that were offered to the model.
func (e *Engine) AnswerQuestion(ctx context.Context, cred ai.Credential, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty: %w", mnerrors.ErrInvalidArgument)
	}

	ctx, span := e.tracer.StartRetrievalSpan(ctx, opAnswer)
	defer span.End()
	helper := observability.NewSpanHelper(span)
	helper.SetPromptKind(string(ai.KindQA))

	corpus, err := e.repo.ListWithText(ctx, 0)
	if err != nil {
		e.metrics.RecordRetrieval(opAnswer, "store_error", 0)
		return nil, fmt.Errorf("load meetings: %w", err)
	}
	if len(corpus) == 0 {
		e.metrics.RecordRetrieval(opAnswer, "empty", 0)
		return &Answer{Text: EmptyCorpusAnswer, References: []meeting.Reference{}}, nil
	}

	candidates := e.cache.rank(queryTerms(question), corpus, e.cfg.MaxCandidates)
	helper.SetCandidates(len(candidates))

	started := time.Now()
	raw, err := e.generator.Generate(ctx, cred, ai.KindQA, ai.PromptInput{
		Question:   question,
		Candidates: e.candidates(candidates, true),
	}, ai.Options{})
	if err != nil {
		serr := mnerrors.ClassifyError(err, opAnswer)
		helper.SetError(err, serr.Reason(), mnerrors.IsRetryable(serr.Code))
		e.metrics.RecordRetrieval(opAnswer, "adapter_error", len(candidates))
		return nil, fmt.Errorf("answer question: %w", serr)
	}

	answer := &Answer{References: []meeting.Reference{}}
	text, ids, ok := parseAnswer(raw)
	if !ok {
		e.logger.WithContext(ctx).Warn("Answer was not JSON, returning raw text",
			logging.F("candidates", len(candidates)),
		)
		answer.Text = strings.TrimSpace(raw)
	} else {
		answer.Text = text
		if answer.Text == "" {
			answer.Text = strings.TrimSpace(raw)
		}
		answer.References = resolve(ids, candidates)
	}

	helper.SetSuccess()
	e.metrics.RecordRetrieval(opAnswer, "success", len(candidates))
	e.logger.WithContext(ctx).Debug("Question answered",
		logging.F("candidates", len(candidates)),
		logging.F("references", len(answer.References)),
		logging.F("duration", time.Since(started)),
	)
	return answer, nil
}

// DiscoverTopics groups the most recent meetings into named clusters. An
// empty corpus yields no clusters without calling the generator.
func (e *Engine) DiscoverTopics(ctx context.Context, cred ai.Credential) ([]Cluster, error) {
	ctx, span := e.tracer.StartRetrievalSpan(ctx, opTopics)
	defer span.End()
	helper := observability.NewSpanHelper(span)
	helper.SetPromptKind(string(ai.KindTopics))

	recent, err := e.repo.ListWithText(ctx, e.cfg.MaxTopicMeetings)
	if err != nil {
		e.metrics.RecordRetrieval(opTopics, "store_error", 0)
		return nil, fmt.Errorf("load meetings: %w", err)
	}
	if len(recent) == 0 {
		e.metrics.RecordRetrieval(opTopics, "empty", 0)
		return []Cluster{}, nil
	}
	helper.SetCandidates(len(recent))

	raw, err := e.generator.Generate(ctx, cred, ai.KindTopics, ai.PromptInput{
		Candidates: e.candidates(recent, false),
	}, ai.Options{})
	if err != nil {
		serr := mnerrors.ClassifyError(err, opTopics)
		helper.SetError(err, serr.Reason(), mnerrors.IsRetryable(serr.Code))
		e.metrics.RecordRetrieval(opTopics, "adapter_error", len(recent))
		return nil, fmt.Errorf("discover topics: %w", serr)
	}

	drafts, ok := parseClusters(raw)
	if !ok {
		e.logger.WithContext(ctx).Warn("Topic output was not JSON, returning no clusters")
	}

	clusters := make([]Cluster, 0, len(drafts))
	for _, d := range drafts {
		if d.name == "" {
			continue
		}
		members := resolve(d.ids, recent)
		if len(members) == 0 {
			continue
		}
		clusters = append(clusters, Cluster{Name: d.name, Description: d.description, Meetings: members})
	}

	helper.SetSuccess()
	e.metrics.RecordRetrieval(opTopics, "success", len(recent))
	return clusters, nil
}

func (e *Engine) candidates(meetings []*meeting.Meeting, withTranscript bool) []ai.Candidate {
	out := make([]ai.Candidate, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, ai.Candidate{
			MeetingID: m.ID,
			Title:     m.Title,
			CreatedAt: m.CreatedAt,
			Excerpt:   excerpt(m, e.cfg.ExcerptTokens, withTranscript, e.truncate),
		})
	}
	return out
}

// resolve maps ids to references, keeping only members of pool, first
// occurrence wins.
func resolve(ids []string, pool []*meeting.Meeting) []meeting.Reference {
	byID := make(map[string]*meeting.Meeting, len(pool))
	for _, m := range pool {
		byID[m.ID] = m
	}
	seen := make(map[string]struct{}, len(ids))
	refs := make([]meeting.Reference, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		m, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, m.Reference())
	}
	return refs
}
