package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

// MockTranscriber implements ai.Transcriber for testing.
type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, cred ai.Credential, audioRef string) (string, error) {
	args := m.Called(ctx, cred, audioRef)
	return args.String(0), args.Error(1)
}

// MockGenerator implements ai.Generator for testing.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, cred ai.Credential, kind ai.PromptKind, input ai.PromptInput, opts ai.Options) (string, error) {
	args := m.Called(ctx, cred, kind, input, opts)
	return args.String(0), args.Error(1)
}

var (
	cred    = ai.Credential{APIKey: "sk-test"}
	noCred  = ai.Credential{}
	fixedAt = time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)
	noKey   = mnerrors.NewStageError(mnerrors.CodeNoKeyConfigured, "", "no key", nil)
)

type fixture struct {
	repo        *store.MemoryStore
	transcriber *MockTranscriber
	generator   *MockGenerator
	pipeline    *Pipeline
	metrics     *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:        store.NewMemoryStore(),
		transcriber: new(MockTranscriber),
		generator:   new(MockGenerator),
		metrics:     observability.NewMetrics(prometheus.NewRegistry()),
	}
	var seq int32
	f.pipeline = New(f.repo, f.transcriber, f.generator,
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return fixedAt }),
		WithIDGenerator(func() string { return fmt.Sprintf("m-%d", atomic.AddInt32(&seq, 1)) }),
	)
	return f
}

func (f *fixture) onGenerate(kind ai.PromptKind, out string, err error) *mock.Call {
	return f.generator.On("Generate", mock.Anything, mock.Anything, kind, mock.Anything, mock.Anything).Return(out, err)
}

func TestSubmit_NoKeyDegradesEveryStage(t *testing.T) {
	f := newFixture(t)
	f.transcriber.On("Transcribe", mock.Anything, noCred, "standup.wav").Return("", noKey)

	m, err := f.pipeline.Submit(context.Background(), noCred, SubmitRequest{Title: "Standup Apr 3", AudioRef: "standup.wav"})
	require.NoError(t, err)

	assert.Equal(t, meeting.StatusReady, m.Status)
	assert.Nil(t, m.Transcript)
	assert.Nil(t, m.Summary)
	assert.Empty(t, m.ActionItems)
	assert.Equal(t, meeting.OutcomeDegraded, m.Outcomes[meeting.StageTranscription].Outcome)
	assert.Equal(t, "no_key_configured", m.Outcomes[meeting.StageTranscription].Reason)
	assert.Equal(t, meeting.ReasonNoTranscript, m.Outcomes[meeting.StageSummary].Reason)
	assert.Equal(t, meeting.ReasonNoTranscript, m.Outcomes[meeting.StageActionItems].Reason)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stored, err := f.repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusReady, stored.Status)
	assert.Equal(t, "Standup Apr 3", stored.Title)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.MeetingsTotal.WithLabelValues("degraded")))
}

func TestSubmit_FullPipeline(t *testing.T) {
	f := newFixture(t)
	transcript := "Alice will send the deck by Friday."
	f.transcriber.On("Transcribe", mock.Anything, cred, "m.wav").Return(transcript, nil)
	f.generator.On("Generate", mock.Anything, cred, ai.KindSummary,
		mock.MatchedBy(func(in ai.PromptInput) bool { return in.Transcript == transcript }), mock.Anything).
		Return("Deck review planned.", nil)
	f.onGenerate(ai.KindActionItems, `Here you go: [{"task":"Send the deck","owner":"Alice","due_date":null,"status":"open"}]`, nil)

	m, err := f.pipeline.Submit(context.Background(), cred, SubmitRequest{Title: "Planning", AudioRef: "m.wav"})
	require.NoError(t, err)

	assert.Equal(t, meeting.StatusReady, m.Status)
	assert.Equal(t, transcript, m.TranscriptText())
	assert.Equal(t, "Deck review planned.", m.SummaryText())
	require.Len(t, m.ActionItems, 1)
	assert.Equal(t, "Send the deck", m.ActionItems[0].Task)
	assert.Equal(t, "Alice", *m.ActionItems[0].Owner)
	assert.Nil(t, m.ActionItems[0].DueDate)
	for _, stage := range []meeting.Stage{meeting.StageTranscription, meeting.StageSummary, meeting.StageActionItems} {
		assert.Equal(t, meeting.OutcomeOK, m.Outcomes[stage].Outcome, stage)
	}

	stats := actionitems.ComputeStats(m.ActionItems, fixedAt)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Open)
	assert.False(t, stats.AllDone)

	stored, err := f.repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ActionItems, stored.ActionItems)
	assert.Equal(t, "Deck review planned.", stored.SummaryText())
}

func TestSubmit_SummaryFailureDoesNotSuppressActionItems(t *testing.T) {
	f := newFixture(t)
	f.transcriber.On("Transcribe", mock.Anything, cred, mock.Anything).Return("Bob to fix the build.", nil)
	f.onGenerate(ai.KindSummary, "", mnerrors.NewStageError(mnerrors.CodeQuotaExceeded, "", "quota", nil))
	f.onGenerate(ai.KindActionItems, `[{"task":"Fix the build","owner":"Bob"}]`, nil)

	m, err := f.pipeline.Submit(context.Background(), cred, SubmitRequest{Title: "Sync", AudioRef: "a.wav"})
	require.NoError(t, err)

	assert.Nil(t, m.Summary)
	assert.Equal(t, "quota_exceeded", m.Outcomes[meeting.StageSummary].Reason)
	assert.Equal(t, meeting.OutcomeOK, m.Outcomes[meeting.StageActionItems].Outcome)
	require.Len(t, m.ActionItems, 1)
	assert.Equal(t, meeting.ItemOpen, m.ActionItems[0].Status)
}

func TestSubmit_ActionItemParseFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.transcriber.On("Transcribe", mock.Anything, cred, mock.Anything).Return("text", nil)
	f.onGenerate(ai.KindSummary, "summary", nil)
	f.onGenerate(ai.KindActionItems, "I could not find any.", nil)

	m, err := f.pipeline.Submit(context.Background(), cred, SubmitRequest{Title: "Sync", AudioRef: "a.wav"})
	require.NoError(t, err)

	assert.Equal(t, "summary", m.SummaryText())
	assert.Equal(t, meeting.OutcomeDegraded, m.Outcomes[meeting.StageActionItems].Outcome)
	assert.Equal(t, "parse_error", m.Outcomes[meeting.StageActionItems].Reason)
	assert.Empty(t, m.ActionItems)
}

func TestSubmit_EmptyTranscriptSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	f.transcriber.On("Transcribe", mock.Anything, cred, mock.Anything).Return("   ", nil)

	m, err := f.pipeline.Submit(context.Background(), cred, SubmitRequest{Title: "Silence", AudioRef: "a.wav"})
	require.NoError(t, err)

	assert.Equal(t, meeting.StatusReady, m.Status)
	assert.Nil(t, m.Transcript)
	assert.Equal(t, meeting.OutcomeDegraded, m.Outcomes[meeting.StageTranscription].Outcome)
	assert.Equal(t, "empty_transcript", m.Outcomes[meeting.StageTranscription].Reason)
	assert.Equal(t, meeting.ReasonNoTranscript, m.Outcomes[meeting.StageSummary].Reason)

	stored, err := f.repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Transcript)
	assert.False(t, stored.HasTranscript())
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_CancelledContextStillReachesReady(t *testing.T) {
	f := newFixture(t)
	f.transcriber.On("Transcribe", mock.Anything, cred, mock.Anything).Return("", context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := f.pipeline.Submit(ctx, cred, SubmitRequest{Title: "Cut short", AudioRef: "a.wav"})
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusReady, m.Status)
	assert.Equal(t, "context_cancelled", m.Outcomes[meeting.StageTranscription].Reason)

	stored, err := f.repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusReady, stored.Status)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Create(context.Background(), SubmitRequest{Title: "  "})
	assert.True(t, mnerrors.IsInvalidArgument(err))
}

func TestCreate_LeavesMeetingRecorded(t *testing.T) {
	f := newFixture(t)
	start := fixedAt.Add(-time.Hour)
	m, err := f.pipeline.Create(context.Background(), SubmitRequest{Title: " Retro ", AudioRef: "r.wav", StartTime: &start})
	require.NoError(t, err)

	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, "Retro", m.Title)
	assert.Equal(t, meeting.StatusRecorded, m.Status)
	assert.Equal(t, &start, m.StartTime)
	f.transcriber.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_CreateFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Create(context.Background(), &meeting.Meeting{ID: "dup", Title: "First"}))

	_, err := f.pipeline.Submit(context.Background(), cred, SubmitRequest{ID: "dup", Title: "Second"})
	assert.True(t, mnerrors.IsConflict(err))
	f.transcriber.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_ReadyMeetingIsSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Create(context.Background(), &meeting.Meeting{ID: "done", Title: "Done", Status: meeting.StatusReady}))

	m, err := f.pipeline.Process(context.Background(), cred, "done")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusReady, m.Status)
	f.transcriber.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_ResumesAfterTranscription(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Create(context.Background(), &meeting.Meeting{
		ID: "half", Title: "Half", Status: meeting.StatusTranscribed, Transcript: meeting.StringPtr("We ship Monday."),
	}))
	f.onGenerate(ai.KindSummary, "Ship Monday.", nil)
	f.onGenerate(ai.KindActionItems, "[]", nil)

	m, err := f.pipeline.Process(context.Background(), cred, "half")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusReady, m.Status)
	assert.Equal(t, "Ship Monday.", m.SummaryText())
	f.transcriber.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Process(context.Background(), cred, "missing")
	assert.True(t, mnerrors.IsNotFound(err))
}

func seedMeeting(t *testing.T, f *fixture, m *meeting.Meeting) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), m))
}

func TestReExtractActionItems(t *testing.T) {
	existing := []meeting.ActionItem{{Task: "Old task", Status: meeting.ItemDone}}

	t.Run("no transcript", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady, ActionItems: existing})

		_, err := f.pipeline.ReExtractActionItems(context.Background(), cred, "m")
		assert.True(t, mnerrors.IsPreconditionFailed(err))

		stored, _ := f.repo.Get(context.Background(), "m")
		assert.Equal(t, existing, stored.ActionItems)
	})

	t.Run("adapter unavailable keeps items", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady,
			Transcript: meeting.StringPtr("text"), ActionItems: existing})
		f.onGenerate(ai.KindActionItems, "", noKey)

		_, err := f.pipeline.ReExtractActionItems(context.Background(), noCred, "m")
		assert.True(t, mnerrors.IsAdapterUnavailable(err))

		stored, _ := f.repo.Get(context.Background(), "m")
		assert.Equal(t, existing, stored.ActionItems)
	})

	t.Run("provider error keeps items", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady,
			Transcript: meeting.StringPtr("text"), ActionItems: existing})
		f.onGenerate(ai.KindActionItems, "", errors.New("boom"))

		_, err := f.pipeline.ReExtractActionItems(context.Background(), cred, "m")
		assert.True(t, mnerrors.IsAdapterError(err))
	})

	t.Run("success replaces list and keeps summary", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady,
			Transcript: meeting.StringPtr("text"), Summary: meeting.StringPtr("keep me"), ActionItems: existing})
		f.onGenerate(ai.KindActionItems, `[{"task":"New task"},{"task":"  "}]`, nil)

		m, err := f.pipeline.ReExtractActionItems(context.Background(), cred, "m")
		require.NoError(t, err)
		require.Len(t, m.ActionItems, 1)
		assert.Equal(t, "New task", m.ActionItems[0].Task)
		assert.Equal(t, meeting.ItemOpen, m.ActionItems[0].Status)
		assert.Equal(t, "keep me", m.SummaryText())
		assert.Equal(t, meeting.StatusReady, m.Status)
	})
}

func TestSmartSummarize(t *testing.T) {
	t.Run("unknown mode", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipeline.SmartSummarize(context.Background(), cred, "m", "haiku", "")
		assert.True(t, mnerrors.IsInvalidArgument(err))
	})

	t.Run("persona without name", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipeline.SmartSummarize(context.Background(), cred, "m", "persona", "  ")
		assert.True(t, mnerrors.IsInvalidArgument(err))
	})

	t.Run("no text", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady})
		_, err := f.pipeline.SmartSummarize(context.Background(), cred, "m", "executive", "")
		assert.True(t, mnerrors.IsPreconditionFailed(err))
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipeline.SmartSummarize(context.Background(), cred, "nope", "executive", "")
		assert.True(t, mnerrors.IsNotFound(err))
	})

	t.Run("persona", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady,
			Transcript: meeting.StringPtr("Alice owns the deck."), Summary: meeting.StringPtr("old")})
		f.generator.On("Generate", mock.Anything, cred, ai.KindSmartSummary,
			mock.MatchedBy(func(in ai.PromptInput) bool {
				return in.Mode == ai.ModePersona && in.PersonaName == "Alice" && in.Transcript == "Alice owns the deck."
			}), mock.Anything).Return("Alice: send the deck.", nil)

		out, err := f.pipeline.SmartSummarize(context.Background(), cred, "m", "Persona", " Alice ")
		require.NoError(t, err)
		assert.Equal(t, "Alice: send the deck.", out)

		stored, _ := f.repo.Get(context.Background(), "m")
		assert.Equal(t, "old", stored.SummaryText())
	})

	t.Run("summary only falls back", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady, Summary: meeting.StringPtr("brief")})
		f.generator.On("Generate", mock.Anything, cred, ai.KindSmartSummary,
			mock.MatchedBy(func(in ai.PromptInput) bool { return in.Transcript == "brief" }), mock.Anything).
			Return("exec", nil)

		out, err := f.pipeline.SmartSummarize(context.Background(), cred, "m", "executive", "")
		require.NoError(t, err)
		assert.Equal(t, "exec", out)
	})

	t.Run("adapter failure", func(t *testing.T) {
		f := newFixture(t)
		seedMeeting(t, f, &meeting.Meeting{ID: "m", Title: "T", Status: meeting.StatusReady, Summary: meeting.StringPtr("brief")})
		f.onGenerate(ai.KindSmartSummary, "", noKey)

		_, err := f.pipeline.SmartSummarize(context.Background(), noCred, "m", "decisions", "")
		assert.True(t, mnerrors.IsAdapterUnavailable(err))
	})
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		seedMeeting(t, f, &meeting.Meeting{ID: id, Title: id, Status: meeting.StatusRecorded, AudioRef: id + ".wav"})
	}
	f.transcriber.On("Transcribe", mock.Anything, noCred, mock.Anything).Return("", noKey)

	results := f.pipeline.ProcessBatch(context.Background(), noCred, []string{"a", "missing", "c", "b"})
	require.Len(t, results, 4)

	assert.Equal(t, "a", results[0].MeetingID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, meeting.StatusReady, results[0].Meeting.Status)
	assert.True(t, mnerrors.IsNotFound(results[1].Err))
	assert.Equal(t, meeting.StatusReady, results[2].Meeting.Status)
	assert.Equal(t, meeting.StatusReady, results[3].Meeting.Status)
	f.transcriber.AssertNumberOfCalls(t, "Transcribe", 3)
}
