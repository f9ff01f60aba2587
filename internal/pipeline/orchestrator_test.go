package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ae-safety-server/internal/domain"
	"github.com/ae-safety-server/internal/ledger"
	"github.com/ae-safety-server/internal/stats"
	"github.com/ae-safety-server/internal/store"
	"github.com/ae-safety-server/pkg/inference"
)

// stubCollaborator scripts inference responses per call.
type stubCollaborator struct {
	name string
	mu   sync.Mutex
	fns  []func(ctx context.Context, req *inference.Request) (*inference.Response, error)
	call int
}

func (s *stubCollaborator) Name() string { return s.name }

func (s *stubCollaborator) Healthy(_ context.Context) bool { return true }

func (s *stubCollaborator) Infer(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	s.mu.Lock()
	fn := s.fns[len(s.fns)-1]
	if s.call < len(s.fns) {
		fn = s.fns[s.call]
	}
	s.call++
	s.mu.Unlock()
	return fn(ctx, req)
}

func (s *stubCollaborator) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func respond(items []domain.LayerItem, latencyMS int64) func(context.Context, *inference.Request) (*inference.Response, error) {
	return func(_ context.Context, _ *inference.Request) (*inference.Response, error) {
		return &inference.Response{Items: items, InferenceTimeMS: latencyMS}, nil
	}
}

func timeoutOnce() func(context.Context, *inference.Request) (*inference.Response, error) {
	return func(_ context.Context, _ *inference.Request) (*inference.Response, error) {
		return nil, inference.ErrTimeout
	}
}

func eventItems() []domain.LayerItem {
	return []domain.LayerItem{
		{ID: "ev-1", Event: &domain.ExtractedEvent{Term: "headache", Severity: "severe", Confidence: 0.92}},
		{ID: "ev-2", Event: &domain.ExtractedEvent{Term: "dose increase", Confidence: 0.85}},
	}
}

func riskItems() []domain.LayerItem {
	return []domain.LayerItem{
		{ID: "risk-1", Refs: []string{"ev-1", "ev-2"}, Risk: &domain.RiskAssessment{
			RiskLevel: "high", Score: 0.85, Rationale: "severe event temporally linked to dose change",
		}},
	}
}

func alertItems() []domain.LayerItem {
	return []domain.LayerItem{
		{ID: "alert-1", Refs: []string{"risk-1"}, Alert: &domain.SafetyAlert{
			AlertType:      "clinician_review",
			Recommendation: "escalate to prescriber",
			Urgency:        "high",
			Score:          0.9,
		}},
	}
}

type testPipeline struct {
	store      domain.CaseStore
	orch       *Orchestrator
	registry   *Registry
	metrics    *stats.Collector
	foundation *stubCollaborator
	strategic  *stubCollaborator
	synthesis  *stubCollaborator
}

func newTestPipeline(t *testing.T, budget time.Duration) *testPipeline {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "pipeline-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "cases.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tp := &testPipeline{
		store: s,
		foundation: &stubCollaborator{
			name: "foundation",
			fns:  []func(context.Context, *inference.Request) (*inference.Response, error){respond(eventItems(), 120)},
		},
		strategic: &stubCollaborator{
			name: "strategic",
			fns:  []func(context.Context, *inference.Request) (*inference.Response, error){respond(riskItems(), 180)},
		},
		synthesis: &stubCollaborator{
			name: "synthesis",
			fns:  []func(context.Context, *inference.Request) (*inference.Response, error){respond(alertItems(), 90)},
		},
	}

	collabs := &inference.Set{
		Foundation: tp.foundation,
		Strategic:  tp.strategic,
		Synthesis:  tp.synthesis,
	}

	tp.metrics = stats.NewCollector()
	led := ledger.New(s, logger)
	runner := NewStageRunner(s, led, time.Second, logger)
	tp.orch = NewOrchestrator(s, runner, collabs, tp.metrics, budget, logger)
	tp.registry = NewRegistry(s, tp.orch, nil, logger)
	return tp
}

func (tp *testPipeline) createCase(t *testing.T) string {
	t.Helper()
	c, err := tp.registry.Create(context.Background(), "patient-7", domain.ReportSource{
		Text: "patient reported severe headache after dose increase",
	})
	require.NoError(t, err)
	return c.ID
}

func actionsFor(c *domain.Case, action string) []domain.ActionRecord {
	var out []domain.ActionRecord
	for _, a := range c.Actions {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

func TestOrchestrator_HappyPath(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	caseID := tp.createCase(t)

	got, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.True(t, got.Foundation.Complete)
	assert.True(t, got.Strategic.Complete)
	assert.True(t, got.Synthesis.Complete)
	assert.Len(t, got.Foundation.Items, 2)
	assert.Len(t, got.Strategic.Items, 1)
	assert.Len(t, got.Synthesis.Items, 1)

	// Total time is the sum of declared per-stage latencies: 120+180+90.
	assert.Equal(t, int64(390), got.TotalProcessingTimeMS)
	assert.False(t, got.OverBudget)

	// One success action per stage and one handoff per non-final stage.
	assert.Len(t, actionsFor(got, domain.ActionInferenceComplete), 3)
	require.Len(t, got.Handoffs, 2)
	assert.Equal(t, domain.StageFoundation, got.Handoffs[0].FromStage)
	assert.Equal(t, domain.StageStrategic, got.Handoffs[0].ToStage)
	assert.Equal(t, 2, got.Handoffs[0].Snapshot.ItemsProduced)
	assert.Equal(t, domain.StageSynthesis, got.Handoffs[1].ToStage)
	assert.Equal(t, 2, got.Handoffs[1].Snapshot.RefsRecorded)
}

func TestOrchestrator_OverBudgetStillCompletes(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	tp.strategic.fns = []func(context.Context, *inference.Request) (*inference.Response, error){
		respond(riskItems(), 450),
	}
	caseID := tp.createCase(t)

	got, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, int64(660), got.TotalProcessingTimeMS)
	assert.True(t, got.OverBudget)

	// Handoff snapshots carry the flag as evaluated before each stage ran;
	// the budget was only blown by strategic itself.
	require.Len(t, got.Handoffs, 2)
	assert.False(t, got.Handoffs[0].Snapshot.OverBudget)
	assert.False(t, got.Handoffs[1].Snapshot.OverBudget)
	snap := tp.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.OverBudgetCases)
}

func TestOrchestrator_TimeoutRetriesOnce(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	tp.foundation.fns = []func(context.Context, *inference.Request) (*inference.Response, error){
		timeoutOnce(),
		respond(eventItems(), 120),
	}
	caseID := tp.createCase(t)

	got, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, 2, tp.foundation.calls())

	// Both attempts left audit records.
	assert.Len(t, actionsFor(got, domain.ActionInferenceTimeout), 1)
	assert.Len(t, actionsFor(got, domain.ActionInferenceComplete), 3)
}

func TestOrchestrator_DoubleTimeoutFailsCase(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	tp.foundation.fns = []func(context.Context, *inference.Request) (*inference.Response, error){
		timeoutOnce(),
		timeoutOnce(),
	}
	caseID := tp.createCase(t)

	got, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err, "stage failure is a recorded outcome, not a request error")

	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.StatusError, domain.ErrCodeStageTimeout)
	assert.False(t, got.Foundation.Complete)
	assert.Empty(t, got.Foundation.Items)

	// Exactly one action record per attempt.
	assert.Len(t, actionsFor(got, domain.ActionInferenceTimeout), 2)
	assert.Empty(t, actionsFor(got, domain.ActionInferenceComplete))
	assert.Empty(t, got.Handoffs)

	// Later stage collaborators were never consulted.
	assert.Zero(t, tp.strategic.calls())
	assert.Zero(t, tp.synthesis.calls())
}

func TestOrchestrator_DanglingRefFailsStrategicLeavesFoundation(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	bad := []domain.LayerItem{
		{ID: "risk-1", Refs: []string{"ev-99"}, Risk: &domain.RiskAssessment{RiskLevel: "high", Score: 0.8}},
	}
	tp.strategic.fns = []func(context.Context, *inference.Request) (*inference.Response, error){
		respond(bad, 100),
	}
	caseID := tp.createCase(t)

	got, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.StatusError, domain.ErrCodeStageValidation)

	// Foundation survives untouched; nothing from strategic leaked in.
	assert.True(t, got.Foundation.Complete)
	assert.Len(t, got.Foundation.Items, 2)
	assert.False(t, got.Strategic.Complete)
	assert.Empty(t, got.Strategic.Items)

	assert.Len(t, actionsFor(got, domain.ActionInferenceComplete), 1)
	assert.Len(t, actionsFor(got, domain.ActionInferenceRejected), 1)
	assert.Zero(t, tp.synthesis.calls())
}

func TestOrchestrator_ResumeFromFailed(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	bad := []domain.LayerItem{
		{ID: "risk-1", Refs: []string{"ev-99"}, Risk: &domain.RiskAssessment{RiskLevel: "high", Score: 0.8}},
	}
	tp.strategic.fns = []func(context.Context, *inference.Request) (*inference.Response, error){
		respond(bad, 100),
		respond(riskItems(), 180),
	}
	caseID := tp.createCase(t)

	got, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)

	// Second execute resumes from the first uncommitted layer.
	got, err = tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Empty(t, got.StatusError)
	assert.True(t, got.Strategic.Complete)
	assert.True(t, got.Synthesis.Complete)

	// Foundation ran exactly once across both executions.
	assert.Equal(t, 1, tp.foundation.calls())
	assert.Equal(t, 2, tp.strategic.calls())

	// Budget accounting carries the foundation latency from the first run:
	// 120 + 180 + 90.
	assert.Equal(t, int64(390), got.TotalProcessingTimeMS)
}

func TestOrchestrator_IdempotentOnComplete(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	caseID := tp.createCase(t)

	first, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, first.Status)

	second, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, second.Status)
	assert.Equal(t, first.TotalProcessingTimeMS, second.TotalProcessingTimeMS)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "no mutation on re-execute")

	// No additional inference calls were made.
	assert.Equal(t, 1, tp.foundation.calls())
	assert.Equal(t, 1, tp.strategic.calls())
	assert.Equal(t, 1, tp.synthesis.calls())
}

func TestRegistry_ConcurrentExecuteOneWins(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)

	// Hold the foundation stage until both executes have raced for the lock.
	release := make(chan struct{})
	tp.foundation.fns = []func(context.Context, *inference.Request) (*inference.Response, error){
		func(_ context.Context, _ *inference.Request) (*inference.Response, error) {
			<-release
			return &inference.Response{Items: eventItems(), InferenceTimeMS: 120}, nil
		},
	}
	caseID := tp.createCase(t)

	results := make(chan error, 2)
	started := make(chan struct{})

	go func() {
		close(started)
		_, err := tp.registry.Execute(context.Background(), caseID)
		results <- err
	}()

	<-started
	// Give the first execute time to take the lock and block in inference.
	time.Sleep(50 * time.Millisecond)

	_, err := tp.registry.Execute(context.Background(), caseID)
	results <- err
	close(release)

	var alreadyRunning, succeeded int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrAlreadyRunning):
			alreadyRunning++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, alreadyRunning)

	got, err := tp.store.GetCase(context.Background(), caseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, 1, tp.foundation.calls())
}

func TestRegistry_ResetThenExecuteIsDeterministic(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	caseID := tp.createCase(t)
	ctx := context.Background()

	first, err := tp.registry.Execute(ctx, caseID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, first.Status)

	reset, err := tp.registry.Reset(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, reset.Status)
	assert.Empty(t, reset.Actions)
	assert.False(t, reset.Foundation.Complete)
	assert.Equal(t, first.Report.Text, reset.Report.Text)

	second, err := tp.registry.Execute(ctx, caseID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusComplete, second.Status)
	assert.Equal(t, first.TotalProcessingTimeMS, second.TotalProcessingTimeMS)
	assert.Equal(t, len(first.Foundation.Items), len(second.Foundation.Items))
	assert.Equal(t, first.Synthesis.Items[0].ID, second.Synthesis.Items[0].ID)
}

func TestRegistry_FetchUnknownCase(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)

	_, err := tp.registry.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_DeleteCase(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	caseID := tp.createCase(t)
	ctx := context.Background()

	require.NoError(t, tp.registry.Delete(ctx, caseID))

	_, err := tp.registry.Fetch(ctx, caseID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_MetricsRecorded(t *testing.T) {
	tp := newTestPipeline(t, 500*time.Millisecond)
	caseID := tp.createCase(t)

	_, err := tp.registry.Execute(context.Background(), caseID)
	require.NoError(t, err)

	snap := tp.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.CompletedCases)
	assert.Equal(t, int64(0), snap.FailedCases)

	foundation, ok := snap.Stages[domain.StageFoundation]
	require.True(t, ok)
	assert.Equal(t, int64(1), foundation.Count)
	assert.Equal(t, int64(120), foundation.MaxMS)
	assert.Equal(t, float64(120), foundation.AvgMS)
}
