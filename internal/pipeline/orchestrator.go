package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
	"github.com/ae-safety-server/internal/stats"
	"github.com/ae-safety-server/pkg/inference"
)

// Orchestrator drives the three stage executions in order for one case. It
// owns the state machine transitions; the caller (registry) owns the
// per-case lock.
type Orchestrator struct {
	store   domain.CaseStore
	runner  *StageRunner
	collabs *inference.Set
	metrics *stats.Collector
	budget  time.Duration
	log     *logrus.Logger
}

// NewOrchestrator creates a case orchestrator with the given latency budget.
func NewOrchestrator(store domain.CaseStore, runner *StageRunner, collabs *inference.Set, metrics *stats.Collector, budget time.Duration, logger *logrus.Logger) *Orchestrator {
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}
	return &Orchestrator{
		store:   store,
		runner:  runner,
		collabs: collabs,
		metrics: metrics,
		budget:  budget,
		log:     logger,
	}
}

// Execute runs the state machine for the case to completion or to failed and
// returns the final case document. Semantics:
//
//   - complete: no-op, returns the existing document unchanged (idempotent)
//   - in progress: ErrAlreadyRunning (double guard behind the registry lock)
//   - ready: runs all three stages
//   - failed: resumes from the first uncommitted layer
//
// A stage failure is recorded on the document and returned as a normal
// result; only registry-level conditions surface as errors.
func (o *Orchestrator) Execute(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	switch {
	case c.Status == domain.StatusComplete:
		o.log.WithField("case_id", caseID).Debug("Execute on complete case is a no-op")
		return c, nil
	case c.Status.InProgress():
		return nil, domain.ErrAlreadyRunning
	}

	next, ok := c.NextStage()
	if !ok {
		// All layers committed but the terminal transition was lost
		// mid-crash; at-least-once semantics let us finish it here.
		return nil, fmt.Errorf("case %s has all layers but status %s", caseID, c.Status)
	}

	resuming := c.Status == domain.StatusFailed
	if err := o.store.Transition(ctx, caseID, c.Status, domain.RunningStatus(next)); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"case_id":  caseID,
		"from":     next,
		"resuming": resuming,
	}).Info("Starting case execution")

	// Latencies of stages committed in earlier (failed) runs count against
	// the budget of this one.
	elapsedMS := committedLatencyMS(c)

	for i := indexOf(next); i < len(domain.Stages); i++ {
		stage := domain.Stages[i]
		collab, ok := o.collabs.For(stage)
		if !ok {
			return nil, fmt.Errorf("no collaborator configured for %s stage", stage)
		}

		overBudget := elapsedMS > o.budget.Milliseconds()
		if overBudget {
			// The budget is an SLO, not a cutoff: abandoning mid-pipeline
			// would strand a partial assessment.
			o.log.WithFields(logrus.Fields{
				"case_id":    caseID,
				"stage":      stage,
				"elapsed_ms": elapsedMS,
				"budget_ms":  o.budget.Milliseconds(),
			}).Warn("Latency budget exceeded, continuing")
		}

		current, err := o.store.GetCase(ctx, caseID)
		if err != nil {
			return nil, err
		}

		latencyMS, runErr := o.runner.Run(ctx, current, stage, collab, overBudget)
		if runErr != nil {
			se, _ := domain.AsStageError(runErr)
			if se != nil && se.Code == domain.ErrCodeStageTimeout {
				o.metrics.RecordTimeout(stage)
				o.log.WithFields(logrus.Fields{
					"case_id": caseID,
					"stage":   stage,
				}).Warn("Stage timed out, retrying once")
				latencyMS, runErr = o.runner.Run(ctx, current, stage, collab, overBudget)
			}
		}

		if runErr != nil {
			return o.fail(ctx, caseID, stage, runErr)
		}

		o.metrics.RecordInference(stage, latencyMS)
		elapsedMS += latencyMS
	}

	overBudget := elapsedMS > o.budget.Milliseconds()
	if err := o.store.Finalize(ctx, caseID, elapsedMS, overBudget); err != nil {
		return nil, err
	}
	o.metrics.RecordCaseComplete(overBudget)

	final, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"case_id":                  caseID,
		"total_processing_time_ms": final.TotalProcessingTimeMS,
		"over_budget":              final.OverBudget,
	}).Info("Case execution complete")
	return final, nil
}

// fail records the stage error on the case and returns the failed document.
func (o *Orchestrator) fail(ctx context.Context, caseID string, stage domain.Stage, runErr error) (*domain.Case, error) {
	code := domain.ErrCodeStageValidation
	detail := runErr.Error()
	if se, ok := domain.AsStageError(runErr); ok {
		code = se.Code
		detail = se.Err.Error()
	}

	if err := o.store.SetFailed(ctx, caseID, code, detail); err != nil {
		return nil, err
	}
	o.metrics.RecordFailure(stage)

	o.log.WithFields(logrus.Fields{
		"case_id": caseID,
		"stage":   stage,
		"code":    code,
	}).Error("Case execution failed")

	return o.store.GetCase(ctx, caseID)
}

// committedLatencyMS sums the successful inference times already recorded,
// so a resumed case carries its history against the budget.
func committedLatencyMS(c *domain.Case) int64 {
	var total int64
	for _, a := range c.Actions {
		if a.Action == domain.ActionInferenceComplete {
			total += a.InferenceTimeMS
		}
	}
	return total
}
