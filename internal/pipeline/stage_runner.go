// Package pipeline drives the three-stage layered-context assessment for a
// case: stage execution against the inference collaborators, the per-case
// state machine, and the registry that serializes access per case.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
	"github.com/ae-safety-server/pkg/inference"
)

// StageRunner executes one named stage for one case: assemble input from
// committed layers, invoke the collaborator under a bounded timeout, validate
// the output shape, commit the layer, and append the audit records.
type StageRunner struct {
	store   domain.CaseStore
	ledger  domain.ProvenanceLedger
	log     *logrus.Logger
	timeout time.Duration
}

// NewStageRunner creates a stage runner with the given per-stage timeout.
func NewStageRunner(store domain.CaseStore, ledger domain.ProvenanceLedger, timeout time.Duration, logger *logrus.Logger) *StageRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StageRunner{
		store:   store,
		ledger:  ledger,
		log:     logger,
		timeout: timeout,
	}
}

// Run executes the stage once. On success it returns the measured inference
// latency. Failures are StageErrors (StageTimeout, StageValidationFailed or
// StageConflict); none of them partially commit a layer, and every attempt
// leaves exactly one ActionRecord.
func (r *StageRunner) Run(ctx context.Context, c *domain.Case, stage domain.Stage, collab inference.Collaborator, overBudget bool) (int64, error) {
	req := r.assembleInput(c, stage)

	stageCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := collab.Infer(stageCtx, req)
	elapsedMS := time.Since(start).Milliseconds()

	if err != nil {
		if inference.IsTimeout(err) {
			r.record(ctx, c.ID, stage, domain.ActionInferenceTimeout, err.Error(), elapsedMS)
			return 0, domain.NewStageError(stage, domain.ErrCodeStageTimeout, err)
		}
		r.record(ctx, c.ID, stage, domain.ActionInferenceRejected, err.Error(), elapsedMS)
		return 0, domain.NewStageError(stage, domain.ErrCodeStageValidation, err)
	}

	if err := r.validateOutput(resp, stage); err != nil {
		r.record(ctx, c.ID, stage, domain.ActionInferenceRejected, err.Error(), elapsedMS)
		return 0, domain.NewStageError(stage, domain.ErrCodeStageValidation, err)
	}

	latencyMS := resp.InferenceTimeMS
	if latencyMS <= 0 {
		latencyMS = elapsedMS
	}

	if _, err := r.store.CommitLayer(ctx, c.ID, stage, resp.Items, domain.RunningStatus(stage)); err != nil {
		r.record(ctx, c.ID, stage, domain.ActionInferenceRejected, err.Error(), latencyMS)
		if errors.Is(err, domain.ErrConflict) {
			return 0, domain.NewStageError(stage, domain.ErrCodeStageConflict, err)
		}
		return 0, domain.NewStageError(stage, domain.ErrCodeStageValidation, err)
	}

	r.record(ctx, c.ID, stage, domain.ActionInferenceComplete,
		fmt.Sprintf("committed %d items", len(resp.Items)), latencyMS)

	if stage != domain.StageSynthesis {
		r.handoff(ctx, c.ID, stage, resp.Items, overBudget)
	}

	r.log.WithFields(logrus.Fields{
		"case_id":           c.ID,
		"stage":             stage,
		"items":             len(resp.Items),
		"inference_time_ms": latencyMS,
	}).Info("Stage completed")

	return latencyMS, nil
}

// assembleInput builds the collaborator request strictly from previously
// committed layers. Foundation has no upstream layers and reads the
// persisted, validated raw report instead.
func (r *StageRunner) assembleInput(c *domain.Case, stage domain.Stage) *inference.Request {
	req := &inference.Request{
		CaseID: c.ID,
		Stage:  stage,
	}
	if stage == domain.StageFoundation {
		req.ReportText = c.Report.Text
		return req
	}
	for _, earlier := range domain.EarlierStages(stage) {
		layer := c.LayerFor(earlier)
		if layer.Complete {
			req.UpstreamItems = append(req.UpstreamItems, layer.Items...)
		}
	}
	return req
}

// validateOutput checks the collaborator response shape before it gets near
// the store. The store revalidates references at commit time; this catches
// structurally broken responses early with a clearer error.
func (r *StageRunner) validateOutput(resp *inference.Response, stage domain.Stage) error {
	if resp == nil || len(resp.Items) == 0 {
		return domain.NewValidationError("items", "collaborator returned no items")
	}
	for i := range resp.Items {
		it := &resp.Items[i]
		if it.ID == "" {
			return domain.NewValidationError("item_id", "collaborator returned item without identifier")
		}
		payloadStage, ok := it.PayloadStage()
		if !ok || payloadStage != stage {
			return domain.NewValidationError(it.ID, "collaborator returned wrong payload shape for %s stage", stage)
		}
		if stage != domain.StageFoundation && len(it.Refs) == 0 {
			return domain.NewValidationError(it.ID, "collaborator returned %s item without backward references", stage)
		}
	}
	return nil
}

func (r *StageRunner) record(ctx context.Context, caseID string, stage domain.Stage, action, detail string, latencyMS int64) {
	rec := domain.ActionRecord{
		Stage:           stage,
		Action:          action,
		Detail:          detail,
		InferenceTimeMS: latencyMS,
		Timestamp:       time.Now().UTC(),
	}
	if err := r.ledger.AppendAction(ctx, caseID, rec); err != nil {
		r.log.WithError(err).WithField("case_id", caseID).Error("Failed to append action record")
	}
}

func (r *StageRunner) handoff(ctx context.Context, caseID string, stage domain.Stage, items []domain.LayerItem, overBudget bool) {
	refs := 0
	for i := range items {
		refs += len(items[i].Refs)
	}

	next := domain.Stages[indexOf(stage)+1]
	rec := domain.HandoffRecord{
		FromStage: stage,
		ToStage:   next,
		Summary:   fmt.Sprintf("%s produced %d items for %s", stage, len(items), next),
		Snapshot: domain.HandoffSnapshot{
			ItemsProduced: len(items),
			RefsRecorded:  refs,
			OverBudget:    overBudget,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := r.ledger.AppendHandoff(ctx, caseID, rec); err != nil {
		r.log.WithError(err).WithField("case_id", caseID).Error("Failed to append handoff record")
	}
}

func indexOf(stage domain.Stage) int {
	for i, s := range domain.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}
