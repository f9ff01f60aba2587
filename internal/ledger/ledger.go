// Package ledger records the append-only provenance trail of a case and
// resolves backward-reference chains from synthesis alerts to their
// foundation-layer roots.
package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
)

// Ledger implements domain.ProvenanceLedger over a CaseStore.
type Ledger struct {
	store domain.CaseStore
	log   *logrus.Logger
}

// New creates a new provenance ledger
func New(store domain.CaseStore, logger *logrus.Logger) *Ledger {
	return &Ledger{store: store, log: logger}
}

// AppendHandoff appends one stage-transition record.
func (l *Ledger) AppendHandoff(ctx context.Context, caseID string, rec domain.HandoffRecord) error {
	if err := l.store.AppendHandoff(ctx, caseID, rec); err != nil {
		return fmt.Errorf("appending handoff record: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"case_id":    caseID,
		"from_stage": rec.FromStage,
		"to_stage":   rec.ToStage,
		"items":      rec.Snapshot.ItemsProduced,
	}).Debug("Handoff recorded")
	return nil
}

// AppendAction appends one stage-execution audit record.
func (l *Ledger) AppendAction(ctx context.Context, caseID string, rec domain.ActionRecord) error {
	if err := l.store.AppendAction(ctx, caseID, rec); err != nil {
		return fmt.Errorf("appending action record: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"case_id":           caseID,
		"stage":             rec.Stage,
		"action":            rec.Action,
		"inference_time_ms": rec.InferenceTimeMS,
	}).Debug("Action recorded")
	return nil
}

// TracedChain walks backward references from the given item to its
// foundation-layer roots. The walk terminates because references only point
// to strictly earlier layers (at most two hops). Either the full chain
// resolves or the call fails; it never partially resolves.
func (l *Ledger) TracedChain(ctx context.Context, caseID, itemID string) ([]domain.LayerItem, error) {
	c, err := l.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	start, _, ok := c.FindItem(itemID)
	if !ok {
		return nil, fmt.Errorf("item %s in case %s: %w", itemID, caseID, domain.ErrNotFound)
	}

	chain := []domain.LayerItem{*start}
	visited := map[string]bool{start.ID: true}

	// Breadth-first over backward references; each frontier is one layer
	// closer to foundation.
	frontier := start.Refs
	for len(frontier) > 0 {
		var next []string
		for _, ref := range frontier {
			if visited[ref] {
				continue
			}
			item, _, ok := c.FindItem(ref)
			if !ok {
				return nil, fmt.Errorf("broken provenance chain at %s in case %s: %w", ref, caseID, domain.ErrNotFound)
			}
			visited[ref] = true
			chain = append(chain, *item)
			next = append(next, item.Refs...)
		}
		frontier = next
	}

	l.log.WithFields(logrus.Fields{
		"case_id": caseID,
		"item_id": itemID,
		"length":  len(chain),
	}).Debug("Provenance chain resolved")
	return chain, nil
}
