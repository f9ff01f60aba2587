// Package store implements the versioned per-case document store backing the
// assessment pipeline. Two backends exist behind domain.CaseStore: an
// embedded SQLite store and a Postgres store. Both persist one JSON document
// per case and apply every status change as a single compare-and-swap UPDATE
// keyed on (id, status).
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ae-safety-server/internal/domain"
)

func encodeCase(c *domain.Case) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding case document: %w", err)
	}
	return string(raw), nil
}

func decodeCase(doc string) (*domain.Case, error) {
	c := &domain.Case{}
	if err := json.Unmarshal([]byte(doc), c); err != nil {
		return nil, fmt.Errorf("decoding case document: %w", err)
	}
	return c, nil
}

// applyCommit mutates the in-memory case for a validated layer commit:
// items, completion flag, processed-at, and the status advance. The caller
// persists the result under a compare-and-swap on the prior status.
func applyCommit(c *domain.Case, stage domain.Stage, items []domain.LayerItem, now time.Time) {
	layer := c.LayerFor(stage)
	layer.Items = items
	layer.Complete = true
	processedAt := now
	layer.ProcessedAt = &processedAt
	c.Status = domain.CommittedStatus(stage)
	c.UpdatedAt = now
}

// applyReset clears layers, records, timing and status back to ready while
// preserving the raw report and identity fields.
func applyReset(c *domain.Case, now time.Time) {
	c.Foundation = domain.Layer{}
	c.Strategic = domain.Layer{}
	c.Synthesis = domain.Layer{}
	c.Handoffs = nil
	c.Actions = nil
	c.Status = domain.StatusReady
	c.StatusError = ""
	c.TotalProcessingTimeMS = 0
	c.OverBudget = false
	c.UpdatedAt = now
}
