package domain

import (
	"context"
)

// CaseStore is the versioned per-case document store. CommitLayer is the sole
// layer mutation entry point; every status change is a compare-and-swap so a
// racing writer surfaces as ErrConflict, never as a lost update.
type CaseStore interface {
	// CreateCase persists a freshly uploaded case in ready status.
	CreateCase(ctx context.Context, c *Case) error

	// GetCase returns the full case document, or ErrNotFound.
	GetCase(ctx context.Context, caseID string) (*Case, error)

	// CommitLayer validates and writes one layer atomically, advancing the
	// case status from expectedPrior to the stage's committed status.
	// Failures: ErrNotFound, ErrConflict, *ValidationError. No partial write.
	CommitLayer(ctx context.Context, caseID string, stage Stage, items []LayerItem, expectedPrior CaseStatus) (*Case, error)

	// Transition moves status from -> to as a single compare-and-swap.
	Transition(ctx context.Context, caseID string, from, to CaseStatus) error

	// AppendHandoff and AppendAction append audit entries; both are
	// append-only and never touch layers.
	AppendHandoff(ctx context.Context, caseID string, rec HandoffRecord) error
	AppendAction(ctx context.Context, caseID string, rec ActionRecord) error

	// SetFailed moves an in-progress case to failed, recording the error code
	// and detail. Partial layers are retained for inspection.
	SetFailed(ctx context.Context, caseID string, code, detail string) error

	// Finalize records total processing time and the over-budget flag on a
	// completed case.
	Finalize(ctx context.Context, caseID string, totalMS int64, overBudget bool) error

	// ResetCase clears all layers, records and status back to ready,
	// preserving the raw report.
	ResetCase(ctx context.Context, caseID string) (*Case, error)

	// DeleteCase removes the case document entirely.
	DeleteCase(ctx context.Context, caseID string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// ProvenanceLedger records cross-layer references and audit entries and
// resolves provenance chains.
type ProvenanceLedger interface {
	AppendHandoff(ctx context.Context, caseID string, rec HandoffRecord) error
	AppendAction(ctx context.Context, caseID string, rec ActionRecord) error

	// TracedChain walks backward references from the given item to its
	// foundation-layer roots, returning the ordered chain. ErrNotFound on an
	// unknown item; the chain fully resolves or the call fails.
	TracedChain(ctx context.Context, caseID, itemID string) ([]LayerItem, error)
}
