package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
)

// PostgresStore implements domain.CaseStore using PostgreSQL. It expects the
// schema to already exist (created via migrations).
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL case store.
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresStore{db: db, log: logger}, nil
}

// CreateCase persists a freshly uploaded case.
func (s *PostgresStore) CreateCase(ctx context.Context, c *domain.Case) error {
	doc, err := encodeCase(c)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO cases (id, status, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		c.ID, string(c.Status), doc, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"case_id": c.ID,
			"error":   err,
		}).Error("Failed to create case")
		return fmt.Errorf("creating case: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"case_id":    c.ID,
		"patient_id": c.PatientID,
	}).Info("Case created")
	return nil
}

// GetCase returns the full case document.
func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM cases WHERE id = $1", caseID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting case: %w", err)
	}
	return decodeCase(doc)
}

// CommitLayer validates and writes one layer atomically under a status
// compare-and-swap.
func (s *PostgresStore) CommitLayer(ctx context.Context, caseID string, stage domain.Stage, items []domain.LayerItem, expectedPrior domain.CaseStatus) (*domain.Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if err := domain.ValidateCommit(c, stage, items, expectedPrior); err != nil {
		s.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"stage":   stage,
			"error":   err,
		}).Warn("Layer commit rejected")
		return nil, err
	}

	applyCommit(c, stage, items, time.Now().UTC())
	doc, err := encodeCase(c)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE cases SET status = $1, doc = $2, updated_at = $3 WHERE id = $4 AND status = $5",
		string(c.Status), doc, c.UpdatedAt, caseID, string(expectedPrior),
	)
	if err != nil {
		return nil, fmt.Errorf("committing layer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("committing %s layer for case %s: %w", stage, caseID, domain.ErrConflict)
	}

	s.log.WithFields(logrus.Fields{
		"case_id": caseID,
		"stage":   stage,
		"items":   len(items),
		"status":  c.Status,
	}).Info("Layer committed")
	return c, nil
}

// Transition moves status from -> to as a single compare-and-swap.
func (s *PostgresStore) Transition(ctx context.Context, caseID string, from, to domain.CaseStatus) error {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return err
	}

	c.Status = to
	if from == domain.StatusFailed {
		c.StatusError = ""
	}
	c.UpdatedAt = time.Now().UTC()
	doc, err := encodeCase(c)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE cases SET status = $1, doc = $2, updated_at = $3 WHERE id = $4 AND status = $5",
		string(to), doc, c.UpdatedAt, caseID, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitioning case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transition %s -> %s for case %s: %w", from, to, caseID, domain.ErrConflict)
	}
	return nil
}

// AppendHandoff appends one handoff record to the case document.
func (s *PostgresStore) AppendHandoff(ctx context.Context, caseID string, rec domain.HandoffRecord) error {
	return s.update(ctx, caseID, func(c *domain.Case) {
		c.Handoffs = append(c.Handoffs, rec)
	})
}

// AppendAction appends one action record to the case document.
func (s *PostgresStore) AppendAction(ctx context.Context, caseID string, rec domain.ActionRecord) error {
	return s.update(ctx, caseID, func(c *domain.Case) {
		c.Actions = append(c.Actions, rec)
	})
}

// SetFailed moves an in-progress case to failed, recording the error.
func (s *PostgresStore) SetFailed(ctx context.Context, caseID string, code, detail string) error {
	err := s.update(ctx, caseID, func(c *domain.Case) {
		c.Status = domain.StatusFailed
		c.StatusError = fmt.Sprintf("%s: %s", code, detail)
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"case_id": caseID,
		"code":    code,
	}).Warn("Case marked failed")
	return nil
}

// Finalize records total processing time and the over-budget flag.
func (s *PostgresStore) Finalize(ctx context.Context, caseID string, totalMS int64, overBudget bool) error {
	return s.update(ctx, caseID, func(c *domain.Case) {
		c.TotalProcessingTimeMS = totalMS
		c.OverBudget = overBudget
	})
}

// ResetCase clears layers, records and status back to ready.
func (s *PostgresStore) ResetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	applyReset(c, time.Now().UTC())
	doc, err := encodeCase(c)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE cases SET status = $1, doc = $2, updated_at = $3 WHERE id = $4",
		string(c.Status), doc, c.UpdatedAt, caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("resetting case: %w", err)
	}

	s.log.WithField("case_id", caseID).Info("Case reset")
	return c, nil
}

// DeleteCase removes the case document entirely.
func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cases WHERE id = $1", caseID)
	if err != nil {
		return fmt.Errorf("deleting case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", caseID, domain.ErrNotFound)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) update(ctx context.Context, caseID string, mutate func(*domain.Case)) error {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return err
	}

	prior := c.Status
	mutate(c)
	c.UpdatedAt = time.Now().UTC()
	doc, err := encodeCase(c)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE cases SET status = $1, doc = $2, updated_at = $3 WHERE id = $4 AND status = $5",
		string(c.Status), doc, c.UpdatedAt, caseID, string(prior),
	)
	if err != nil {
		return fmt.Errorf("updating case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating case %s: %w", caseID, domain.ErrConflict)
	}
	return nil
}
