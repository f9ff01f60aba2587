package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/cache"
	"github.com/ae-safety-server/internal/domain"
)

// Registry maps case identifiers to orchestration state and exposes the
// external execute/fetch/reset operations. Each case gets a mutex from a
// lazily-populated lock table; entries are never removed, which keeps lock
// creation race-free.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	store domain.CaseStore
	orch  *Orchestrator
	cache *cache.CaseCache
	log   *logrus.Logger
}

// NewRegistry creates a case registry. cc may be nil to disable caching.
func NewRegistry(store domain.CaseStore, orch *Orchestrator, cc *cache.CaseCache, logger *logrus.Logger) *Registry {
	return &Registry{
		locks: make(map[string]*sync.Mutex),
		store: store,
		orch:  orch,
		cache: cc,
		log:   logger,
	}
}

// Execute runs the case pipeline under the per-case lock. The loser of a
// race gets ErrAlreadyRunning immediately rather than blocking.
func (r *Registry) Execute(ctx context.Context, caseID string) (*domain.Case, error) {
	lock := r.lockFor(caseID)
	if !lock.TryLock() {
		return nil, domain.ErrAlreadyRunning
	}
	defer lock.Unlock()

	c, err := r.orch.Execute(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Put(ctx, c)
	}
	return c, nil
}

// Fetch returns the current case document without locking; it may observe an
// in-progress case.
func (r *Registry) Fetch(ctx context.Context, caseID string) (*domain.Case, error) {
	if r.cache != nil {
		if c := r.cache.Get(ctx, caseID); c != nil {
			return c, nil
		}
	}

	c, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Put(ctx, c)
	}
	return c, nil
}

// Create registers a freshly uploaded case in ready status and returns it.
func (r *Registry) Create(ctx context.Context, patientID string, report domain.ReportSource) (*domain.Case, error) {
	now := time.Now().UTC()
	c := &domain.Case{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Report:    report,
		Status:    domain.StatusReady,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset clears the case back to ready under the per-case lock; a reset
// racing an in-flight execute is rejected, never silently interleaved.
func (r *Registry) Reset(ctx context.Context, caseID string) (*domain.Case, error) {
	lock := r.lockFor(caseID)
	if !lock.TryLock() {
		return nil, domain.ErrAlreadyRunning
	}
	defer lock.Unlock()

	c, err := r.store.ResetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx, caseID)
	}
	return c, nil
}

// Delete removes the case entirely, also under the per-case lock.
func (r *Registry) Delete(ctx context.Context, caseID string) error {
	lock := r.lockFor(caseID)
	if !lock.TryLock() {
		return domain.ErrAlreadyRunning
	}
	defer lock.Unlock()

	if err := r.store.DeleteCase(ctx, caseID); err != nil {
		return err
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx, caseID)
	}
	return nil
}

func (r *Registry) lockFor(caseID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[caseID] = lock
	}
	return lock
}
