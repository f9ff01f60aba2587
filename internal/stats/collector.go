// Package stats aggregates per-stage inference latencies and tracks cases
// that blew the whole-case latency budget.
package stats

import (
	"sync"
	"time"

	"github.com/ae-safety-server/internal/domain"
)

// StageStats holds latency aggregates for one stage.
type StageStats struct {
	Count    int64   `json:"count"`
	TotalMS  int64   `json:"total_ms"`
	MinMS    int64   `json:"min_ms"`
	MaxMS    int64   `json:"max_ms"`
	AvgMS    float64 `json:"avg_ms"`
	Timeouts int64   `json:"timeouts"`
	Failures int64   `json:"failures"`
}

// Snapshot is the aggregate view served at /stats.
type Snapshot struct {
	Stages          map[domain.Stage]StageStats `json:"stages"`
	OverBudgetCases int64                       `json:"over_budget_cases"`
	CompletedCases  int64                       `json:"completed_cases"`
	FailedCases     int64                       `json:"failed_cases"`
	CollectedAt     time.Time                   `json:"collected_at"`
}

// Collector accumulates pipeline observability counters. Safe for concurrent
// use from many case orchestrations.
type Collector struct {
	mu         sync.RWMutex
	stages     map[domain.Stage]*StageStats
	overBudget int64
	completed  int64
	failed     int64
}

// NewCollector creates an empty stats collector
func NewCollector() *Collector {
	return &Collector{
		stages: make(map[domain.Stage]*StageStats),
	}
}

// RecordInference records one successful stage inference latency.
func (c *Collector) RecordInference(stage domain.Stage, ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stage(stage)
	s.Count++
	s.TotalMS += ms
	if s.Count == 1 || ms < s.MinMS {
		s.MinMS = ms
	}
	if ms > s.MaxMS {
		s.MaxMS = ms
	}
}

// RecordTimeout records one collaborator timeout for the stage.
func (c *Collector) RecordTimeout(stage domain.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage(stage).Timeouts++
}

// RecordFailure records one fatal stage failure.
func (c *Collector) RecordFailure(stage domain.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage(stage).Failures++
	c.failed++
}

// RecordCaseComplete records a finished case and whether it blew the budget.
func (c *Collector) RecordCaseComplete(overBudget bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	if overBudget {
		c.overBudget++
	}
}

// Snapshot returns a copy of the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stages := make(map[domain.Stage]StageStats, len(c.stages))
	for stage, s := range c.stages {
		copied := *s
		if copied.Count > 0 {
			copied.AvgMS = float64(copied.TotalMS) / float64(copied.Count)
		}
		stages[stage] = copied
	}

	return Snapshot{
		Stages:          stages,
		OverBudgetCases: c.overBudget,
		CompletedCases:  c.completed,
		FailedCases:     c.failed,
		CollectedAt:     time.Now().UTC(),
	}
}

// stage returns the mutable stats bucket, creating it on first use. Caller
// holds the write lock.
func (c *Collector) stage(stage domain.Stage) *StageStats {
	s, ok := c.stages[stage]
	if !ok {
		s = &StageStats{}
		c.stages[stage] = s
	}
	return s
}
