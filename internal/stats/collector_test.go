package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ae-safety-server/internal/domain"
)

func TestCollector_RecordInference(t *testing.T) {
	c := NewCollector()

	c.RecordInference(domain.StageFoundation, 120)
	c.RecordInference(domain.StageFoundation, 80)
	c.RecordInference(domain.StageStrategic, 200)

	snap := c.Snapshot()

	foundation, ok := snap.Stages[domain.StageFoundation]
	require.True(t, ok)
	assert.Equal(t, int64(2), foundation.Count)
	assert.Equal(t, int64(200), foundation.TotalMS)
	assert.Equal(t, int64(80), foundation.MinMS)
	assert.Equal(t, int64(120), foundation.MaxMS)
	assert.Equal(t, float64(100), foundation.AvgMS)

	strategic := snap.Stages[domain.StageStrategic]
	assert.Equal(t, int64(1), strategic.Count)
}

func TestCollector_TimeoutsAndFailures(t *testing.T) {
	c := NewCollector()

	c.RecordTimeout(domain.StageSynthesis)
	c.RecordTimeout(domain.StageSynthesis)
	c.RecordFailure(domain.StageSynthesis)

	snap := c.Snapshot()
	synthesis := snap.Stages[domain.StageSynthesis]
	assert.Equal(t, int64(2), synthesis.Timeouts)
	assert.Equal(t, int64(1), synthesis.Failures)
	assert.Equal(t, int64(1), snap.FailedCases)
}

func TestCollector_CaseCounters(t *testing.T) {
	c := NewCollector()

	c.RecordCaseComplete(false)
	c.RecordCaseComplete(true)
	c.RecordCaseComplete(true)

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.CompletedCases)
	assert.Equal(t, int64(2), snap.OverBudgetCases)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_SnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.RecordInference(domain.StageFoundation, 100)

	snap := c.Snapshot()
	c.RecordInference(domain.StageFoundation, 300)

	assert.Equal(t, int64(1), snap.Stages[domain.StageFoundation].Count)
}

func TestCollector_ConcurrentUse(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordInference(domain.StageFoundation, 10)
			c.RecordTimeout(domain.StageStrategic)
			c.RecordCaseComplete(false)
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Stages[domain.StageFoundation].Count)
	assert.Equal(t, int64(50), snap.Stages[domain.StageStrategic].Timeouts)
	assert.Equal(t, int64(50), snap.CompletedCases)
}
