package cache

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ae-safety-server/internal/domain"
)

func createTestCache(t *testing.T) *CaseCache {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cc, err := New(&domain.CacheConfig{LRUSize: 4}, nil, logger)
	require.NoError(t, err)
	return cc
}

func TestCaseCache_PutAndGet(t *testing.T) {
	cc := createTestCache(t)
	ctx := context.Background()

	c := &domain.Case{ID: "case-1", Status: domain.StatusComplete}
	cc.Put(ctx, c)

	got := cc.Get(ctx, "case-1")
	require.NotNil(t, got)
	assert.Equal(t, "case-1", got.ID)
}

func TestCaseCache_OnlyTerminalStatusesCached(t *testing.T) {
	cc := createTestCache(t)
	ctx := context.Background()

	cc.Put(ctx, &domain.Case{ID: "ready", Status: domain.StatusReady})
	cc.Put(ctx, &domain.Case{ID: "running", Status: domain.StatusAnalyzing})
	cc.Put(ctx, &domain.Case{ID: "failed", Status: domain.StatusFailed})

	assert.Nil(t, cc.Get(ctx, "ready"))
	assert.Nil(t, cc.Get(ctx, "running"))
	assert.NotNil(t, cc.Get(ctx, "failed"))
}

func TestCaseCache_Invalidate(t *testing.T) {
	cc := createTestCache(t)
	ctx := context.Background()

	cc.Put(ctx, &domain.Case{ID: "case-1", Status: domain.StatusComplete})
	require.NotNil(t, cc.Get(ctx, "case-1"))

	cc.Invalidate(ctx, "case-1")
	assert.Nil(t, cc.Get(ctx, "case-1"))
}

func TestCaseCache_LRUEviction(t *testing.T) {
	cc := createTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cc.Put(ctx, &domain.Case{ID: id, Status: domain.StatusComplete})
	}

	// Size 4: the oldest entry was evicted.
	assert.Nil(t, cc.Get(ctx, "a"))
	assert.NotNil(t, cc.Get(ctx, "e"))
}
