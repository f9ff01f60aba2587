// Package cache provides a two-tier read cache for completed case documents:
// an in-process LRU in front of an optional shared Redis tier. Only terminal
// cases are cached; in-progress documents always come from the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/domain"
)

// CaseCache caches completed case documents on the fetch path.
type CaseCache struct {
	memory *lru.Cache[string, *domain.Case]
	redis  *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// New creates a case cache. redisClient may be nil, leaving only the
// in-memory tier active.
func New(cfg *domain.CacheConfig, redisClient *redis.Client, logger *logrus.Logger) (*CaseCache, error) {
	size := cfg.LRUSize
	if size <= 0 {
		size = 1024
	}
	memory, err := lru.New[string, *domain.Case](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &CaseCache{
		memory: memory,
		redis:  redisClient,
		ttl:    ttl,
		log:    logger,
	}, nil
}

// Get returns a cached completed case document, or nil on miss.
func (cc *CaseCache) Get(ctx context.Context, caseID string) *domain.Case {
	if c, ok := cc.memory.Get(caseID); ok {
		return c
	}

	if cc.redis == nil {
		return nil
	}

	raw, err := cc.redis.Get(ctx, cc.key(caseID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			cc.log.WithError(err).Debug("Redis cache read failed")
		}
		return nil
	}

	c := &domain.Case{}
	if err := json.Unmarshal(raw, c); err != nil {
		cc.log.WithError(err).Warn("Discarding undecodable cached case")
		return nil
	}
	cc.memory.Add(caseID, c)
	return c
}

// Put stores a case document. Only terminal statuses are cacheable; anything
// else is ignored so readers never observe a stale in-progress snapshot.
func (cc *CaseCache) Put(ctx context.Context, c *domain.Case) {
	if c == nil || (c.Status != domain.StatusComplete && c.Status != domain.StatusFailed) {
		return
	}

	cc.memory.Add(c.ID, c)

	if cc.redis == nil {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := cc.redis.Set(ctx, cc.key(c.ID), raw, cc.ttl).Err(); err != nil {
		cc.log.WithError(err).Debug("Redis cache write failed")
	}
}

// Invalidate drops any cached copy of the case, called on reset and delete.
func (cc *CaseCache) Invalidate(ctx context.Context, caseID string) {
	cc.memory.Remove(caseID)
	if cc.redis != nil {
		if err := cc.redis.Del(ctx, cc.key(caseID)).Err(); err != nil {
			cc.log.WithError(err).Debug("Redis cache invalidation failed")
		}
	}
}

func (cc *CaseCache) key(caseID string) string {
	return "ae:case:" + caseID
}
