package license

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "license_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "license_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

const defaultCacheTTL = 30 * time.Second

// Cache is a short-TTL redis read-through for effective-license display
// reads. It is never consulted by the quota enforcer: an allow decision is
// only ever made by the store's conditional update, so a stale cached usage
// count can mislead a dashboard for at most one TTL but can never breach a
// limit.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(orgID string) string {
	return fmt.Sprintf("license:effective:%s", orgID)
}

func (c *Cache) Get(ctx context.Context, orgID string) (*EffectiveLicense, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(orgID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("license cache read failed", zap.Error(err))
		}
		cacheMiss.Inc()
		return nil, false
	}

	var eff EffectiveLicense
	if err := json.Unmarshal(raw, &eff); err != nil {
		zap.L().Warn("license cache entry corrupt, dropping", zap.Error(err))
		_ = c.rdb.Del(ctx, cacheKey(orgID)).Err()
		cacheMiss.Inc()
		return nil, false
	}

	cacheHits.Inc()
	return &eff, true
}

func (c *Cache) Set(ctx context.Context, orgID string, eff *EffectiveLicense) {
	raw, err := json.Marshal(eff)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(orgID), raw, c.ttl).Err(); err != nil {
		zap.L().Warn("license cache write failed", zap.Error(err))
	}
}

func (c *Cache) Invalidate(ctx context.Context, orgID string) {
	if err := c.rdb.Del(ctx, cacheKey(orgID)).Err(); err != nil {
		zap.L().Warn("license cache invalidation failed", zap.Error(err))
	}
}
