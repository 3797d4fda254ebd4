// Package cache keeps recently read analysis records in redis
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skin-api/internal/database"
	"skin-api/internal/metrics"
	"skin-api/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type AnalysisCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewAnalysisCache(client *redis.Client, log *zap.SugaredLogger) *AnalysisCache {
	return &AnalysisCache{redis: client, ttl: shared.AnalysisCacheTTL, log: shared.OrNop(log)}
}

func Key(requestID string) string {
	return fmt.Sprintf("skin:v1:analysis:%s", requestID)
}

// Get reports a miss on any redis or decoding error
func (c *AnalysisCache) Get(ctx context.Context, requestID string) (*database.AnalysisRecord, bool) {
	cacheKey := Key(requestID)
	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("Failed reading analysis cache", "error", err, "key", cacheKey)
		}
		metrics.CacheResults.WithLabelValues("miss").Inc()
		return nil, false
	}
	var rec database.AnalysisRecord
	if err := json.Unmarshal([]byte(cached), &rec); err != nil {
		c.log.Warnw("Failed to unmarshal cached analysis", "error", err, "key", cacheKey)
		metrics.CacheResults.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.log.Debugw("Cache hit for analysis", "request_id", requestID)
	metrics.CacheResults.WithLabelValues("hit").Inc()
	return &rec, true
}

func (c *AnalysisCache) Set(ctx context.Context, rec *database.AnalysisRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal analysis for cache: %w", err)
	}
	return c.redis.Set(ctx, Key(rec.RequestID), data, c.ttl).Err()
}

// SetAsync caches rec in the background; the returned channel is closed once
// the write finished
func (c *AnalysisCache) SetAsync(rec *database.AnalysisRecord) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		cacheCtx, cancel := context.WithTimeout(context.Background(), shared.AnalysisCacheTimeout)
		defer cancel()
		if err := c.Set(cacheCtx, rec); err != nil {
			c.log.Warnw("Failed to cache analysis",
				"error", err,
				"cache_key", Key(rec.RequestID))
		}
	}()
	return done
}
