package reputation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/maldo/backend/internal/metrics"
)

// CachedSource is a read-through Redis cache in front of another source.
// Cache failures never fail a lookup; they only cost a trip to the source.
type CachedSource struct {
	client    RedisClient
	next      Source
	keyPrefix string
	ttl       time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCachedSource wraps next with a Redis cache.
func NewCachedSource(client RedisClient, next Source, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *CachedSource {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{
		client:    client,
		next:      next,
		keyPrefix: "maldo:rep:",
		ttl:       ttl,
		metrics:   m,
		logger:    logger.With("component", "reputation-cache"),
	}
}

func (c *CachedSource) Snapshot(ctx context.Context, agentID string) (Snapshot, error) {
	key := c.keyPrefix + agentID

	if data, err := c.client.Get(ctx, key); err == nil && data != nil {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			c.metrics.CacheResults.WithLabelValues("hit").Inc()
			return snap, nil
		}
		c.metrics.CacheResults.WithLabelValues("error").Inc()
	} else {
		c.metrics.CacheResults.WithLabelValues("miss").Inc()
	}

	snap, err := c.next.Snapshot(ctx, agentID)
	if err != nil {
		return Snapshot{}, err
	}

	data, err := json.Marshal(snap)
	if err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn("failed to cache reputation", "agent_id", agentID, "error", err)
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read sees new ratings.
func (c *CachedSource) Invalidate(ctx context.Context, agentID string) error {
	return c.client.Del(ctx, c.keyPrefix+agentID)
}
