package reputation

import (
	"context"
	"time"
)

// Source defines the capability every reputation backend provides (local
// rating ledger, remote registry, cache). Callers never care which.
type Source interface {
	Snapshot(ctx context.Context, agentID string) (Snapshot, error)
}

// RatingReader is the slice of the rating ledger the aggregator needs.
type RatingReader interface {
	RatingScores(ctx context.Context, agentID string) ([]int, error)
}

// Invalidator drops any cached reputation for an agent.
type Invalidator interface {
	Invalidate(ctx context.Context, agentID string) error
}

// RedisClient is a minimal interface that any Redis library can satisfy.
// The concrete go-redis adapter lives in internal/infra.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}
