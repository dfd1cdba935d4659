package reputation

import (
	"context"
	"log/slog"
	"time"

	"github.com/maldo/backend/internal/circuitbreaker"
	"github.com/maldo/backend/internal/metrics"
)

// SourceConfig holds configuration for assembling the reputation source chain
type SourceConfig struct {
	RemoteURL             string // external registry, tried first when set
	RemoteTimeout         time.Duration
	BreakerTimeout        time.Duration // how long a failing registry is skipped
	CacheTTL              time.Duration
	ZeroDisputeMinReviews int
}

// NewSource builds the source chain:
//
//	[cache] -> [breaker -> remote registry -> fallback] -> ledger
//
// redis may be nil, in which case no cache is used. The returned Invalidator
// is always safe to call.
func NewSource(cfg SourceConfig, ratings RatingReader, redis RedisClient, m *metrics.Metrics, logger *slog.Logger) (Source, Invalidator) {
	agg := NewAggregator(cfg.ZeroDisputeMinReviews)

	var src Source = NewLedgerSource(ratings, agg, m)

	if cfg.RemoteURL != "" {
		remote := NewRemoteSource(cfg.RemoteURL, cfg.RemoteTimeout, agg, m)
		breaker := circuitbreaker.New(circuitbreaker.Config{
			Name:        "reputation-remote",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
		})
		src = NewFallbackSource(NewGuardedSource(remote, breaker), src, m, logger)
	}

	if redis != nil {
		cached := NewCachedSource(redis, src, cfg.CacheTTL, m, logger)
		return cached, cached
	}

	return src, nopInvalidator{}
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, string) error { return nil }
