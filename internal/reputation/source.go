package reputation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maldo/backend/internal/circuitbreaker"
	"github.com/maldo/backend/internal/metrics"
)

// LedgerSource is the canonical source: it summarizes the locally cached
// rating ledger.
type LedgerSource struct {
	ratings    RatingReader
	aggregator Aggregator
	metrics    *metrics.Metrics
}

// NewLedgerSource creates a source over the rating ledger.
func NewLedgerSource(ratings RatingReader, agg Aggregator, m *metrics.Metrics) *LedgerSource {
	return &LedgerSource{ratings: ratings, aggregator: agg, metrics: m}
}

// Snapshot reads every rating of the agent and aggregates them.
func (s *LedgerSource) Snapshot(ctx context.Context, agentID string) (Snapshot, error) {
	scores, err := s.ratings.RatingScores(ctx, agentID)
	if err != nil {
		s.metrics.ReputationLookups.WithLabelValues("ledger", "error").Inc()
		return Snapshot{}, fmt.Errorf("read ratings for %s: %w", agentID, err)
	}
	s.metrics.ReputationLookups.WithLabelValues("ledger", "ok").Inc()
	return s.aggregator.Summarize(scores), nil
}

// FallbackSource asks the primary first and falls back to the secondary
// when the primary fails or has no signal (zero reviews).
type FallbackSource struct {
	primary   Source
	secondary Source
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewFallbackSource wraps primary with a secondary fallback.
func NewFallbackSource(primary, secondary Source, m *metrics.Metrics, logger *slog.Logger) *FallbackSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSource{
		primary:   primary,
		secondary: secondary,
		metrics:   m,
		logger:    logger.With("component", "reputation-fallback"),
	}
}

func (s *FallbackSource) Snapshot(ctx context.Context, agentID string) (Snapshot, error) {
	snap, err := s.primary.Snapshot(ctx, agentID)
	if err == nil && snap.ReviewCount > 0 {
		return snap, nil
	}
	if err != nil {
		s.logger.Warn("primary reputation source failed, using secondary", "agent_id", agentID, "error", err)
	}
	s.metrics.SourceFallbacks.Inc()
	return s.secondary.Snapshot(ctx, agentID)
}

// GuardedSource stops asking next while its breaker is open. The open
// circuit surfaces as an error so a FallbackSource can take over.
type GuardedSource struct {
	next    Source
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedSource wraps next with breaker.
func NewGuardedSource(next Source, breaker *circuitbreaker.CircuitBreaker) *GuardedSource {
	return &GuardedSource{next: next, breaker: breaker}
}

func (s *GuardedSource) Snapshot(ctx context.Context, agentID string) (Snapshot, error) {
	var snap Snapshot
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = s.next.Snapshot(ctx, agentID)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", s.breaker.Name(), err)
	}
	return snap, nil
}
