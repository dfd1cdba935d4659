package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trust services
type Metrics struct {
	// Criteria gate
	Evaluations  *prometheus.CounterVec
	FailedChecks *prometheus.CounterVec

	// Reputation sources
	ReputationLookups  *prometheus.CounterVec
	ReputationDegraded *prometheus.CounterVec
	SourceFallbacks    prometheus.Counter
	CacheResults       *prometheus.CounterVec

	// Discovery
	DiscoveryDuration   prometheus.Histogram
	DiscoveryCandidates prometheus.Histogram

	// Vouching and ratings
	Vouches *prometheus.CounterVec
	Ratings *prometheus.CounterVec

	// Deal gate
	Deals *prometheus.CounterVec

	// x402 payment path
	Payments *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_criteria_evaluations_total",
				Help: "Criteria evaluations by outcome",
			},
			[]string{"result"}, // auto_approve, human_required
		),

		FailedChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_criteria_failed_checks_total",
				Help: "Failed criteria checks by check code",
			},
			[]string{"check"},
		),

		ReputationLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_reputation_lookups_total",
				Help: "Reputation lookups by source and result",
			},
			[]string{"source", "result"}, // result: ok, error
		),

		ReputationDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_reputation_degraded_total",
				Help: "Reputation lookups replaced by the zero-reputation default",
			},
			[]string{"component"}, // criteria, discovery
		),

		SourceFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maldo_reputation_source_fallbacks_total",
				Help: "Times the secondary reputation source answered for the primary",
			},
		),

		CacheResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_reputation_cache_total",
				Help: "Reputation cache lookups by result",
			},
			[]string{"result"}, // hit, miss, error
		),

		DiscoveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maldo_discovery_duration_seconds",
				Help:    "Duration of discovery ranking requests",
				Buckets: prometheus.DefBuckets,
			},
		),

		DiscoveryCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maldo_discovery_candidates",
				Help:    "Number of candidate agents ranked per discovery request",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),

		Vouches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_vouches_total",
				Help: "Vouch submissions by result code",
			},
			[]string{"result"},
		),

		Ratings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_ratings_total",
				Help: "Rating submissions by result code",
			},
			[]string{"result"},
		),

		Deals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_deals_total",
				Help: "Deal requests by gate outcome",
			},
			[]string{"outcome"}, // funded, pending, approved, rejected
		),

		Payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maldo_x402_payments_total",
				Help: "x402 paid requests by result code",
			},
			[]string{"result"},
		),
	}
}

// NewNop returns metrics registered on a private registry. Useful for tests
// and for callers that do not expose /metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
