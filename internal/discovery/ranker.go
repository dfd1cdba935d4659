// Package discovery ranks agents for a capability query by reputation,
// volume and dispute history.
package discovery

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/reputation"
)

const (
	// VolumeSaturation is the review count at which volume stops adding confidence.
	VolumeSaturation = 100

	DefaultConcurrency = 8

	// MaxLimit caps every listing. An omitted limit returns up to MaxLimit.
	MaxLimit = 100
)

// Catalog lists candidate agents in a stable order.
type Catalog interface {
	ListAgents(ctx context.Context) ([]core.Agent, error)
	AgentsByCapability(ctx context.Context, tag string) ([]core.Agent, error)
}

// Multiplier scales an agent's rank score. It is the extension point for
// factors outside the reputation snapshot, such as a vouch bonus.
type Multiplier func(ctx context.Context, agent core.Agent) float64

// Query selects and trims the ranking.
type Query struct {
	Capability    string
	MinReputation *float64 // bayesian floor on the 0-5 scale
	Limit         int
}

// Result is one ranked agent.
type Result struct {
	AgentID      string              `json:"agentId"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Capabilities []string            `json:"capabilities"`
	BasePrice    int64               `json:"basePrice"`
	Endpoint     string              `json:"endpoint"`
	Wallet       string              `json:"wallet"`
	Reputation   reputation.Snapshot `json:"reputation"`
	RankScore    float64             `json:"rankScore"`
}

// Options tune a Ranker. Zero values select the defaults.
type Options struct {
	Concurrency int
	// DefaultLimit applies when a query has no limit. Zero means MaxLimit.
	DefaultLimit int
	Multiplier   Multiplier
}

// Ranker answers discovery queries.
type Ranker struct {
	catalog      Catalog
	reputation   reputation.Source
	concurrency  int
	defaultLimit int
	multiplier   Multiplier
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewRanker wires a ranker.
func NewRanker(catalog Catalog, rep reputation.Source, opts Options, m *metrics.Metrics, logger *slog.Logger) *Ranker {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.DefaultLimit < 1 || opts.DefaultLimit > MaxLimit {
		opts.DefaultLimit = MaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		catalog:      catalog,
		reputation:   rep,
		concurrency:  opts.Concurrency,
		defaultLimit: opts.DefaultLimit,
		multiplier:   opts.Multiplier,
		metrics:      m,
		logger:       logger.With("component", "discovery"),
	}
}

// RankScore is bayesian x min(count/100, 1) x (1 - disputeRate) x multiplier.
func RankScore(snap reputation.Snapshot, multiplier float64) float64 {
	volume := math.Min(float64(snap.ReviewCount)/VolumeSaturation, 1)
	return snap.BayesianScore * volume * (1 - snap.DisputeRate) * multiplier
}

// Discover returns the best agents for q, highest rank first. A failed
// reputation lookup ranks that agent with a zero snapshot instead of
// failing the query.
func (r *Ranker) Discover(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()
	defer func() { r.metrics.DiscoveryDuration.Observe(time.Since(start).Seconds()) }()

	agents, err := r.candidates(ctx, q.Capability)
	if err != nil {
		return nil, err
	}
	r.metrics.DiscoveryCandidates.Observe(float64(len(agents)))

	snaps := r.snapshots(ctx, agents)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(agents))
	for i, a := range agents {
		snap := snaps[i]
		if q.MinReputation != nil && snap.BayesianScore < *q.MinReputation {
			continue
		}
		mult := 1.0
		if r.multiplier != nil {
			mult = r.multiplier(ctx, a)
		}
		results = append(results, Result{
			AgentID:      a.ID,
			Name:         a.Name,
			Description:  a.Description,
			Capabilities: a.Capabilities,
			BasePrice:    a.BasePrice,
			Endpoint:     a.Endpoint,
			Wallet:       a.Wallet,
			Reputation:   snap,
			RankScore:    RankScore(snap, mult),
		})
	}

	// Stable: equal scores keep the catalog order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RankScore > results[j].RankScore
	})

	if limit := r.limit(q.Limit); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *Ranker) candidates(ctx context.Context, capability string) ([]core.Agent, error) {
	tag := strings.ToLower(strings.TrimSpace(capability))
	if tag == "" {
		return r.catalog.ListAgents(ctx)
	}
	if !core.ValidCapability(tag) {
		return nil, core.WithDetail(core.ErrInvalidInput, "invalid capability "+tag)
	}
	return r.catalog.AgentsByCapability(ctx, tag)
}

// snapshots looks up every agent's reputation with bounded concurrency.
// Results line up with agents by index.
func (r *Ranker) snapshots(ctx context.Context, agents []core.Agent) []reputation.Snapshot {
	snaps := make([]reputation.Snapshot, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, a := range agents {
		i, a := i, a
		g.Go(func() error {
			snap, err := r.reputation.Snapshot(gctx, a.ID)
			if err != nil {
				r.logger.Warn("reputation lookup failed, ranking as zero", "agent_id", a.ID, "error", err)
				r.metrics.ReputationDegraded.WithLabelValues("discovery").Inc()
				snap = reputation.Snapshot{Badges: []string{}}
			}
			snaps[i] = snap
			return nil
		})
	}
	_ = g.Wait()
	return snaps
}

func (r *Ranker) limit(requested int) int {
	switch {
	case requested < 1:
		return r.defaultLimit
	case requested > MaxLimit:
		return MaxLimit
	default:
		return requested
	}
}
