package reputation

import "math"

// ============================================================================
// REPUTATION AGGREGATOR - Bayesian composite score over a rating history
// ============================================================================

const (
	// PriorMean is the global mean every agent starts from.
	PriorMean = 3.5

	// PriorWeight is how many reviews the prior is worth.
	PriorWeight = 10.0

	// DisputeScoreCeiling: ratings at or below this count as disputes.
	DisputeScoreCeiling = 2

	// TopRatedMinAverage and TopRatedMinReviews gate the top-rated badge.
	TopRatedMinAverage = 4.5
	TopRatedMinReviews = 5

	// DefaultZeroDisputeMinReviews is the review floor for the
	// zero-disputes-streak badge when none is configured.
	DefaultZeroDisputeMinReviews = 20
)

const (
	Badge50Deals        = "50-deals"
	Badge100Deals       = "100-deals"
	BadgeZeroDisputes   = "zero-disputes-streak"
	BadgeTopRated       = "top-rated"
	fixedPointScale     = 100
	badgeDealsThreshold = 50
)

// Snapshot is the derived reputation of one agent at query time.
type Snapshot struct {
	RawAverage    float64  `json:"score"`
	ReviewCount   int      `json:"reviewCount"`
	DisputeRate   float64  `json:"disputeRate"`
	BayesianScore float64  `json:"bayesianScore"`
	Badges        []string `json:"badges"`
}

// Summary is the fixed-point view shared with the on-chain registry.
// AverageValue carries two implied decimals (480 == 4.80).
type Summary struct {
	AverageValue  int64 `json:"averageValue"`
	FeedbackCount int64 `json:"feedbackCount"`
}

// Aggregator turns rating histories into snapshots.
type Aggregator struct {
	ZeroDisputeMinReviews int
}

// NewAggregator returns an aggregator with the given badge floor. A value
// below one selects DefaultZeroDisputeMinReviews.
func NewAggregator(zeroDisputeMinReviews int) Aggregator {
	if zeroDisputeMinReviews < 1 {
		zeroDisputeMinReviews = DefaultZeroDisputeMinReviews
	}
	return Aggregator{ZeroDisputeMinReviews: zeroDisputeMinReviews}
}

// Summarize computes a snapshot from raw scores. Total over any input.
func (a Aggregator) Summarize(scores []int) Snapshot {
	count := len(scores)
	if count == 0 {
		return Snapshot{BayesianScore: PriorMean, Badges: []string{}}
	}

	sum, disputes := 0, 0
	for _, s := range scores {
		sum += s
		if s <= DisputeScoreCeiling {
			disputes++
		}
	}

	raw := float64(sum) / float64(count)
	rate := float64(disputes) / float64(count)

	return Snapshot{
		RawAverage:    raw,
		ReviewCount:   count,
		DisputeRate:   rate,
		BayesianScore: BayesianScore(raw, count),
		Badges:        a.badges(raw, count, rate),
	}
}

// FromSummary rebuilds a snapshot from a fixed-point summary. Dispute data
// is not part of the summary, so DisputeRate is zero.
func (a Aggregator) FromSummary(s Summary) Snapshot {
	count := int(s.FeedbackCount)
	if count <= 0 {
		return Snapshot{BayesianScore: PriorMean, Badges: []string{}}
	}
	raw := FromFixedPoint(s.AverageValue)
	return Snapshot{
		RawAverage:    raw,
		ReviewCount:   count,
		BayesianScore: BayesianScore(raw, count),
		Badges:        a.badges(raw, count, 0),
	}
}

func (a Aggregator) badges(raw float64, count int, disputeRate float64) []string {
	badges := []string{}
	if count >= badgeDealsThreshold {
		badges = append(badges, Badge50Deals)
	}
	if count >= 2*badgeDealsThreshold {
		badges = append(badges, Badge100Deals)
	}
	if disputeRate == 0 && count >= a.ZeroDisputeMinReviews {
		badges = append(badges, BadgeZeroDisputes)
	}
	if raw >= TopRatedMinAverage && count >= TopRatedMinReviews {
		badges = append(badges, BadgeTopRated)
	}
	return badges
}

// BayesianScore blends the raw average with the prior mean, weighted by
// review count: (v/(v+m))*R + (m/(v+m))*C.
func BayesianScore(raw float64, count int) float64 {
	if count <= 0 {
		return PriorMean
	}
	v := float64(count)
	return (v/(v+PriorWeight))*raw + (PriorWeight/(v+PriorWeight))*PriorMean
}

// Summary returns the fixed-point view of the snapshot.
func (s Snapshot) Summary() Summary {
	return Summary{
		AverageValue:  ToFixedPoint(s.RawAverage),
		FeedbackCount: int64(s.ReviewCount),
	}
}

// ToFixedPoint converts a 0-5 star value to the x100 integer scale.
func ToFixedPoint(stars float64) int64 {
	return int64(math.Round(stars * fixedPointScale))
}

// FromFixedPoint converts an x100 integer back to stars.
func FromFixedPoint(v int64) float64 {
	return float64(v) / fixedPointScale
}

// Round2 rounds to two decimals for presentation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
