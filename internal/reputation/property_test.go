package reputation

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const eps = 1e-9

// TestBayesianScoreBounded verifies the composite never leaves the interval
// spanned by the raw average and the prior mean.
func TestBayesianScoreBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bayesian score lies between raw and prior", prop.ForAll(
		func(raw float64, count int) bool {
			b := BayesianScore(raw, count)
			lo := math.Min(raw, PriorMean)
			hi := math.Max(raw, PriorMean)
			return b >= lo-eps && b <= hi+eps
		},
		gen.Float64Range(1, 5),
		gen.IntRange(0, 10000),
	))

	properties.Property("zero reviews yields the prior", prop.ForAll(
		func(raw float64) bool {
			return BayesianScore(raw, 0) == PriorMean
		},
		gen.Float64Range(0, 5),
	))

	properties.Property("monotonic in raw average", prop.ForAll(
		func(a, b float64, count int) bool {
			if a > b {
				a, b = b, a
			}
			return BayesianScore(a, count) <= BayesianScore(b, count)+eps
		},
		gen.Float64Range(1, 5),
		gen.Float64Range(1, 5),
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}

// TestSummarizeInvariants checks the snapshot shape over arbitrary histories.
func TestSummarizeInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	agg := NewAggregator(0)

	properties.Property("dispute rate within [0,1] and count matches", prop.ForAll(
		func(scores []int) bool {
			snap := agg.Summarize(scores)
			return snap.DisputeRate >= 0 && snap.DisputeRate <= 1 &&
				snap.ReviewCount == len(scores) &&
				snap.Badges != nil
		},
		gen.SliceOf(gen.IntRange(1, 5)),
	))

	properties.Property("bayesian score stays within star range", prop.ForAll(
		func(scores []int) bool {
			snap := agg.Summarize(scores)
			return snap.BayesianScore >= 1-eps && snap.BayesianScore <= 5+eps
		},
		gen.SliceOf(gen.IntRange(1, 5)),
	))

	properties.Property("fixed-point round trip", prop.ForAll(
		func(v int64) bool {
			return ToFixedPoint(FromFixedPoint(v)) == v
		},
		gen.Int64Range(0, 500),
	))

	properties.TestingRun(t)
}
