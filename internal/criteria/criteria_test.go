package criteria

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/database"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/reputation"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]core.CriteriaConfig
}

func newMemStore() *memStore { return &memStore{data: map[string]core.CriteriaConfig{}} }

func (m *memStore) GetCriteria(_ context.Context, principal string) (*core.CriteriaConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[principal]
	if !ok {
		return nil, database.ErrNoCriteria
	}
	return &c, nil
}

func (m *memStore) UpsertCriteria(_ context.Context, c *core.CriteriaConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c.Principal] = *c
	return nil
}

type snapSource struct {
	snap  reputation.Snapshot
	err   error
	calls int
}

func (s *snapSource) Snapshot(context.Context, string) (reputation.Snapshot, error) {
	s.calls++
	return s.snap, s.err
}

func ratedAgent(scores ...int) *snapSource {
	return &snapSource{snap: reputation.NewAggregator(0).Summarize(scores)}
}

func fives(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 5
	}
	return out
}

const principal = "0x1111111111111111111111111111111111111111"

func TestEvaluate_ScenarioBalancedAutoApproves(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(fives(30)...), metrics.NewNop(), nil)
	ctx := context.Background()

	_, err := svc.ApplyPreset(ctx, principal, PresetBalanced)
	require.NoError(t, err)

	d, err := svc.Evaluate(ctx, principal, "agent-1", 50_000_000)
	require.NoError(t, err)
	assert.True(t, d.AutoApprove)
	assert.Empty(t, d.FailedChecks)
}

func TestEvaluate_ScenarioConservativeRejectsAverageFour(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(4, 4, 4, 4, 4), metrics.NewNop(), nil)

	d, err := svc.Evaluate(context.Background(), principal, "agent-1", 1_000_000)
	require.NoError(t, err)
	assert.False(t, d.AutoApprove)
	assert.Equal(t, []string{CheckInsufficientReputation}, d.FailedChecks)
	assert.Len(t, d.Reasons, 1)
}

func TestEvaluate_ScenarioHighValueAlwaysFlagged(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			svc := NewService(newMemStore(), ratedAgent(fives(200)...), metrics.NewNop(), nil)
			_, err := svc.ApplyPreset(context.Background(), principal, name)
			require.NoError(t, err)

			d, err := svc.Evaluate(context.Background(), principal, "agent-1", 150_000_000)
			require.NoError(t, err)
			assert.False(t, d.AutoApprove)
			assert.Contains(t, d.FailedChecks, CheckHighValueSafeguard)
		})
	}
}

func TestEvaluate_AllChecksRunInOrder(t *testing.T) {
	cfg := Default(principal)
	d := Evaluate(cfg, reputation.Snapshot{}, 150_000_000)

	assert.False(t, d.AutoApprove)
	assert.Equal(t, []string{
		CheckInsufficientReputation,
		CheckInsufficientReviews,
		CheckPriceExceedsLimit,
		CheckHighValueSafeguard,
	}, d.FailedChecks)
	assert.Len(t, d.Reasons, 4)
}

func TestEvaluate_Boundaries(t *testing.T) {
	cfg := core.CriteriaConfig{MinReputation: 450, MinReviewCount: 3, MaxPrice: 50_000_000}

	tests := []struct {
		name   string
		snap   reputation.Snapshot
		price  int64
		failed []string
	}{
		{"exactly at every floor", reputation.Snapshot{RawAverage: 4.5, ReviewCount: 3}, 50_000_000, []string{}},
		{"one review short", reputation.Snapshot{RawAverage: 4.5, ReviewCount: 2}, 1, []string{CheckInsufficientReviews}},
		{"rounds to the floor", reputation.Snapshot{RawAverage: 4.496, ReviewCount: 3}, 1, []string{}},
		{"just below the floor", reputation.Snapshot{RawAverage: 4.49, ReviewCount: 3}, 1, []string{CheckInsufficientReputation}},
		{"one micro over the limit", reputation.Snapshot{RawAverage: 5, ReviewCount: 9}, 50_000_001, []string{CheckPriceExceedsLimit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(cfg, tt.snap, tt.price)
			assert.Equal(t, tt.failed, d.FailedChecks)
			assert.Equal(t, len(tt.failed) == 0, d.AutoApprove)
		})
	}
}

func TestEvaluate_HighValueAtThresholdPasses(t *testing.T) {
	cfg := core.CriteriaConfig{MaxPrice: math.MaxInt64}
	d := Evaluate(cfg, reputation.Snapshot{}, HighValueThreshold)
	assert.True(t, d.AutoApprove)
}

func TestEvaluate_HumanOverrideSkipsReputation(t *testing.T) {
	store := newMemStore()
	src := ratedAgent(fives(100)...)
	m := metrics.NewNop()
	svc := NewService(store, src, m, nil)
	ctx := context.Background()

	yes := true
	_, err := svc.Update(ctx, principal, Overrides{RequireHumanApproval: &yes})
	require.NoError(t, err)

	d, err := svc.Evaluate(ctx, principal, "agent-1", 1)
	require.NoError(t, err)
	assert.False(t, d.AutoApprove)
	assert.Equal(t, []string{CheckHumanApprovalRequired}, d.FailedChecks)
	assert.Equal(t, 0, src.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("human_required")))
}

func TestEvaluate_ReputationFailureDegradesToZero(t *testing.T) {
	m := metrics.NewNop()
	svc := NewService(newMemStore(), &snapSource{err: errors.New("registry timeout")}, m, nil)
	ctx := context.Background()

	d, err := svc.Evaluate(ctx, principal, "agent-1", 1_000_000)
	require.NoError(t, err)
	assert.False(t, d.AutoApprove)
	assert.Equal(t, []string{CheckInsufficientReputation, CheckInsufficientReviews}, d.FailedChecks)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReputationDegraded.WithLabelValues("criteria")))

	// Demo has no floors, so even a degraded lookup auto-approves.
	_, err = svc.ApplyPreset(ctx, principal, PresetDemo)
	require.NoError(t, err)
	d, err = svc.Evaluate(ctx, principal, "agent-1", 1_000_000)
	require.NoError(t, err)
	assert.True(t, d.AutoApprove)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)

	_, err := svc.Evaluate(context.Background(), principal, "", 1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.Evaluate(context.Background(), principal, "agent-1", -1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.Evaluate(context.Background(), " ", "agent-1", 1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestPrincipalAddressCaseInsensitive(t *testing.T) {
	const checksummed = "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"
	svc := NewService(newMemStore(), ratedAgent(fives(200)...), metrics.NewNop(), nil)
	ctx := context.Background()

	_, err := svc.SetHumanApproval(ctx, checksummed, true)
	require.NoError(t, err)

	cfg, err := svc.Get(ctx, strings.ToLower(checksummed))
	require.NoError(t, err)
	assert.True(t, cfg.RequireHumanApproval)
	assert.Equal(t, strings.ToLower(checksummed), cfg.Principal)

	d, err := svc.Evaluate(ctx, strings.ToLower(checksummed), "agent-1", 1_000_000)
	require.NoError(t, err)
	assert.False(t, d.AutoApprove)
	assert.Equal(t, []string{CheckHumanApprovalRequired}, d.FailedChecks)

	d, err = svc.Evaluate(ctx, strings.ToUpper(checksummed[2:]), "agent-1", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, []string{CheckHumanApprovalRequired}, d.FailedChecks)
}

func TestPrincipalMustBeAddress(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, "treasury")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.ApplyPreset(ctx, "0x123", PresetDemo)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.Evaluate(ctx, "treasury", "agent-1", 1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestGet_DefaultsToConservative(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)

	cfg, err := svc.Get(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, PresetConservative, cfg.Preset)
	assert.Equal(t, int64(480), cfg.MinReputation)
	assert.Equal(t, int64(5), cfg.MinReviewCount)
	assert.Equal(t, int64(10_000_000), cfg.MaxPrice)
	assert.False(t, cfg.RequireHumanApproval)
}

func TestApplyPreset(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)
	ctx := context.Background()

	yes := true
	_, err := svc.Update(ctx, principal, Overrides{RequireHumanApproval: &yes})
	require.NoError(t, err)

	cfg, err := svc.ApplyPreset(ctx, principal, PresetAggressive)
	require.NoError(t, err)
	assert.Equal(t, core.CriteriaConfig{
		Principal:            principal,
		Preset:               PresetAggressive,
		MinReputation:        400,
		MinReviewCount:       1,
		MaxPrice:             100_000_000,
		RequireHumanApproval: true,
	}, cfg)

	stored, err := svc.Get(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, cfg, stored)

	_, err = svc.ApplyPreset(ctx, principal, "Reckless")
	assert.ErrorIs(t, err, core.ErrUnknownPreset)
}

func TestUpdate_MergesOnlySuppliedFields(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)
	ctx := context.Background()

	_, err := svc.ApplyPreset(ctx, principal, PresetBalanced)
	require.NoError(t, err)

	price := int64(25_000_000)
	cfg, err := svc.Update(ctx, principal, Overrides{MaxPrice: &price})
	require.NoError(t, err)

	assert.Equal(t, PresetCustom, cfg.Preset)
	assert.Equal(t, int64(450), cfg.MinReputation)
	assert.Equal(t, int64(3), cfg.MinReviewCount)
	assert.Equal(t, price, cfg.MaxPrice)
}

func TestSetHumanApproval_KeepsPreset(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)
	ctx := context.Background()

	_, err := svc.ApplyPreset(ctx, principal, PresetBalanced)
	require.NoError(t, err)

	cfg, err := svc.SetHumanApproval(ctx, principal, true)
	require.NoError(t, err)
	assert.Equal(t, PresetBalanced, cfg.Preset)
	assert.Equal(t, int64(450), cfg.MinReputation)
	assert.True(t, cfg.RequireHumanApproval)
}

func TestUpdate_RejectsOutOfRange(t *testing.T) {
	svc := NewService(newMemStore(), ratedAgent(), metrics.NewNop(), nil)
	ctx := context.Background()

	tooHigh := int64(501)
	_, err := svc.Update(ctx, principal, Overrides{MinReputation: &tooHigh})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	negative := int64(-1)
	_, err = svc.Update(ctx, principal, Overrides{MaxPrice: &negative})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.Update(ctx, principal, Overrides{MinReviewCount: &negative})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestPresetTable(t *testing.T) {
	assert.Equal(t, []string{PresetAggressive, PresetBalanced, PresetConservative, PresetDemo}, PresetNames())

	demo, ok := Preset(PresetDemo)
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), demo.MaxPrice)

	_, ok = Preset(PresetCustom)
	assert.False(t, ok, "Custom is a state, not a selectable preset")
}
