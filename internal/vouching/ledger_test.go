package vouching

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/database"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/reputation"
)

type fixedReputation struct {
	scores map[string]float64
	err    error
}

func (f fixedReputation) Snapshot(_ context.Context, agentID string) (reputation.Snapshot, error) {
	if f.err != nil {
		return reputation.Snapshot{}, f.err
	}
	return reputation.Snapshot{BayesianScore: f.scores[agentID], Badges: []string{}}, nil
}

type fixture struct {
	ledger  *Ledger
	store   *database.Store
	metrics *metrics.Metrics
	keys    map[string]*ecdsa.PrivateKey
}

func newFixture(t *testing.T, rep reputation.Source) *fixture {
	t.Helper()
	store, err := database.Open(context.Background(), database.DriverSQLite, filepath.Join(t.TempDir(), "maldo.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.NewNop()
	return &fixture{
		ledger:  NewLedger(store, store, rep, NewEIP712Verifier(DefaultDomain), m, nil),
		store:   store,
		metrics: m,
		keys:    map[string]*ecdsa.PrivateKey{},
	}
}

func (f *fixture) agent(t *testing.T, name string) *core.Agent {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	a := &core.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Capabilities: []string{"testing"},
		Wallet:       crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	require.NoError(t, f.store.CreateAgent(context.Background(), a))
	f.keys[a.ID] = key
	return a
}

func (f *fixture) request(t *testing.T, voucher, vouchee *core.Agent) SubmitRequest {
	t.Helper()
	sig, err := SignVouch(f.keys[voucher.ID], DefaultDomain, voucher.ID, vouchee.ID)
	require.NoError(t, err)
	return SubmitRequest{
		VoucherAgentID: voucher.ID,
		VoucheeAgentID: vouchee.ID,
		VoucherWallet:  voucher.Wallet,
		Signature:      sig,
	}
}

func TestSubmit_Valid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.agent(t, "alpha"), f.agent(t, "beta")
	f.ledger.reputation = fixedReputation{scores: map[string]float64{a.ID: 4.0}}

	v, err := f.ledger.Submit(ctx, f.request(t, a, b))
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, a.ID, v.VoucherAgentID)
	assert.Equal(t, b.ID, v.VoucheeAgentID)
	assert.InDelta(t, 0.8, v.Weight, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Vouches.WithLabelValues("ok")))
}

func TestSubmit_WalletCaseInsensitive(t *testing.T) {
	f := newFixture(t, fixedReputation{})
	a, b := f.agent(t, "alpha"), f.agent(t, "beta")

	req := f.request(t, a, b)
	req.VoucherWallet = strings.ToLower(req.VoucherWallet)

	_, err := f.ledger.Submit(context.Background(), req)
	require.NoError(t, err)
}

func TestSubmit_SelfVouchRejectedForAnySignature(t *testing.T) {
	f := newFixture(t, fixedReputation{})
	a := f.agent(t, "alpha")

	valid, err := SignVouch(f.keys[a.ID], DefaultDomain, a.ID, a.ID)
	require.NoError(t, err)

	for _, sig := range []string{valid, "", "0xdeadbeef"} {
		_, err := f.ledger.Submit(context.Background(), SubmitRequest{
			VoucherAgentID: a.ID, VoucheeAgentID: a.ID, VoucherWallet: a.Wallet, Signature: sig,
		})
		assert.ErrorIs(t, err, core.ErrSelfVouch)
	}

	received, err := f.ledger.VouchesFor(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, received.Vouches)
}

func TestSubmit_CheckOrder(t *testing.T) {
	f := newFixture(t, fixedReputation{})
	ctx := context.Background()
	a, b, c := f.agent(t, "alpha"), f.agent(t, "beta"), f.agent(t, "gamma")

	t.Run("unknown voucher", func(t *testing.T) {
		_, err := f.ledger.Submit(ctx, SubmitRequest{VoucherAgentID: "ghost", VoucheeAgentID: b.ID, VoucherWallet: a.Wallet})
		assert.ErrorIs(t, err, core.ErrAgentNotFound)
		assert.Contains(t, err.Error(), "voucher agent ghost")
	})

	t.Run("unknown vouchee", func(t *testing.T) {
		_, err := f.ledger.Submit(ctx, SubmitRequest{VoucherAgentID: a.ID, VoucheeAgentID: "ghost", VoucherWallet: a.Wallet})
		assert.ErrorIs(t, err, core.ErrAgentNotFound)
		assert.Contains(t, err.Error(), "vouchee agent ghost")
	})

	t.Run("wallet mismatch before signature", func(t *testing.T) {
		req := f.request(t, a, b)
		req.VoucherWallet = c.Wallet
		_, err := f.ledger.Submit(ctx, req)
		assert.ErrorIs(t, err, core.ErrWalletMismatch)
	})

	t.Run("signature from another key", func(t *testing.T) {
		req := f.request(t, a, b)
		forged, err := SignVouch(f.keys[c.ID], DefaultDomain, a.ID, b.ID)
		require.NoError(t, err)
		req.Signature = forged
		_, err = f.ledger.Submit(ctx, req)
		assert.ErrorIs(t, err, core.ErrInvalidSignature)
	})

	t.Run("malformed signature", func(t *testing.T) {
		req := f.request(t, a, b)
		req.Signature = "not-a-signature"
		_, err := f.ledger.Submit(ctx, req)
		assert.ErrorIs(t, err, core.ErrInvalidSignature)
	})

	t.Run("missing ids", func(t *testing.T) {
		_, err := f.ledger.Submit(ctx, SubmitRequest{})
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestSubmit_Duplicate(t *testing.T) {
	f := newFixture(t, fixedReputation{})
	ctx := context.Background()
	a, b := f.agent(t, "alpha"), f.agent(t, "beta")

	_, err := f.ledger.Submit(ctx, f.request(t, a, b))
	require.NoError(t, err)

	_, err = f.ledger.Submit(ctx, f.request(t, a, b))
	assert.ErrorIs(t, err, core.ErrDuplicateVouch)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Vouches.WithLabelValues("duplicate_vouch")))
}

// flakyReputation fails until healed.
type flakyReputation struct {
	down bool
}

func (f *flakyReputation) Snapshot(context.Context, string) (reputation.Snapshot, error) {
	if f.down {
		return reputation.Snapshot{}, errors.New("registry down")
	}
	return reputation.Snapshot{BayesianScore: reputation.PriorMean, Badges: []string{}}, nil
}

func TestSubmit_ReputationUnavailableStoresNothing(t *testing.T) {
	rep := &flakyReputation{down: true}
	f := newFixture(t, rep)
	ctx := context.Background()
	a, b := f.agent(t, "alpha"), f.agent(t, "beta")

	v, err := f.ledger.Submit(ctx, f.request(t, a, b))
	assert.ErrorIs(t, err, core.ErrReputationUnavailable)
	assert.Nil(t, v)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReputationDegraded.WithLabelValues("vouching")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Vouches.WithLabelValues("reputation_unavailable")))

	received, err := f.ledger.VouchesFor(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, received.Vouches)

	// Once the source recovers the same signed vouch goes through.
	rep.down = false
	v, err = f.ledger.Submit(ctx, f.request(t, a, b))
	require.NoError(t, err)
	assert.Equal(t, 0.7, v.Weight)
}

func TestWeight(t *testing.T) {
	tests := []struct {
		bayesian float64
		want     float64
	}{
		{0, 0},
		{3.5, 0.7},
		{4.625, 0.925},
		{5, 1},
		{7, 1},
		{-1, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Weight(tt.bayesian), 1e-9, "Weight(%v)", tt.bayesian)
	}
}

func TestBonusIsCapped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	target := f.agent(t, "target")
	scores := map[string]float64{}
	f.ledger.reputation = fixedReputation{scores: scores}

	for _, name := range []string{"v1", "v2", "v3"} {
		voucher := f.agent(t, name)
		scores[voucher.ID] = 5.0
		_, err := f.ledger.Submit(ctx, f.request(t, voucher, target))
		require.NoError(t, err)
	}

	bonus, err := f.ledger.Bonus(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxBonus, bonus)

	received, err := f.ledger.VouchesFor(ctx, target.ID)
	require.NoError(t, err)
	assert.Len(t, received.Vouches, 3)
	assert.Equal(t, MaxBonus, received.TotalBonus)
	assert.NotEmpty(t, received.Vouches[0].VoucherName)

	none, err := f.ledger.Bonus(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0.0, none)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, fixedReputation{scores: map[string]float64{}})
	ctx := context.Background()
	a, b := f.agent(t, "alpha"), f.agent(t, "beta")

	assert.ErrorIs(t, f.ledger.Withdraw(ctx, a.ID, b.ID), core.ErrVouchNotFound)

	_, err := f.ledger.Submit(ctx, f.request(t, a, b))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Withdraw(ctx, a.ID, b.ID))

	received, err := f.ledger.VouchesFor(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, received.Vouches)
	assert.Equal(t, 0.0, received.TotalBonus)
}

func TestSubmit_EstablishedVoucherOutweighsNewcomer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b, c := f.agent(t, "established"), f.agent(t, "target"), f.agent(t, "newcomer")
	f.ledger.reputation = fixedReputation{scores: map[string]float64{
		a.ID: 4.0,
		c.ID: reputation.PriorMean,
	}}

	fromA, err := f.ledger.Submit(ctx, f.request(t, a, b))
	require.NoError(t, err)
	fromC, err := f.ledger.Submit(ctx, f.request(t, c, b))
	require.NoError(t, err)

	assert.InDelta(t, 0.8, fromA.Weight, 1e-9)
	assert.InDelta(t, 0.7, fromC.Weight, 1e-9)
	assert.Greater(t, fromA.Weight, fromC.Weight)

	received, err := f.ledger.VouchesFor(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, received.Vouches, 2)
	assert.Equal(t, "established", received.Vouches[0].VoucherName)
	assert.InDelta(t, 1.5, received.TotalBonus, 1e-9)
}
