package deals

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/criteria"
	"github.com/maldo/backend/internal/database"
	"github.com/maldo/backend/internal/metrics"
)

const (
	client   = "0x1111111111111111111111111111111111111111"
	treasury = "0x00000000000000000000000000000000000Beef1"
)

type stubEvaluator struct {
	decision  criteria.Decision
	err       error
	principal string
}

func (e *stubEvaluator) Evaluate(_ context.Context, principal, _ string, _ int64) (criteria.Decision, error) {
	e.principal = principal
	return e.decision, e.err
}

type fixture struct {
	svc     *Service
	store   *database.Store
	eval    *stubEvaluator
	metrics *metrics.Metrics
	agentID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "maldo.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	agent := &core.Agent{ID: "agent-1", Name: "worker", Capabilities: []string{"x"}, Wallet: "0x2222222222222222222222222222222222222222"}
	require.NoError(t, store.CreateAgent(ctx, agent))

	eval := &stubEvaluator{decision: criteria.Decision{AutoApprove: true, FailedChecks: []string{}, Reasons: []string{}}}
	m := metrics.NewNop()
	return &fixture{svc: NewService(store, eval, m, nil), store: store, eval: eval, metrics: m, agentID: agent.ID}
}

func (f *fixture) request() CreateRequest {
	return CreateRequest{AgentID: f.agentID, Client: client, Price: 5_000_000, Task: "translate the README"}
}

func (f *fixture) hold() {
	f.eval.decision = criteria.Decision{
		FailedChecks: []string{criteria.CheckInsufficientReputation},
		Reasons:      []string{"reputation too low"},
	}
}

func TestCreate_AutoApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	require.NotNil(t, res.Deal)
	assert.False(t, res.RequiresHumanApproval)
	assert.Equal(t, core.DealFunded, res.Deal.Status)
	assert.Equal(t, int64(1), res.Deal.Seq)
	assert.Equal(t, client, f.eval.principal, "principal defaults to the client")

	got, err := f.svc.Status(ctx, res.Deal.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "translate the README", got.Task)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deals.WithLabelValues("funded")))
}

func TestCreate_HeldForApproval(t *testing.T) {
	f := newFixture(t)
	f.hold()
	ctx := context.Background()

	req := f.request()
	req.Principal = treasury
	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.RequiresHumanApproval)
	assert.Nil(t, res.Deal)
	assert.NotEmpty(t, res.PendingApprovalID)
	assert.Equal(t, []string{criteria.CheckInsufficientReputation}, res.Decision.FailedChecks)

	assert.Equal(t, strings.ToLower(treasury), f.eval.principal)

	pending, err := f.svc.Pending(ctx, strings.ToUpper(treasury[2:]))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.PendingApprovalID, pending[0].ID)
	assert.Equal(t, []string{"reputation too low"}, pending[0].Reasons)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   *core.Error
	}{
		{"missing agent id", func(r *CreateRequest) { r.AgentID = "" }, core.ErrInvalidInput},
		{"bad client", func(r *CreateRequest) { r.Client = "alice" }, core.ErrInvalidInput},
		{"bad principal", func(r *CreateRequest) { r.Principal = "treasury" }, core.ErrInvalidInput},
		{"zero price", func(r *CreateRequest) { r.Price = 0 }, core.ErrInvalidInput},
		{"blank task", func(r *CreateRequest) { r.Task = "  " }, core.ErrInvalidInput},
		{"unknown agent", func(r *CreateRequest) { r.AgentID = "ghost" }, core.ErrAgentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			tt.mutate(&req)
			_, err := f.svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_NormalizesAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request()
	req.Client = "0x00000000000000000000000000000000000ABCDE"
	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000abcde", res.Deal.Client)
	assert.Equal(t, res.Deal.Client, f.eval.principal)

	_, err = f.svc.Pending(ctx, "treasury")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestCreate_EvaluatorError(t *testing.T) {
	f := newFixture(t)
	f.eval.err = core.WithDetail(core.ErrInvalidInput, "principal is required")

	_, err := f.svc.Create(context.Background(), f.request())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	f.hold()
	ctx := context.Background()

	res, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)

	d, err := f.svc.Approve(ctx, res.PendingApprovalID)
	require.NoError(t, err)
	assert.Equal(t, core.DealFunded, d.Status)
	assert.Equal(t, int64(5_000_000), d.Amount)

	p, err := f.store.GetApproval(ctx, res.PendingApprovalID)
	require.NoError(t, err)
	assert.Equal(t, core.ApprovalApproved, p.Status)
	assert.Equal(t, d.Nonce, p.DealNonce)

	_, err = f.svc.Approve(ctx, res.PendingApprovalID)
	assert.ErrorIs(t, err, core.ErrApprovalResolved)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "a second approval must not create another deal")
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.hold()
	ctx := context.Background()

	res, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	require.NoError(t, f.svc.Reject(ctx, res.PendingApprovalID))

	pending, err := f.svc.Pending(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.svc.Approve(ctx, res.PendingApprovalID)
	assert.ErrorIs(t, err, core.ErrApprovalResolved)

	err = f.svc.Reject(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrApprovalNotFound)
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, f.request())
	require.NoError(t, err)
	nonce := res.Deal.Nonce

	d, err := f.svc.Transition(ctx, nonce, core.DealDisputed)
	require.NoError(t, err)
	assert.Equal(t, core.DealDisputed, d.Status)

	_, err = f.svc.Transition(ctx, nonce, core.DealFunded)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	d, err = f.svc.Transition(ctx, nonce, core.DealRefunded)
	require.NoError(t, err)
	assert.Equal(t, core.DealRefunded, d.Status)

	_, err = f.svc.Transition(ctx, nonce, core.DealCompleted)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "refunded is terminal")

	_, err = f.svc.Transition(ctx, nonce, core.DealStatus("Paused"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = f.svc.Transition(ctx, "missing", core.DealCompleted)
	assert.ErrorIs(t, err, core.ErrDealNotFound)
}

func TestCreate_SequenceIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		res, err := f.svc.Create(ctx, f.request())
		require.NoError(t, err)
		assert.Greater(t, res.Deal.Seq, last)
		last = res.Deal.Seq
	}
}

func TestCreate_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	_, err := f.svc.Create(context.Background(), f.request())
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrAgentNotFound))
}
