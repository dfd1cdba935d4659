package rating

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/database"
	"github.com/maldo/backend/internal/metrics"
)

const (
	clientAddr = "0x1111111111111111111111111111111111111111"
	agentAddr  = "0x2222222222222222222222222222222222222222"
	strangerAd = "0x3333333333333333333333333333333333333333"
)

type recordingInvalidator struct {
	agents []string
	err    error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, agentID string) error {
	r.agents = append(r.agents, agentID)
	return r.err
}

type fixture struct {
	svc     *Service
	store   *database.Store
	inv     *recordingInvalidator
	metrics *metrics.Metrics
	agent   *core.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "maldo.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	agent := &core.Agent{ID: uuid.NewString(), Name: "worker", Capabilities: []string{"x"}, Wallet: agentAddr}
	require.NoError(t, store.CreateAgent(ctx, agent))

	inv := &recordingInvalidator{}
	m := metrics.NewNop()
	return &fixture{svc: NewService(store, inv, m, nil), store: store, inv: inv, metrics: m, agent: agent}
}

func (f *fixture) deal(t *testing.T, status core.DealStatus) *core.Deal {
	t.Helper()
	d := &core.Deal{Nonce: uuid.NewString(), Client: clientAddr, AgentID: f.agent.ID, Amount: 1_000_000, Status: status}
	require.NoError(t, f.store.CreateDeal(context.Background(), d))
	return d
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, core.DealCompleted)

	r, err := f.svc.Submit(ctx, SubmitRequest{AgentID: f.agent.ID, DealNonce: d.Nonce, Rater: clientAddr, Score: 5, Comment: " great "})
	require.NoError(t, err)
	assert.Equal(t, 5, r.Score)
	assert.Equal(t, "great", r.Comment)
	assert.Equal(t, []string{f.agent.ID}, f.inv.agents)

	// The server may rate the same deal once too.
	_, err = f.svc.Submit(ctx, SubmitRequest{AgentID: f.agent.ID, DealNonce: d.Nonce, Rater: agentAddr, Score: 4})
	require.NoError(t, err)

	scores, err := f.store.RatingScores(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{5, 4}, scores)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Ratings.WithLabelValues("ok")))
}

func TestSubmit_DuplicateIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, core.DealCompleted)

	_, err := f.svc.Submit(ctx, SubmitRequest{AgentID: f.agent.ID, DealNonce: d.Nonce, Rater: clientAddr, Score: 5})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, SubmitRequest{AgentID: f.agent.ID, DealNonce: d.Nonce, Rater: strings.ToUpper(clientAddr[2:]), Score: 1})
	assert.ErrorIs(t, err, core.ErrNotParticipant, "address without 0x prefix is not the client")

	_, err = f.svc.Submit(ctx, SubmitRequest{AgentID: f.agent.ID, DealNonce: d.Nonce, Rater: "0x" + strings.ToUpper(clientAddr[2:]), Score: 1})
	assert.ErrorIs(t, err, core.ErrDuplicateRating)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ratings.WithLabelValues("duplicate_rating")))
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t)
	completed := f.deal(t, core.DealCompleted)
	funded := f.deal(t, core.DealFunded)

	tests := []struct {
		name string
		req  SubmitRequest
		want *core.Error
	}{
		{"score too low", SubmitRequest{AgentID: f.agent.ID, DealNonce: completed.Nonce, Rater: clientAddr, Score: 0}, core.ErrInvalidScore},
		{"score too high", SubmitRequest{AgentID: f.agent.ID, DealNonce: completed.Nonce, Rater: clientAddr, Score: 6}, core.ErrInvalidScore},
		{"missing deal", SubmitRequest{AgentID: f.agent.ID, DealNonce: "nope", Rater: clientAddr, Score: 3}, core.ErrDealNotFound},
		{"deal not completed", SubmitRequest{AgentID: f.agent.ID, DealNonce: funded.Nonce, Rater: clientAddr, Score: 3}, core.ErrDealNotCompleted},
		{"wrong agent", SubmitRequest{AgentID: "other", DealNonce: completed.Nonce, Rater: clientAddr, Score: 3}, core.ErrInvalidInput},
		{"stranger", SubmitRequest{AgentID: f.agent.ID, DealNonce: completed.Nonce, Rater: strangerAd, Score: 3}, core.ErrNotParticipant},
		{"missing rater", SubmitRequest{AgentID: f.agent.ID, DealNonce: completed.Nonce, Score: 3}, core.ErrInvalidInput},
		{"comment too long", SubmitRequest{AgentID: f.agent.ID, DealNonce: completed.Nonce, Rater: clientAddr, Score: 3, Comment: strings.Repeat("x", 1001)}, core.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.inv.agents)
}

func TestSubmit_InvalidationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.inv.err = errors.New("redis down")
	d := f.deal(t, core.DealCompleted)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{AgentID: f.agent.ID, DealNonce: d.Nonce, Rater: clientAddr, Score: 4})
	require.NoError(t, err)
}
