package vouching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/reputation"
)

const (
	// WeightFactor converts a voucher's bayesian score into vouch weight.
	WeightFactor = 0.2

	// MaxWeight caps a single vouch.
	MaxWeight = 1.0

	// MaxBonus caps the total bonus an agent can collect from vouches.
	MaxBonus = 2.0
)

// AgentReader is the slice of the agent directory the ledger needs.
type AgentReader interface {
	GetAgent(ctx context.Context, id string) (*core.Agent, error)
}

// Store persists vouches. InsertVouch must map a duplicate pair to
// core.ErrDuplicateVouch atomically.
type Store interface {
	InsertVouch(ctx context.Context, v *core.Vouch) error
	DeleteVouch(ctx context.Context, voucherID, voucheeID string) (bool, error)
	VouchesFor(ctx context.Context, voucheeID string) ([]core.Vouch, error)
	VouchWeightSum(ctx context.Context, voucheeID string) (float64, error)
}

// SubmitRequest is one signed vouch.
type SubmitRequest struct {
	VoucherAgentID string `json:"voucherAgentId"`
	VoucheeAgentID string `json:"voucheeAgentId"`
	VoucherWallet  string `json:"voucherWallet"`
	Signature      string `json:"signature"`
}

// Received lists the vouches an agent holds and the bonus they add up to.
type Received struct {
	AgentID    string       `json:"agentId"`
	Vouches    []core.Vouch `json:"vouches"`
	TotalBonus float64      `json:"totalBonus"`
}

// Ledger accepts, withdraws and sums peer vouches.
type Ledger struct {
	agents     AgentReader
	store      Store
	reputation reputation.Source
	verifier   Verifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewLedger wires a ledger.
func NewLedger(agents AgentReader, store Store, rep reputation.Source, verifier Verifier, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		agents:     agents,
		store:      store,
		reputation: rep,
		verifier:   verifier,
		metrics:    m,
		logger:     logger.With("component", "vouch-ledger"),
	}
}

// Submit validates and records a vouch. Checks run in a fixed order so the
// caller always sees the most fundamental failure first.
func (l *Ledger) Submit(ctx context.Context, req SubmitRequest) (*core.Vouch, error) {
	v, err := l.submit(ctx, req)
	l.metrics.Vouches.WithLabelValues(resultLabel(err)).Inc()
	return v, err
}

func (l *Ledger) submit(ctx context.Context, req SubmitRequest) (*core.Vouch, error) {
	if req.VoucherAgentID == "" || req.VoucheeAgentID == "" {
		return nil, core.WithDetail(core.ErrInvalidInput, "voucher and vouchee are required")
	}
	if req.VoucherAgentID == req.VoucheeAgentID {
		return nil, core.ErrSelfVouch
	}

	voucher, err := l.agents.GetAgent(ctx, req.VoucherAgentID)
	if err != nil {
		return nil, prefixNotFound(err, "voucher agent "+req.VoucherAgentID)
	}
	if _, err := l.agents.GetAgent(ctx, req.VoucheeAgentID); err != nil {
		return nil, prefixNotFound(err, "vouchee agent "+req.VoucheeAgentID)
	}

	if !common.IsHexAddress(req.VoucherWallet) || !strings.EqualFold(voucher.Wallet, req.VoucherWallet) {
		return nil, core.ErrWalletMismatch
	}

	signer, err := l.verifier.Recover(req.VoucherAgentID, req.VoucheeAgentID, req.Signature)
	if err != nil {
		l.logger.Info("vouch signature rejected", "voucher", req.VoucherAgentID, "error", err)
		return nil, core.ErrInvalidSignature
	}
	if signer != common.HexToAddress(req.VoucherWallet) {
		return nil, core.ErrInvalidSignature
	}

	weight, err := l.weight(ctx, req.VoucherAgentID)
	if err != nil {
		return nil, err
	}

	vouch := &core.Vouch{
		ID:             uuid.NewString(),
		VoucherAgentID: req.VoucherAgentID,
		VoucheeAgentID: req.VoucheeAgentID,
		VoucherWallet:  voucher.Wallet,
		Weight:         weight,
	}
	if err := l.store.InsertVouch(ctx, vouch); err != nil {
		return nil, err
	}

	l.logger.Info("vouch recorded", "voucher", vouch.VoucherAgentID, "vouchee", vouch.VoucheeAgentID, "weight", vouch.Weight)
	vouch.Weight = reputation.Round2(vouch.Weight)
	return vouch, nil
}

// weight is min(bayesian * 0.2, 1.0) of the voucher. Without a reputation
// there is no weight to record, so the vouch is refused and nothing is stored.
func (l *Ledger) weight(ctx context.Context, voucherID string) (float64, error) {
	snap, err := l.reputation.Snapshot(ctx, voucherID)
	if err != nil {
		l.logger.Warn("voucher reputation unavailable, vouch refused", "voucher", voucherID, "error", err)
		l.metrics.ReputationDegraded.WithLabelValues("vouching").Inc()
		return 0, core.WithDetail(core.ErrReputationUnavailable, "voucher "+voucherID)
	}
	return Weight(snap.BayesianScore), nil
}

// Weight converts a bayesian score into a vouch weight in [0, 1].
func Weight(bayesian float64) float64 {
	return math.Max(0, math.Min(bayesian*WeightFactor, MaxWeight))
}

// Withdraw removes a vouch.
func (l *Ledger) Withdraw(ctx context.Context, voucherID, voucheeID string) error {
	deleted, err := l.store.DeleteVouch(ctx, voucherID, voucheeID)
	if err != nil {
		return err
	}
	if !deleted {
		return core.WithDetail(core.ErrVouchNotFound, voucherID+" -> "+voucheeID)
	}
	l.logger.Info("vouch withdrawn", "voucher", voucherID, "vouchee", voucheeID)
	return nil
}

// VouchesFor lists the vouches an agent received, heaviest first.
func (l *Ledger) VouchesFor(ctx context.Context, agentID string) (*Received, error) {
	vouches, err := l.store.VouchesFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for i := range vouches {
		sum += vouches[i].Weight
		vouches[i].Weight = reputation.Round2(vouches[i].Weight)
	}
	return &Received{
		AgentID:    agentID,
		Vouches:    vouches,
		TotalBonus: reputation.Round2(math.Min(sum, MaxBonus)),
	}, nil
}

// Bonus returns the capped sum of vouch weights an agent holds.
func (l *Ledger) Bonus(ctx context.Context, agentID string) (float64, error) {
	sum, err := l.store.VouchWeightSum(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("vouch bonus for %s: %w", agentID, err)
	}
	return math.Min(sum, MaxBonus), nil
}

func prefixNotFound(err error, what string) error {
	if core.KindOf(err) == core.KindNotFound {
		return core.WithDetail(core.ErrAgentNotFound, what)
	}
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(core.CodeOf(err))
}
