// Package x402 sells agent capabilities over plain HTTP: a request without
// payment gets a 402 quote, a request carrying a signed authorization for
// that quote opens a deal through the criteria gate.
package x402

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/deals"
	"github.com/maldo/backend/internal/discovery"
	"github.com/maldo/backend/internal/metrics"
)

// Version is the x402 protocol version reported in 402 bodies.
const Version = 1

const maxNonceLength = 128

// Ranker picks the provider for a capability.
type Ranker interface {
	Discover(ctx context.Context, q discovery.Query) ([]discovery.Result, error)
}

// Agents resolves a provider pinned by the client.
type Agents interface {
	GetAgent(ctx context.Context, id string) (*core.Agent, error)
}

// Deals opens and reads deals.
type Deals interface {
	Create(ctx context.Context, req deals.CreateRequest) (*deals.CreateResult, error)
	Status(ctx context.Context, nonce string) (*core.Deal, error)
}

// PaymentStore keeps the single-use payment nonces.
type PaymentStore interface {
	ClaimPayment(ctx context.Context, p *core.Payment) error
	SettlePayment(ctx context.Context, nonce, dealNonce, approvalID string) error
	ReleasePayment(ctx context.Context, nonce string) error
}

// Requirements describe the payment that unlocks a capability.
type Requirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Amount            string `json:"amount"`
	Asset             string `json:"asset,omitempty"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource"`
	AgentID           string `json:"agentId"`
	Capability        string `json:"capability"`
}

// Options name the settlement network and token.
type Options struct {
	Network string
	Asset   string
}

// PayRequest is a paid call for a capability.
type PayRequest struct {
	Capability string
	AgentID    string // optional; the top ranked provider otherwise
	Task       string
	Client     string // optional; must match the signer when set
	Principal  string // optional; defaults to the payer
	MaxPrice   *int64
	Payment    Authorization
}

// PayResult is either a funded deal or a request held for a human.
type PayResult struct {
	Nonce                 string     `json:"nonce,omitempty"`
	DealID                int64      `json:"dealId,omitempty"`
	Deal                  *core.Deal `json:"deal,omitempty"`
	RequiresHumanApproval bool       `json:"requiresHumanApproval"`
	PendingApprovalID     string     `json:"pendingApprovalId,omitempty"`
	FailedChecks          []string   `json:"failedChecks,omitempty"`
	PaymentNonce          string     `json:"paymentNonce"`
	Payer                 string     `json:"payer"`
}

// Result is the delivery view of a deal opened through x402.
type Result struct {
	Nonce  string     `json:"nonce"`
	Status string     `json:"status"` // pending, delivered, disputed, refunded
	Deal   *core.Deal `json:"deal"`
}

// Service quotes capabilities and accepts payments for them.
type Service struct {
	ranker   Ranker
	agents   Agents
	deals    Deals
	payments PaymentStore
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService wires the x402 path.
func NewService(ranker Ranker, agents Agents, dealSvc Deals, payments PaymentStore, opts Options, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Network == "" {
		opts.Network = "base-sepolia"
	}
	return &Service{
		ranker:   ranker,
		agents:   agents,
		deals:    dealSvc,
		payments: payments,
		opts:     opts,
		metrics:  m,
		logger:   logger.With("component", "x402"),
	}
}

// Quote returns the payment requirements for a capability. A pinned agent
// must offer the capability; otherwise the best ranked provider is quoted.
func (s *Service) Quote(ctx context.Context, capability, agentID string) (*Requirements, error) {
	tag := strings.ToLower(strings.TrimSpace(capability))
	if !core.ValidCapability(tag) {
		return nil, core.WithDetail(core.ErrInvalidInput, "invalid capability "+capability)
	}

	if agentID = strings.TrimSpace(agentID); agentID != "" {
		a, err := s.agents.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if !offers(a, tag) {
			return nil, core.WithDetail(core.ErrNoProvider, "agent "+agentID+" does not offer "+tag)
		}
		return s.requirements(tag, a.ID, a.Wallet, a.BasePrice), nil
	}

	ranked, err := s.ranker.Discover(ctx, discovery.Query{Capability: tag, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, core.WithDetail(core.ErrNoProvider, tag)
	}
	top := ranked[0]
	return s.requirements(tag, top.AgentID, top.Wallet, top.BasePrice), nil
}

// Pay checks the authorization against a fresh quote, claims its nonce and
// opens the deal. The nonce stays claimed once a deal or approval exists.
func (s *Service) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	res, err := s.pay(ctx, req)
	if err != nil {
		s.metrics.Payments.WithLabelValues(strings.ToLower(core.CodeOf(err))).Inc()
		return nil, err
	}
	s.metrics.Payments.WithLabelValues("accepted").Inc()
	return res, nil
}

func (s *Service) pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	auth := req.Payment
	nonce := strings.TrimSpace(auth.Nonce)
	if nonce == "" || len(nonce) > maxNonceLength {
		return nil, core.WithDetail(core.ErrInvalidInput, "payment nonce is required and at most 128 characters")
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, core.WithDetail(core.ErrInvalidInput, "taskDescription is required")
	}

	quote, err := s.Quote(ctx, req.Capability, req.AgentID)
	if err != nil {
		return nil, err
	}
	price, _ := strconv.ParseInt(quote.Amount, 10, 64)

	amount, err := strconv.ParseInt(strings.TrimSpace(auth.Amount), 10, 64)
	if err != nil || amount != price {
		return nil, core.WithDetail(core.ErrPaymentInvalid, "amount must be "+quote.Amount)
	}
	if !strings.EqualFold(strings.TrimSpace(auth.PayTo), quote.PayTo) {
		return nil, core.WithDetail(core.ErrPaymentInvalid, "payTo must be "+quote.PayTo)
	}
	if req.MaxPrice != nil && *req.MaxPrice < price {
		return nil, core.WithDetail(core.ErrPriceExceedsMax, "quote "+quote.Amount+" above max "+strconv.FormatInt(*req.MaxPrice, 10))
	}

	signer, err := auth.Signer()
	if err != nil {
		return nil, core.WithDetail(core.ErrInvalidSignature, err.Error())
	}
	payer := strings.ToLower(signer.Hex())
	if strings.TrimSpace(req.Client) != "" {
		client, err := core.NormalizeAddress("clientAddress", req.Client)
		if err != nil {
			return nil, err
		}
		if client != payer {
			return nil, core.WithDetail(core.ErrInvalidSignature, "payment not signed by clientAddress")
		}
	}

	if err := s.payments.ClaimPayment(ctx, &core.Payment{
		Nonce:      nonce,
		Payer:      payer,
		PayTo:      quote.PayTo,
		Amount:     price,
		Capability: quote.Capability,
		AgentID:    quote.AgentID,
	}); err != nil {
		return nil, err
	}

	created, err := s.deals.Create(ctx, deals.CreateRequest{
		AgentID:   quote.AgentID,
		Client:    payer,
		Price:     price,
		Task:      req.Task,
		Principal: req.Principal,
	})
	if err != nil {
		if rerr := s.payments.ReleasePayment(ctx, nonce); rerr != nil {
			s.logger.Error("failed to release payment nonce", "nonce", nonce, "error", rerr)
		}
		return nil, err
	}

	out := &PayResult{PaymentNonce: nonce, Payer: payer}
	if created.RequiresHumanApproval {
		out.RequiresHumanApproval = true
		out.PendingApprovalID = created.PendingApprovalID
		out.FailedChecks = created.Decision.FailedChecks
	} else {
		out.Deal = created.Deal
		out.Nonce = created.Deal.Nonce
		out.DealID = created.Deal.Seq
	}
	if err := s.payments.SettlePayment(ctx, nonce, out.Nonce, out.PendingApprovalID); err != nil {
		s.logger.Warn("failed to link payment to deal", "nonce", nonce, "error", err)
	}

	s.logger.Info("x402 payment accepted",
		"payment_nonce", nonce,
		"payer", payer,
		"agent_id", quote.AgentID,
		"amount", price,
		"held", out.RequiresHumanApproval,
	)
	return out, nil
}

// Result reports where a paid deal stands.
func (s *Service) Result(ctx context.Context, dealNonce string) (*Result, error) {
	d, err := s.deals.Status(ctx, dealNonce)
	if err != nil {
		return nil, err
	}
	return &Result{Nonce: d.Nonce, Status: deliveryStatus(d.Status), Deal: d}, nil
}

func deliveryStatus(s core.DealStatus) string {
	switch s {
	case core.DealCompleted:
		return "delivered"
	case core.DealDisputed:
		return "disputed"
	case core.DealRefunded:
		return "refunded"
	default:
		return "pending"
	}
}

func (s *Service) requirements(capability, agentID, wallet string, price int64) *Requirements {
	amount := strconv.FormatInt(price, 10)
	return &Requirements{
		Scheme:            "exact",
		Network:           s.opts.Network,
		MaxAmountRequired: amount,
		Amount:            amount,
		Asset:             s.opts.Asset,
		PayTo:             wallet,
		Resource:          "/x402/services/" + capability,
		AgentID:           agentID,
		Capability:        capability,
	}
}

func offers(a *core.Agent, tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
