// Package deals gates deal creation on the principal's criteria and keeps
// the requests a human has to decide.
package deals

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/criteria"
	"github.com/maldo/backend/internal/metrics"
)

// Store persists deals and pending approvals.
type Store interface {
	GetAgent(ctx context.Context, id string) (*core.Agent, error)
	CreateDeal(ctx context.Context, d *core.Deal) error
	GetDeal(ctx context.Context, nonce string) (*core.Deal, error)
	ListDeals(ctx context.Context) ([]core.Deal, error)
	SetDealStatus(ctx context.Context, nonce string, from, to core.DealStatus) (bool, error)
	CreateApproval(ctx context.Context, p *core.PendingApproval) error
	GetApproval(ctx context.Context, id string) (*core.PendingApproval, error)
	PendingApprovals(ctx context.Context, principal string) ([]core.PendingApproval, error)
	ApproveWithDeal(ctx context.Context, id string, d *core.Deal) error
	RejectApproval(ctx context.Context, id string) error
}

// Evaluator decides whether a deal may proceed without a human.
type Evaluator interface {
	Evaluate(ctx context.Context, principal, agentID string, price int64) (criteria.Decision, error)
}

// CreateRequest asks for a new deal. Principal defaults to the client.
type CreateRequest struct {
	AgentID   string `json:"agentId"`
	Client    string `json:"clientAddress"`
	Price     int64  `json:"priceUSDC"`
	Task      string `json:"taskDescription"`
	Principal string `json:"principal,omitempty"`
}

// CreateResult is either a funded deal or a pending approval.
type CreateResult struct {
	Deal                  *core.Deal        `json:"deal,omitempty"`
	RequiresHumanApproval bool              `json:"requiresHumanApproval"`
	PendingApprovalID     string            `json:"pendingApprovalId,omitempty"`
	Decision              criteria.Decision `json:"decision"`
}

// Service creates deals through the criteria gate.
type Service struct {
	store     Store
	evaluator Evaluator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService wires the deal gate.
func NewService(store Store, evaluator Evaluator, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, evaluator: evaluator, metrics: m, logger: logger.With("component", "deals")}
}

// Create evaluates the request and either records a Funded deal or parks
// the request as a pending approval.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	client, err := core.NormalizeAddress("clientAddress", req.Client)
	if err != nil {
		return nil, err
	}
	principal := client
	if strings.TrimSpace(req.Principal) != "" {
		if principal, err = core.NormalizeAddress("principal", req.Principal); err != nil {
			return nil, err
		}
	}
	req.Client = client
	if _, err := s.store.GetAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}

	decision, err := s.evaluator.Evaluate(ctx, principal, req.AgentID, req.Price)
	if err != nil {
		return nil, err
	}

	if decision.AutoApprove {
		d := s.newDeal(req.AgentID, req.Client, req.Price, req.Task)
		if err := s.store.CreateDeal(ctx, d); err != nil {
			return nil, err
		}
		s.metrics.Deals.WithLabelValues("funded").Inc()
		s.logger.Info("deal auto-approved", "nonce", d.Nonce, "agent_id", d.AgentID, "amount", d.Amount)
		return &CreateResult{Deal: d, Decision: decision}, nil
	}

	p := &core.PendingApproval{
		ID:           uuid.NewString(),
		Principal:    principal,
		AgentID:      req.AgentID,
		Client:       req.Client,
		Amount:       req.Price,
		Task:         req.Task,
		FailedChecks: decision.FailedChecks,
		Reasons:      decision.Reasons,
		Status:       core.ApprovalPending,
	}
	if err := s.store.CreateApproval(ctx, p); err != nil {
		return nil, err
	}
	s.metrics.Deals.WithLabelValues("pending").Inc()
	s.logger.Info("deal held for human approval", "approval_id", p.ID, "principal", principal, "failed_checks", p.FailedChecks)
	return &CreateResult{RequiresHumanApproval: true, PendingApprovalID: p.ID, Decision: decision}, nil
}

// Approve turns a pending approval into a Funded deal.
func (s *Service) Approve(ctx context.Context, id string) (*core.Deal, error) {
	p, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	d := s.newDeal(p.AgentID, p.Client, p.Amount, p.Task)
	if err := s.store.ApproveWithDeal(ctx, id, d); err != nil {
		return nil, err
	}
	s.metrics.Deals.WithLabelValues("approved").Inc()
	s.logger.Info("pending deal approved", "approval_id", id, "nonce", d.Nonce)
	return d, nil
}

// Reject closes a pending approval without creating a deal.
func (s *Service) Reject(ctx context.Context, id string) error {
	if err := s.store.RejectApproval(ctx, id); err != nil {
		return err
	}
	s.metrics.Deals.WithLabelValues("rejected").Inc()
	s.logger.Info("pending deal rejected", "approval_id", id)
	return nil
}

// Pending lists a principal's unresolved approvals.
func (s *Service) Pending(ctx context.Context, principal string) ([]core.PendingApproval, error) {
	principal, err := core.NormalizeAddress("principal", principal)
	if err != nil {
		return nil, err
	}
	return s.store.PendingApprovals(ctx, principal)
}

// Status returns one deal.
func (s *Service) Status(ctx context.Context, nonce string) (*core.Deal, error) {
	return s.store.GetDeal(ctx, nonce)
}

// List returns all deals.
func (s *Service) List(ctx context.Context) ([]core.Deal, error) {
	return s.store.ListDeals(ctx)
}

// Transition applies a status change reported by the settlement layer.
// Only the forward moves of the deal lifecycle are accepted.
func (s *Service) Transition(ctx context.Context, nonce string, next core.DealStatus) (*core.Deal, error) {
	if !next.Valid() {
		return nil, core.WithDetail(core.ErrInvalidInput, "unknown status "+string(next))
	}
	d, err := s.store.GetDeal(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if !d.Status.CanTransition(next) {
		return nil, core.WithDetail(core.ErrInvalidTransition, string(d.Status)+" -> "+string(next))
	}

	ok, err := s.store.SetDealStatus(ctx, nonce, d.Status, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else moved the deal between our read and write.
		return nil, core.WithDetail(core.ErrInvalidTransition, "deal status changed concurrently")
	}

	s.logger.Info("deal status changed", "nonce", nonce, "from", d.Status, "to", next)
	d.Status = next
	return d, nil
}

func (s *Service) newDeal(agentID, client string, amount int64, task string) *core.Deal {
	return &core.Deal{
		Nonce:   uuid.NewString(),
		Client:  client,
		AgentID: agentID,
		Amount:  amount,
		Status:  core.DealFunded,
		Task:    task,
	}
}

func (r CreateRequest) validate() error {
	if r.AgentID == "" {
		return core.WithDetail(core.ErrInvalidInput, "agentId is required")
	}
	if r.Price <= 0 {
		return core.WithDetail(core.ErrInvalidInput, "priceUSDC must be positive")
	}
	if strings.TrimSpace(r.Task) == "" {
		return core.WithDetail(core.ErrInvalidInput, "taskDescription is required")
	}
	return nil
}
