// Package rating accepts participant feedback on completed deals.
package rating

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/reputation"
)

const maxCommentLength = 1000

// Store is the slice of persistence rating submission needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (*core.Agent, error)
	GetDeal(ctx context.Context, nonce string) (*core.Deal, error)
	InsertRating(ctx context.Context, r *core.Rating) error
}

// SubmitRequest is one rating.
type SubmitRequest struct {
	AgentID   string `json:"agentId"`
	DealNonce string `json:"dealNonce"`
	Rater     string `json:"raterAddress"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
}

// Service validates and records ratings.
type Service struct {
	store       Store
	invalidator reputation.Invalidator
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewService wires rating submission. inv is told about every accepted
// rating so cached reputation does not go stale.
func NewService(store Store, inv reputation.Invalidator, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, invalidator: inv, metrics: m, logger: logger.With("component", "rating")}
}

// Submit records a rating for a completed deal by one of its participants.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*core.Rating, error) {
	r, err := s.submit(ctx, req)
	label := "ok"
	if err != nil {
		label = strings.ToLower(core.CodeOf(err))
	}
	s.metrics.Ratings.WithLabelValues(label).Inc()
	return r, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (*core.Rating, error) {
	if req.Score < 1 || req.Score > 5 {
		return nil, core.ErrInvalidScore
	}
	if req.AgentID == "" || req.DealNonce == "" || req.Rater == "" {
		return nil, core.WithDetail(core.ErrInvalidInput, "agentId, dealNonce and raterAddress are required")
	}
	if len(req.Comment) > maxCommentLength {
		return nil, core.WithDetail(core.ErrInvalidInput, "comment too long")
	}

	deal, err := s.store.GetDeal(ctx, req.DealNonce)
	if err != nil {
		return nil, err
	}
	if deal.Status != core.DealCompleted {
		return nil, core.WithDetail(core.ErrDealNotCompleted, string(deal.Status))
	}
	if deal.AgentID != req.AgentID {
		return nil, core.WithDetail(core.ErrInvalidInput, "deal was not served by this agent")
	}

	agent, err := s.store.GetAgent(ctx, deal.AgentID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(req.Rater, deal.Client) && !strings.EqualFold(req.Rater, agent.Wallet) {
		return nil, core.ErrNotParticipant
	}

	r := &core.Rating{
		ID:        uuid.NewString(),
		DealNonce: deal.Nonce,
		Rater:     strings.ToLower(req.Rater),
		AgentID:   deal.AgentID,
		Score:     req.Score,
		Comment:   strings.TrimSpace(req.Comment),
	}
	if err := s.store.InsertRating(ctx, r); err != nil {
		return nil, err
	}

	if err := s.invalidator.Invalidate(ctx, r.AgentID); err != nil {
		s.logger.Warn("failed to invalidate cached reputation", "agent_id", r.AgentID, "error", err)
	}
	s.logger.Info("rating recorded", "agent_id", r.AgentID, "deal", r.DealNonce, "score", r.Score)
	return r, nil
}
