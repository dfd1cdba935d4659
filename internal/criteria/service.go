package criteria

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/database"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/reputation"
)

// Store persists one config per principal. GetCriteria returns
// database.ErrNoCriteria for principals that never saved one.
type Store interface {
	GetCriteria(ctx context.Context, principal string) (*core.CriteriaConfig, error)
	UpsertCriteria(ctx context.Context, c *core.CriteriaConfig) error
}

// Overrides carries the fields of a partial update. Nil fields keep their
// current value.
type Overrides struct {
	MinReputation        *int64 `json:"minReputation,omitempty"`
	MinReviewCount       *int64 `json:"minReviewCount,omitempty"`
	MaxPrice             *int64 `json:"maxPriceUSDC,omitempty"`
	RequireHumanApproval *bool  `json:"requireHumanApproval,omitempty"`
}

// Service manages principal criteria and evaluates deal requests against them.
type Service struct {
	store      Store
	reputation reputation.Source
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService wires the criteria service.
func NewService(store Store, rep reputation.Source, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		reputation: rep,
		metrics:    m,
		logger:     logger.With("component", "criteria"),
	}
}

// Get returns the principal's config, or the Conservative default. Every
// other method reads through Get, so the principal address is normalized
// here once.
func (s *Service) Get(ctx context.Context, principal string) (core.CriteriaConfig, error) {
	principal, err := core.NormalizeAddress("principal", principal)
	if err != nil {
		return core.CriteriaConfig{}, err
	}
	cfg, err := s.store.GetCriteria(ctx, principal)
	if errors.Is(err, database.ErrNoCriteria) {
		return Default(principal), nil
	}
	if err != nil {
		return core.CriteriaConfig{}, err
	}
	return *cfg, nil
}

// ApplyPreset overwrites the preset name and its three thresholds. The
// human-approval flag is left as it was.
func (s *Service) ApplyPreset(ctx context.Context, principal, name string) (core.CriteriaConfig, error) {
	t, ok := Preset(name)
	if !ok {
		return core.CriteriaConfig{}, core.WithDetail(core.ErrUnknownPreset,
			fmt.Sprintf("%q (expected one of %s)", name, strings.Join(PresetNames(), ", ")))
	}
	cfg, err := s.Get(ctx, principal)
	if err != nil {
		return core.CriteriaConfig{}, err
	}

	cfg.Preset = name
	cfg.MinReputation = t.MinReputation
	cfg.MinReviewCount = t.MinReviewCount
	cfg.MaxPrice = t.MaxPrice

	if err := s.store.UpsertCriteria(ctx, &cfg); err != nil {
		return core.CriteriaConfig{}, err
	}
	s.logger.Info("criteria preset applied", "principal", cfg.Principal, "preset", name)
	return cfg, nil
}

// Update merges the supplied fields over the current config and marks it
// Custom.
func (s *Service) Update(ctx context.Context, principal string, o Overrides) (core.CriteriaConfig, error) {
	if err := o.validate(); err != nil {
		return core.CriteriaConfig{}, err
	}
	cfg, err := s.Get(ctx, principal)
	if err != nil {
		return core.CriteriaConfig{}, err
	}

	cfg.Preset = PresetCustom
	if o.MinReputation != nil {
		cfg.MinReputation = *o.MinReputation
	}
	if o.MinReviewCount != nil {
		cfg.MinReviewCount = *o.MinReviewCount
	}
	if o.MaxPrice != nil {
		cfg.MaxPrice = *o.MaxPrice
	}
	if o.RequireHumanApproval != nil {
		cfg.RequireHumanApproval = *o.RequireHumanApproval
	}

	if err := s.store.UpsertCriteria(ctx, &cfg); err != nil {
		return core.CriteriaConfig{}, err
	}
	s.logger.Info("criteria updated", "principal", cfg.Principal)
	return cfg, nil
}

// SetHumanApproval toggles the human override without touching the preset
// or thresholds.
func (s *Service) SetHumanApproval(ctx context.Context, principal string, required bool) (core.CriteriaConfig, error) {
	cfg, err := s.Get(ctx, principal)
	if err != nil {
		return core.CriteriaConfig{}, err
	}
	cfg.RequireHumanApproval = required
	if err := s.store.UpsertCriteria(ctx, &cfg); err != nil {
		return core.CriteriaConfig{}, err
	}
	s.logger.Info("human approval toggled", "principal", cfg.Principal, "required", required)
	return cfg, nil
}

func (o Overrides) validate() error {
	if o.MinReputation != nil && (*o.MinReputation < 0 || *o.MinReputation > 500) {
		return core.WithDetail(core.ErrInvalidInput, "minReputation must be between 0 and 500")
	}
	if o.MinReviewCount != nil && *o.MinReviewCount < 0 {
		return core.WithDetail(core.ErrInvalidInput, "minReviewCount must not be negative")
	}
	if o.MaxPrice != nil && *o.MaxPrice < 0 {
		return core.WithDetail(core.ErrInvalidInput, "maxPriceUSDC must not be negative")
	}
	return nil
}

// Evaluate decides whether a deal can proceed without a human. A reputation
// lookup failure is treated as zero reputation, never as an error.
func (s *Service) Evaluate(ctx context.Context, principal, agentID string, price int64) (Decision, error) {
	if agentID == "" {
		return Decision{}, core.WithDetail(core.ErrInvalidInput, "agentId is required")
	}
	if price < 0 {
		return Decision{}, core.WithDetail(core.ErrInvalidInput, "price must not be negative")
	}

	cfg, err := s.Get(ctx, principal)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	if cfg.RequireHumanApproval {
		d = HumanOverride()
	} else {
		d = Evaluate(cfg, s.snapshot(ctx, agentID), price)
	}

	s.record(d)
	return d, nil
}

func (s *Service) snapshot(ctx context.Context, agentID string) reputation.Snapshot {
	snap, err := s.reputation.Snapshot(ctx, agentID)
	if err != nil {
		s.logger.Warn("reputation unavailable, evaluating as zero", "agent_id", agentID, "error", err)
		s.metrics.ReputationDegraded.WithLabelValues("criteria").Inc()
		return reputation.Snapshot{}
	}
	return snap
}

func (s *Service) record(d Decision) {
	result := "auto_approve"
	if !d.AutoApprove {
		result = "human_required"
	}
	s.metrics.Evaluations.WithLabelValues(result).Inc()
	for _, check := range d.FailedChecks {
		s.metrics.FailedChecks.WithLabelValues(check).Inc()
	}
}
