// Package agents is the directory of registered service providers.
package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/maldo/backend/internal/core"
)

// Store persists agents. CreateAgent maps a taken name to core.ErrAgentExists.
type Store interface {
	CreateAgent(ctx context.Context, a *core.Agent) error
	GetAgent(ctx context.Context, id string) (*core.Agent, error)
	ListAgents(ctx context.Context) ([]core.Agent, error)
	AgentsByCapability(ctx context.Context, tag string) ([]core.Agent, error)
}

// RegisterRequest describes a new agent.
type RegisterRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	BasePrice    int64    `json:"basePrice"`
	Endpoint     string   `json:"endpoint"`
	Wallet       string   `json:"wallet"`
	Provenance   string   `json:"provenance,omitempty"`
}

// Service registers and looks up agents.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates the agent directory.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger.With("component", "agents")}
}

// Register validates and stores a new agent. Capability tags are lowercased
// and deduplicated; the wallet is stored in checksum form.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*core.Agent, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, core.WithDetail(core.ErrInvalidInput, "name is required")
	}
	caps, err := normalizeCapabilities(req.Capabilities)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.Wallet) {
		return nil, core.WithDetail(core.ErrInvalidInput, "wallet must be a 0x hex address")
	}
	if req.BasePrice < 0 {
		return nil, core.WithDetail(core.ErrInvalidInput, "basePrice must not be negative")
	}

	a := &core.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		Capabilities: caps,
		BasePrice:    req.BasePrice,
		Endpoint:     strings.TrimSpace(req.Endpoint),
		Wallet:       common.HexToAddress(req.Wallet).Hex(),
		Provenance:   req.Provenance,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("agent registered", "agent_id", a.ID, "name", a.Name, "capabilities", a.Capabilities)
	return a, nil
}

// Get returns one agent.
func (s *Service) Get(ctx context.Context, id string) (*core.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// List returns every agent.
func (s *Service) List(ctx context.Context) ([]core.Agent, error) {
	return s.store.ListAgents(ctx)
}

// ByCapability returns the agents offering tag.
func (s *Service) ByCapability(ctx context.Context, tag string) ([]core.Agent, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if !core.ValidCapability(tag) {
		return nil, core.WithDetail(core.ErrInvalidInput, "invalid capability "+tag)
	}
	return s.store.AgentsByCapability(ctx, tag)
}

func normalizeCapabilities(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		if !core.ValidCapability(c) {
			return nil, core.WithDetail(core.ErrInvalidInput, "invalid capability "+c)
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, core.WithDetail(core.ErrInvalidInput, "at least one capability is required")
	}
	return out, nil
}
