package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/maldo/backend/internal/core"
)

// ============================================================================
// AGENTS
// ============================================================================

const agentColumns = `id, name, description, capabilities, base_price, endpoint, wallet, provenance, created_at`

// CreateAgent inserts a new agent. A taken name maps to core.ErrAgentExists.
func (s *Store) CreateAgent(ctx context.Context, a *core.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.Description, string(caps), a.BasePrice, a.Endpoint, a.Wallet, a.Provenance, stamp(&a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return core.WithDetail(core.ErrAgentExists, a.Name)
	}
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent returns one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WithDetail(core.ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// ListAgents returns every agent in registration order.
func (s *Store) ListAgents(ctx context.Context) ([]core.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at, name`)
}

// AgentsByCapability returns the agents whose serialized tag set contains
// tag, in registration order. The quoted substring match is exact per tag;
// LIKE wildcards in tag are matched literally.
func (s *Store) AgentsByCapability(ctx context.Context, tag string) ([]core.Agent, error) {
	pattern := `%"` + likeEscaper.Replace(tag) + `"%`
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE capabilities LIKE ? ESCAPE '\' ORDER BY created_at, name`, pattern)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) queryAgents(ctx context.Context, query string, args ...any) ([]core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	agents := []core.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (*core.Agent, error) {
	var (
		a       core.Agent
		caps    string
		created int64
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &caps, &a.BasePrice, &a.Endpoint, &a.Wallet, &a.Provenance, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities of %s: %w", a.ID, err)
	}
	a.CreatedAt = fromUnix(created)
	return &a, nil
}
