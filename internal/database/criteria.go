package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maldo/backend/internal/core"
)

// GetCriteria returns the stored config of a principal, or ErrNoCriteria.
func (s *Store) GetCriteria(ctx context.Context, principal string) (*core.CriteriaConfig, error) {
	var (
		c     core.CriteriaConfig
		human int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT principal, preset, min_reputation, min_review_count, max_price, require_human_approval
		FROM criteria WHERE principal = ?`), principal,
	).Scan(&c.Principal, &c.Preset, &c.MinReputation, &c.MinReviewCount, &c.MaxPrice, &human)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCriteria
	}
	if err != nil {
		return nil, fmt.Errorf("get criteria: %w", err)
	}
	c.RequireHumanApproval = human != 0
	return &c, nil
}

// UpsertCriteria writes the whole config in one statement.
func (s *Store) UpsertCriteria(ctx context.Context, c *core.CriteriaConfig) error {
	human := 0
	if c.RequireHumanApproval {
		human = 1
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO criteria (principal, preset, min_reputation, min_review_count, max_price, require_human_approval)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (principal) DO UPDATE SET
			preset = excluded.preset,
			min_reputation = excluded.min_reputation,
			min_review_count = excluded.min_review_count,
			max_price = excluded.max_price,
			require_human_approval = excluded.require_human_approval`),
		c.Principal, c.Preset, c.MinReputation, c.MinReviewCount, c.MaxPrice, human,
	)
	if err != nil {
		return fmt.Errorf("upsert criteria: %w", err)
	}
	return nil
}
