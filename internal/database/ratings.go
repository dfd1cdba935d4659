package database

import (
	"context"
	"fmt"

	"github.com/maldo/backend/internal/core"
)

// ============================================================================
// RATINGS - the ledger the reputation aggregator reads
// ============================================================================

// InsertRating stores one rating. A second rating for the same deal by the
// same rater maps to core.ErrDuplicateRating.
func (s *Store) InsertRating(ctx context.Context, r *core.Rating) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ratings (id, deal_nonce, rater, agent_id, score, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.DealNonce, r.Rater, r.AgentID, r.Score, r.Comment, stamp(&r.CreatedAt),
	)
	if isUniqueViolation(err) {
		return core.ErrDuplicateRating
	}
	if isCheckViolation(err) {
		return core.ErrInvalidScore
	}
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// RatingScores returns every score the agent has received.
func (s *Store) RatingScores(ctx context.Context, agentID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT score FROM ratings WHERE agent_id = ?`), agentID)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	scores := []int{}
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// RatingsForAgent returns the agent's ratings, newest first.
func (s *Store) RatingsForAgent(ctx context.Context, agentID string) ([]core.Rating, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, deal_nonce, rater, agent_id, score, comment, created_at
		FROM ratings WHERE agent_id = ?
		ORDER BY created_at DESC, id`), agentID)
	if err != nil {
		return nil, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	ratings := []core.Rating{}
	for rows.Next() {
		var (
			r       core.Rating
			created int64
		)
		if err := rows.Scan(&r.ID, &r.DealNonce, &r.Rater, &r.AgentID, &r.Score, &r.Comment, &created); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		r.CreatedAt = fromUnix(created)
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}
