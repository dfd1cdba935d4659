package database

import (
	"context"
	"fmt"

	"github.com/maldo/backend/internal/core"
)

// ============================================================================
// VOUCHES
// ============================================================================

// InsertVouch stores a vouch. The (voucher, vouchee) UNIQUE constraint is the
// only duplicate guard, so concurrent submissions cannot both succeed.
func (s *Store) InsertVouch(ctx context.Context, v *core.Vouch) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO vouches (id, voucher_agent_id, vouchee_agent_id, voucher_wallet, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		v.ID, v.VoucherAgentID, v.VoucheeAgentID, v.VoucherWallet, v.Weight, stamp(&v.CreatedAt),
	)
	if isUniqueViolation(err) {
		return core.ErrDuplicateVouch
	}
	if isCheckViolation(err) {
		return core.ErrSelfVouch
	}
	if err != nil {
		return fmt.Errorf("insert vouch: %w", err)
	}
	return nil
}

// DeleteVouch removes the vouch for the pair and reports whether one existed.
func (s *Store) DeleteVouch(ctx context.Context, voucherID, voucheeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM vouches WHERE voucher_agent_id = ? AND vouchee_agent_id = ?`),
		voucherID, voucheeID,
	)
	if err != nil {
		return false, fmt.Errorf("delete vouch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete vouch: %w", err)
	}
	return n > 0, nil
}

// VouchesFor returns the vouches received by an agent, heaviest first, with
// the voucher's display name joined in.
func (s *Store) VouchesFor(ctx context.Context, voucheeID string) ([]core.Vouch, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT v.id, v.voucher_agent_id, v.vouchee_agent_id, v.voucher_wallet,
		       COALESCE(a.name, ''), v.weight, v.created_at
		FROM vouches v
		LEFT JOIN agents a ON a.id = v.voucher_agent_id
		WHERE v.vouchee_agent_id = ?
		ORDER BY v.weight DESC, v.created_at, v.id`), voucheeID)
	if err != nil {
		return nil, fmt.Errorf("query vouches: %w", err)
	}
	defer rows.Close()

	vouches := []core.Vouch{}
	for rows.Next() {
		var (
			v       core.Vouch
			created int64
		)
		if err := rows.Scan(&v.ID, &v.VoucherAgentID, &v.VoucheeAgentID, &v.VoucherWallet, &v.VoucherName, &v.Weight, &created); err != nil {
			return nil, fmt.Errorf("scan vouch: %w", err)
		}
		v.CreatedAt = fromUnix(created)
		vouches = append(vouches, v)
	}
	return vouches, rows.Err()
}

// VouchWeightSum returns the uncapped sum of weights an agent has received.
func (s *Store) VouchWeightSum(ctx context.Context, voucheeID string) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(SUM(weight), 0) FROM vouches WHERE vouchee_agent_id = ?`), voucheeID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum vouch weights: %w", err)
	}
	return sum, nil
}
