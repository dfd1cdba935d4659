package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maldo/backend/internal/core"
)

// ============================================================================
// PENDING APPROVALS - deal requests held for a human decision
// ============================================================================

const approvalColumns = `id, principal, agent_id, client, amount, task, failed_checks, reasons, status, deal_nonce, created_at`

// CreateApproval stores a pending approval.
func (s *Store) CreateApproval(ctx context.Context, p *core.PendingApproval) error {
	checks, err := json.Marshal(nonNil(p.FailedChecks))
	if err != nil {
		return fmt.Errorf("encode failed checks: %w", err)
	}
	reasons, err := json.Marshal(nonNil(p.Reasons))
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO pending_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Principal, p.AgentID, p.Client, p.Amount, p.Task,
		string(checks), string(reasons), string(p.Status), p.DealNonce, stamp(&p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// GetApproval returns one approval by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*core.PendingApproval, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+approvalColumns+` FROM pending_approvals WHERE id = ?`), id)
	p, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WithDetail(core.ErrApprovalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return p, nil
}

// PendingApprovals returns the unresolved approvals of a principal, oldest first.
func (s *Store) PendingApprovals(ctx context.Context, principal string) ([]core.PendingApproval, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+approvalColumns+` FROM pending_approvals
		WHERE principal = ? AND status = ?
		ORDER BY created_at, id`), principal, string(core.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	out := []core.PendingApproval{}
	for rows.Next() {
		p, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ApproveWithDeal resolves a pending approval and creates its deal in one
// transaction. d.Seq is assigned on success.
func (s *Store) ApproveWithDeal(ctx context.Context, id string, d *core.Deal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.resolve(ctx, tx, id, core.ApprovalApproved, d.Nonce); err != nil {
			return err
		}
		return s.insertDeal(ctx, tx, d)
	})
}

// RejectApproval marks a pending approval as rejected.
func (s *Store) RejectApproval(ctx context.Context, id string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		return s.resolve(ctx, tx, id, core.ApprovalRejected, "")
	})
}

// resolve moves an approval out of Pending. It distinguishes a missing id
// from one that was already resolved.
func (s *Store) resolve(ctx context.Context, tx *sql.Tx, id string, status core.ApprovalStatus, dealNonce string) error {
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE pending_approvals SET status = ?, deal_nonce = ?
		WHERE id = ? AND status = ?`),
		string(status), dealNonce, id, string(core.ApprovalPending),
	)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM pending_approvals WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.WithDetail(core.ErrApprovalNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read approval status: %w", err)
	}
	return core.WithDetail(core.ErrApprovalResolved, current)
}

func scanApproval(row rowScanner) (*core.PendingApproval, error) {
	var (
		p               core.PendingApproval
		checks, reasons string
		status          string
		created         int64
	)
	if err := row.Scan(&p.ID, &p.Principal, &p.AgentID, &p.Client, &p.Amount, &p.Task,
		&checks, &reasons, &status, &p.DealNonce, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(checks), &p.FailedChecks); err != nil {
		return nil, fmt.Errorf("decode failed checks: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &p.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	p.Status = core.ApprovalStatus(status)
	p.CreatedAt = fromUnix(created)
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
