package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maldo/backend/internal/core"
)

// ============================================================================
// DEALS
// ============================================================================

const dealColumns = `nonce, seq, client, agent_id, amount, status, task, created_at`

// seqRetries bounds retries when two writers pick the same next sequence.
const seqRetries = 3

// CreateDeal inserts a deal and assigns it the next sequence number.
func (s *Store) CreateDeal(ctx context.Context, d *core.Deal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertDeal(ctx, tx, d)
	})
}

// insertDeal runs inside tx. Every query goes through tx: on SQLite the pool
// has a single connection and a query on s.db would block forever.
func (s *Store) insertDeal(ctx context.Context, tx *sql.Tx, d *core.Deal) error {
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM deals`).Scan(&d.Seq); err != nil {
		return fmt.Errorf("next deal seq: %w", err)
	}
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO deals (`+dealColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		d.Nonce, d.Seq, d.Client, d.AgentID, d.Amount, string(d.Status), d.Task, stamp(&d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// GetDeal returns a deal by nonce.
func (s *Store) GetDeal(ctx context.Context, nonce string) (*core.Deal, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+dealColumns+` FROM deals WHERE nonce = ?`), nonce)
	d, err := scanDeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WithDetail(core.ErrDealNotFound, nonce)
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", nonce, err)
	}
	return d, nil
}

// ListDeals returns all deals in sequence order.
func (s *Store) ListDeals(ctx context.Context) ([]core.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dealColumns+` FROM deals ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	deals := []core.Deal{}
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

// SetDealStatus moves a deal from one status to another. It returns false
// when the deal is no longer in status from.
func (s *Store) SetDealStatus(ctx context.Context, nonce string, from, to core.DealStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE deals SET status = ? WHERE nonce = ? AND status = ?`),
		string(to), nonce, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update deal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update deal status: %w", err)
	}
	return n == 1, nil
}

func scanDeal(row rowScanner) (*core.Deal, error) {
	var (
		d       core.Deal
		status  string
		created int64
	)
	if err := row.Scan(&d.Nonce, &d.Seq, &d.Client, &d.AgentID, &d.Amount, &status, &d.Task, &created); err != nil {
		return nil, err
	}
	d.Status = core.DealStatus(status)
	d.CreatedAt = fromUnix(created)
	return &d, nil
}

// withTx runs fn in a transaction, retrying when the commit loses a race on
// a unique sequence.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < seqRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if !isUniqueViolation(err) {
			return err
		}
		s.logger.Warn("transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
