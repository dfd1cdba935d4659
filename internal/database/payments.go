package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maldo/backend/internal/core"
)

// ============================================================================
// X402 PAYMENTS - one row per accepted payment nonce
// ============================================================================

const paymentColumns = `nonce, payer, pay_to, amount, capability, agent_id, deal_nonce, approval_id, created_at`

// ClaimPayment records a payment nonce. The primary key is the replay guard:
// a nonce that was already claimed returns ErrPaymentReplayed.
func (s *Store) ClaimPayment(ctx context.Context, p *core.Payment) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO x402_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.Nonce, p.Payer, p.PayTo, p.Amount, p.Capability, p.AgentID, p.DealNonce, p.ApprovalID, stamp(&p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return core.WithDetail(core.ErrPaymentReplayed, p.Nonce)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// SettlePayment links a claimed payment to the deal or approval it produced.
func (s *Store) SettlePayment(ctx context.Context, nonce, dealNonce, approvalID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE x402_payments SET deal_nonce = ?, approval_id = ? WHERE nonce = ?`),
		dealNonce, approvalID, nonce,
	)
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", nonce, err)
	}
	return nil
}

// ReleasePayment forgets a claim whose deal could not be opened, so the
// payer can retry with the same authorization.
func (s *Store) ReleasePayment(ctx context.Context, nonce string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM x402_payments WHERE nonce = ? AND deal_nonce = '' AND approval_id = ''`), nonce)
	if err != nil {
		return fmt.Errorf("release payment %s: %w", nonce, err)
	}
	return nil
}

// GetPayment returns a claimed payment by nonce.
func (s *Store) GetPayment(ctx context.Context, nonce string) (*core.Payment, error) {
	var (
		p       core.Payment
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+paymentColumns+` FROM x402_payments WHERE nonce = ?`), nonce).
		Scan(&p.Nonce, &p.Payer, &p.PayTo, &p.Amount, &p.Capability, &p.AgentID, &p.DealNonce, &p.ApprovalID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WithDetail(core.ErrPaymentNotFound, nonce)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", nonce, err)
	}
	p.CreatedAt = fromUnix(created)
	return &p, nil
}
