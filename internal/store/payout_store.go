package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payouts/internal/models"
)

type PayoutStore struct {
	db DB
}

func NewPayoutStore(db DB) *PayoutStore {
	return &PayoutStore{db: db}
}

type PayoutInput struct {
	ID        string
	WalletID  string
	Amount    int64
	Currency  string
	RetryOfID *string
}

func (s *PayoutStore) Create(ctx context.Context, input PayoutInput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payouts (id, wallet_id, amount, currency, status, retry_of_id)
		VALUES ($1, $2, $3, $4, 'pending', $5)
	`, input.ID, input.WalletID, input.Amount, input.Currency, input.RetryOfID)
	return err
}

func (s *PayoutStore) MarkProcessing(ctx context.Context, payoutID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'processing' WHERE id = $1
	`, payoutID)
	return err
}

func (s *PayoutStore) MarkCompleted(ctx context.Context, tx Execer, payoutID, providerPayoutID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'completed', provider_payout_id = $1, completed_at = NOW()
		WHERE id = $2
	`, providerPayoutID, payoutID)
	return err
}

func (s *PayoutStore) MarkFailed(ctx context.Context, payoutID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'failed', failure_reason = $1, completed_at = NOW()
		WHERE id = $2
	`, reason, payoutID)
	return err
}

func (s *PayoutStore) MarkSuperseded(ctx context.Context, tx Execer, payoutID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payouts SET status = 'superseded' WHERE id = $1
	`, payoutID)
	return err
}

// FindRecentEquivalent looks up the newest payout matching (wallet, amount,
// currency) inside the dedupe window. Failed rows are not equivalent; a retry
// is allowed to create a fresh attempt.
func (s *PayoutStore) FindRecentEquivalent(ctx context.Context, walletID string, amount int64, currency string, since time.Time) (models.Payout, bool, error) {
	var row models.Payout
	err := s.db.GetContext(ctx, &row, `
		SELECT id, wallet_id, amount, currency, status, provider_payout_id, failure_reason, retry_of_id, initiated_at, completed_at
		FROM payouts
		WHERE wallet_id = $1 AND amount = $2 AND currency = $3
		  AND status IN ('pending', 'processing', 'completed')
		  AND initiated_at > $4
		ORDER BY initiated_at DESC
		LIMIT 1
	`, walletID, amount, currency, since)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Payout{}, false, nil
	}
	if err != nil {
		return models.Payout{}, false, err
	}
	return row, true, nil
}

// ListFailedSince returns failed payouts inside the retry window that have no
// retry attempt yet. A failed retry is itself picked up on the next scan.
func (s *PayoutStore) ListFailedSince(ctx context.Context, since time.Time) ([]models.Payout, error) {
	var rows []models.Payout
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.id, p.wallet_id, p.amount, p.currency, p.status, p.provider_payout_id, p.failure_reason, p.retry_of_id, p.initiated_at, p.completed_at
		FROM payouts p
		WHERE p.status = 'failed'
		  AND p.initiated_at > $1
		  AND NOT EXISTS (SELECT 1 FROM payouts r WHERE r.retry_of_id = p.id)
		ORDER BY p.initiated_at
	`, since)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
