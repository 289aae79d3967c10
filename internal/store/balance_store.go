package store

import (
	"context"
	"database/sql"
	"errors"

	"payouts/internal/models"
)

type BalanceStore struct {
	db DB
}

func NewBalanceStore(db DB) *BalanceStore {
	return &BalanceStore{db: db}
}

// Get returns the balance row for a wallet. A missing row reads as all-zero
// totals in the wallet's currency.
func (s *BalanceStore) Get(ctx context.Context, walletID string) (models.WalletBalance, error) {
	var row models.WalletBalance
	err := s.db.GetContext(ctx, &row, `
		SELECT wallet_id, available_balance, pending_payout, total_earnings, total_paid_out, currency, updated_at
		FROM wallet_balances
		WHERE wallet_id = $1
	`, walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WalletBalance{WalletID: walletID}, nil
	}
	if err != nil {
		return models.WalletBalance{}, err
	}
	return row, nil
}

// ApplyPayout debits a completed payout from the wallet's running totals.
// Available and pending are clamped at zero; this is the only writer that
// decreases available_balance.
func (s *BalanceStore) ApplyPayout(ctx context.Context, tx Execer, walletID string, amount int64, currency string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_balances (wallet_id, available_balance, pending_payout, total_earnings, total_paid_out, currency)
		VALUES ($1, 0, 0, 0, $2, $3)
		ON CONFLICT (wallet_id) DO UPDATE SET
			available_balance = GREATEST(0, wallet_balances.available_balance - $2),
			pending_payout = GREATEST(0, wallet_balances.pending_payout - $2),
			total_paid_out = wallet_balances.total_paid_out + $2,
			updated_at = NOW()
	`, walletID, amount, currency)
	return err
}
