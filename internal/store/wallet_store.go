package store

import (
	"context"

	"payouts/internal/models"
)

type WalletStore struct {
	db DB
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

// PayableWallet is a wallet row joined with its creator's payout settings.
type PayableWallet struct {
	models.Wallet
	Frequency         string `db:"frequency"`
	WeeklyPayoutDay   int    `db:"weekly_payout_day"`
	MonthlyPayoutDay  int    `db:"monthly_payout_day"`
	AutoPayoutEnabled bool   `db:"auto_payout_enabled"`
}

func (s *WalletStore) ListPayable(ctx context.Context) ([]PayableWallet, error) {
	var rows []PayableWallet
	err := s.db.SelectContext(ctx, &rows, `
		SELECT w.id, w.creator_id, w.provider, w.status, w.payouts_enabled,
		       w.currency, w.country_code, w.momo_number, w.momo_network,
		       w.beneficiary_name, w.subaccount_id, w.created_at,
		       ps.frequency, ps.weekly_payout_day, ps.monthly_payout_day, ps.auto_payout_enabled
		FROM wallets w
		JOIN payout_settings ps ON ps.creator_id = w.creator_id
		WHERE w.status = 'active' AND w.payouts_enabled = TRUE
		ORDER BY w.created_at
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *WalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT id, creator_id, provider, status, payouts_enabled, currency, country_code,
		       momo_number, momo_network, beneficiary_name, subaccount_id, created_at
		FROM wallets
		WHERE id = $1
	`, walletID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}
