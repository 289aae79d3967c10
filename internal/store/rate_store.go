package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type RateStore struct {
	db DB
}

func NewRateStore(db DB) *RateStore {
	return &RateStore{db: db}
}

type rateRow struct {
	ToCurrency string `db:"to_currency"`
	Rate       string `db:"rate"`
}

// LatestValid returns the freshest USD->X rate per currency whose validity
// window contains now. One batched query per run, not per wallet.
func (s *RateStore) LatestValid(ctx context.Context, now time.Time) (map[string]decimal.Decimal, error) {
	var rows []rateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (to_currency) to_currency, rate
		FROM exchange_rates
		WHERE from_currency = 'USD' AND valid_from <= $1 AND valid_until > $1
		ORDER BY to_currency, valid_from DESC
	`, now)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		rate, err := decimal.NewFromString(row.Rate)
		if err != nil {
			continue
		}
		if rate.IsPositive() {
			rates[row.ToCurrency] = rate
		}
	}
	return rates, nil
}
