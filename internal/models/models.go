package models

import "time"

const (
	ProviderStripe      = "stripe"
	ProviderPayPal      = "paypal"
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
	ProviderMomo        = "momo"
)

const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
	PayoutSuperseded = "superseded"
)

const (
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

const (
	FrequencyInstant = "instant"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyManual  = "manual"
)

type Wallet struct {
	ID              string    `db:"id" json:"id"`
	CreatorID       string    `db:"creator_id" json:"creator_id"`
	Provider        string    `db:"provider" json:"provider"`
	Status          string    `db:"status" json:"status"`
	PayoutsEnabled  bool      `db:"payouts_enabled" json:"payouts_enabled"`
	Currency        string    `db:"currency" json:"currency"`
	CountryCode     string    `db:"country_code" json:"country_code"`
	MomoNumber      *string   `db:"momo_number" json:"momo_number,omitempty"`
	MomoNetwork     *string   `db:"momo_network" json:"momo_network,omitempty"`
	BeneficiaryName *string   `db:"beneficiary_name" json:"beneficiary_name,omitempty"`
	SubaccountID    *string   `db:"subaccount_id" json:"subaccount_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type WalletBalance struct {
	WalletID         string    `db:"wallet_id" json:"wallet_id"`
	AvailableBalance int64     `db:"available_balance" json:"available_balance"`
	PendingPayout    int64     `db:"pending_payout" json:"pending_payout"`
	TotalEarnings    int64     `db:"total_earnings" json:"total_earnings"`
	TotalPaidOut     int64     `db:"total_paid_out" json:"total_paid_out"`
	Currency         string    `db:"currency" json:"currency"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

type PayoutSettings struct {
	CreatorID         string `db:"creator_id" json:"creator_id"`
	Frequency         string `db:"frequency" json:"frequency"`
	WeeklyPayoutDay   int    `db:"weekly_payout_day" json:"weekly_payout_day"`
	MonthlyPayoutDay  int    `db:"monthly_payout_day" json:"monthly_payout_day"`
	AutoPayoutEnabled bool   `db:"auto_payout_enabled" json:"auto_payout_enabled"`
	NotifyOnPayout    bool   `db:"notify_on_payout" json:"notify_on_payout"`
}

type Payout struct {
	ID               string     `db:"id" json:"id"`
	WalletID         string     `db:"wallet_id" json:"wallet_id"`
	Amount           int64      `db:"amount" json:"amount"`
	Currency         string     `db:"currency" json:"currency"`
	Status           string     `db:"status" json:"status"`
	ProviderPayoutID *string    `db:"provider_payout_id" json:"provider_payout_id,omitempty"`
	FailureReason    *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	RetryOfID        *string    `db:"retry_of_id" json:"retry_of_id,omitempty"`
	InitiatedAt      time.Time  `db:"initiated_at" json:"initiated_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

type BatchRun struct {
	ID             string     `db:"id" json:"id"`
	RunType        string     `db:"run_type" json:"run_type"`
	RunKey         string     `db:"run_key" json:"run_key"`
	Status         string     `db:"status" json:"status"`
	LeaseExpiresAt time.Time  `db:"lease_expires_at" json:"lease_expires_at"`
	Metadata       string     `db:"metadata" json:"metadata"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

type ExchangeRate struct {
	ID           string    `db:"id" json:"id"`
	FromCurrency string    `db:"from_currency" json:"from_currency"`
	ToCurrency   string    `db:"to_currency" json:"to_currency"`
	Rate         string    `db:"rate" json:"rate"`
	ValidFrom    time.Time `db:"valid_from" json:"valid_from"`
	ValidUntil   time.Time `db:"valid_until" json:"valid_until"`
}
