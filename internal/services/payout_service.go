package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payouts/internal/currency"
	"payouts/internal/db"
	"payouts/internal/eligibility"
	"payouts/internal/models"
	"payouts/internal/providers"
	"payouts/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrPayoutsDisabled = errors.New("payouts are disabled for this wallet")
	ErrUnknownTrigger  = errors.New("unknown trigger type")
)

const autoPayoutsKey = "auto_payouts_enabled"

type WalletStore interface {
	ListPayable(ctx context.Context) ([]store.PayableWallet, error)
	GetByID(ctx context.Context, walletID string) (models.Wallet, error)
}

type BalanceStore interface {
	Get(ctx context.Context, walletID string) (models.WalletBalance, error)
	ApplyPayout(ctx context.Context, tx store.Execer, walletID string, amount int64, currency string) error
}

type PayoutStore interface {
	Create(ctx context.Context, input store.PayoutInput) error
	MarkProcessing(ctx context.Context, payoutID string) error
	MarkCompleted(ctx context.Context, tx store.Execer, payoutID, providerPayoutID string) error
	MarkFailed(ctx context.Context, payoutID, reason string) error
	MarkSuperseded(ctx context.Context, tx store.Execer, payoutID string) error
	FindRecentEquivalent(ctx context.Context, walletID string, amount int64, currencyCode string, since time.Time) (models.Payout, bool, error)
	ListFailedSince(ctx context.Context, since time.Time) ([]models.Payout, error)
}

type LeaseStore interface {
	TryAcquire(ctx context.Context, runType, runKey string, now time.Time, ttl time.Duration) (store.LeaseResult, error)
	Release(ctx context.Context, runID, finalStatus, metadata string) error
}

type RateStore interface {
	LatestValid(ctx context.Context, now time.Time) (map[string]decimal.Decimal, error)
}

type PlatformSettingsStore interface {
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req providers.TransferRequest) (providers.Result, error)
}

type PayoutService struct {
	txRunner   db.TxRunner
	wallets    WalletStore
	balances   BalanceStore
	payouts    PayoutStore
	leases     LeaseStore
	rates      RateStore
	settings   PlatformSettingsStore
	dispatcher Dispatcher
	log        *zap.Logger

	leaseTTL     time.Duration
	dedupeWindow time.Duration
	retryWindow  time.Duration
	now          func() time.Time
}

func NewPayoutService(txRunner db.TxRunner, wallets WalletStore, balances BalanceStore, payouts PayoutStore, leases LeaseStore, rates RateStore, settings PlatformSettingsStore, dispatcher Dispatcher, log *zap.Logger, leaseTTL, dedupeWindow, retryWindow time.Duration) *PayoutService {
	return &PayoutService{
		txRunner:     txRunner,
		wallets:      wallets,
		balances:     balances,
		payouts:      payouts,
		leases:       leases,
		rates:        rates,
		settings:     settings,
		dispatcher:   dispatcher,
		log:          log,
		leaseTTL:     leaseTTL,
		dedupeWindow: dedupeWindow,
		retryWindow:  retryWindow,
		now:          time.Now,
	}
}

type WalletError struct {
	WalletID string `json:"wallet_id,omitempty"`
	Error    string `json:"error"`
}

type BatchResult struct {
	Processed     int           `json:"processed"`
	Successful    int           `json:"successful"`
	Failed        int           `json:"failed"`
	Errors        []WalletError `json:"errors,omitempty"`
	RunID         string        `json:"run_id,omitempty"`
	RunKey        string        `json:"run_key,omitempty"`
	SkippedReason string        `json:"skipped_reason,omitempty"`
}

// ProcessPendingPayouts runs one scheduled batch under the (trigger, period)
// lease. Per-wallet failures are accumulated, never fatal; the lease is
// always finalized, including on a panic inside the loop. Callers receive a
// structured result in every case.
func (s *PayoutService) ProcessPendingPayouts(ctx context.Context, trigger string) (result BatchResult) {
	now := s.now().UTC()
	if !eligibility.ValidTrigger(trigger) {
		return BatchResult{SkippedReason: "unknown-trigger"}
	}

	enabled, err := s.settings.GetBool(ctx, autoPayoutsKey, true)
	if err != nil {
		s.log.Error("reading auto-payouts kill switch", zap.Error(err))
		return BatchResult{SkippedReason: "settings-unavailable"}
	}
	if !enabled {
		return BatchResult{SkippedReason: "auto-payouts-disabled"}
	}

	runKey := runKeyFor(trigger, now)
	lease, err := s.leases.TryAcquire(ctx, trigger, runKey, now, s.leaseTTL)
	if err != nil {
		s.log.Error("acquiring batch lease", zap.String("run_type", trigger), zap.String("run_key", runKey), zap.Error(err))
		return BatchResult{RunKey: runKey, SkippedReason: "batch-lease-error"}
	}
	if !lease.Acquired {
		s.log.Info("skipping batch run",
			zap.String("run_type", trigger),
			zap.String("run_key", runKey),
			zap.String("reason", lease.SkippedReason))
		return BatchResult{RunKey: runKey, SkippedReason: lease.SkippedReason}
	}

	result = BatchResult{RunID: lease.Run.ID, RunKey: runKey}
	finalStatus := models.RunCompleted
	defer func() {
		if r := recover(); r != nil {
			finalStatus = models.RunFailed
			result.Errors = append(result.Errors, WalletError{Error: fmt.Sprintf("batch crash: %v", r)})
			s.log.Error("batch run panicked", zap.String("run_key", runKey), zap.Any("panic", r))
		}
		metadata, _ := json.Marshal(result)
		if err := s.leases.Release(ctx, lease.Run.ID, finalStatus, string(metadata)); err != nil {
			s.log.Error("releasing batch lease", zap.String("run_id", lease.Run.ID), zap.Error(err))
		}
	}()

	// One batched rate read per run, not per wallet.
	rates, err := s.rates.LatestValid(ctx, now)
	if err != nil {
		finalStatus = models.RunFailed
		result.Errors = append(result.Errors, WalletError{Error: fmt.Sprintf("loading exchange rates: %v", err)})
		return result
	}
	converter := currency.NewConverter(rates)

	wallets, err := s.wallets.ListPayable(ctx)
	if err != nil {
		finalStatus = models.RunFailed
		result.Errors = append(result.Errors, WalletError{Error: fmt.Sprintf("listing wallets: %v", err)})
		return result
	}

	scheduled := eligibility.ScheduledTrigger(trigger)
	for _, wallet := range wallets {
		if !wallet.AutoPayoutEnabled {
			continue
		}
		if !eligibility.MatchesSchedule(trigger, wallet.Frequency, wallet.WeeklyPayoutDay, wallet.MonthlyPayoutDay, now) {
			continue
		}
		result.Processed++

		balance, err := s.balances.Get(ctx, wallet.ID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WalletError{WalletID: wallet.ID, Error: fmt.Sprintf("reading balance: %v", err)})
			continue
		}
		amount := balance.AvailableBalance
		if !converter.HasRate(wallet.Currency) {
			s.log.Warn("no valid exchange rate; minimums fall back unconverted",
				zap.String("wallet_id", wallet.ID), zap.String("currency", wallet.Currency))
		}
		check := eligibility.Check(converter, eligibility.CheckInput{
			Balance:   amount,
			Currency:  wallet.Currency,
			Provider:  wallet.Provider,
			Method:    methodFor(wallet.Wallet),
			Scheduled: scheduled,
		})
		if !check.CanPayout {
			result.Failed++
			result.Errors = append(result.Errors, WalletError{WalletID: wallet.ID, Error: check.Reason})
			continue
		}

		outcome, err := s.executePayout(ctx, wallet.Wallet, amount, wallet.Currency, nil)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WalletError{WalletID: wallet.ID, Error: err.Error()})
			continue
		}
		result.Successful++
		s.log.Info("payout completed",
			zap.String("run_key", runKey),
			zap.String("wallet_id", wallet.ID),
			zap.String("payout_id", outcome.PayoutID),
			zap.Int64("amount", amount),
			zap.String("currency", wallet.Currency),
			zap.Bool("deduped", outcome.Deduped))
	}
	return result
}

// RetryFailedPayouts re-drives failed payouts from the trailing retry window
// through the same pipeline. A successful retry supersedes the original row;
// the fresh attempt becomes the canonical completed record.
func (s *PayoutService) RetryFailedPayouts(ctx context.Context) BatchResult {
	now := s.now().UTC()
	var result BatchResult

	failed, err := s.payouts.ListFailedSince(ctx, now.Add(-s.retryWindow))
	if err != nil {
		result.Errors = append(result.Errors, WalletError{Error: fmt.Sprintf("listing failed payouts: %v", err)})
		return result
	}
	for _, original := range failed {
		result.Processed++
		wallet, err := s.wallets.GetByID(ctx, original.WalletID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WalletError{WalletID: original.WalletID, Error: fmt.Sprintf("%v: %v", ErrWalletNotFound, err)})
			continue
		}
		retryOf := original
		outcome, err := s.executePayout(ctx, wallet, original.Amount, original.Currency, &retryOf)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WalletError{WalletID: wallet.ID, Error: err.Error()})
			continue
		}
		result.Successful++
		s.log.Info("failed payout retried",
			zap.String("original_payout_id", original.ID),
			zap.String("payout_id", outcome.PayoutID),
			zap.Bool("deduped", outcome.Deduped))
	}
	return result
}

// CheckPayoutEligibility preflights the two-tier minimum policy for a
// hypothetical payout without mutating anything.
func (s *PayoutService) CheckPayoutEligibility(ctx context.Context, balance int64, currencyCode, provider, method string, isScheduled bool) (eligibility.Result, error) {
	rates, err := s.rates.LatestValid(ctx, s.now().UTC())
	if err != nil {
		return eligibility.Result{}, err
	}
	return eligibility.Check(currency.NewConverter(rates), eligibility.CheckInput{
		Balance:   balance,
		Currency:  currencyCode,
		Provider:  provider,
		Method:    method,
		Scheduled: isScheduled,
	}), nil
}

type payoutOutcome struct {
	PayoutID  string
	Reference string
	Deduped   bool
}

// executePayout is the shared pipeline: dedupe guard, audit row, provider
// dispatch, then the ledger commit. The completion write and the balance
// debit share one serializable transaction; on a retry, superseding the
// original joins that same commit.
func (s *PayoutService) executePayout(ctx context.Context, wallet models.Wallet, amount int64, currencyCode string, retryOf *models.Payout) (payoutOutcome, error) {
	if !wallet.PayoutsEnabled {
		return payoutOutcome{}, ErrPayoutsDisabled
	}
	now := s.now().UTC()

	existing, found, err := s.payouts.FindRecentEquivalent(ctx, wallet.ID, amount, currencyCode, now.Add(-s.dedupeWindow))
	if err != nil {
		return payoutOutcome{}, fmt.Errorf("dedupe lookup: %w", err)
	}
	if found {
		reference := ""
		if existing.ProviderPayoutID != nil {
			reference = *existing.ProviderPayoutID
		}
		s.log.Info("duplicate payout suppressed",
			zap.String("wallet_id", wallet.ID),
			zap.String("existing_payout_id", existing.ID),
			zap.String("existing_status", existing.Status))
		return payoutOutcome{PayoutID: existing.ID, Reference: reference, Deduped: true}, nil
	}

	payoutID := uuid.NewString()
	var retryOfID *string
	narration := "Creator earnings payout"
	if retryOf != nil {
		retryOfID = &retryOf.ID
		narration = fmt.Sprintf("Retry of payout %s", retryOf.ID)
	}
	if err := s.payouts.Create(ctx, store.PayoutInput{
		ID:        payoutID,
		WalletID:  wallet.ID,
		Amount:    amount,
		Currency:  currencyCode,
		RetryOfID: retryOfID,
	}); err != nil {
		return payoutOutcome{}, fmt.Errorf("creating payout: %w", err)
	}
	if err := s.payouts.MarkProcessing(ctx, payoutID); err != nil {
		return payoutOutcome{}, fmt.Errorf("marking payout processing: %w", err)
	}

	dispatched, err := s.dispatcher.Dispatch(ctx, providers.TransferRequest{
		PayoutID:    payoutID,
		Wallet:      wallet,
		AmountMinor: amount,
		Currency:    currencyCode,
		Narration:   narration,
	})
	if err != nil {
		if markErr := s.payouts.MarkFailed(ctx, payoutID, err.Error()); markErr != nil {
			s.log.Error("marking payout failed", zap.String("payout_id", payoutID), zap.Error(markErr))
		}
		return payoutOutcome{}, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.payouts.MarkCompleted(ctx, tx, payoutID, dispatched.Reference); err != nil {
			return err
		}
		if err := s.balances.ApplyPayout(ctx, tx, wallet.ID, amount, currencyCode); err != nil {
			return err
		}
		if retryOf != nil {
			return s.payouts.MarkSuperseded(ctx, tx, retryOf.ID)
		}
		return nil
	})
	if err != nil {
		// Money has left through the provider; the ledger write is what
		// failed. Surface loudly for operator reconciliation.
		s.log.Error("ledger commit failed after provider success",
			zap.String("payout_id", payoutID),
			zap.String("provider_reference", dispatched.Reference),
			zap.Error(err))
		return payoutOutcome{}, fmt.Errorf("ledger commit after provider success: %w", err)
	}
	return payoutOutcome{PayoutID: payoutID, Reference: dispatched.Reference}, nil
}

// runKeyFor derives the period identifier that makes a (trigger, period)
// batch unique: calendar date, ISO week, month, or hour bucket.
func runKeyFor(trigger string, now time.Time) string {
	switch trigger {
	case eligibility.TriggerDaily:
		return now.Format("2006-01-02")
	case eligibility.TriggerWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case eligibility.TriggerMonthly:
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02T15")
	}
}

func methodFor(wallet models.Wallet) string {
	if wallet.Provider == models.ProviderMomo {
		return "momo"
	}
	return "bank"
}
