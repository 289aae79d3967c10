package eligibility

import (
	"fmt"
	"time"

	"payouts/internal/currency"
	"payouts/internal/models"
	"payouts/internal/money"
)

const (
	TriggerDaily     = "daily"
	TriggerWeekly    = "weekly"
	TriggerMonthly   = "monthly"
	TriggerThreshold = "threshold"
	TriggerScheduled = "scheduled"
)

type minimumKey struct {
	provider string
	method   string
	currency string
}

// Hard floors set by the payment rails, minor units. Always enforced.
var providerMinimums = map[minimumKey]int64{
	{models.ProviderMomo, "momo", "GHS"}:        100,
	{models.ProviderMomo, "momo", "UGX"}:        100000,
	{models.ProviderMomo, "momo", "XAF"}:        10000,
	{models.ProviderFlutterwave, "momo", "GHS"}: 100,
	{models.ProviderFlutterwave, "bank", "NGN"}: 10000,
	{models.ProviderPaystack, "bank", "NGN"}:    10000,
	{models.ProviderStripe, "bank", "USD"}:      100,
	{models.ProviderPayPal, "bank", "USD"}:      100,
}

// Per-currency floor fallback, roughly the equivalent of $1.
var providerCurrencyFloors = map[string]int64{
	"USD": 100,
	"EUR": 100,
	"GBP": 100,
	"GHS": 1300,
	"NGN": 160000,
	"KES": 13000,
	"ZAR": 1900,
}

const usdProviderFloor = 100

// Recommended platform thresholds for on-demand payouts, roughly the
// equivalent of $50. Waived for scheduled cadences.
var platformMinimums = map[string]int64{
	"USD": 5000,
	"EUR": 4600,
	"GBP": 4000,
	"GHS": 65000,
	"NGN": 8000000,
	"KES": 650000,
	"ZAR": 95000,
}

const usdPlatformMinimum = 5000

type CheckInput struct {
	Balance   int64
	Currency  string
	Provider  string
	Method    string
	Scheduled bool
}

type Result struct {
	CanPayout       bool   `json:"can_payout"`
	Reason          string `json:"reason,omitempty"`
	ProviderMinimum int64  `json:"provider_minimum"`
	PlatformMinimum int64  `json:"platform_minimum"`
	Currency        string `json:"currency"`
	Scheduled       bool   `json:"scheduled"`
}

func ProviderMinimum(conv *currency.Converter, provider, method, currencyCode string) int64 {
	if min, ok := providerMinimums[minimumKey{provider, method, currencyCode}]; ok {
		return min
	}
	if min, ok := providerCurrencyFloors[currencyCode]; ok {
		return min
	}
	return conv.Convert(usdProviderFloor, "USD", currencyCode)
}

func PlatformMinimum(conv *currency.Converter, currencyCode string) int64 {
	if min, ok := platformMinimums[currencyCode]; ok {
		return min
	}
	return conv.Convert(usdPlatformMinimum, "USD", currencyCode)
}

// Check applies the two-tier minimum policy. The provider minimum is a hard
// floor regardless of trigger; the platform threshold only binds on-demand
// payouts and is waived for scheduled cadences so small creators still get
// paid on their schedule.
func Check(conv *currency.Converter, in CheckInput) Result {
	result := Result{
		ProviderMinimum: ProviderMinimum(conv, in.Provider, in.Method, in.Currency),
		PlatformMinimum: PlatformMinimum(conv, in.Currency),
		Currency:        in.Currency,
		Scheduled:       in.Scheduled,
	}
	if in.Balance < result.ProviderMinimum {
		result.Reason = fmt.Sprintf("balance %s %s is below the provider minimum of %s %s for %s %s payouts",
			money.FormatMinor(in.Balance), in.Currency, money.FormatMinor(result.ProviderMinimum), in.Currency, in.Provider, in.Method)
		return result
	}
	if in.Scheduled {
		result.CanPayout = true
		return result
	}
	if in.Balance < result.PlatformMinimum {
		result.Reason = fmt.Sprintf("balance %s %s is below the platform threshold of %s %s for on-demand payouts; switch to a scheduled cadence to receive smaller payouts",
			money.FormatMinor(in.Balance), in.Currency, money.FormatMinor(result.PlatformMinimum), in.Currency)
		return result
	}
	result.CanPayout = true
	return result
}

// MatchesSchedule decides whether a wallet's cadence is due under the given
// trigger. The threshold trigger is a safety net that considers every wallet;
// the scheduled trigger (manual admin run) accepts any recurring cadence
// regardless of day match.
func MatchesSchedule(trigger, frequency string, weeklyPayoutDay, monthlyPayoutDay int, now time.Time) bool {
	switch trigger {
	case TriggerDaily:
		return frequency == models.FrequencyDaily
	case TriggerWeekly:
		return frequency == models.FrequencyWeekly && isoWeekday(now) == weeklyPayoutDay
	case TriggerMonthly:
		return frequency == models.FrequencyMonthly && now.Day() == monthlyPayoutDay
	case TriggerThreshold:
		return true
	case TriggerScheduled:
		return frequency == models.FrequencyDaily || frequency == models.FrequencyWeekly || frequency == models.FrequencyMonthly
	}
	return false
}

func ValidTrigger(trigger string) bool {
	switch trigger {
	case TriggerDaily, TriggerWeekly, TriggerMonthly, TriggerThreshold, TriggerScheduled:
		return true
	}
	return false
}

// ScheduledTrigger reports whether the trigger represents a scheduled
// cadence, which waives the platform minimum.
func ScheduledTrigger(trigger string) bool {
	return trigger != TriggerThreshold
}

// isoWeekday maps Go's Sunday-based weekday to ISO 1-7 (Monday=1).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
