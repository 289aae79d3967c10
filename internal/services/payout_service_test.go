package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"payouts/internal/models"
	"payouts/internal/providers"
	"payouts/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubWalletStore struct {
	list    []store.PayableWallet
	byID    map[string]models.Wallet
	listErr error
	getErr  error
}

func (s stubWalletStore) ListPayable(ctx context.Context) ([]store.PayableWallet, error) {
	return s.list, s.listErr
}

func (s stubWalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	if s.getErr != nil {
		return models.Wallet{}, s.getErr
	}
	return s.byID[walletID], nil
}

type recordingBalanceStore struct {
	balances map[string]models.WalletBalance
	applied  []appliedDebit
	getErr   error
}

type appliedDebit struct {
	walletID string
	amount   int64
}

func (s *recordingBalanceStore) Get(ctx context.Context, walletID string) (models.WalletBalance, error) {
	if s.getErr != nil {
		return models.WalletBalance{}, s.getErr
	}
	if balance, ok := s.balances[walletID]; ok {
		return balance, nil
	}
	return models.WalletBalance{WalletID: walletID}, nil
}

func (s *recordingBalanceStore) ApplyPayout(ctx context.Context, tx store.Execer, walletID string, amount int64, currency string) error {
	s.applied = append(s.applied, appliedDebit{walletID: walletID, amount: amount})
	return nil
}

type recordingPayoutStore struct {
	existing   *models.Payout
	created    []store.PayoutInput
	completed  map[string]string
	failed     map[string]string
	superseded []string
	failedRows []models.Payout
}

func newRecordingPayoutStore() *recordingPayoutStore {
	return &recordingPayoutStore{completed: map[string]string{}, failed: map[string]string{}}
}

func (s *recordingPayoutStore) Create(ctx context.Context, input store.PayoutInput) error {
	s.created = append(s.created, input)
	return nil
}

func (s *recordingPayoutStore) MarkProcessing(ctx context.Context, payoutID string) error {
	return nil
}

func (s *recordingPayoutStore) MarkCompleted(ctx context.Context, tx store.Execer, payoutID, providerPayoutID string) error {
	s.completed[payoutID] = providerPayoutID
	return nil
}

func (s *recordingPayoutStore) MarkFailed(ctx context.Context, payoutID, reason string) error {
	s.failed[payoutID] = reason
	return nil
}

func (s *recordingPayoutStore) MarkSuperseded(ctx context.Context, tx store.Execer, payoutID string) error {
	s.superseded = append(s.superseded, payoutID)
	return nil
}

func (s *recordingPayoutStore) FindRecentEquivalent(ctx context.Context, walletID string, amount int64, currencyCode string, since time.Time) (models.Payout, bool, error) {
	if s.existing != nil {
		return *s.existing, true, nil
	}
	return models.Payout{}, false, nil
}

func (s *recordingPayoutStore) ListFailedSince(ctx context.Context, since time.Time) ([]models.Payout, error) {
	return s.failedRows, nil
}

type stubLeaseStore struct {
	result           store.LeaseResult
	err              error
	acquireCalled    bool
	releasedStatus   string
	releasedMetadata string
}

func (s *stubLeaseStore) TryAcquire(ctx context.Context, runType, runKey string, now time.Time, ttl time.Duration) (store.LeaseResult, error) {
	s.acquireCalled = true
	return s.result, s.err
}

func (s *stubLeaseStore) Release(ctx context.Context, runID, finalStatus, metadata string) error {
	s.releasedStatus = finalStatus
	s.releasedMetadata = metadata
	return nil
}

type stubRateStore struct {
	rates map[string]decimal.Decimal
	err   error
}

func (s stubRateStore) LatestValid(ctx context.Context, now time.Time) (map[string]decimal.Decimal, error) {
	return s.rates, s.err
}

type stubSettingsStore struct {
	enabled bool
	err     error
}

func (s stubSettingsStore) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	if s.err != nil {
		return fallback, s.err
	}
	return s.enabled, nil
}

type recordingDispatcher struct {
	fn    func(req providers.TransferRequest) (providers.Result, error)
	calls []providers.TransferRequest
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req providers.TransferRequest) (providers.Result, error) {
	d.calls = append(d.calls, req)
	if d.fn == nil {
		return providers.Result{Reference: "ref-" + req.PayoutID}, nil
	}
	return d.fn(req)
}

type fixture struct {
	wallets    stubWalletStore
	balances   *recordingBalanceStore
	payouts    *recordingPayoutStore
	leases     *stubLeaseStore
	rates      stubRateStore
	settings   stubSettingsStore
	dispatcher *recordingDispatcher
	now        time.Time
}

// mondayMorning is an ISO Monday, so weekly wallets with payout day 1 match.
var mondayMorning = time.Date(2026, time.August, 24, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	return &fixture{
		wallets:  stubWalletStore{byID: map[string]models.Wallet{}},
		balances: &recordingBalanceStore{balances: map[string]models.WalletBalance{}},
		payouts:  newRecordingPayoutStore(),
		leases: &stubLeaseStore{
			result: store.LeaseResult{Run: models.BatchRun{ID: "run-1"}, Acquired: true},
		},
		rates:      stubRateStore{rates: map[string]decimal.Decimal{"GHS": decimal.RequireFromString("12.5")}},
		settings:   stubSettingsStore{enabled: true},
		dispatcher: &recordingDispatcher{},
		now:        mondayMorning,
	}
}

func (f *fixture) build() *PayoutService {
	service := NewPayoutService(fakeTxRunner{}, f.wallets, f.balances, f.payouts, f.leases, f.rates, f.settings, f.dispatcher, zap.NewNop(),
		10*time.Minute, time.Hour, 24*time.Hour)
	service.now = func() time.Time { return f.now }
	return service
}

func ghsMomoWallet(id string) models.Wallet {
	number := "233555000111"
	network := "MTN"
	name := "Ama Mensah"
	return models.Wallet{
		ID:              id,
		CreatorID:       "creator-" + id,
		Provider:        models.ProviderMomo,
		Status:          "active",
		PayoutsEnabled:  true,
		Currency:        "GHS",
		CountryCode:     "GH",
		MomoNumber:      &number,
		MomoNetwork:     &network,
		BeneficiaryName: &name,
	}
}

func weeklyMondayWallet(id string) store.PayableWallet {
	return store.PayableWallet{
		Wallet:            ghsMomoWallet(id),
		Frequency:         models.FrequencyWeekly,
		WeeklyPayoutDay:   1,
		AutoPayoutEnabled: true,
	}
}

func TestProcessPendingPayoutsKillSwitch(t *testing.T) {
	f := newFixture()
	f.settings = stubSettingsStore{enabled: false}
	result := f.build().ProcessPendingPayouts(context.Background(), "daily")
	if result.SkippedReason != "auto-payouts-disabled" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if f.leases.acquireCalled {
		t.Fatal("kill switch must be checked before any lease work")
	}
}

func TestProcessPendingPayoutsUnknownTrigger(t *testing.T) {
	f := newFixture()
	result := f.build().ProcessPendingPayouts(context.Background(), "hourly")
	if result.SkippedReason != "unknown-trigger" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestProcessPendingPayoutsLeaseContention(t *testing.T) {
	f := newFixture()
	f.leases.result = store.LeaseResult{SkippedReason: store.SkipLeaseActive}
	result := f.build().ProcessPendingPayouts(context.Background(), "daily")
	if result.SkippedReason != store.SkipLeaseActive {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.Processed != 0 || len(f.dispatcher.calls) != 0 {
		t.Fatal("a skipped run must not touch any wallet")
	}
}

func TestProcessPendingPayoutsWeeklyEndToEnd(t *testing.T) {
	f := newFixture()
	f.wallets.list = []store.PayableWallet{weeklyMondayWallet("wallet-1")}
	f.balances.balances["wallet-1"] = models.WalletBalance{
		WalletID:         "wallet-1",
		AvailableBalance: 15000,
		Currency:         "GHS",
	}
	result := f.build().ProcessPendingPayouts(context.Background(), "weekly")

	if result.Processed != 1 || result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.RunKey != "2026-W35" {
		t.Fatalf("unexpected run key: %s", result.RunKey)
	}
	if len(f.payouts.created) != 1 || f.payouts.created[0].Amount != 15000 || f.payouts.created[0].Currency != "GHS" {
		t.Fatalf("unexpected payout rows: %#v", f.payouts.created)
	}
	payoutID := f.payouts.created[0].ID
	if f.payouts.completed[payoutID] != "ref-"+payoutID {
		t.Fatalf("payout not completed with provider reference: %#v", f.payouts.completed)
	}
	if len(f.balances.applied) != 1 || f.balances.applied[0] != (appliedDebit{walletID: "wallet-1", amount: 15000}) {
		t.Fatalf("unexpected ledger debits: %#v", f.balances.applied)
	}
	if f.leases.releasedStatus != models.RunCompleted {
		t.Fatalf("lease not finalized as completed: %q", f.leases.releasedStatus)
	}
	if !strings.Contains(f.leases.releasedMetadata, `"successful":1`) {
		t.Fatalf("summary metadata missing counts: %s", f.leases.releasedMetadata)
	}
}

func TestProcessPendingPayoutsSkipsNonMatchingSchedules(t *testing.T) {
	f := newFixture()
	offDay := weeklyMondayWallet("wallet-1")
	offDay.WeeklyPayoutDay = 3
	optedOut := weeklyMondayWallet("wallet-2")
	optedOut.AutoPayoutEnabled = false
	f.wallets.list = []store.PayableWallet{offDay, optedOut}

	result := f.build().ProcessPendingPayouts(context.Background(), "weekly")
	if result.Processed != 0 || len(f.dispatcher.calls) != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestProcessPendingPayoutsIneligibleBalanceRecorded(t *testing.T) {
	f := newFixture()
	f.wallets.list = []store.PayableWallet{weeklyMondayWallet("wallet-1")}
	f.balances.balances["wallet-1"] = models.WalletBalance{WalletID: "wallet-1", AvailableBalance: 50, Currency: "GHS"}

	result := f.build().ProcessPendingPayouts(context.Background(), "weekly")
	if result.Processed != 1 || result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Error, "provider minimum") {
		t.Fatalf("unexpected errors: %#v", result.Errors)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Fatal("ineligible wallet must not reach the provider")
	}
}

func TestProcessPendingPayoutsDuplicateSuppressed(t *testing.T) {
	f := newFixture()
	f.wallets.list = []store.PayableWallet{weeklyMondayWallet("wallet-1")}
	f.balances.balances["wallet-1"] = models.WalletBalance{WalletID: "wallet-1", AvailableBalance: 15000, Currency: "GHS"}
	reference := "fin-original"
	f.payouts.existing = &models.Payout{
		ID:               "payout-original",
		WalletID:         "wallet-1",
		Amount:           15000,
		Currency:         "GHS",
		Status:           models.PayoutCompleted,
		ProviderPayoutID: &reference,
	}

	result := f.build().ProcessPendingPayouts(context.Background(), "weekly")
	if result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(f.payouts.created) != 0 {
		t.Fatalf("dedupe must not create a second payout row: %#v", f.payouts.created)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Fatal("dedupe must not call the provider again")
	}
}

func TestProcessPendingPayoutsWalletFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture()
	f.wallets.list = []store.PayableWallet{weeklyMondayWallet("wallet-1"), weeklyMondayWallet("wallet-2")}
	f.balances.balances["wallet-1"] = models.WalletBalance{WalletID: "wallet-1", AvailableBalance: 15000, Currency: "GHS"}
	f.balances.balances["wallet-2"] = models.WalletBalance{WalletID: "wallet-2", AvailableBalance: 20000, Currency: "GHS"}
	f.dispatcher.fn = func(req providers.TransferRequest) (providers.Result, error) {
		if req.Wallet.ID == "wallet-1" {
			return providers.Result{}, providers.ErrTransferFailed
		}
		return providers.Result{Reference: "ref-" + req.PayoutID}, nil
	}

	result := f.build().ProcessPendingPayouts(context.Background(), "weekly")
	if result.Processed != 2 || result.Successful != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].WalletID != "wallet-1" {
		t.Fatalf("unexpected errors: %#v", result.Errors)
	}
	if len(f.payouts.failed) != 1 {
		t.Fatalf("failed dispatch must mark the payout failed: %#v", f.payouts.failed)
	}
	if f.leases.releasedStatus != models.RunCompleted {
		t.Fatalf("a per-wallet failure must not fail the run: %q", f.leases.releasedStatus)
	}
}

func TestProcessPendingPayoutsFinalizesOnPanic(t *testing.T) {
	f := newFixture()
	f.wallets.list = []store.PayableWallet{weeklyMondayWallet("wallet-1")}
	f.balances.balances["wallet-1"] = models.WalletBalance{WalletID: "wallet-1", AvailableBalance: 15000, Currency: "GHS"}
	f.dispatcher.fn = func(req providers.TransferRequest) (providers.Result, error) {
		panic("provider client blew up")
	}

	result := f.build().ProcessPendingPayouts(context.Background(), "weekly")
	if f.leases.releasedStatus != models.RunFailed {
		t.Fatalf("a crashed run must still finalize the lease: %q", f.leases.releasedStatus)
	}
	found := false
	for _, walletErr := range result.Errors {
		if strings.Contains(walletErr.Error, "batch crash") {
			found = true
		}
	}
	if !found {
		t.Fatalf("crash must be surfaced in the result: %#v", result.Errors)
	}
}

func TestRetryFailedPayoutsSupersedesOriginal(t *testing.T) {
	f := newFixture()
	f.wallets.byID["wallet-1"] = ghsMomoWallet("wallet-1")
	f.payouts.failedRows = []models.Payout{{
		ID:       "payout-original",
		WalletID: "wallet-1",
		Amount:   15000,
		Currency: "GHS",
		Status:   models.PayoutFailed,
	}}

	result := f.build().RetryFailedPayouts(context.Background())
	if result.Processed != 1 || result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(f.payouts.superseded) != 1 || f.payouts.superseded[0] != "payout-original" {
		t.Fatalf("original must be superseded: %#v", f.payouts.superseded)
	}
	if len(f.payouts.created) != 1 {
		t.Fatalf("expected exactly one fresh attempt: %#v", f.payouts.created)
	}
	created := f.payouts.created[0]
	if created.RetryOfID == nil || *created.RetryOfID != "payout-original" {
		t.Fatalf("fresh attempt must reference the original: %#v", created)
	}
	if created.ID == "payout-original" {
		t.Fatal("retry must be a new payout row")
	}
	if _, ok := f.payouts.completed[created.ID]; !ok {
		t.Fatalf("fresh attempt must complete: %#v", f.payouts.completed)
	}
}

func TestRetryFailedPayoutsRepeatedFailureLeavesRetryFailed(t *testing.T) {
	f := newFixture()
	f.wallets.byID["wallet-1"] = ghsMomoWallet("wallet-1")
	f.payouts.failedRows = []models.Payout{{
		ID:       "payout-original",
		WalletID: "wallet-1",
		Amount:   15000,
		Currency: "GHS",
		Status:   models.PayoutFailed,
	}}
	f.dispatcher.fn = func(req providers.TransferRequest) (providers.Result, error) {
		return providers.Result{}, errors.New("transfer failed: destination unreachable")
	}

	result := f.build().RetryFailedPayouts(context.Background())
	if result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(f.payouts.superseded) != 0 {
		t.Fatal("a failed retry must not supersede the original")
	}
	if len(f.payouts.failed) != 1 {
		t.Fatalf("the fresh attempt must be marked failed: %#v", f.payouts.failed)
	}
}

func TestCheckPayoutEligibilityScheduledBypass(t *testing.T) {
	f := newFixture()
	service := f.build()

	scheduled, err := service.CheckPayoutEligibility(context.Background(), 4000, "USD", models.ProviderStripe, "bank", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !scheduled.CanPayout {
		t.Fatalf("scheduled payout should bypass the platform minimum: %#v", scheduled)
	}

	onDemand, err := service.CheckPayoutEligibility(context.Background(), 4000, "USD", models.ProviderStripe, "bank", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onDemand.CanPayout || !strings.Contains(onDemand.Reason, "platform threshold") {
		t.Fatalf("unexpected result: %#v", onDemand)
	}
}
