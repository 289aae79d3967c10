package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payouts/internal/config"
	"payouts/internal/db"
	"payouts/internal/eligibility"
	"payouts/internal/handlers"
	"payouts/internal/providers"
	"payouts/internal/services"
	"payouts/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := newLogger(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connecting database", zap.Error(err))
	}
	defer database.Close()

	wallets := store.NewWalletStore(database)
	balances := store.NewBalanceStore(database)
	payouts := store.NewPayoutStore(database)
	batchRuns := store.NewBatchRunStore(database)
	rates := store.NewRateStore(database)
	settings := store.NewPlatformSettingsStore(database)
	txRunner := db.NewTxRunner(database)

	var mtn *providers.MTNClient
	if cfg.MTN.Configured() {
		mtn = providers.NewMTNClient(cfg.MTN, log)
	}
	var flutterwave *providers.FlutterwaveClient
	if cfg.Flutterwave.Configured() {
		flutterwave = providers.NewFlutterwaveClient(cfg.Flutterwave, log)
	}
	dispatcher := providers.NewDispatcher(mtn, flutterwave, log)

	service := services.NewPayoutService(txRunner, wallets, balances, payouts, batchRuns, rates, settings, dispatcher, log,
		cfg.LeaseTTL, cfg.DedupeWindow, cfg.RetryWindow)

	handler := handlers.New(service, log)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runScheduler(ctx, service, log)

	go func() {
		log.Info("payout engine listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("shutdown error", zap.Error(err))
	}
}

// runScheduler fires every trigger each hour. The (run_type, run_key) lease
// collapses repeat invocations within a period, so firing daily/weekly/
// monthly hourly is safe: already-finalized periods skip immediately.
func runScheduler(ctx context.Context, service *services.PayoutService, log *zap.Logger) {
	triggers := []string{
		eligibility.TriggerDaily,
		eligibility.TriggerWeekly,
		eligibility.TriggerMonthly,
		eligibility.TriggerThreshold,
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, trigger := range triggers {
				result := service.ProcessPendingPayouts(ctx, trigger)
				if result.SkippedReason != "" {
					continue
				}
				log.Info("scheduled batch finished",
					zap.String("trigger", trigger),
					zap.String("run_key", result.RunKey),
					zap.Int("processed", result.Processed),
					zap.Int("successful", result.Successful),
					zap.Int("failed", result.Failed))
			}
			retry := service.RetryFailedPayouts(ctx)
			if retry.Processed > 0 {
				log.Info("retry sweep finished",
					zap.Int("processed", retry.Processed),
					zap.Int("successful", retry.Successful),
					zap.Int("failed", retry.Failed))
			}
		}
	}
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
