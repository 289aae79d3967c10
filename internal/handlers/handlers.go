package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"payouts/internal/eligibility"
	"payouts/internal/money"
	"payouts/internal/services"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type PayoutService interface {
	ProcessPendingPayouts(ctx context.Context, trigger string) services.BatchResult
	RetryFailedPayouts(ctx context.Context) services.BatchResult
	CheckPayoutEligibility(ctx context.Context, balance int64, currencyCode, provider, method string, isScheduled bool) (eligibility.Result, error)
}

// Handler is the internal ops surface: scheduler triggers and admin
// preflight. It is deployed inside the platform network; authentication
// happens upstream.
type Handler struct {
	service PayoutService
	log     *zap.Logger
}

func New(service PayoutService, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Post("/payouts/run/{trigger}", h.RunBatch)
	router.Post("/payouts/retry", h.RetryFailed)
	router.Get("/payouts/eligibility", h.Eligibility)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	trigger := chi.URLParam(r, "trigger")
	if !eligibility.ValidTrigger(trigger) {
		respondError(w, http.StatusBadRequest, "unknown trigger type")
		return
	}
	result := h.service.ProcessPendingPayouts(r.Context(), trigger)
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	result := h.service.RetryFailedPayouts(r.Context())
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	balance, err := money.ParseMinor(query.Get("balance"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid balance")
		return
	}
	currencyCode := query.Get("currency")
	provider := query.Get("provider")
	if currencyCode == "" || provider == "" {
		respondError(w, http.StatusBadRequest, "currency and provider are required")
		return
	}
	method := query.Get("method")
	if method == "" {
		method = "bank"
	}
	scheduled := query.Get("scheduled") == "true"

	result, err := h.service.CheckPayoutEligibility(r.Context(), balance, currencyCode, provider, method, scheduled)
	if err != nil {
		h.log.Error("eligibility preflight failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "eligibility check failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
