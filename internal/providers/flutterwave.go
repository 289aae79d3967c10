package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"payouts/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FlutterwaveClient drives mobile-money transfers through the v3 transfers
// API. Bank-rail Flutterwave wallets never reach this client; their
// settlement happens via the subaccount split at transaction time.
type FlutterwaveClient struct {
	cfg        config.FlutterwaveConfig
	httpClient *http.Client
	log        *zap.Logger
}

func NewFlutterwaveClient(cfg config.FlutterwaveConfig, log *zap.Logger) *FlutterwaveClient {
	return &FlutterwaveClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

type FlutterwaveTransferRequest struct {
	Reference       string
	AmountMinor     int64
	Currency        string
	PhoneNumber     string
	Network         string
	BeneficiaryName string
	Narration       string
}

type FlutterwaveTransferResult struct {
	Status     string
	Message    string
	TransferID int64
}

type flutterwaveTransferBody struct {
	AccountBank     string  `json:"account_bank"`
	AccountNumber   string  `json:"account_number"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	BeneficiaryName string  `json:"beneficiary_name"`
	Reference       string  `json:"reference"`
	Narration       string  `json:"narration"`
}

type flutterwaveTransferResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (c *FlutterwaveClient) CreateMomoTransfer(ctx context.Context, req FlutterwaveTransferRequest) (FlutterwaveTransferResult, error) {
	// Transfers take major units; the momo network code doubles as the
	// account_bank value.
	amount, _ := decimal.NewFromInt(req.AmountMinor).Div(decimal.NewFromInt(100)).Float64()
	body, err := json.Marshal(flutterwaveTransferBody{
		AccountBank:     req.Network,
		AccountNumber:   req.PhoneNumber,
		Amount:          amount,
		Currency:        req.Currency,
		BeneficiaryName: req.BeneficiaryName,
		Reference:       req.Reference,
		Narration:       req.Narration,
	})
	if err != nil {
		return FlutterwaveTransferResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v3/transfers", bytes.NewReader(body))
	if err != nil {
		return FlutterwaveTransferResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return FlutterwaveTransferResult{}, fmt.Errorf("flutterwave transfer request: %w", err)
	}
	defer resp.Body.Close()

	var decoded flutterwaveTransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return FlutterwaveTransferResult{}, fmt.Errorf("flutterwave transfer decode: %w", err)
	}
	result := FlutterwaveTransferResult{Status: decoded.Status, Message: decoded.Message}
	if decoded.Data != nil {
		result.TransferID = decoded.Data.ID
	}
	return result, nil
}
