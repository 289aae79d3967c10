package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payouts/internal/config"
	"payouts/internal/money"

	"go.uber.org/zap"
)

// MTNClient talks to the MTN MoMo disbursement product: token exchange,
// transfer initiation under an X-Reference-Id, then a status read on the
// same reference.
type MTNClient struct {
	cfg        config.MTNConfig
	httpClient *http.Client
	log        *zap.Logger
}

func NewMTNClient(cfg config.MTNConfig, log *zap.Logger) *MTNClient {
	return &MTNClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func (c *MTNClient) CoversRegion(countryCode string) bool {
	return c.cfg.CoversRegion(countryCode)
}

type MTNTransferRequest struct {
	RegionCode   string
	ReferenceID  string
	ExternalID   string
	MSISDN       string
	AmountMinor  int64
	Currency     string
	PayerMessage string
	PayeeNote    string
}

type MTNTransferStatus struct {
	Status                 string
	FinancialTransactionID string
	ReferenceID            string
	Reason                 string
}

type mtnTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type mtnTransferBody struct {
	Amount       string   `json:"amount"`
	Currency     string   `json:"currency"`
	ExternalID   string   `json:"externalId"`
	Payee        mtnPayee `json:"payee"`
	PayerMessage string   `json:"payerMessage"`
	PayeeNote    string   `json:"payeeNote"`
}

type mtnPayee struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type mtnStatusResponse struct {
	Status                 string          `json:"status"`
	FinancialTransactionID string          `json:"financialTransactionId"`
	Reason                 json.RawMessage `json:"reason"`
}

// CreateDisbursementTransfer initiates the transfer and reads back its
// status. The status call is what decides SUCCESSFUL/PENDING/FAILED; the
// initiation endpoint only acknowledges with 202.
func (c *MTNClient) CreateDisbursementTransfer(ctx context.Context, req MTNTransferRequest) (MTNTransferStatus, error) {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return MTNTransferStatus{}, fmt.Errorf("mtn token: %w", err)
	}

	body, err := json.Marshal(mtnTransferBody{
		Amount:       money.FormatMinor(req.AmountMinor),
		Currency:     req.Currency,
		ExternalID:   req.ExternalID,
		Payee:        mtnPayee{PartyIDType: "MSISDN", PartyID: req.MSISDN},
		PayerMessage: req.PayerMessage,
		PayeeNote:    req.PayeeNote,
	})
	if err != nil {
		return MTNTransferStatus{}, err
	}

	transferReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/disbursement/v1_0/transfer", bytes.NewReader(body))
	if err != nil {
		return MTNTransferStatus{}, err
	}
	c.setCommonHeaders(transferReq, token)
	transferReq.Header.Set("X-Reference-Id", req.ReferenceID)
	transferReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(transferReq)
	if err != nil {
		return MTNTransferStatus{}, fmt.Errorf("mtn transfer request: %w", err)
	}
	drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return MTNTransferStatus{}, fmt.Errorf("mtn transfer rejected with status %d", resp.StatusCode)
	}

	return c.transferStatus(ctx, token, req.ReferenceID)
}

func (c *MTNClient) transferStatus(ctx context.Context, token, referenceID string) (MTNTransferStatus, error) {
	statusReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/disbursement/v1_0/transfer/"+referenceID, nil)
	if err != nil {
		return MTNTransferStatus{}, err
	}
	c.setCommonHeaders(statusReq, token)

	resp, err := c.httpClient.Do(statusReq)
	if err != nil {
		return MTNTransferStatus{}, fmt.Errorf("mtn status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return MTNTransferStatus{}, fmt.Errorf("mtn status read failed with status %d", resp.StatusCode)
	}
	var decoded mtnStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return MTNTransferStatus{}, fmt.Errorf("mtn status decode: %w", err)
	}
	return MTNTransferStatus{
		Status:                 decoded.Status,
		FinancialTransactionID: decoded.FinancialTransactionID,
		ReferenceID:            referenceID,
		Reason:                 flattenReason(decoded.Reason),
	}, nil
}

func (c *MTNClient) fetchToken(ctx context.Context) (string, error) {
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/disbursement/token/", nil)
	if err != nil {
		return "", err
	}
	tokenReq.SetBasicAuth(c.cfg.APIUser, c.cfg.APIKey)
	tokenReq.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)

	resp, err := c.httpClient.Do(tokenReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	var decoded mtnTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return decoded.AccessToken, nil
}

func (c *MTNClient) setCommonHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", c.cfg.TargetEnv)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
}

// flattenReason handles MTN returning reason as either a bare string or an
// object with code/message fields.
func flattenReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return strings.TrimSpace(strings.TrimPrefix(asObject.Code+": "+asObject.Message, ": "))
	}
	return string(raw)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
