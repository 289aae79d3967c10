package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"payouts/internal/models"

	"go.uber.org/zap"
)

var (
	ErrProviderNotConfigured = errors.New("no configured MoMo payout provider for this wallet")
	ErrUnsupportedProvider   = errors.New("unsupported provider")
	ErrTransferFailed        = errors.New("transfer failed")
)

type TransferRequest struct {
	PayoutID    string
	Wallet      models.Wallet
	AmountMinor int64
	Currency    string
	Narration   string
}

type Result struct {
	Reference string
}

// Provider is one concrete payout rail. The set is closed: momo via MTN
// disbursement, momo via Flutterwave transfer, and the auto-settled rails
// where the provider's own split handles settlement.
type Provider interface {
	Name() string
	Dispatch(ctx context.Context, req TransferRequest) (Result, error)
}

// Dispatcher routes a payout to the rail matching the wallet's provider.
type Dispatcher struct {
	mtn         *MTNClient
	flutterwave *FlutterwaveClient
	log         *zap.Logger
}

func NewDispatcher(mtn *MTNClient, flutterwave *FlutterwaveClient, log *zap.Logger) *Dispatcher {
	return &Dispatcher{mtn: mtn, flutterwave: flutterwave, log: log}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req TransferRequest) (Result, error) {
	rail, err := d.railFor(req.Wallet)
	if err != nil {
		return Result{}, err
	}
	d.log.Info("dispatching payout",
		zap.String("payout_id", req.PayoutID),
		zap.String("wallet_id", req.Wallet.ID),
		zap.String("rail", rail.Name()))
	return rail.Dispatch(ctx, req)
}

func (d *Dispatcher) railFor(wallet models.Wallet) (Provider, error) {
	switch wallet.Provider {
	case models.ProviderMomo:
		network := ""
		if wallet.MomoNetwork != nil {
			network = strings.ToUpper(*wallet.MomoNetwork)
		}
		if network == "MTN" && d.mtn != nil && d.mtn.CoversRegion(wallet.CountryCode) {
			return &mtnMomoRail{client: d.mtn}, nil
		}
		if d.flutterwave != nil {
			return &flutterwaveMomoRail{client: d.flutterwave}, nil
		}
		return nil, ErrProviderNotConfigured
	case models.ProviderFlutterwave, models.ProviderStripe, models.ProviderPaystack, models.ProviderPayPal:
		// Settlement happens through the provider's own subaccount or
		// connected-account split at transaction time; confirmation only.
		return autoSettledRail{provider: wallet.Provider}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, wallet.Provider)
	}
}

type autoSettledRail struct {
	provider string
}

func (r autoSettledRail) Name() string {
	return r.provider + "-auto"
}

func (r autoSettledRail) Dispatch(_ context.Context, req TransferRequest) (Result, error) {
	return Result{Reference: fmt.Sprintf("auto-%s-%s", r.provider, req.PayoutID)}, nil
}

type mtnMomoRail struct {
	client *MTNClient
}

func (r *mtnMomoRail) Name() string {
	return "momo-mtn"
}

func (r *mtnMomoRail) Dispatch(ctx context.Context, req TransferRequest) (Result, error) {
	msisdn := ""
	if req.Wallet.MomoNumber != nil {
		msisdn = *req.Wallet.MomoNumber
	}
	status, err := r.client.CreateDisbursementTransfer(ctx, MTNTransferRequest{
		RegionCode:   req.Wallet.CountryCode,
		ReferenceID:  req.PayoutID,
		ExternalID:   req.PayoutID,
		MSISDN:       msisdn,
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
		PayerMessage: req.Narration,
		PayeeNote:    req.Narration,
	})
	if err != nil {
		return Result{}, err
	}
	// PENDING settles asynchronously on MTN's side; both count as dispatched.
	if status.Status != "SUCCESSFUL" && status.Status != "PENDING" {
		return Result{}, fmt.Errorf("%w: mtn disbursement %s: %s", ErrTransferFailed, status.Status, status.Reason)
	}
	reference := status.FinancialTransactionID
	if reference == "" {
		reference = status.ReferenceID
	}
	return Result{Reference: reference}, nil
}

type flutterwaveMomoRail struct {
	client *FlutterwaveClient
}

func (r *flutterwaveMomoRail) Name() string {
	return "momo-flutterwave"
}

func (r *flutterwaveMomoRail) Dispatch(ctx context.Context, req TransferRequest) (Result, error) {
	phone := ""
	if req.Wallet.MomoNumber != nil {
		phone = *req.Wallet.MomoNumber
	}
	network := ""
	if req.Wallet.MomoNetwork != nil {
		network = strings.ToUpper(*req.Wallet.MomoNetwork)
	}
	beneficiary := ""
	if req.Wallet.BeneficiaryName != nil {
		beneficiary = *req.Wallet.BeneficiaryName
	}
	transfer, err := r.client.CreateMomoTransfer(ctx, FlutterwaveTransferRequest{
		Reference:       req.PayoutID,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		PhoneNumber:     phone,
		Network:         network,
		BeneficiaryName: beneficiary,
		Narration:       req.Narration,
	})
	if err != nil {
		return Result{}, err
	}
	if transfer.Status != "success" {
		return Result{}, fmt.Errorf("%w: flutterwave transfer: %s", ErrTransferFailed, transfer.Message)
	}
	return Result{Reference: fmt.Sprintf("%d", transfer.TransferID)}, nil
}
