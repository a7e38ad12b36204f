// Package ingest normalizes deposit deliveries from both channels, the
// partner webhook and the chain watcher, into ledger records. It performs
// shape validation only; duplicate suppression lives in the store.
package ingest

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/memegrave/gravepool/internal/metrics"
	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	"github.com/memegrave/gravepool/pkg/ledger"
)

var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Store is the slice of the ledger store the ingestor needs.
type Store interface {
	RecordDeposit(ctx context.Context, in *ledger.DepositInput) (ledger.DepositResult, error)
}

// WebhookPayload is the JSON body accepted by POST /webhooks/deposit.
type WebhookPayload struct {
	TxHash       string `json:"txHash" validate:"required,eth_tx_hash"`
	UserWallet   string `json:"userWallet" validate:"required,eth_addr"`
	TokenAddress string `json:"tokenAddress" validate:"required,eth_addr"`
	TokenAmount  string `json:"tokenAmount" validate:"required"`
	UsdValue     string `json:"usdValue,omitempty"`
	BlockNumber  *int64 `json:"blockNumber,omitempty"`
}

// ChainDeposit is a decoded Deposited contract event. USDScaled carries
// the event's usdScaled value, nil when the contract reported none.
type ChainDeposit struct {
	TxHash       string
	BlockNumber  int64
	UserWallet   string
	TokenAddress string
	TokenAmount  *big.Int
	USDScaled    *big.Int
}

// Ingestor validates and records deposits.
type Ingestor struct {
	store    Store
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates an Ingestor with the tx hash validation registered.
func New(store Store, logger *zap.Logger) (*Ingestor, error) {
	v := validator.New()
	err := v.RegisterValidation("eth_tx_hash", func(fl validator.FieldLevel) bool {
		return txHashRe.MatchString(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register tx hash validation: %w", err)
	}
	return &Ingestor{store: store, validate: v, logger: logger}, nil
}

// IngestWebhook records a webhook-delivered deposit.
func (i *Ingestor) IngestWebhook(ctx context.Context, p *WebhookPayload) (ledger.DepositResult, error) {
	if err := i.validate.Struct(p); err != nil {
		metrics.DepositsTotal.WithLabelValues(string(ledger.SourceWebhook), "invalid").Inc()
		return ledger.DepositResult{}, apperrors.BadRequestError(err, "invalid deposit payload")
	}

	amount, ok := new(big.Int).SetString(p.TokenAmount, 10)
	if !ok || amount.Sign() <= 0 {
		metrics.DepositsTotal.WithLabelValues(string(ledger.SourceWebhook), "invalid").Inc()
		return ledger.DepositResult{}, apperrors.BadRequestError(nil, "tokenAmount must be a positive integer")
	}

	in := &ledger.DepositInput{
		TxHash:       strings.ToLower(p.TxHash),
		BlockNumber:  p.BlockNumber,
		UserWallet:   strings.ToLower(p.UserWallet),
		TokenAddress: strings.ToLower(p.TokenAddress),
		TokenAmount:  amount,
		Source:       ledger.SourceWebhook,
	}

	if p.UsdValue != "" {
		usd, err := decimal.NewFromString(p.UsdValue)
		if err != nil || usd.IsNegative() {
			metrics.DepositsTotal.WithLabelValues(string(ledger.SourceWebhook), "invalid").Inc()
			return ledger.DepositResult{}, apperrors.BadRequestError(err, "usdValue must be a non-negative decimal")
		}
		in.USDScaled = usd.Shift(ledger.USDScale).BigInt()
	}

	return i.record(ctx, in)
}

// IngestChainDeposit records a deposit observed by the chain watcher.
func (i *Ingestor) IngestChainDeposit(ctx context.Context, ev *ChainDeposit) (ledger.DepositResult, error) {
	if !txHashRe.MatchString(ev.TxHash) {
		metrics.DepositsTotal.WithLabelValues(string(ledger.SourceChain), "invalid").Inc()
		return ledger.DepositResult{}, apperrors.BadRequestError(nil, "invalid transaction hash")
	}
	if ev.TokenAmount == nil || ev.TokenAmount.Sign() <= 0 {
		metrics.DepositsTotal.WithLabelValues(string(ledger.SourceChain), "invalid").Inc()
		return ledger.DepositResult{}, apperrors.BadRequestError(nil, "deposit amount must be positive")
	}

	block := ev.BlockNumber
	in := &ledger.DepositInput{
		TxHash:       strings.ToLower(ev.TxHash),
		BlockNumber:  &block,
		UserWallet:   strings.ToLower(ev.UserWallet),
		TokenAddress: strings.ToLower(ev.TokenAddress),
		TokenAmount:  ev.TokenAmount,
		USDScaled:    ev.USDScaled,
		Source:       ledger.SourceChain,
	}
	return i.record(ctx, in)
}

func (i *Ingestor) record(ctx context.Context, in *ledger.DepositInput) (ledger.DepositResult, error) {
	correlationID := uuid.NewString()
	logger := i.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("tx_hash", in.TxHash),
		zap.String("token", in.TokenAddress),
		zap.String("source", string(in.Source)),
	)

	res, err := i.store.RecordDeposit(ctx, in)
	if err != nil {
		metrics.DepositsTotal.WithLabelValues(string(in.Source), "error").Inc()
		logger.Error("Failed to record deposit", zap.Error(err))
		return ledger.DepositResult{}, apperrors.GeneralError(err)
	}

	if !res.Created {
		metrics.DuplicateDeposits.WithLabelValues(string(in.Source)).Inc()
		logger.Debug("Duplicate deposit delivery ignored", zap.Int64("deposit_id", res.DepositID))
		return res, nil
	}

	metrics.DepositsTotal.WithLabelValues(string(in.Source), "recorded").Inc()
	logger.Info("Deposit recorded",
		zap.Int64("deposit_id", res.DepositID),
		zap.Int64("entry_id", res.EntryID),
		zap.String("amount", in.TokenAmount.String()),
	)
	return res, nil
}
