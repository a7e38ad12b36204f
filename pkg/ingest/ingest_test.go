package ingest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	"github.com/memegrave/gravepool/pkg/ledger"
)

type fakeStore struct {
	last   *ledger.DepositInput
	result ledger.DepositResult
	err    error
	calls  int
}

func (f *fakeStore) RecordDeposit(_ context.Context, in *ledger.DepositInput) (ledger.DepositResult, error) {
	f.calls++
	f.last = in
	return f.result, f.err
}

func validPayload() *WebhookPayload {
	return &WebhookPayload{
		TxHash:       "0xAbCd000000000000000000000000000000000000000000000000000000000001",
		UserWallet:   "0x52908400098527886E0F7030069857D2E4169EE7",
		TokenAddress: "0x8617E340B3D01FA5F11F306F4090FD50E238070D",
		TokenAmount:  "10",
		UsdValue:     "12.5",
	}
}

func newIngestor(t *testing.T, store Store) *Ingestor {
	t.Helper()
	ing, err := New(store, zap.NewNop())
	require.NoError(t, err)
	return ing
}

func TestIngestWebhook_Normalizes(t *testing.T) {
	store := &fakeStore{result: ledger.DepositResult{Created: true, DepositID: 1, EntryID: 1}}
	ing := newIngestor(t, store)

	res, err := ing.IngestWebhook(context.Background(), validPayload())
	require.NoError(t, err)
	assert.True(t, res.Created)

	require.NotNil(t, store.last)
	assert.Equal(t, "0xabcd000000000000000000000000000000000000000000000000000000000001", store.last.TxHash)
	assert.Equal(t, "0x52908400098527886e0f7030069857d2e4169ee7", store.last.UserWallet)
	assert.Equal(t, "0x8617e340b3d01fa5f11f306f4090fd50e238070d", store.last.TokenAddress)
	assert.Equal(t, ledger.SourceWebhook, store.last.Source)
	assert.Zero(t, store.last.TokenAmount.Cmp(big.NewInt(10)))
	// 12.5 USD at 1e8 scale
	assert.Zero(t, store.last.USDScaled.Cmp(big.NewInt(1_250_000_000)))
}

func TestIngestWebhook_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WebhookPayload)
	}{
		{"missing tx hash", func(p *WebhookPayload) { p.TxHash = "" }},
		{"short tx hash", func(p *WebhookPayload) { p.TxHash = "0x1234" }},
		{"bad wallet", func(p *WebhookPayload) { p.UserWallet = "not-an-address" }},
		{"bad token", func(p *WebhookPayload) { p.TokenAddress = "0x123" }},
		{"missing amount", func(p *WebhookPayload) { p.TokenAmount = "" }},
		{"zero amount", func(p *WebhookPayload) { p.TokenAmount = "0" }},
		{"negative amount", func(p *WebhookPayload) { p.TokenAmount = "-5" }},
		{"non-numeric amount", func(p *WebhookPayload) { p.TokenAmount = "ten" }},
		{"decimal amount", func(p *WebhookPayload) { p.TokenAmount = "1.5" }},
		{"bad usd", func(p *WebhookPayload) { p.UsdValue = "abc" }},
		{"negative usd", func(p *WebhookPayload) { p.UsdValue = "-1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			ing := newIngestor(t, store)

			p := validPayload()
			tt.mutate(p)

			_, err := ing.IngestWebhook(context.Background(), p)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.CategoryDataError), "expected validation error, got %v", err)
			assert.Zero(t, store.calls, "store must not be touched on invalid input")
		})
	}
}

func TestIngestWebhook_DuplicateIsNotAnError(t *testing.T) {
	store := &fakeStore{result: ledger.DepositResult{Created: false, DepositID: 3}}
	ing := newIngestor(t, store)

	res, err := ing.IngestWebhook(context.Background(), validPayload())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(3), res.DepositID)
}

func TestIngestWebhook_StoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	ing := newIngestor(t, store)

	_, err := ing.IngestWebhook(context.Background(), validPayload())
	require.Error(t, err)
	assert.True(t, apperrors.IsInternalError(err))
}

func TestIngestChainDeposit(t *testing.T) {
	store := &fakeStore{result: ledger.DepositResult{Created: true, DepositID: 1, EntryID: 1}}
	ing := newIngestor(t, store)

	ev := &ChainDeposit{
		TxHash:       "0xABCD000000000000000000000000000000000000000000000000000000000002",
		BlockNumber:  120,
		UserWallet:   "0x52908400098527886E0F7030069857D2E4169EE7",
		TokenAddress: "0x8617E340B3D01FA5F11F306F4090FD50E238070D",
		TokenAmount:  big.NewInt(20),
		USDScaled:    big.NewInt(2_500_000_000),
	}
	res, err := ing.IngestChainDeposit(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Created)

	require.NotNil(t, store.last)
	assert.Equal(t, ledger.SourceChain, store.last.Source)
	require.NotNil(t, store.last.BlockNumber)
	assert.Equal(t, int64(120), *store.last.BlockNumber)
	require.NotNil(t, store.last.USDScaled)
	assert.Zero(t, store.last.USDScaled.Cmp(big.NewInt(2_500_000_000)))
}

func TestIngestChainDeposit_Invalid(t *testing.T) {
	store := &fakeStore{}
	ing := newIngestor(t, store)

	_, err := ing.IngestChainDeposit(context.Background(), &ChainDeposit{
		TxHash:      "nope",
		TokenAmount: big.NewInt(1),
	})
	require.Error(t, err)

	_, err = ing.IngestChainDeposit(context.Background(), &ChainDeposit{
		TxHash:       "0xabcd000000000000000000000000000000000000000000000000000000000002",
		UserWallet:   "0x52908400098527886e0f7030069857d2e4169ee7",
		TokenAddress: "0x8617e340b3d01fa5f11f306f4090fd50e238070d",
		TokenAmount:  big.NewInt(0),
	})
	require.Error(t, err)
	assert.Zero(t, store.calls)
}
