package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	"github.com/memegrave/gravepool/pkg/config"
	"github.com/memegrave/gravepool/pkg/ingest"
	"github.com/memegrave/gravepool/pkg/ledger"
)

const testToken = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"

type fakeStore struct {
	stats      *ledger.Stats
	entries    []ledger.Entry
	draws      []ledger.Draw
	lastLimit  int
	lastOffset int
}

func (f *fakeStore) Stats(context.Context) (*ledger.Stats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &ledger.Stats{Pools: map[string]ledger.PoolBalances{}}, nil
}

func (f *fakeStore) ListEntries(_ context.Context, limit, offset int) ([]ledger.Entry, error) {
	f.lastLimit = limit
	f.lastOffset = offset
	return f.entries, nil
}

func (f *fakeStore) ListDraws(_ context.Context, limit int) ([]ledger.Draw, error) {
	f.lastLimit = limit
	return f.draws, nil
}

type fakeIngestor struct {
	result ledger.DepositResult
	err    error
	last   *ingest.WebhookPayload
}

func (f *fakeIngestor) IngestWebhook(_ context.Context, p *ingest.WebhookPayload) (ledger.DepositResult, error) {
	f.last = p
	return f.result, f.err
}

type fakeCoordinator struct {
	req      *ledger.DrawRequest
	reqErr   error
	resetErr error
	token    string
}

func (f *fakeCoordinator) RequestDraw(_ context.Context, token string) (*ledger.DrawRequest, error) {
	f.token = token
	return f.req, f.reqErr
}

func (f *fakeCoordinator) Reset(_ context.Context, token string) error {
	f.token = token
	return f.resetErr
}

func newTestServer(t *testing.T, store *fakeStore, ing *fakeIngestor, coord Coordinator) *httptest.Server {
	t.Helper()
	auth := &config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "gravepool-test"}
	h := NewHTTP(store, ing, coord, auth, "test", zap.NewNop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func adminHeader(t *testing.T) string {
	t.Helper()
	token, err := NewAdminToken("test-secret", "gravepool-test", time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, method, url, auth string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, &fakeCoordinator{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "test", body["env"])
}

func TestDepositWebhook(t *testing.T) {
	ing := &fakeIngestor{result: ledger.DepositResult{Created: true, DepositID: 5, EntryID: 9}}
	srv := newTestServer(t, &fakeStore{}, ing, &fakeCoordinator{})

	payload := map[string]string{
		"txHash":       "0xabcd000000000000000000000000000000000000000000000000000000000001",
		"userWallet":   "0x52908400098527886e0f7030069857d2e4169ee7",
		"tokenAddress": testToken,
		"tokenAmount":  "10",
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/webhooks/deposit", "", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, float64(5), body["depositId"])
	require.NotNil(t, ing.last)
	assert.Equal(t, "10", ing.last.TokenAmount)
}

func TestDepositWebhook_ValidationError(t *testing.T) {
	ing := &fakeIngestor{err: apperrors.BadRequestError(nil, "invalid deposit payload")}
	srv := newTestServer(t, &fakeStore{}, ing, &fakeCoordinator{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/webhooks/deposit", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid deposit payload", body["error"])
}

func TestDepositWebhook_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, &fakeCoordinator{})

	resp, err := http.Post(srv.URL+"/webhooks/deposit", "application/json", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEntries_PaginationDefaults(t *testing.T) {
	store := &fakeStore{entries: []ledger.Entry{
		{ID: 2, UserWallet: "0x1", TokenAddress: testToken, Weight: big.NewInt(20)},
		{ID: 1, UserWallet: "0x2", TokenAddress: testToken, Weight: big.NewInt(10)},
	}}
	srv := newTestServer(t, store, &fakeIngestor{}, &fakeCoordinator{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/entries", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, store.lastLimit)
	assert.Equal(t, 0, store.lastOffset)
	assert.Len(t, body["entries"], 2)

	// Explicit paging
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/entries?limit=10&offset=5", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, store.lastLimit)
	assert.Equal(t, 5, store.lastOffset)

	// Cap at 1000
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/entries?limit=99999", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1000, store.lastLimit)
}

func TestEntries_InvalidParams(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, &fakeCoordinator{})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/entries?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/entries?offset=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	store := &fakeStore{stats: &ledger.Stats{
		TotalEntries: 3,
		TotalUSD:     decimal.RequireFromString("42.5"),
		Pools: map[string]ledger.PoolBalances{
			testToken: {
				TokenAddress: testToken,
				Prize:        big.NewInt(15),
				Ecosystem:    big.NewInt(9),
				Developer:    big.NewInt(3),
				Revival:      big.NewInt(3),
			},
		},
	}}
	srv := newTestServer(t, store, &fakeIngestor{}, &fakeCoordinator{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/stats", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["totalEntries"])
	assert.Equal(t, "42.5", body["totalUsd"])

	pools := body["pools"].(map[string]any)
	pool := pools[testToken].(map[string]any)
	assert.Equal(t, "15", pool["prize"])
	assert.Equal(t, "9", pool["ecosystem"])
	assert.Equal(t, "3", pool["developer"])
	assert.Equal(t, "3", pool["revival"])
}

func TestDrawRequest_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, &fakeCoordinator{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/draw/request", "", map[string]string{"token": testToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/draw/request", "Bearer garbage", map[string]string{"token": testToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDrawRequest_WrongSecretRejected(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, &fakeCoordinator{})

	forged, err := NewAdminToken("other-secret", "gravepool-test", time.Minute)
	require.NoError(t, err)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/draw/request", "Bearer "+forged, map[string]string{"token": testToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDrawRequest(t *testing.T) {
	coord := &fakeCoordinator{req: &ledger.DrawRequest{
		RequestID:     "17",
		TokenAddress:  testToken,
		PrizeSnapshot: big.NewInt(15),
		EntryCount:    3,
	}}
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, coord)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/draw/request", adminHeader(t), map[string]string{"token": testToken})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "17", body["requestId"])
	assert.Equal(t, "15", body["prizeSnapshot"])
	assert.Equal(t, testToken, coord.token)
}

func TestDrawRequest_Conflict(t *testing.T) {
	coord := &fakeCoordinator{reqErr: apperrors.ConflictError(nil, "draw already in progress for token")}
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, coord)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/draw/request", adminHeader(t), map[string]string{"token": testToken})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "draw already in progress for token", body["error"])
}

func TestDrawRequest_BadToken(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, &fakeCoordinator{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/draw/request", adminHeader(t), map[string]string{"token": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDrawEndpoints_NotConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/draw/request", adminHeader(t), map[string]string{"token": testToken})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/draw/reset", adminHeader(t), map[string]string{"token": testToken})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDrawReset(t *testing.T) {
	coord := &fakeCoordinator{}
	srv := newTestServer(t, &fakeStore{}, &fakeIngestor{}, coord)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/draw/reset", adminHeader(t), map[string]string{"token": testToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, testToken, coord.token)
}

func TestDraws(t *testing.T) {
	store := &fakeStore{draws: []ledger.Draw{{
		ID:              1,
		TokenAddress:    testToken,
		RequestID:       "17",
		WinnerWallet:    "0x52908400098527886e0f7030069857d2e4169ee7",
		PrizeAmountPaid: big.NewInt(15),
	}}}
	srv := newTestServer(t, store, &fakeIngestor{}, &fakeCoordinator{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/draws", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	draws := body["draws"].([]any)
	require.Len(t, draws, 1)
	d := draws[0].(map[string]any)
	assert.Equal(t, "17", d["requestId"])
	assert.Equal(t, "15", d["prizePaid"])
}
