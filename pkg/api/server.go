// Package api exposes the query and control surface of the pool ledger:
// the deposit webhook, public read endpoints and the admin draw endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	apphttp "github.com/memegrave/gravepool/pkg/app/http"
	"github.com/memegrave/gravepool/pkg/config"
	"github.com/memegrave/gravepool/pkg/ingest"
	"github.com/memegrave/gravepool/pkg/ledger"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 1000
	defaultDrawLimit  = 20
)

// Store is the read side the API serves from.
type Store interface {
	Stats(ctx context.Context) (*ledger.Stats, error)
	ListEntries(ctx context.Context, limit, offset int) ([]ledger.Entry, error)
	ListDraws(ctx context.Context, limit int) ([]ledger.Draw, error)
}

// Ingestor records webhook deposits.
type Ingestor interface {
	IngestWebhook(ctx context.Context, p *ingest.WebhookPayload) (ledger.DepositResult, error)
}

// Coordinator is the draw control surface. Nil when the chain side is not
// configured; draw endpoints then answer 503.
type Coordinator interface {
	RequestDraw(ctx context.Context, token string) (*ledger.DrawRequest, error)
	Reset(ctx context.Context, token string) error
}

// HTTP wires the pool services into chi handlers
type HTTP struct {
	store       Store
	ingestor    Ingestor
	coordinator Coordinator
	auth        *config.AuthConfig
	env         string
	logger      *zap.Logger
}

// NewHTTP creates the handler set.
func NewHTTP(store Store, ingestor Ingestor, coordinator Coordinator, auth *config.AuthConfig, env string, logger *zap.Logger) *HTTP {
	return &HTTP{
		store:       store,
		ingestor:    ingestor,
		coordinator: coordinator,
		auth:        auth,
		env:         env,
		logger:      logger,
	}
}

// Router builds the full API router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", apphttp.HandleError(h.health))
	r.Get("/stats", apphttp.HandleError(h.stats))
	r.Get("/entries", apphttp.HandleError(h.entries))
	r.Get("/draws", apphttp.HandleError(h.draws))
	r.Post("/webhooks/deposit", apphttp.HandleError(h.depositWebhook))

	r.Route("/draw", func(r chi.Router) {
		r.Use(h.adminOnly)
		r.Post("/request", apphttp.HandleError(h.requestDraw))
		r.Post("/reset", apphttp.HandleError(h.resetDraw))
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *HTTP) health(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"env": h.env,
	})
}

func (h *HTTP) depositWebhook(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}

	var payload ingest.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}

	res, err := h.ingestor.IngestWebhook(r.Context(), &payload)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"created":   res.Created,
		"depositId": res.DepositID,
		"entryId":   res.EntryID,
	})
}

func (h *HTTP) stats(w http.ResponseWriter, r *http.Request) error {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		return apperrors.GeneralError(err)
	}

	pools := make(map[string]map[string]string, len(stats.Pools))
	for token, pb := range stats.Pools {
		pools[token] = map[string]string{
			"prize":     pb.Prize.String(),
			"ecosystem": pb.Ecosystem.String(),
			"developer": pb.Developer.String(),
			"revival":   pb.Revival.String(),
		}
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"totalEntries": stats.TotalEntries,
		"totalUsd":     stats.TotalUSD.String(),
		"pools":        pools,
	})
}

type entryResponse struct {
	ID           int64  `json:"id"`
	UserWallet   string `json:"userWallet"`
	TokenAddress string `json:"tokenAddress"`
	Weight       string `json:"weight"`
	CreatedAt    string `json:"createdAt"`
}

func (h *HTTP) entries(w http.ResponseWriter, r *http.Request) error {
	limit, err := queryInt(r, "limit", defaultEntryLimit)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid limit")
	}
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		return apperrors.BadRequestError(err, "invalid offset")
	}

	entries, err := h.store.ListEntries(r.Context(), limit, offset)
	if err != nil {
		return apperrors.GeneralError(err)
	}

	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = entryResponse{
			ID:           e.ID,
			UserWallet:   e.UserWallet,
			TokenAddress: e.TokenAddress,
			Weight:       e.Weight.String(),
			CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"entries": out,
		"limit":   limit,
		"offset":  offset,
	})
}

type drawResponse struct {
	ID           int64  `json:"id"`
	TokenAddress string `json:"tokenAddress"`
	RequestID    string `json:"requestId,omitempty"`
	WinnerWallet string `json:"winnerWallet"`
	PrizePaid    string `json:"prizePaid"`
	CreatedAt    string `json:"createdAt"`
}

func (h *HTTP) draws(w http.ResponseWriter, r *http.Request) error {
	limit, err := queryInt(r, "limit", defaultDrawLimit)
	if err != nil || limit <= 0 {
		limit = defaultDrawLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}

	draws, err := h.store.ListDraws(r.Context(), limit)
	if err != nil {
		return apperrors.GeneralError(err)
	}

	out := make([]drawResponse, len(draws))
	for i, d := range draws {
		out[i] = drawResponse{
			ID:           d.ID,
			TokenAddress: d.TokenAddress,
			RequestID:    d.RequestID,
			WinnerWallet: d.WinnerWallet,
			PrizePaid:    d.PrizeAmountPaid.String(),
			CreatedAt:    d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"draws": out,
	})
}

type drawControlRequest struct {
	Token string `json:"token"`
}

func (h *HTTP) requestDraw(w http.ResponseWriter, r *http.Request) error {
	if h.coordinator == nil {
		return apperrors.NotConfiguredError("draws are not configured")
	}

	req, err := h.decodeDrawControl(r)
	if err != nil {
		return err
	}

	drawReq, err := h.coordinator.RequestDraw(r.Context(), req.Token)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":            true,
		"requestId":     drawReq.RequestID,
		"token":         drawReq.TokenAddress,
		"entries":       drawReq.EntryCount,
		"prizeSnapshot": drawReq.PrizeSnapshot.String(),
	})
}

func (h *HTTP) resetDraw(w http.ResponseWriter, r *http.Request) error {
	if h.coordinator == nil {
		return apperrors.NotConfiguredError("draws are not configured")
	}

	req, err := h.decodeDrawControl(r)
	if err != nil {
		return err
	}

	if err := h.coordinator.Reset(r.Context(), req.Token); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *HTTP) decodeDrawControl(r *http.Request) (*drawControlRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return nil, apperrors.BadRequestError(err, "failed to read request")
	}
	var req drawControlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.BadRequestError(err, "invalid JSON")
	}
	if !addressRe.MatchString(req.Token) {
		return nil, apperrors.BadRequestError(nil, "token must be a hex address")
	}
	return &req, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
