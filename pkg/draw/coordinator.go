// Package draw runs the two-phase draw protocol: an admin request freezes
// the entry population and asks the oracle for randomness, and the later
// fulfillment picks the winner and resets the token's cycle. Per token at
// most one draw is in flight; the pending marker is durable so a restart
// does not lose a requested draw.
package draw

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memegrave/gravepool/internal/metrics"
	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	"github.com/memegrave/gravepool/pkg/ledger"
	"github.com/memegrave/gravepool/pkg/ledgerstore"
	"github.com/memegrave/gravepool/pkg/oracle"
)

// ErrUnknownRequest marks a fulfillment for a request id with no pending
// marker, usually a replayed delivery for an already-finished draw.
var ErrUnknownRequest = errors.New("unknown draw request")

// Store is the slice of the ledger store the coordinator needs.
type Store interface {
	SnapshotForDraw(ctx context.Context, token string) (*ledger.Snapshot, error)
	SnapshotAt(ctx context.Context, token string, maxEntryID int64) (*ledger.Snapshot, error)
	CreateDrawRequest(ctx context.Context, req *ledger.DrawRequest) error
	GetDrawRequest(ctx context.Context, requestID string) (*ledger.DrawRequest, error)
	ListDrawRequests(ctx context.Context) ([]*ledger.DrawRequest, error)
	DeleteDrawRequest(ctx context.Context, requestID string) error
	Payout(ctx context.Context, p ledgerstore.PayoutParams) (*ledger.Draw, error)
	GetDrawByRequestID(ctx context.Context, requestID string) (*ledger.Draw, error)
	RecordExternalDraw(ctx context.Context, winner string, entryIndex int64, txHash string) error
}

type pendingDraw struct {
	requestID   string
	requestedAt time.Time
}

// Coordinator drives draws for all tokens.
type Coordinator struct {
	store    Store
	oracle   oracle.Oracle
	logger   *zap.Logger
	minPrize *big.Int
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingDraw
}

// New creates a Coordinator. minPrize may be nil for no minimum.
func New(store Store, orc oracle.Oracle, minPrize *big.Int, timeout time.Duration, logger *zap.Logger) *Coordinator {
	if minPrize == nil {
		minPrize = big.NewInt(0)
	}
	return &Coordinator{
		store:    store,
		oracle:   orc,
		logger:   logger,
		minPrize: minPrize,
		timeout:  timeout,
		pending:  make(map[string]*pendingDraw),
	}
}

// Recover reloads pending draw markers after a restart so in-flight draws
// keep rejecting new requests and remain fulfillable.
func (c *Coordinator) Recover(ctx context.Context) error {
	reqs, err := c.store.ListDrawRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover draw requests: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, req := range reqs {
		c.pending[req.TokenAddress] = &pendingDraw{
			requestID:   req.RequestID,
			requestedAt: req.CreatedAt,
		}
		c.logger.Info("Recovered pending draw",
			zap.String("request_id", req.RequestID),
			zap.String("token", req.TokenAddress))
	}
	metrics.PendingDraws.Set(float64(len(c.pending)))
	return nil
}

// RequestDraw starts a draw for the token. It fails when the token has no
// entries, the prize pool is below the minimum, or a draw is already in
// flight.
func (c *Coordinator) RequestDraw(ctx context.Context, token string) (*ledger.DrawRequest, error) {
	token = strings.ToLower(token)

	c.mu.Lock()
	if _, busy := c.pending[token]; busy {
		c.mu.Unlock()
		metrics.DrawsTotal.WithLabelValues("request", "in_progress").Inc()
		return nil, apperrors.ConflictError(nil, "draw already in progress for token")
	}
	// Reserve the token before the slow oracle round trip.
	c.pending[token] = &pendingDraw{requestedAt: time.Now()}
	metrics.PendingDraws.Set(float64(len(c.pending)))
	c.mu.Unlock()

	req, err := c.startDraw(ctx, token)
	if err != nil {
		c.clearPending(token)
		return nil, err
	}
	return req, nil
}

func (c *Coordinator) startDraw(ctx context.Context, token string) (*ledger.DrawRequest, error) {
	snap, err := c.store.SnapshotForDraw(ctx, token)
	if err != nil {
		return nil, apperrors.GeneralError(err)
	}
	if len(snap.Entries) == 0 {
		metrics.DrawsTotal.WithLabelValues("request", "no_entries").Inc()
		return nil, apperrors.ResourceNotFoundError(nil, "no entries for token")
	}
	if snap.PrizePool.Cmp(c.minPrize) < 0 {
		metrics.DrawsTotal.WithLabelValues("request", "below_minimum").Inc()
		return nil, apperrors.ConflictError(nil, "prize pool below minimum")
	}

	requestID, err := c.oracle.Request(ctx, token)
	if err != nil {
		metrics.DrawsTotal.WithLabelValues("request", "oracle_error").Inc()
		return nil, apperrors.UpstreamError(err, "randomness request failed")
	}

	req := &ledger.DrawRequest{
		RequestID:     requestID,
		TokenAddress:  token,
		PrizeSnapshot: snap.PrizePool,
		MaxEntryID:    snap.MaxEntryID(),
		EntryCount:    len(snap.Entries),
		CreatedAt:     time.Now(),
	}
	if err := c.store.CreateDrawRequest(ctx, req); err != nil {
		return nil, apperrors.GeneralError(err)
	}

	c.mu.Lock()
	c.pending[token] = &pendingDraw{requestID: requestID, requestedAt: req.CreatedAt}
	c.mu.Unlock()

	metrics.DrawsTotal.WithLabelValues("request", "ok").Inc()
	c.logger.Info("Draw requested",
		zap.String("request_id", requestID),
		zap.String("token", token),
		zap.Int("entries", req.EntryCount),
		zap.String("prize", req.PrizeSnapshot.String()))
	return req, nil
}

// Fulfill consumes delivered randomness: it picks the winner from the
// frozen entry population and finalizes the payout. Safe to replay; a
// request id that was already paid out resolves to the recorded draw.
func (c *Coordinator) Fulfill(ctx context.Context, requestID string, randomWord *big.Int) error {
	req, err := c.store.GetDrawRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ledgerstore.ErrDrawRequestNotFound) {
			// Replayed fulfillments resolve to the recorded draw.
			if _, drawErr := c.store.GetDrawByRequestID(ctx, requestID); drawErr == nil {
				c.logger.Debug("Fulfillment replay for completed draw ignored",
					zap.String("request_id", requestID))
				return nil
			} else if !errors.Is(drawErr, ledgerstore.ErrDrawNotFound) {
				return drawErr
			}
			return ErrUnknownRequest
		}
		return fmt.Errorf("failed to load draw request: %w", err)
	}

	snap, err := c.store.SnapshotAt(ctx, req.TokenAddress, req.MaxEntryID)
	if err != nil {
		return fmt.Errorf("failed to load draw snapshot: %w", err)
	}
	if len(snap.Entries) == 0 {
		// Entries were cleared underneath the marker, nothing to pay.
		c.logger.Warn("Draw request has no entries, abandoning",
			zap.String("request_id", requestID))
		if err := c.store.DeleteDrawRequest(ctx, requestID); err != nil {
			return err
		}
		c.clearPending(req.TokenAddress)
		return nil
	}

	idx := new(big.Int).Mod(randomWord, big.NewInt(int64(len(snap.Entries)))).Int64()
	winner := snap.Entries[idx]

	drawRec, err := c.store.Payout(ctx, ledgerstore.PayoutParams{
		RequestID:        requestID,
		TokenAddress:     req.TokenAddress,
		WinnerWallet:     winner.UserWallet,
		WinnerEntryIndex: idx,
		RandomSeed:       randomWord,
	})
	if err != nil {
		metrics.DrawsTotal.WithLabelValues("fulfill", "error").Inc()
		return fmt.Errorf("payout failed: %w", err)
	}

	c.clearPending(req.TokenAddress)
	metrics.DrawsTotal.WithLabelValues("fulfill", "ok").Inc()
	metrics.DrawFulfillDuration.Observe(time.Since(req.CreatedAt).Seconds())
	c.logger.Info("Draw fulfilled",
		zap.String("request_id", requestID),
		zap.String("token", req.TokenAddress),
		zap.String("winner", drawRec.WinnerWallet),
		zap.Int64("winner_index", idx),
		zap.String("prize_paid", drawRec.PrizeAmountPaid.String()))
	return nil
}

// ObserveRequest acknowledges a DrawRequested event. The event carries no
// token, so a request id with no local marker cannot be mirrored; it is
// logged and left to the chain to fulfill.
func (c *Coordinator) ObserveRequest(ctx context.Context, requestID string) error {
	_, err := c.store.GetDrawRequest(ctx, requestID)
	if err == nil {
		c.logger.Debug("Draw request confirmed on chain", zap.String("request_id", requestID))
		return nil
	}
	if !errors.Is(err, ledgerstore.ErrDrawRequestNotFound) {
		return err
	}
	c.logger.Warn("Observed on-chain draw request with no local marker",
		zap.String("request_id", requestID))
	return nil
}

// CompleteFromChain resolves a WinnerPicked event. The event names only the
// winner and its entry index, so the draw is matched against the pending
// request markers: the marker whose frozen entry population has the winner
// at that index is paid out (idempotent on the request id). An event
// matching no marker is mirrored as a bare draw row keyed by its tx hash,
// touching no pools or entries.
func (c *Coordinator) CompleteFromChain(ctx context.Context, winner string, entryIndex int64, txHash string) error {
	winner = strings.ToLower(winner)

	reqs, err := c.store.ListDrawRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to list draw requests: %w", err)
	}

	var matched *ledger.DrawRequest
	for _, req := range reqs {
		snap, err := c.store.SnapshotAt(ctx, req.TokenAddress, req.MaxEntryID)
		if err != nil {
			return fmt.Errorf("failed to load draw snapshot: %w", err)
		}
		if entryIndex < 0 || entryIndex >= int64(len(snap.Entries)) {
			continue
		}
		if strings.ToLower(snap.Entries[entryIndex].UserWallet) != winner {
			continue
		}
		if matched != nil {
			// Two markers claim the same winner position; refuse to guess.
			c.logger.Error("Ambiguous WinnerPicked event, mirroring without payout",
				zap.String("winner", winner),
				zap.Int64("entry_index", entryIndex),
				zap.String("tx_hash", txHash))
			matched = nil
			break
		}
		matched = req
	}

	if matched == nil {
		metrics.DrawsTotal.WithLabelValues("external", "mirrored").Inc()
		return c.store.RecordExternalDraw(ctx, winner, entryIndex, txHash)
	}

	drawRec, err := c.store.Payout(ctx, ledgerstore.PayoutParams{
		RequestID:        matched.RequestID,
		TokenAddress:     matched.TokenAddress,
		WinnerWallet:     winner,
		WinnerEntryIndex: entryIndex,
		SourceTxHash:     txHash,
	})
	if err != nil {
		metrics.DrawsTotal.WithLabelValues("external", "error").Inc()
		return fmt.Errorf("payout failed: %w", err)
	}

	c.clearPending(matched.TokenAddress)
	metrics.DrawsTotal.WithLabelValues("external", "ok").Inc()
	c.logger.Info("Draw completed on chain",
		zap.String("request_id", matched.RequestID),
		zap.String("token", matched.TokenAddress),
		zap.String("winner", drawRec.WinnerWallet),
		zap.String("prize_paid", drawRec.PrizeAmountPaid.String()))
	return nil
}

// Reset abandons the token's pending draw, if any. Entries and pools stay
// untouched; the token simply becomes requestable again.
func (c *Coordinator) Reset(ctx context.Context, token string) error {
	token = strings.ToLower(token)

	reqs, err := c.store.ListDrawRequests(ctx)
	if err != nil {
		return apperrors.GeneralError(err)
	}
	found := false
	for _, req := range reqs {
		if req.TokenAddress != token {
			continue
		}
		if err := c.store.DeleteDrawRequest(ctx, req.RequestID); err != nil {
			return apperrors.GeneralError(err)
		}
		found = true
		c.logger.Warn("Draw request abandoned",
			zap.String("request_id", req.RequestID),
			zap.String("token", token))
	}

	c.mu.Lock()
	if _, ok := c.pending[token]; ok {
		delete(c.pending, token)
		found = true
	}
	metrics.PendingDraws.Set(float64(len(c.pending)))
	c.mu.Unlock()

	if !found {
		return apperrors.ResourceNotFoundError(nil, "no pending draw for token")
	}
	metrics.DrawsTotal.WithLabelValues("reset", "ok").Inc()
	return nil
}

// InProgress reports whether the token has a pending draw.
func (c *Coordinator) InProgress(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[strings.ToLower(token)]
	return ok
}

// Run drives the stale-request expiry loop until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.expireStale(ctx)
		}
	}
}

func (c *Coordinator) expireStale(ctx context.Context) {
	if c.timeout <= 0 {
		return
	}

	c.mu.Lock()
	var stale []string
	for token, p := range c.pending {
		if time.Since(p.requestedAt) > c.timeout {
			stale = append(stale, token)
		}
	}
	c.mu.Unlock()

	for _, token := range stale {
		c.logger.Warn("Expiring stale draw request", zap.String("token", token))
		if err := c.Reset(ctx, token); err != nil {
			c.logger.Error("Failed to expire stale draw", zap.String("token", token), zap.Error(err))
		} else {
			metrics.DrawsTotal.WithLabelValues("expire", "ok").Inc()
		}
	}
}

func (c *Coordinator) clearPending(token string) {
	c.mu.Lock()
	delete(c.pending, token)
	metrics.PendingDraws.Set(float64(len(c.pending)))
	c.mu.Unlock()
}
