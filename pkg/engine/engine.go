// Package engine wires the chain watcher, the ingestor and the draw
// coordinator into one long-running process.
package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memegrave/gravepool/internal/metrics"
	"github.com/memegrave/gravepool/pkg/chain"
	"github.com/memegrave/gravepool/pkg/config"
	"github.com/memegrave/gravepool/pkg/draw"
	"github.com/memegrave/gravepool/pkg/ingest"
	"github.com/memegrave/gravepool/pkg/ledger"
)

// poolMetricsInterval is how often the pool balance gauges are refreshed.
const poolMetricsInterval = time.Minute

// Store is the slice of the ledger store the engine needs.
type Store interface {
	Stats(ctx context.Context) (*ledger.Stats, error)
}

// Ingestor records chain-observed deposits.
type Ingestor interface {
	IngestChainDeposit(ctx context.Context, ev *ingest.ChainDeposit) (ledger.DepositResult, error)
}

// Engine runs the background side of the pool: event watching, draw
// expiry and metric refresh. The HTTP API runs separately.
type Engine struct {
	client      *chain.Client
	store       Store
	ingestor    Ingestor
	coordinator *draw.Coordinator
	drawCfg     *config.DrawConfig
	logger      *zap.Logger
}

// New creates an Engine. client may be nil when the chain side is not
// configured; the engine then only runs the expiry and metrics loops.
func New(client *chain.Client, store Store, ingestor Ingestor, coordinator *draw.Coordinator, drawCfg *config.DrawConfig, logger *zap.Logger) *Engine {
	return &Engine{
		client:      client,
		store:       store,
		ingestor:    ingestor,
		coordinator: coordinator,
		drawCfg:     drawCfg,
		logger:      logger,
	}
}

// Run recovers pending draws and blocks running the engine loops until ctx
// is canceled or a loop fails.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.coordinator.Recover(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	if e.client != nil {
		go func() {
			errCh <- e.client.WatchEvents(ctx, e)
		}()
	} else {
		e.logger.Warn("Chain watching disabled, running in ledger-only mode")
	}

	go func() {
		errCh <- e.coordinator.Run(ctx, e.drawCfg.ExpiryInterval)
	}()

	go func() {
		errCh <- e.refreshPoolMetrics(ctx)
	}()

	err := <-errCh
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleDeposit records a Deposited contract event. Duplicate deliveries
// collapse in the store.
func (e *Engine) HandleDeposit(ctx context.Context, ev *chain.DepositedEvent) error {
	_, err := e.ingestor.IngestChainDeposit(ctx, &ingest.ChainDeposit{
		TxHash:       ev.TxHash.Hex(),
		BlockNumber:  int64(ev.BlockNumber),
		UserWallet:   ev.User.Hex(),
		TokenAddress: ev.Token.Hex(),
		TokenAmount:  ev.Amount,
		USDScaled:    ev.USDScaled,
	})
	return err
}

// HandleDrawRequested acknowledges draw requests observed on chain.
func (e *Engine) HandleDrawRequested(ctx context.Context, ev *chain.DrawRequestedEvent) error {
	return e.coordinator.ObserveRequest(ctx, ev.RequestID.String())
}

// HandleWinnerPicked settles a draw decided on chain against the pending
// request markers.
func (e *Engine) HandleWinnerPicked(ctx context.Context, ev *chain.WinnerPickedEvent) error {
	entryIndex := int64(-1)
	if ev.EntryIndex != nil && ev.EntryIndex.IsInt64() {
		entryIndex = ev.EntryIndex.Int64()
	}
	return e.coordinator.CompleteFromChain(ctx,
		strings.ToLower(ev.Winner.Hex()),
		entryIndex,
		strings.ToLower(ev.TxHash.Hex()),
	)
}

// HandleRandomness routes coordinator randomness into draw fulfillment.
func (e *Engine) HandleRandomness(ctx context.Context, ev *chain.RandomnessEvent) error {
	requestID := ev.RequestID.String()
	if !ev.Success {
		e.logger.Warn("Randomness fulfillment reported failure on chain",
			zap.String("request_id", requestID))
		return nil
	}

	err := e.coordinator.Fulfill(ctx, requestID, ev.OutputSeed)
	if errors.Is(err, draw.ErrUnknownRequest) {
		// Replays of already-finished draws land here; nothing to do.
		e.logger.Debug("Randomness for unknown draw request ignored",
			zap.String("request_id", requestID))
		return nil
	}
	return err
}

func (e *Engine) refreshPoolMetrics(ctx context.Context) error {
	ticker := time.NewTicker(poolMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := e.store.Stats(ctx)
			if err != nil {
				e.logger.Warn("Failed to refresh pool metrics", zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("engine", "stats").Inc()
				continue
			}
			for token, pb := range stats.Pools {
				metrics.PoolBalance.WithLabelValues(token, "prize").Set(approx(pb.Prize))
				metrics.PoolBalance.WithLabelValues(token, "ecosystem").Set(approx(pb.Ecosystem))
				metrics.PoolBalance.WithLabelValues(token, "developer").Set(approx(pb.Developer))
				metrics.PoolBalance.WithLabelValues(token, "revival").Set(approx(pb.Revival))
			}
		}
	}
}

// approx converts a pool balance for gauge export; precision loss is fine
// for monitoring.
func approx(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
