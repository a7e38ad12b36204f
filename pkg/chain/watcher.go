package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/memegrave/gravepool/internal/metrics"
)

// Handler receives decoded contract events. Delivery is at least once:
// the watcher re-scans a lookback window on startup and handlers must
// tolerate replays.
type Handler interface {
	HandleDeposit(ctx context.Context, ev *DepositedEvent) error
	HandleDrawRequested(ctx context.Context, ev *DrawRequestedEvent) error
	HandleWinnerPicked(ctx context.Context, ev *WinnerPickedEvent) error
	HandleRandomness(ctx context.Context, ev *RandomnessEvent) error
}

// WatchEvents polls for pool and coordinator logs and dispatches them to
// the handler. It blocks until ctx is canceled. Only blocks at least
// confirmation_blocks deep are scanned.
func (c *Client) WatchEvents(ctx context.Context, handler Handler) error {
	latest, err := c.GetLatestBlockNumber(ctx)
	if err != nil {
		return err
	}

	fromBlock := uint64(c.config.StartBlock)
	if lookback := uint64(c.config.LookbackBlocks); lookback > 0 && latest > lookback {
		if latest-lookback > fromBlock {
			fromBlock = latest - lookback
		}
	}

	c.logger.Info("Starting contract event poller",
		zap.Uint64("from_block", fromBlock),
		zap.Duration("interval", c.config.PollingInterval))

	addresses := []common.Address{c.poolAddress}
	if c.vrfAddress != (common.Address{}) {
		addresses = append(addresses, c.vrfAddress)
	}

	currentBlock := fromBlock
	ticker := time.NewTicker(c.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			latest, err := c.GetLatestBlockNumber(ctx)
			if err != nil {
				c.logger.Warn("Failed to get latest block", zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("chain_watcher", "rpc").Inc()
				continue
			}

			confirmed := latest
			if depth := uint64(c.config.ConfirmationBlocks); depth > 0 && latest > depth {
				confirmed = latest - depth
			}
			if confirmed < currentBlock {
				continue
			}

			query := ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(currentBlock),
				ToBlock:   new(big.Int).SetUint64(confirmed),
				Addresses: addresses,
			}
			logs, err := c.client.FilterLogs(ctx, query)
			if err != nil {
				c.logger.Warn("Failed to filter logs", zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("chain_watcher", "rpc").Inc()
				continue
			}

			for i := range logs {
				c.dispatch(ctx, handler, &logs[i])
			}

			currentBlock = confirmed + 1
			metrics.LastProcessedBlock.Set(float64(confirmed))
		}
	}
}

func (c *Client) dispatch(ctx context.Context, handler Handler, lg *types.Log) {
	if len(lg.Topics) == 0 || lg.Removed {
		return
	}
	topic := lg.Topics[0]

	var err error
	switch {
	case lg.Address == c.poolAddress && topic == c.poolABI.Events["Deposited"].ID:
		var raw depositedRaw
		if err = c.pool.UnpackLog(&raw, "Deposited", *lg); err == nil {
			metrics.EventsDetected.WithLabelValues("Deposited").Inc()
			err = handler.HandleDeposit(ctx, &DepositedEvent{
				User:        raw.User,
				Token:       raw.Token,
				Amount:      raw.Amount,
				USDScaled:   raw.UsdScaled,
				TxHash:      lg.TxHash,
				BlockNumber: lg.BlockNumber,
				LogIndex:    lg.Index,
			})
		}

	case lg.Address == c.poolAddress && topic == c.poolABI.Events["DrawRequested"].ID:
		var raw drawRequestedRaw
		if err = c.pool.UnpackLog(&raw, "DrawRequested", *lg); err == nil {
			metrics.EventsDetected.WithLabelValues("DrawRequested").Inc()
			err = handler.HandleDrawRequested(ctx, &DrawRequestedEvent{
				RequestID:   raw.RequestId,
				TxHash:      lg.TxHash,
				BlockNumber: lg.BlockNumber,
			})
		}

	case lg.Address == c.poolAddress && topic == c.poolABI.Events["WinnerPicked"].ID:
		var raw winnerPickedRaw
		if err = c.pool.UnpackLog(&raw, "WinnerPicked", *lg); err == nil {
			metrics.EventsDetected.WithLabelValues("WinnerPicked").Inc()
			err = handler.HandleWinnerPicked(ctx, &WinnerPickedEvent{
				Winner:      raw.Winner,
				EntryIndex:  raw.EntryIndex,
				Timestamp:   raw.Timestamp,
				TxHash:      lg.TxHash,
				BlockNumber: lg.BlockNumber,
			})
		}

	case lg.Address == c.vrfAddress && topic == c.vrfABI.Events["RandomWordsFulfilled"].ID:
		var raw randomWordsFulfilledRaw
		if err = c.vrf.UnpackLog(&raw, "RandomWordsFulfilled", *lg); err == nil {
			metrics.EventsDetected.WithLabelValues("RandomWordsFulfilled").Inc()
			err = handler.HandleRandomness(ctx, &RandomnessEvent{
				RequestID:   raw.RequestId,
				OutputSeed:  raw.OutputSeed,
				Success:     raw.Success,
				TxHash:      lg.TxHash,
				BlockNumber: lg.BlockNumber,
			})
		}

	default:
		return
	}

	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("chain_watcher", "handler").Inc()
		c.logger.Error("Failed to handle contract event",
			zap.Error(err),
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Uint64("block", lg.BlockNumber))
	}
}
