// Package oracle abstracts where draw randomness comes from. Production
// uses the pool contract and its VRF coordinator; development setups can
// run a local oracle that fabricates seeds in process.
package oracle

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memegrave/gravepool/pkg/chain"
)

// Oracle starts a randomness request for a token's draw and returns the
// request id that the eventual fulfillment will carry.
type Oracle interface {
	Request(ctx context.Context, token string) (requestID string, err error)
}

// Fulfiller consumes delivered randomness. Implemented by the draw
// coordinator.
type Fulfiller interface {
	Fulfill(ctx context.Context, requestID string, randomWord *big.Int) error
}

// ContractOracle requests randomness through the pool contract's
// requestDraw transaction. Fulfillment arrives later via the chain watcher.
type ContractOracle struct {
	client *chain.Client
	logger *zap.Logger
}

// NewContractOracle creates an oracle backed by the pool contract.
func NewContractOracle(client *chain.Client, logger *zap.Logger) *ContractOracle {
	return &ContractOracle{client: client, logger: logger}
}

func (o *ContractOracle) Request(ctx context.Context, token string) (string, error) {
	requestID, txHash, err := o.client.RequestDraw(ctx, token)
	if err != nil {
		return "", fmt.Errorf("contract draw request failed: %w", err)
	}
	o.logger.Info("Draw request confirmed on chain",
		zap.String("request_id", requestID.String()),
		zap.String("token", token),
		zap.String("tx_hash", txHash.Hex()))
	return requestID.String(), nil
}

// LocalOracle fabricates request ids and seeds in process. It exists for
// development environments without a chain and for tests; the seed is
// delivered asynchronously through the fulfiller after a short delay, so
// the two-phase flow behaves like the real one.
type LocalOracle struct {
	mu        sync.Mutex
	next      uint64
	delay     time.Duration
	fulfiller Fulfiller
	logger    *zap.Logger
}

// NewLocalOracle creates a local oracle. SetFulfiller must be called
// before the first Request.
func NewLocalOracle(delay time.Duration, logger *zap.Logger) *LocalOracle {
	return &LocalOracle{next: 1, delay: delay, logger: logger}
}

// SetFulfiller wires the randomness consumer. Separate from the
// constructor because the coordinator and the oracle reference each other.
func (o *LocalOracle) SetFulfiller(f Fulfiller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fulfiller = f
}

func (o *LocalOracle) Request(ctx context.Context, token string) (string, error) {
	o.mu.Lock()
	if o.fulfiller == nil {
		o.mu.Unlock()
		return "", fmt.Errorf("local oracle has no fulfiller")
	}
	id := o.next
	o.next++
	fulfiller := o.fulfiller
	o.mu.Unlock()

	seed, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 256))
	if err != nil {
		return "", fmt.Errorf("failed to generate seed: %w", err)
	}

	requestID := fmt.Sprintf("%d", id)
	go func() {
		timer := time.NewTimer(o.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := fulfiller.Fulfill(context.Background(), requestID, seed); err != nil {
			o.logger.Error("Local oracle fulfillment failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}()

	o.logger.Info("Local oracle draw requested",
		zap.String("request_id", requestID),
		zap.String("token", token))
	return requestID, nil
}
