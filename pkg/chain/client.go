// Package chain talks to the grave pool contract: it submits draw request
// transactions and watches the pool and the randomness coordinator for
// events. Watching uses log polling so a plain HTTP RPC endpoint is enough.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/memegrave/gravepool/pkg/config"
)

// ErrNoAdminKey is returned when a transaction is attempted without an
// admin private key configured.
var ErrNoAdminKey = errors.New("no admin private key configured")

// Client represents the grave pool chain client
type Client struct {
	config     *config.EthereumConfig
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger

	poolAddress common.Address
	vrfAddress  common.Address
	poolABI     abi.ABI
	vrfABI      abi.ABI
	pool        *bind.BoundContract
	vrf         *bind.BoundContract
}

// NewClient creates a new chain client. The admin key is optional: without
// it the client can watch events but not submit draw requests.
func NewClient(cfg *config.EthereumConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	c := &Client{
		config:      cfg,
		client:      client,
		logger:      logger,
		poolAddress: common.HexToAddress(cfg.PoolContract),
		poolABI:     mustParseABI(PoolABIJSON),
		vrfABI:      mustParseABI(VRFCoordinatorABIJSON),
	}
	if cfg.VRFCoordinator != "" {
		c.vrfAddress = common.HexToAddress(cfg.VRFCoordinator)
	}
	c.pool = bind.NewBoundContract(c.poolAddress, c.poolABI, client, client, client)
	c.vrf = bind.NewBoundContract(c.vrfAddress, c.vrfABI, client, client, client)

	if cfg.AdminPrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(cfg.AdminPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load admin private key: %w", err)
		}
		c.privateKey = privateKey
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	logger.Info("Connected to Ethereum",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("pool_contract", c.poolAddress.Hex()),
		zap.String("vrf_coordinator", cfg.VRFCoordinator))

	return c, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// CanTransact reports whether an admin key is loaded.
func (c *Client) CanTransact() bool {
	return c.privateKey != nil
}

// GetTransactor returns a transaction signer for the admin account
func (c *Client) GetTransactor(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privateKey == nil {
		return nil, ErrNoAdminKey
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, big.NewInt(c.config.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	auth.Nonce = big.NewInt(int64(nonce))
	auth.GasLimit = c.config.GasLimit
	auth.Context = ctx

	return auth, nil
}

// GetLatestBlockNumber gets the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// RequestDraw submits a requestDraw transaction for the token, waits for it
// to be mined and returns the request id emitted by the contract.
func (c *Client) RequestDraw(ctx context.Context, token string) (*big.Int, common.Hash, error) {
	auth, err := c.GetTransactor(ctx)
	if err != nil {
		return nil, common.Hash{}, err
	}

	tx, err := c.pool.Transact(auth, "requestDraw", common.HexToAddress(token))
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("failed to submit draw request transaction: %w", err)
	}

	c.logger.Info("Draw request transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("token", token))

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, tx.Hash(), fmt.Errorf("failed waiting for draw request tx: %w", err)
	}
	if receipt.Status == 0 {
		return nil, tx.Hash(), fmt.Errorf("draw request transaction reverted: %s", tx.Hash().Hex())
	}

	drawRequestedID := c.poolABI.Events["DrawRequested"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != c.poolAddress || len(lg.Topics) == 0 || lg.Topics[0] != drawRequestedID {
			continue
		}
		var ev drawRequestedRaw
		if err := c.pool.UnpackLog(&ev, "DrawRequested", *lg); err != nil {
			return nil, tx.Hash(), fmt.Errorf("failed to decode DrawRequested log: %w", err)
		}
		return ev.RequestId, tx.Hash(), nil
	}

	return nil, tx.Hash(), fmt.Errorf("no DrawRequested event in receipt %s", tx.Hash().Hex())
}
