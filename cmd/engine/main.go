package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/memegrave/gravepool/pkg/api"
	apphttp "github.com/memegrave/gravepool/pkg/app/http"
	"github.com/memegrave/gravepool/pkg/chain"
	"github.com/memegrave/gravepool/pkg/config"
	"github.com/memegrave/gravepool/pkg/draw"
	"github.com/memegrave/gravepool/pkg/engine"
	"github.com/memegrave/gravepool/pkg/ingest"
	"github.com/memegrave/gravepool/pkg/ledgerstore"
	"github.com/memegrave/gravepool/pkg/oracle"
	"github.com/memegrave/gravepool/pkg/pgutil"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Grave Pool Engine")

	// Initialize database
	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store := ledgerstore.NewStore(db)

	ingestor, err := ingest.New(store, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ingestor", zap.Error(err))
	}

	minPrize := big.NewInt(0)
	if cfg.Draw.MinPrizePool != "" {
		if _, ok := minPrize.SetString(cfg.Draw.MinPrizePool, 10); !ok {
			logger.Fatal("Invalid draw.min_prize_pool", zap.String("value", cfg.Draw.MinPrizePool))
		}
	}

	// The oracle determines whether draws are available. With a configured
	// chain, randomness flows through the pool contract; in development the
	// local oracle fabricates seeds in process. Without either, the engine
	// runs ledger-only and draw endpoints report not configured.
	var (
		chainClient *chain.Client
		drawOracle  oracle.Oracle
		localOracle *oracle.LocalOracle
	)
	switch {
	case cfg.Ethereum.ChainConfigured():
		chainClient, err = chain.NewClient(&cfg.Ethereum, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Ethereum client", zap.Error(err))
		}
		defer chainClient.Close()
		drawOracle = oracle.NewContractOracle(chainClient, logger)
	case cfg.Env == "development":
		localOracle = oracle.NewLocalOracle(5*time.Second, logger)
		drawOracle = localOracle
		logger.Warn("No chain configured, using local randomness oracle")
	default:
		logger.Warn("No chain configured, draws are disabled")
	}

	coordinator := draw.New(store, drawOracle, minPrize, cfg.Draw.RequestTimeout, logger)
	if localOracle != nil {
		localOracle.SetFulfiller(coordinator)
	}

	eng := engine.New(chainClient, store, ingestor, coordinator, &cfg.Draw, logger)

	var apiCoordinator api.Coordinator
	if drawOracle != nil {
		apiCoordinator = coordinator
	}
	httpAPI := api.NewHTTP(store, ingestor, apiCoordinator, &cfg.Auth, cfg.Env, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		errCh <- eng.Run(ctx)
	}()
	go func() {
		errCh <- apphttp.ServeAndWait(ctx, httpAPI.Router(), logger, &cfg.Server)
	}()

	if err := <-errCh; err != nil {
		logger.Error("Engine stopped with error", zap.Error(err))
		stop()
		<-errCh
		os.Exit(1)
	}
	stop()
	<-errCh

	logger.Info("Grave Pool Engine stopped")
}
