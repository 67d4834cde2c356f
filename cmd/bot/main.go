// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/pump-sniper/internal/blockchain"
	"github.com/rovshanmuradov/pump-sniper/internal/config"
	"github.com/rovshanmuradov/pump-sniper/internal/discovery"
	"github.com/rovshanmuradov/pump-sniper/internal/engine"
	"github.com/rovshanmuradov/pump-sniper/internal/journal"
	"github.com/rovshanmuradov/pump-sniper/internal/logger"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/risk"
	"github.com/rovshanmuradov/pump-sniper/internal/swap"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	if cfg.LogFile != "" {
		logCfg.LogFile = cfg.LogFile
	}
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting sniper bot", zap.String("config", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := wallet.New(cfg.WalletKey)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	log.Info("💰 Wallet loaded", zap.String("address", w.String()))

	chain, err := blockchain.NewClient(cfg.RPCList, logger.WithComponent(log.Logger, "rpc"))
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}

	// Fail fast on a dead endpoint instead of discovering it mid-trade.
	healthCtx, cancelHealth := context.WithTimeout(ctx, 10*time.Second)
	_, err = chain.GetLatestBlockhash(healthCtx)
	cancelHealth()
	if err != nil {
		return fmt.Errorf("rpc health check failed: %w", err)
	}

	tradeLog := logger.WithComponent(log.Logger, "trade")
	prices := oracle.New(cfg.PriceAPIURL, tradeLog)
	router := swap.NewRouter(cfg.RouterURL, cfg.QuoteMint, cfg.SlippageBps, chain, w, tradeLog)

	var trades engine.Journal
	if cfg.PostgresURL != "" {
		j, err := journal.Open(cfg.PostgresURL, log.Logger)
		if err != nil {
			return fmt.Errorf("failed to open trade journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		trades = j
	} else {
		log.Warn("No postgres_url configured, trade journal disabled")
	}

	discoveryLog := logger.WithComponent(log.Logger, "discovery")
	norm := discovery.NewNormalizer(cfg.QuoteMintSet(), config.DefaultQuoteMint, discoveryLog)

	var (
		source discovery.Source
		stream *discovery.LogStream
	)
	if cfg.WebSocketURL != "" {
		stream = discovery.NewLogStream(cfg.WebSocketURL, cfg.ProgramID, chain, norm, discoveryLog)
		source = stream
	} else {
		source = discovery.NewPollSource(cfg.ListingURL, norm, discoveryLog)
	}

	engineLog := logger.WithComponent(log.Logger, "engine")
	registry := engine.NewRegistry(engineLog)
	orch := engine.NewOrchestrator(
		source,
		chainAdapter{chain},
		router,
		prices,
		registry,
		trades,
		engine.OrchestratorConfig{
			BuyAmountUSD:      cfg.BuyAmountUSD,
			QuoteMint:         cfg.QuoteMint,
			CandidatesPerTick: cfg.CandidatesPerTick,
			CandidateDelay:    cfg.CandidateDelay,
			PollInterval:      cfg.PollInterval,
			Risk: risk.Config{
				TopHolders:       cfg.TopHolders,
				ConcentrationPct: cfg.ConcentrationPct,
				MaxDecimals:      cfg.MaxDecimals,
			},
			Monitor: engine.MonitorConfig{
				Stages:           cfg.Stages,
				StopLossFraction: cfg.StopLossFraction,
				Timeout:          cfg.PositionTimeout,
				Interval:         cfg.MonitorInterval,
			},
		},
		engineLog,
	)

	g, gctx := errgroup.WithContext(ctx)
	if stream != nil {
		g.Go(func() error {
			stream.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return orch.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Shutdown complete")
	return nil
}

// chainAdapter narrows the rpc client to the string-keyed snapshots the
// screening step consumes.
type chainAdapter struct {
	chain *blockchain.Client
}

func (a chainAdapter) GetMintInfo(ctx context.Context, mint string) (risk.MintInfo, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return risk.MintInfo{}, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	info, err := a.chain.GetMintInfo(ctx, pk)
	if err != nil {
		return risk.MintInfo{}, err
	}
	return risk.MintInfo{
		MintAuthority:   info.MintAuthority,
		FreezeAuthority: info.FreezeAuthority,
		Supply:          info.Supply,
		Decimals:        info.Decimals,
	}, nil
}

func (a chainAdapter) GetLargestHolders(ctx context.Context, mint string) ([]risk.Holder, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	holders, err := a.chain.GetLargestHolders(ctx, pk)
	if err != nil {
		return nil, err
	}
	out := make([]risk.Holder, len(holders))
	for i, h := range holders {
		out[i] = risk.Holder{Account: h.Account, Amount: h.Amount}
	}
	return out, nil
}
