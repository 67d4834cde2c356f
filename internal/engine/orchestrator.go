// ====================================
// File: internal/engine/orchestrator.go
// ====================================
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/pump-sniper/internal/discovery"
	"github.com/rovshanmuradov/pump-sniper/internal/logger"
	"github.com/rovshanmuradov/pump-sniper/internal/risk"
)

const buyTimeout = 60 * time.Second

// ChainReader provides the on-chain snapshots the screening step needs.
type ChainReader interface {
	GetMintInfo(ctx context.Context, mint string) (risk.MintInfo, error)
	GetLargestHolders(ctx context.Context, mint string) ([]risk.Holder, error)
}

// OrchestratorConfig bundles the sizing and pacing knobs.
type OrchestratorConfig struct {
	BuyAmountUSD float64
	QuoteMint    string

	// CandidatesPerTick caps how many fresh pools are screened per cycle;
	// the rest are dropped, not queued.
	CandidatesPerTick int
	// CandidateDelay spaces out buys within one cycle so they do not race
	// each other for the same blockhash window.
	CandidateDelay time.Duration
	PollInterval   time.Duration

	Risk    risk.Config
	Monitor MonitorConfig
}

// Orchestrator runs the single discovery loop: drain the source, drop pools
// already seen, screen the survivors, buy the safe ones and hand each new
// position to its own monitor goroutine. The deduper and registry are only
// touched from this loop and the monitors it spawns, never re-entrantly.
type Orchestrator struct {
	source   discovery.Source
	dedup    *discovery.Deduper
	chain    ChainReader
	trader   Trader
	price    PriceSource
	registry *Registry
	journal  Journal
	cfg      OrchestratorConfig
	logger   *zap.Logger

	monitors sync.WaitGroup
}

func NewOrchestrator(
	source discovery.Source,
	chain ChainReader,
	trader Trader,
	price PriceSource,
	registry *Registry,
	journal Journal,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Orchestrator{
		source:   source,
		dedup:    discovery.NewDeduper(),
		chain:    chain,
		trader:   trader,
		price:    price,
		registry: registry,
		journal:  journal,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
	}
}

// Run drives discovery ticks until ctx is cancelled, then waits for every
// spawned monitor to observe the cancellation and return.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.logger.Info("🚀 Sniper engine started",
		zap.Float64("buy_usd", o.cfg.BuyAmountUSD),
		zap.Int("candidates_per_tick", o.cfg.CandidatesPerTick))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Shutting down, waiting for monitors")
			o.monitors.Wait()
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick drains the source once and processes at most CandidatesPerTick fresh
// pools. A candidate that fails screening or buying never affects the rest
// of the batch.
func (o *Orchestrator) tick(ctx context.Context) {
	events := o.source.Next(ctx)
	if len(events) == 0 {
		return
	}

	processed := 0
	for _, ev := range events {
		if o.dedup.Seen(ev.PoolID) {
			continue
		}
		if processed >= o.cfg.CandidatesPerTick {
			o.logger.Debug("Candidate cap reached, dropping event",
				zap.String("pool", ev.PoolID))
			continue
		}
		if processed > 0 && o.cfg.CandidateDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.CandidateDelay):
			}
		}
		o.handleCandidate(ctx, ev)
		processed++
	}
}

func (o *Orchestrator) handleCandidate(ctx context.Context, ev discovery.PoolEvent) {
	// One correlation id per candidate ties the screen, buy and create
	// log lines together.
	log := logger.WithOperation(o.logger, "snipe").With(
		zap.String("pool", ev.PoolID),
		zap.String("mint", ev.TokenMint))
	log.Info("🔍 Screening candidate")

	verdict := o.screen(ctx, ev.TokenMint)
	if !verdict.Safe {
		log.Info("❌ Candidate rejected",
			zap.String("reason", string(verdict.Reason)),
			zap.Float64("top_holder_pct", verdict.TopHolderPct))
		return
	}
	for _, w := range verdict.Warnings {
		log.Warn("Risk warning", zap.String("warning", w))
	}

	o.buy(ctx, ev, log)
}

// screen fetches the mint and holder snapshots and runs the heuristic. Any
// fetch failure yields the fail-closed unverified verdict.
func (o *Orchestrator) screen(ctx context.Context, mint string) risk.Verdict {
	info, err := o.chain.GetMintInfo(ctx, mint)
	if err != nil {
		o.logger.Debug("Mint fetch failed", zap.String("mint", mint), zap.Error(err))
		return risk.Unverified()
	}
	holders, err := o.chain.GetLargestHolders(ctx, mint)
	if err != nil {
		o.logger.Debug("Holder fetch failed", zap.String("mint", mint), zap.Error(err))
		return risk.Unverified()
	}
	return risk.Evaluate(info, holders, o.cfg.Risk)
}

// buy sizes the entry from the configured USD amount, executes the swap and
// registers the position. A monitor is spawned only on a successful create,
// which keeps it at exactly one monitor per position.
func (o *Orchestrator) buy(ctx context.Context, ev discovery.PoolEvent, log *zap.Logger) {
	quotePrice, ok := o.price.GetPrice(ctx, o.cfg.QuoteMint, "")
	if !ok || quotePrice <= 0 {
		log.Warn("Quote price unavailable, skipping buy")
		return
	}
	quoteAmount := o.cfg.BuyAmountUSD / quotePrice

	buyCtx, cancel := context.WithTimeout(ctx, buyTimeout)
	defer cancel()

	sig, tokensOut, err := o.trader.Buy(buyCtx, ev.TokenMint, quoteAmount)
	if err != nil {
		log.Error("Buy failed", zap.Error(err))
		return
	}
	if tokensOut <= 0 {
		log.Error("Buy returned no tokens", zap.String("signature", sig))
		return
	}
	buyPrice := o.cfg.BuyAmountUSD / tokensOut

	pos, err := o.registry.Create(ev.TokenMint, ev.QuoteMint, buyPrice, tokensOut)
	if err != nil {
		if errors.Is(err, ErrPositionExists) {
			log.Warn("Position already open for mint, not doubling down")
			return
		}
		log.Error("Failed to register position", zap.Error(err))
		return
	}
	o.journal.RecordBuy(ctx, ev.TokenMint, sig, buyPrice, tokensOut)

	log.Info("✅ Bought",
		zap.String("signature", sig),
		zap.Float64("tokens", tokensOut),
		zap.Float64("entry_price", buyPrice))

	mon := NewMonitor(pos.Mint, o.registry, o.trader, o.price, o.journal, o.cfg.Monitor, o.logger)
	o.monitors.Add(1)
	go func() {
		defer o.monitors.Done()
		mon.Run(ctx)
	}()
}
