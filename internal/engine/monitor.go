// =================================
// File: internal/engine/monitor.go
// =================================
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/pump-sniper/internal/config"
)

const sellTimeout = 60 * time.Second

// MonitorConfig carries the exit policy. A single stage with SellFraction 1
// gives the flat take-profit/stop-loss variant; multiple stages give the
// staged ladder.
type MonitorConfig struct {
	Stages           []config.Stage
	StopLossFraction float64
	Timeout          time.Duration
	Interval         time.Duration
}

// Monitor drives the exit state machine for one position. It owns no state
// of its own: every cycle reads a fresh registry snapshot, evaluates the
// exit rules against the current price, and performs at most one transition.
type Monitor struct {
	mint     string
	registry *Registry
	trader   Trader
	price    PriceSource
	journal  Journal
	cfg      MonitorConfig
	logger   *zap.Logger
}

func NewMonitor(mint string, registry *Registry, trader Trader, price PriceSource, journal Journal, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Monitor{
		mint:     mint,
		registry: registry,
		trader:   trader,
		price:    price,
		journal:  journal,
		cfg:      cfg,
		logger:   logger.Named("monitor").With(zap.String("mint", mint)),
	}
}

// Run evaluates the position on every tick until it closes or ctx is
// cancelled. Cancellation abandons the position without selling; recovering
// orphaned balances is a wallet-sweep concern, not the monitor's.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("👀 Monitoring position", zap.Duration("interval", m.cfg.Interval))

	if m.step(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if m.step(ctx) {
				return
			}
		}
	}
}

// step runs one evaluation cycle and reports whether the position is done.
// Rule priority: highest qualifying unfired take-profit stage, then lower
// stages, then stop-loss, then timeout. At most one sell per cycle; a failed
// sell leaves the position untouched so the same rule retries next tick.
func (m *Monitor) step(ctx context.Context) bool {
	pos, ok := m.registry.Get(m.mint)
	if !ok || pos.Status == StatusClosed {
		return true
	}

	// No price means no transition at all: every rule, timeout included,
	// waits for the next cycle with a live feed.
	price, ok := m.price.GetPrice(ctx, m.mint, pos.QuoteMint)
	if !ok {
		m.logger.Debug("Price unavailable, skipping cycle")
		return false
	}

	mult := pos.Multiplier(price)
	m.logger.Debug("Cycle",
		zap.Float64("price", price),
		zap.Float64("multiplier", mult),
		zap.Float64("remaining", pos.Amount))

	for i := len(m.cfg.Stages) - 1; i >= 0; i-- {
		if pos.StageFired(i) || mult < m.cfg.Stages[i].Multiplier {
			continue
		}
		return m.sellStage(ctx, pos, i, price)
	}

	if m.cfg.StopLossFraction > 0 && mult <= 1-m.cfg.StopLossFraction {
		m.logger.Warn("📉 Stop-loss hit", zap.Float64("multiplier", mult))
		return m.exitFull(ctx, pos, price, ExitStopLoss)
	}

	return m.timedOut(ctx, pos, price)
}

func (m *Monitor) timedOut(ctx context.Context, pos Position, price float64) bool {
	if m.cfg.Timeout <= 0 || time.Since(pos.OpenedAt) < m.cfg.Timeout {
		return false
	}
	m.logger.Warn("⏰ Position timed out", zap.Duration("age", time.Since(pos.OpenedAt)))
	return m.exitFull(ctx, pos, price, ExitTimeout)
}

// sellStage liquidates the stage's fraction of the current remaining amount.
// On success the stage and everything below it are flagged; a drained
// position closes as target_reached.
func (m *Monitor) sellStage(ctx context.Context, pos Position, stage int, price float64) bool {
	sellAmount := pos.Amount * m.cfg.Stages[stage].SellFraction
	if sellAmount <= 0 {
		return false
	}

	m.logger.Info("🎯 Take-profit stage triggered",
		zap.Int("stage", stage),
		zap.Float64("multiplier_target", m.cfg.Stages[stage].Multiplier),
		zap.Float64("sell_amount", sellAmount))

	sellCtx, cancel := context.WithTimeout(ctx, sellTimeout)
	defer cancel()

	sig, _, err := m.trader.Sell(sellCtx, m.mint, sellAmount)
	if err != nil {
		m.logger.Error("Stage sell failed, will retry", zap.Int("stage", stage), zap.Error(err))
		return false
	}

	updated, err := m.registry.ApplyExit(m.mint, sellAmount, stage)
	if err != nil {
		m.logger.Error("Failed to record stage exit", zap.Error(err))
		return true
	}

	m.journal.RecordSell(ctx, m.mint, sig, price, sellAmount, stage)
	if updated.Status == StatusClosed {
		m.journal.RecordClose(ctx, updated)
		return true
	}
	return false
}

// exitFull sells the entire remaining amount and closes the position with
// the given reason.
func (m *Monitor) exitFull(ctx context.Context, pos Position, price float64, reason ExitReason) bool {
	sellCtx, cancel := context.WithTimeout(ctx, sellTimeout)
	defer cancel()

	sig, _, err := m.trader.Sell(sellCtx, m.mint, pos.Amount)
	if err != nil {
		m.logger.Error("Full exit sell failed, will retry", zap.String("reason", string(reason)), zap.Error(err))
		return false
	}

	if _, err := m.registry.ApplyExit(m.mint, pos.Amount, NoStage); err != nil {
		m.logger.Error("Failed to record exit", zap.Error(err))
		return true
	}
	m.journal.RecordSell(ctx, m.mint, sig, price, pos.Amount, NoStage)

	closed, err := m.registry.Close(m.mint, reason)
	if err != nil {
		m.logger.Error("Failed to close position", zap.Error(err))
		return true
	}
	m.journal.RecordClose(ctx, closed)
	return true
}
