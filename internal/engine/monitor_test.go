// =====================================
// File: internal/engine/monitor_test.go
// =====================================
package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pump-sniper/internal/config"
)

type fakeTrader struct {
	sells    []sellCall
	buyErr   error
	sellErr  error
	tokens   float64
	quoteOut float64
}

type sellCall struct {
	mint   string
	amount float64
}

func (f *fakeTrader) Buy(_ context.Context, mint string, _ float64) (string, float64, error) {
	if f.buyErr != nil {
		return "", 0, f.buyErr
	}
	return "buy-" + mint, f.tokens, nil
}

func (f *fakeTrader) Sell(_ context.Context, mint string, amount float64) (string, float64, error) {
	if f.sellErr != nil {
		return "", 0, f.sellErr
	}
	f.sells = append(f.sells, sellCall{mint: mint, amount: amount})
	return "sell-" + mint, f.quoteOut, nil
}

type fakePrice struct {
	price     float64
	available bool
}

func (f *fakePrice) GetPrice(context.Context, string, string) (float64, bool) {
	return f.price, f.available
}

func stagedConfig() MonitorConfig {
	return MonitorConfig{
		Stages: []config.Stage{
			{Multiplier: 2.0, SellFraction: 0.25},
			{Multiplier: 3.0, SellFraction: 0.5},
			{Multiplier: 5.0, SellFraction: 1.0},
		},
		StopLossFraction: 0.3,
		Timeout:          30 * time.Minute,
		Interval:         10 * time.Second,
	}
}

func newTestMonitor(t *testing.T, cfg MonitorConfig, trader *fakeTrader, price *fakePrice) (*Monitor, *Registry) {
	t.Helper()
	r := newTestRegistry()
	_, err := r.Create(testMint, testQuote, 1.0, 1000)
	require.NoError(t, err)
	return NewMonitor(testMint, r, trader, price, nil, cfg, zap.NewNop()), r
}

func TestMonitorStageLadder(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 2.0, available: true} // 2x
	m, r := newTestMonitor(t, stagedConfig(), trader, price)

	done := m.step(context.Background())
	assert.False(t, done)
	require.Len(t, trader.sells, 1)
	assert.Equal(t, 250.0, trader.sells[0].amount)

	pos, ok := r.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, 750.0, pos.Amount)
	assert.True(t, pos.StageFired(0))

	// Same price again: stage 0 already fired, nothing else qualifies.
	done = m.step(context.Background())
	assert.False(t, done)
	assert.Len(t, trader.sells, 1)

	price.price = 3.0 // 3x
	done = m.step(context.Background())
	assert.False(t, done)
	require.Len(t, trader.sells, 2)
	assert.Equal(t, 375.0, trader.sells[1].amount)

	price.price = 5.0 // 5x, final stage drains
	done = m.step(context.Background())
	assert.True(t, done)
	require.Len(t, trader.sells, 3)
	assert.Equal(t, 375.0, trader.sells[2].amount)

	_, ok = r.Get(testMint)
	assert.False(t, ok)
}

// A price spike past several stages fires only the highest one, and the
// skipped lower stages are flagged so they never fire on the way back down.
func TestMonitorStageTieBreakHighestWins(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 3.5, available: true} // 3.5x: stages 0 and 1 both qualify
	m, r := newTestMonitor(t, stagedConfig(), trader, price)

	done := m.step(context.Background())
	assert.False(t, done)
	require.Len(t, trader.sells, 1)
	assert.Equal(t, 500.0, trader.sells[0].amount, "stage 1 fraction of the full amount")

	pos, ok := r.Get(testMint)
	require.True(t, ok)
	assert.True(t, pos.StageFired(0))
	assert.True(t, pos.StageFired(1))

	// Price falls back into stage-0 territory: nothing fires again.
	price.price = 2.0
	done = m.step(context.Background())
	assert.False(t, done)
	assert.Len(t, trader.sells, 1)
}

func TestMonitorStopLoss(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 0.6, available: true} // 0.6x, below 0.7 floor
	m, r := newTestMonitor(t, stagedConfig(), trader, price)

	done := m.step(context.Background())
	assert.True(t, done)
	require.Len(t, trader.sells, 1)
	assert.Equal(t, 1000.0, trader.sells[0].amount)

	_, ok := r.Get(testMint)
	assert.False(t, ok)
}

// When stop-loss and timeout both hold on the same cycle, stop-loss wins
// the recorded reason. The journal captures the close.
func TestMonitorStopLossBeatsTimeout(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 0.5, available: true}
	cfg := stagedConfig()
	cfg.Timeout = time.Nanosecond

	r := newTestRegistry()
	_, err := r.Create(testMint, testQuote, 1.0, 1000)
	require.NoError(t, err)

	j := &captureJournal{}
	m := NewMonitor(testMint, r, trader, price, j, cfg, zap.NewNop())
	time.Sleep(time.Millisecond) // let the timeout elapse

	done := m.step(context.Background())
	assert.True(t, done)
	require.NotNil(t, j.closed)
	assert.Equal(t, ExitStopLoss, j.closed.ExitReason)
}

func TestMonitorTimeout(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 1.0, available: true} // flat, no rule fires on price
	cfg := stagedConfig()
	cfg.Timeout = time.Nanosecond

	r := newTestRegistry()
	_, err := r.Create(testMint, testQuote, 1.0, 1000)
	require.NoError(t, err)

	j := &captureJournal{}
	m := NewMonitor(testMint, r, trader, price, j, cfg, zap.NewNop())
	time.Sleep(time.Millisecond)

	done := m.step(context.Background())
	assert.True(t, done)
	require.NotNil(t, j.closed)
	assert.Equal(t, ExitTimeout, j.closed.ExitReason)
}

// A failed sell must leave the position untouched: no deduction, no stage
// flag, so the identical transition retries next cycle.
func TestMonitorFailedSellLeavesStateUntouched(t *testing.T) {
	trader := &fakeTrader{sellErr: errors.New("router unavailable")}
	price := &fakePrice{price: 2.0, available: true}
	m, r := newTestMonitor(t, stagedConfig(), trader, price)

	done := m.step(context.Background())
	assert.False(t, done)

	pos, ok := r.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, 1000.0, pos.Amount)
	assert.False(t, pos.StageFired(0))
	assert.Equal(t, StatusOpen, pos.Status)

	// Router recovers: the same stage fires exactly once.
	trader.sellErr = nil
	done = m.step(context.Background())
	assert.False(t, done)
	require.Len(t, trader.sells, 1)
	assert.Equal(t, 250.0, trader.sells[0].amount)
}

func TestMonitorPriceUnavailableSkipsCycle(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{available: false}
	m, r := newTestMonitor(t, stagedConfig(), trader, price)

	done := m.step(context.Background())
	assert.False(t, done)
	assert.Empty(t, trader.sells)

	pos, ok := r.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, pos.Status)
}

// An unavailable price skips the whole cycle: not even an elapsed timeout
// transitions without a live feed.
func TestMonitorPriceUnavailableSkipsTimeout(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{available: false}
	cfg := stagedConfig()
	cfg.Timeout = time.Nanosecond

	r := newTestRegistry()
	_, err := r.Create(testMint, testQuote, 1.0, 1000)
	require.NoError(t, err)
	m := NewMonitor(testMint, r, trader, price, nil, cfg, zap.NewNop())
	time.Sleep(time.Millisecond)

	done := m.step(context.Background())
	assert.False(t, done)
	assert.Empty(t, trader.sells)

	pos, ok := r.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.Equal(t, 1000.0, pos.Amount)

	// The feed recovers: the elapsed timeout fires on the next cycle.
	price.price = 1.0
	price.available = true
	done = m.step(context.Background())
	assert.True(t, done)
	require.Len(t, trader.sells, 1)
	assert.Equal(t, 1000.0, trader.sells[0].amount)
}

// Single stage at SellFraction 1 is the flat exit variant: one threshold,
// all-or-nothing.
func TestMonitorFlatExitVariant(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 2.0, available: true}
	cfg := MonitorConfig{
		Stages:           []config.Stage{{Multiplier: 2.0, SellFraction: 1.0}},
		StopLossFraction: 0.3,
		Timeout:          30 * time.Minute,
		Interval:         10 * time.Second,
	}

	r := newTestRegistry()
	_, err := r.Create(testMint, testQuote, 1.0, 1000)
	require.NoError(t, err)

	j := &captureJournal{}
	m := NewMonitor(testMint, r, trader, price, j, cfg, zap.NewNop())

	done := m.step(context.Background())
	assert.True(t, done)
	require.Len(t, trader.sells, 1)
	assert.Equal(t, 1000.0, trader.sells[0].amount)
	require.NotNil(t, j.closed)
	assert.Equal(t, ExitTargetReached, j.closed.ExitReason)
}

func TestMonitorDoneWhenPositionGone(t *testing.T) {
	trader := &fakeTrader{}
	price := &fakePrice{price: 1.0, available: true}
	m, r := newTestMonitor(t, stagedConfig(), trader, price)

	_, err := r.Close(testMint, ExitManual)
	require.NoError(t, err)

	assert.True(t, m.step(context.Background()))
	assert.Empty(t, trader.sells)
}

type captureJournal struct {
	sells  []int
	closed *Position
}

func (c *captureJournal) RecordBuy(context.Context, string, string, float64, float64) {}

func (c *captureJournal) RecordSell(_ context.Context, _, _ string, _, _ float64, stage int) {
	c.sells = append(c.sells, stage)
}

func (c *captureJournal) RecordClose(_ context.Context, pos Position) {
	c.closed = &pos
}
