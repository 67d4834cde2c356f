// ==========================================
// File: internal/engine/orchestrator_test.go
// ==========================================
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
	"github.com/rovshanmuradov/pump-sniper/internal/discovery"
	"github.com/rovshanmuradov/pump-sniper/internal/risk"
)

type fakeSource struct {
	batches [][]discovery.PoolEvent
}

func (f *fakeSource) Next(context.Context) []discovery.PoolEvent {
	if len(f.batches) == 0 {
		return nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch
}

type fakeChain struct {
	infos    map[string]risk.MintInfo
	holders  map[string][]risk.Holder
	infoErr  map[string]error
	screened []string
}

func (f *fakeChain) GetMintInfo(_ context.Context, mint string) (risk.MintInfo, error) {
	f.screened = append(f.screened, mint)
	if err := f.infoErr[mint]; err != nil {
		return risk.MintInfo{}, err
	}
	return f.infos[mint], nil
}

func (f *fakeChain) GetLargestHolders(_ context.Context, mint string) ([]risk.Holder, error) {
	return f.holders[mint], nil
}

func safeMint() risk.MintInfo {
	return risk.MintInfo{Supply: 1_000_000, Decimals: 6}
}

func event(pool, mint string) discovery.PoolEvent {
	return discovery.PoolEvent{PoolID: pool, TokenMint: mint, QuoteMint: testQuote}
}

func testOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		BuyAmountUSD:      10,
		QuoteMint:         testQuote,
		CandidatesPerTick: 3,
		PollInterval:      time.Second,
		Risk:              risk.Config{TopHolders: 5, ConcentrationPct: 50, MaxDecimals: 12},
		// The stage threshold is unreachable and the interval huge, so the
		// monitors spawned by a buy stay idle during these tests.
		Monitor: MonitorConfig{
			Stages:           []config.Stage{{Multiplier: 1e9, SellFraction: 1.0}},
			StopLossFraction: 0,
			Timeout:          0,
			Interval:         time.Hour,
		},
	}
}

func newTestOrchestrator(source discovery.Source, chain ChainReader, trader Trader, price PriceSource) *Orchestrator {
	r := NewRegistry(zap.NewNop())
	return NewOrchestrator(source, chain, trader, price, r, nil, testOrchestratorConfig(), zap.NewNop())
}

func TestOrchestratorBuysSafeCandidate(t *testing.T) {
	chain := &fakeChain{infos: map[string]risk.MintInfo{testMint: safeMint()}}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{event("pool-1", testMint)}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	pos, ok := o.registry.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.Equal(t, 1000.0, pos.Amount)
	assert.InDelta(t, 0.01, pos.BuyPrice, 1e-12, "10 USD for 1000 tokens")
}

func TestOrchestratorDeduplicatesPools(t *testing.T) {
	chain := &fakeChain{infos: map[string]risk.MintInfo{testMint: safeMint()}}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{
		{event("pool-1", testMint), event("pool-1", testMint)},
		{event("pool-1", testMint)},
	}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())
	o.tick(context.Background())

	assert.Len(t, chain.screened, 1, "duplicate pool ids must be screened once")
}

func TestOrchestratorCandidateCap(t *testing.T) {
	chain := &fakeChain{infos: map[string]risk.MintInfo{}}
	for _, m := range []string{"m1", "m2", "m3", "m4", "m5"} {
		chain.infos[m] = safeMint()
	}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{
		event("p1", "m1"), event("p2", "m2"), event("p3", "m3"),
		event("p4", "m4"), event("p5", "m5"),
	}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	assert.Len(t, chain.screened, 3, "overflow candidates are dropped, not queued")
	assert.Len(t, o.registry.Open(), 3)
}

func TestOrchestratorRejectsRiskyCandidate(t *testing.T) {
	risky := safeMint()
	risky.MintAuthority = "someAuthority"
	chain := &fakeChain{infos: map[string]risk.MintInfo{
		"bad":    risky,
		testMint: safeMint(),
	}}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{
		event("p-bad", "bad"), event("p-good", testMint),
	}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	_, ok := o.registry.Get("bad")
	assert.False(t, ok)
	_, ok = o.registry.Get(testMint)
	assert.True(t, ok, "a rejected candidate must not poison the batch")
}

func TestOrchestratorFetchFailureFailsClosed(t *testing.T) {
	chain := &fakeChain{
		infos:   map[string]risk.MintInfo{},
		infoErr: map[string]error{testMint: errors.New("rpc timeout")},
	}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{event("pool-1", testMint)}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	assert.Empty(t, o.registry.Open())
}

func TestOrchestratorBuyFailureLeavesNoPosition(t *testing.T) {
	chain := &fakeChain{infos: map[string]risk.MintInfo{testMint: safeMint()}}
	trader := &fakeTrader{buyErr: errors.New("no route")}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{event("pool-1", testMint)}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	assert.Empty(t, o.registry.Open())
}

func TestOrchestratorSkipsBuyWithoutQuotePrice(t *testing.T) {
	chain := &fakeChain{infos: map[string]risk.MintInfo{testMint: safeMint()}}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{available: false}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{event("pool-1", testMint)}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	assert.Empty(t, o.registry.Open())
}

// Two different pools for the same mint: the second buy settles but the
// registry refuses a duplicate position, so only one monitor exists.
func TestOrchestratorOnePositionPerMint(t *testing.T) {
	chain := &fakeChain{infos: map[string]risk.MintInfo{testMint: safeMint()}}
	trader := &fakeTrader{tokens: 1000}
	price := &fakePrice{price: 1.0, available: true}
	source := &fakeSource{batches: [][]discovery.PoolEvent{{
		event("pool-a", testMint), event("pool-b", testMint),
	}}}

	o := newTestOrchestrator(source, chain, trader, price)
	o.tick(context.Background())

	assert.Len(t, o.registry.Open(), 1)
}
