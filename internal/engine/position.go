// =================================
// File: internal/engine/position.go
// =================================

// Package engine is the position lifecycle core: the registry of open
// positions, the per-position monitor state machine, and the orchestrator
// that turns screened pool discoveries into positions.
package engine

import (
	"context"
	"time"
)

// Status is the lifecycle state of a position. Transitions are monotonic:
// Pending -> Open -> PartiallyExited -> Closed, with direct edges to Closed
// for stop-loss, timeout and manual exits. Nothing ever leaves Closed.
type Status string

const (
	StatusPending         Status = "pending"
	StatusOpen            Status = "open"
	StatusPartiallyExited Status = "partially_exited"
	StatusClosed          Status = "closed"
)

// ExitReason records why a position closed. Set exactly once, at Closed.
type ExitReason string

const (
	ExitTargetReached ExitReason = "target_reached"
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTimeout       ExitReason = "timeout"
	ExitManual        ExitReason = "manual"
)

// Position is the authoritative record of one open trade. The registry owns
// all Position records; everything handed out is a snapshot.
type Position struct {
	Mint      string
	QuoteMint string

	// BuyPrice is USD per token at fill time.
	BuyPrice float64
	// InitialAmount is the token quantity received by the opening buy.
	InitialAmount float64
	// Amount is the remaining token quantity. Non-increasing.
	Amount float64

	Status Status
	// Stages holds the indices of take-profit stages already triggered.
	// The set only grows; a flagged stage never fires again.
	Stages map[int]bool

	OpenedAt   time.Time
	ClosedAt   time.Time
	ExitReason ExitReason
}

// StageFired reports whether the take-profit stage at index i has triggered.
func (p *Position) StageFired(i int) bool {
	return p.Stages[i]
}

// Multiplier returns price / buy price, the input to every exit rule.
func (p *Position) Multiplier(price float64) float64 {
	if p.BuyPrice <= 0 {
		return 0
	}
	return price / p.BuyPrice
}

func (p *Position) clone() Position {
	cp := *p
	cp.Stages = make(map[int]bool, len(p.Stages))
	for k, v := range p.Stages {
		cp.Stages[k] = v
	}
	return cp
}

// Trader executes swaps against the router. Buy spends the quote leg, Sell
// liquidates tokens back into it. Implementations fetch a fresh quote per
// call, so a failed attempt is safe to retry.
type Trader interface {
	Buy(ctx context.Context, tokenMint string, quoteAmount float64) (signature string, tokensOut float64, err error)
	Sell(ctx context.Context, tokenMint string, tokenAmount float64) (signature string, quoteOut float64, err error)
}

// PriceSource reports USD prices. ok is false when the price is unavailable,
// which callers treat as a skipped cycle, never a failure.
type PriceSource interface {
	GetPrice(ctx context.Context, mint, vsMint string) (price float64, ok bool)
}

// Journal persists the trade history. Implementations must tolerate being
// called from concurrent monitors.
type Journal interface {
	RecordBuy(ctx context.Context, mint, signature string, price, amount float64)
	RecordSell(ctx context.Context, mint, signature string, price, amount float64, stage int)
	RecordClose(ctx context.Context, pos Position)
}

// nopJournal is used when no journal backend is configured.
type nopJournal struct{}

func (nopJournal) RecordBuy(context.Context, string, string, float64, float64) {}
func (nopJournal) RecordSell(context.Context, string, string, float64, float64, int) {
}
func (nopJournal) RecordClose(context.Context, Position) {}
