// ==================================
// File: internal/discovery/events.go
// ==================================

// Package discovery turns heterogeneous pool-creation payloads into canonical
// PoolEvents: one explicit adapter per known upstream schema, a quote-leg
// filter, and process-lifetime deduplication by pool id.
package discovery

import (
	"context"
	"encoding/json"
)

// PoolEvent is the canonical description of a newly discovered liquidity
// pool. Immutable once emitted.
type PoolEvent struct {
	PoolID    string
	TokenMint string
	QuoteMint string
	Raw       json.RawMessage
}

// Source yields batches of new pool events. Next never blocks for longer than
// one upstream fetch; an empty batch means nothing new this tick.
type Source interface {
	Next(ctx context.Context) []PoolEvent
}

// Deduper tracks pool ids seen during the process lifetime. The set grows
// without bound, which is an accepted tradeoff for bounded process lifetimes.
// It is not synchronized: it must stay confined to the orchestrator loop.
type Deduper struct {
	seen map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Seen reports whether the pool id was observed before, marking it seen.
func (d *Deduper) Seen(poolID string) bool {
	if _, ok := d.seen[poolID]; ok {
		return true
	}
	d.seen[poolID] = struct{}{}
	return false
}

// Size returns the number of tracked pool ids.
func (d *Deduper) Size() int {
	return len(d.seen)
}
