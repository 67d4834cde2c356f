// =================================
// File: internal/engine/registry.go
// =================================
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPositionExists   = errors.New("position already exists for mint")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position already closed")
)

// NoStage marks an exit that is not tied to a take-profit stage (stop-loss,
// timeout, manual).
const NoStage = -1

// Residual amounts below this are treated as zero.
const amountEpsilon = 1e-9

// Registry is the single source of truth for open positions, keyed by mint.
// Mutations on the same mint are strictly serialized through a per-position
// lock; independent mints mutate concurrently.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*managedPosition
	logger    *zap.Logger
}

type managedPosition struct {
	mu  sync.Mutex
	pos Position
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		positions: make(map[string]*managedPosition),
		logger:    logger.Named("registry"),
	}
}

// Create registers a new position after a confirmed buy. It fails if a
// position for the mint already exists; creating is the only path that may
// spawn a monitor, which keeps monitors at exactly one per position.
func (r *Registry) Create(mint, quoteMint string, buyPrice, amount float64) (Position, error) {
	if buyPrice <= 0 || amount <= 0 {
		return Position{}, fmt.Errorf("invalid position parameters: price=%f amount=%f", buyPrice, amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.positions[mint]; exists {
		return Position{}, ErrPositionExists
	}

	mp := &managedPosition{
		pos: Position{
			Mint:          mint,
			QuoteMint:     quoteMint,
			BuyPrice:      buyPrice,
			InitialAmount: amount,
			Amount:        amount,
			Status:        StatusOpen,
			Stages:        make(map[int]bool),
			OpenedAt:      time.Now().UTC(),
		},
	}
	r.positions[mint] = mp

	r.logger.Info("📈 Position opened",
		zap.String("mint", mint),
		zap.Float64("buy_price", buyPrice),
		zap.Float64("amount", amount))
	return mp.pos.clone(), nil
}

// Get returns a snapshot of the position for a mint.
func (r *Registry) Get(mint string) (Position, bool) {
	r.mu.RLock()
	mp, ok := r.positions[mint]
	r.mu.RUnlock()
	if !ok {
		return Position{}, false
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.pos.clone(), true
}

// Open returns snapshots of all non-closed positions.
func (r *Registry) Open() []Position {
	r.mu.RLock()
	managed := make([]*managedPosition, 0, len(r.positions))
	for _, mp := range r.positions {
		managed = append(managed, mp)
	}
	r.mu.RUnlock()

	out := make([]Position, 0, len(managed))
	for _, mp := range managed {
		mp.mu.Lock()
		out = append(out, mp.pos.clone())
		mp.mu.Unlock()
	}
	return out
}

// ApplyExit records a confirmed sell of soldAmount tokens. For stage exits
// (stage >= 0) the stage and every lower stage are flagged, so a lower stage
// can never fire separately after a higher one already reduced the position.
// A stage exit that drains the position closes it with target_reached.
// NoStage exits only deduct; the caller follows up with Close to record the
// exit reason.
func (r *Registry) ApplyExit(mint string, soldAmount float64, stage int) (Position, error) {
	mp, err := r.managed(mint)
	if err != nil {
		return Position{}, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.pos.Status == StatusClosed {
		return Position{}, ErrPositionClosed
	}
	if soldAmount <= 0 || soldAmount > mp.pos.Amount+amountEpsilon {
		return Position{}, fmt.Errorf("sold amount %f out of range (remaining %f)", soldAmount, mp.pos.Amount)
	}

	mp.pos.Amount -= soldAmount
	if mp.pos.Amount < amountEpsilon {
		mp.pos.Amount = 0
	}

	if stage >= 0 {
		for i := 0; i <= stage; i++ {
			mp.pos.Stages[i] = true
		}
		if mp.pos.Amount == 0 {
			r.closeLocked(mp, ExitTargetReached)
		} else {
			mp.pos.Status = StatusPartiallyExited
		}
	}

	return mp.pos.clone(), nil
}

// Close marks the position closed with the given reason and removes it from
// the registry. Removal only ever happens here (and via a draining stage
// exit), which preserves the rule that a position leaves the map only once
// it is Closed.
func (r *Registry) Close(mint string, reason ExitReason) (Position, error) {
	mp, err := r.managed(mint)
	if err != nil {
		return Position{}, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.pos.Status == StatusClosed {
		return Position{}, ErrPositionClosed
	}
	r.closeLocked(mp, reason)
	return mp.pos.clone(), nil
}

// closeLocked finalizes the position and drops it from the map. The caller
// holds mp.mu; the registry lock is taken only for the delete, and no path
// acquires a position lock while holding the registry lock, so the order is
// safe.
func (r *Registry) closeLocked(mp *managedPosition, reason ExitReason) {
	mp.pos.Status = StatusClosed
	mp.pos.ExitReason = reason
	mp.pos.ClosedAt = time.Now().UTC()

	r.mu.Lock()
	delete(r.positions, mp.pos.Mint)
	r.mu.Unlock()

	r.logger.Info("🏁 Position closed",
		zap.String("mint", mp.pos.Mint),
		zap.String("reason", string(reason)),
		zap.Float64("remaining", mp.pos.Amount))
}

func (r *Registry) managed(mint string) (*managedPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mp, ok := r.positions[mint]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return mp, nil
}
