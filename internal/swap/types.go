// ==============================
// File: internal/swap/types.go
// ==============================
package swap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrQuoteReused is returned when Execute is called twice with the same
	// quote. Quotes embed a blockhash and slippage snapshot; retrying an
	// execution always requires fetching a fresh quote.
	ErrQuoteReused = errors.New("quote already consumed, fetch a fresh one")
)

// Op identifies which gateway operation failed.
type Op string

const (
	OpQuote   Op = "quote"
	OpExecute Op = "execute"
)

// Error is the typed failure the gateway returns. Callers that see one must
// leave their own state untouched.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("swap %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Quote is a single-use swap quote. Amounts are in UI units of the respective
// mints.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       float64
	OutAmount      float64
	PriceImpactPct float64
	SlippageBps    int

	// raw is the router's quote response, posted back verbatim on execute.
	raw  json.RawMessage
	used atomic.Bool
}

// consume burns the quote. It reports false if the quote was already used.
func (q *Quote) consume() bool {
	return q.used.CompareAndSwap(false, true)
}
