// ======================================
// File: internal/discovery/normalizer.go
// ======================================
package discovery

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrUnrecognizedShape marks a payload no adapter could map. Callers
	// drop these with a logged skip rather than guessing at fields.
	ErrUnrecognizedShape = errors.New("unrecognized pool payload shape")
	// ErrQuoteLeg marks an event whose target token is itself a quote-like
	// mint; these are quote legs, not trade candidates.
	ErrQuoteLeg = errors.New("token mint is a quote leg")
)

// Normalizer maps each known upstream schema to the canonical PoolEvent and
// filters out quote-leg targets. Unknown shapes fail closed.
type Normalizer struct {
	quoteMints map[string]struct{}
	nativeMint string
	logger     *zap.Logger
}

func NewNormalizer(quoteMints map[string]struct{}, nativeMint string, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		quoteMints: quoteMints,
		nativeMint: nativeMint,
		logger:     logger.Named("normalizer"),
	}
}

// raydiumListing is the shape of a row from the Raydium pool listing API.
type raydiumListing struct {
	AmmID     string `json:"ammId"`
	BaseMint  string `json:"baseMint"`
	QuoteMint string `json:"quoteMint"`
}

// pumpCreate is the shape of a pump.fun token creation payload. The quote leg
// is always the native mint there, so the payload does not carry one.
type pumpCreate struct {
	Mint         string `json:"mint"`
	BondingCurve string `json:"bondingCurve"`
}

// streamInit is the shape LogStream synthesizes from an initialize log plus
// the transaction's account keys.
type streamInit struct {
	PoolID    string `json:"pool_id"`
	TokenMint string `json:"token_mint"`
	QuoteMint string `json:"quote_mint"`
}

// Normalize maps a raw payload to a PoolEvent. It returns ErrUnrecognizedShape
// when no adapter matches and ErrQuoteLeg when the target token is quote-like.
func (n *Normalizer) Normalize(raw json.RawMessage) (PoolEvent, error) {
	var listing raydiumListing
	if err := json.Unmarshal(raw, &listing); err == nil &&
		listing.AmmID != "" && listing.BaseMint != "" && listing.QuoteMint != "" {
		return n.orient(PoolEvent{
			PoolID:    listing.AmmID,
			TokenMint: listing.BaseMint,
			QuoteMint: listing.QuoteMint,
			Raw:       raw,
		})
	}

	var stream streamInit
	if err := json.Unmarshal(raw, &stream); err == nil &&
		stream.PoolID != "" && stream.TokenMint != "" && stream.QuoteMint != "" {
		return n.orient(PoolEvent{
			PoolID:    stream.PoolID,
			TokenMint: stream.TokenMint,
			QuoteMint: stream.QuoteMint,
			Raw:       raw,
		})
	}

	var create pumpCreate
	if err := json.Unmarshal(raw, &create); err == nil &&
		create.Mint != "" && create.BondingCurve != "" {
		return n.orient(PoolEvent{
			PoolID:    create.BondingCurve,
			TokenMint: create.Mint,
			QuoteMint: n.nativeMint,
			Raw:       raw,
		})
	}

	n.logger.Debug("dropping unrecognized pool payload", zap.ByteString("payload", raw))
	return PoolEvent{}, ErrUnrecognizedShape
}

// orient makes sure the token leg is the trade target. Pools list legs in
// upstream-specific order, so a quote-like token leg is swapped with the
// other side; if both legs are quote-like the event is filtered out.
func (n *Normalizer) orient(ev PoolEvent) (PoolEvent, error) {
	_, tokenIsQuote := n.quoteMints[ev.TokenMint]
	_, quoteIsQuote := n.quoteMints[ev.QuoteMint]

	if tokenIsQuote && !quoteIsQuote {
		ev.TokenMint, ev.QuoteMint = ev.QuoteMint, ev.TokenMint
		tokenIsQuote = false
	}
	if tokenIsQuote {
		return PoolEvent{}, ErrQuoteLeg
	}
	return ev, nil
}
