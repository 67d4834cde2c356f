// ==============================
// File: internal/swap/router.go
// ==============================

// Package swap executes token swaps through an external aggregator router.
// The gateway is two operations, quote and execute; no position state is
// touched anywhere until execute has confirmed on-chain.
package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/pump-sniper/internal/blockchain"
	"github.com/rovshanmuradov/pump-sniper/internal/logger"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
)

// Router is the swap gateway over a Jupiter-style aggregator HTTP API.
type Router struct {
	baseURL     string
	quoteMint   string
	slippageBps int

	httpClient *http.Client
	chain      *blockchain.Client
	wallet     *wallet.Wallet
	logger     *zap.Logger

	// decimals per mint, resolved once and cached.
	decimalsCache sync.Map
}

func NewRouter(baseURL, quoteMint string, slippageBps int,
	chain *blockchain.Client, w *wallet.Wallet, logger *zap.Logger) *Router {
	return &Router{
		baseURL:     baseURL,
		quoteMint:   quoteMint,
		slippageBps: slippageBps,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		chain:  chain,
		wallet: w,
		logger: logger.Named("swap"),
	}
}

// quoteResponse mirrors the relevant fields of the router's quote payload.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// Quote fetches a fresh single-use quote for swapping amount (UI units of
// fromMint) into toMint.
func (r *Router) Quote(ctx context.Context, fromMint, toMint string, amount float64) (*Quote, error) {
	fromDecimals, err := r.mintDecimals(ctx, fromMint)
	if err != nil {
		return nil, &Error{Op: OpQuote, Err: err}
	}
	toDecimals, err := r.mintDecimals(ctx, toMint)
	if err != nil {
		return nil, &Error{Op: OpQuote, Err: err}
	}

	params := url.Values{}
	params.Set("inputMint", fromMint)
	params.Set("outputMint", toMint)
	params.Set("amount", strconv.FormatUint(toRaw(amount, fromDecimals), 10))
	params.Set("slippageBps", strconv.Itoa(r.slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Op: OpQuote, Err: err}
	}

	body, err := r.do(req)
	if err != nil {
		return nil, &Error{Op: OpQuote, Err: err}
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, &Error{Op: OpQuote, Err: fmt.Errorf("malformed quote response: %w", err)}
	}
	if qr.OutAmount == "" {
		return nil, &Error{Op: OpQuote, Err: fmt.Errorf("router returned no route for %s -> %s", fromMint, toMint)}
	}

	inAmount, err := fromRaw(qr.InAmount, fromDecimals)
	if err != nil {
		return nil, &Error{Op: OpQuote, Err: err}
	}
	outAmount, err := fromRaw(qr.OutAmount, toDecimals)
	if err != nil {
		return nil, &Error{Op: OpQuote, Err: err}
	}
	priceImpact, _ := strconv.ParseFloat(qr.PriceImpactPct, 64)

	return &Quote{
		InputMint:      fromMint,
		OutputMint:     toMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: priceImpact,
		SlippageBps:    r.slippageBps,
		raw:            body,
	}, nil
}

// swapResponse carries the unsigned transaction assembled by the router.
type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Execute signs and submits the quoted swap and waits for on-chain
// confirmation. A success means the reported output amount is trustworthy.
// The quote is burned whether or not execution succeeds.
func (r *Router) Execute(ctx context.Context, q *Quote) (solana.Signature, error) {
	if !q.consume() {
		return solana.Signature{}, ErrQuoteReused
	}

	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse":           json.RawMessage(q.raw),
		"userPublicKey":           r.wallet.PublicKey.String(),
		"wrapAndUnwrapSol":        true,
		"dynamicComputeUnitLimit": true,
	})
	if err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := r.do(req)
	if err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: err}
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: fmt.Errorf("malformed swap response: %w", err)}
	}

	txBytes, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: fmt.Errorf("failed to decode swap transaction: %w", err)}
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: fmt.Errorf("failed to deserialize swap transaction: %w", err)}
	}

	if err := r.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: fmt.Errorf("failed to sign transaction: %w", err)}
	}

	sig, err := r.chain.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, &Error{Op: OpExecute, Err: err}
	}

	txLog := logger.WithTransaction(r.logger, sig.String())
	if err := r.chain.Confirm(ctx, sig); err != nil {
		txLog.Error("Swap confirmation failed", zap.Error(err))
		return sig, &Error{Op: OpExecute, Err: fmt.Errorf("confirmation failed: %w", err)}
	}

	txLog.Info("✅ Swap confirmed",
		zap.String("input_mint", q.InputMint),
		zap.String("output_mint", q.OutputMint),
		zap.Float64("out_amount", q.OutAmount))
	return sig, nil
}

// Buy swaps quoteAmount of the configured quote leg into tokenMint. Each call
// fetches a fresh quote, so a failed attempt can simply be retried.
func (r *Router) Buy(ctx context.Context, tokenMint string, quoteAmount float64) (string, float64, error) {
	q, err := r.Quote(ctx, r.quoteMint, tokenMint, quoteAmount)
	if err != nil {
		return "", 0, err
	}
	sig, err := r.Execute(ctx, q)
	if err != nil {
		return "", 0, err
	}
	return sig.String(), q.OutAmount, nil
}

// Sell swaps tokenAmount of tokenMint back into the quote leg.
func (r *Router) Sell(ctx context.Context, tokenMint string, tokenAmount float64) (string, float64, error) {
	q, err := r.Quote(ctx, tokenMint, r.quoteMint, tokenAmount)
	if err != nil {
		return "", 0, err
	}
	sig, err := r.Execute(ctx, q)
	if err != nil {
		return "", 0, err
	}
	return sig.String(), q.OutAmount, nil
}

func (r *Router) do(req *http.Request) ([]byte, error) {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("router returned %s: %s", resp.Status, string(body))
	}
	return body, nil
}

func (r *Router) mintDecimals(ctx context.Context, mint string) (uint8, error) {
	if cached, ok := r.decimalsCache.Load(mint); ok {
		return cached.(uint8), nil
	}

	pubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	info, err := r.chain.GetMintInfo(ctx, pubkey)
	if err != nil {
		return 0, err
	}

	r.decimalsCache.Store(mint, info.Decimals)
	return info.Decimals, nil
}

func toRaw(amount float64, decimals uint8) uint64 {
	return uint64(math.Round(amount * math.Pow10(int(decimals))))
}

func fromRaw(raw string, decimals uint8) (float64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q: %w", raw, err)
	}
	return float64(v) / math.Pow10(int(decimals)), nil
}
