// ====================================
// File: internal/blockchain/client.go
// ====================================
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// MintInfo is the subset of SPL mint state the risk checks need. Authority
// fields are empty strings when the authority has been revoked.
type MintInfo struct {
	MintAuthority   string
	FreezeAuthority string
	Supply          uint64
	Decimals        uint8
}

// Holder is one entry of the largest-accounts snapshot for a mint.
type Holder struct {
	Account string
	Amount  uint64
}

// Client is the RPC facade used by the rest of the bot. It rotates across the
// configured endpoints on failure.
type Client struct {
	pool   *rpcPool
	logger *zap.Logger
}

func NewClient(rpcList []string, logger *zap.Logger) (*Client, error) {
	if len(rpcList) == 0 {
		return nil, errors.New("empty RPC list")
	}
	for _, rpcURL := range rpcList {
		if _, err := url.Parse(rpcURL); err != nil {
			return nil, errors.New("invalid RPC URL: " + rpcURL)
		}
	}
	return &Client{
		pool:   newRPCPool(rpcList),
		logger: logger.Named("blockchain"),
	}, nil
}

// GetMintInfo fetches and decodes the SPL mint account for a token.
func (c *Client) GetMintInfo(ctx context.Context, mint solana.PublicKey) (*MintInfo, error) {
	acc, err := c.pool.get().GetAccountInfo(ctx, mint)
	if err != nil {
		c.logger.Debug("GetAccountInfo failed", zap.String("mint", mint.String()), zap.Error(err))
		c.pool.advance()
		return nil, fmt.Errorf("failed to get mint account: %w", err)
	}
	if acc == nil || acc.Value == nil {
		return nil, fmt.Errorf("mint account %s not found", mint.String())
	}

	var m token.Mint
	if err := bin.NewBinDecoder(acc.Value.Data.GetBinary()).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode mint account: %w", err)
	}

	info := &MintInfo{
		Supply:   m.Supply,
		Decimals: m.Decimals,
	}
	if m.MintAuthority != nil {
		info.MintAuthority = m.MintAuthority.String()
	}
	if m.FreezeAuthority != nil {
		info.FreezeAuthority = m.FreezeAuthority.String()
	}
	return info, nil
}

// GetLargestHolders returns the largest token accounts for a mint, ordered by
// balance descending as the RPC reports them.
func (c *Client) GetLargestHolders(ctx context.Context, mint solana.PublicKey) ([]Holder, error) {
	result, err := c.pool.get().GetTokenLargestAccounts(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		c.pool.advance()
		return nil, fmt.Errorf("failed to get largest accounts: %w", err)
	}

	holders := make([]Holder, 0, len(result.Value))
	for _, acc := range result.Value {
		amount, err := strconv.ParseUint(acc.Amount, 10, 64)
		if err != nil {
			c.logger.Warn("unparseable holder amount",
				zap.String("account", acc.Address.String()),
				zap.String("amount", acc.Amount))
			continue
		}
		holders = append(holders, Holder{
			Account: acc.Address.String(),
			Amount:  amount,
		})
	}
	return holders, nil
}

// GetLatestBlockhash returns a recent blockhash for transaction assembly.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := c.pool.get().GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		c.pool.advance()
		return solana.Hash{}, err
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction without preflight checks.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.pool.get().SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		c.pool.advance()
		return solana.Signature{}, err
	}
	return sig, nil
}

// Confirm polls signature status until the transaction reaches confirmed or
// finalized commitment.
func (c *Client) Confirm(ctx context.Context, signature solana.Signature) error {
	op := func() (struct{}, error) {
		statuses, err := c.pool.get().GetSignatureStatuses(ctx, false, signature)
		if err != nil {
			c.pool.advance()
			return struct{}{}, err
		}
		if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("transaction %s failed on-chain: %v", signature, status.Err))
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return struct{}{}, nil
			}
		}
		return struct{}{}, errors.New("not yet confirmed")
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(45*time.Second),
	)
	return err
}

// TransactionAccountKeys returns the static account keys of a confirmed
// transaction. Discovery uses this to resolve pool accounts mentioned in
// subscription logs.
func (c *Client) TransactionAccountKeys(ctx context.Context, signature solana.Signature) ([]string, error) {
	maxVersion := uint64(0)
	out, err := c.pool.get().GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		c.pool.advance()
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return nil, fmt.Errorf("transaction %s not found", signature)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	keys := make([]string, 0, len(tx.Message.AccountKeys))
	for _, key := range tx.Message.AccountKeys {
		keys = append(keys, key.String())
	}
	return keys, nil
}
