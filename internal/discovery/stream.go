// ==================================
// File: internal/discovery/stream.go
// ==================================
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
	initialReconnect = 1 * time.Second
	maxReconnect     = 30 * time.Second
	healthySession   = 1 * time.Minute

	// Account positions inside a Raydium AMM v4 initialize2 transaction.
	// 4 is the new AMM pool account, 8 and 9 are the coin and pc mints.
	initPoolIndex      = 4
	initCoinMintIndex  = 8
	initQuoteMintIndex = 9
)

// txResolver resolves a signature to the transaction's account keys. The
// blockchain client satisfies this.
type txResolver interface {
	TransactionAccountKeys(ctx context.Context, signature solana.Signature) ([]string, error)
}

// LogStream subscribes to program logs over WebSocket and converts pool
// initialization transactions into raw payloads for the Normalizer. It
// reconnects with exponential backoff until the context is cancelled.
type LogStream struct {
	endpoint  string
	programID string
	resolver  txResolver
	norm      *Normalizer
	logger    *zap.Logger

	out       chan PoolEvent
	requestID atomic.Uint64
}

func NewLogStream(endpoint, programID string, resolver txResolver, norm *Normalizer, logger *zap.Logger) *LogStream {
	return &LogStream{
		endpoint:  endpoint,
		programID: programID,
		resolver:  resolver,
		norm:      norm,
		logger:    logger.Named("log_stream"),
		out:       make(chan PoolEvent, 128),
	}
}

// Run maintains the subscription until ctx is cancelled.
func (s *LogStream) Run(ctx context.Context) {
	var delay time.Duration
	for {
		start := time.Now()
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		delay = nextReconnectDelay(delay, time.Since(start))
		if err != nil {
			s.logger.Warn("log subscription dropped, reconnecting",
				zap.Error(err),
				zap.Duration("delay", delay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// nextReconnectDelay doubles the backoff on each drop, capped at
// maxReconnect. A session that stayed up for healthySession resets the
// backoff so a one-off drop after hours of streaming reconnects fast.
func nextReconnectDelay(current, sessionAge time.Duration) time.Duration {
	if sessionAge >= healthySession {
		return initialReconnect
	}
	next := current * 2
	if next < initialReconnect {
		next = initialReconnect
	}
	if next > maxReconnect {
		next = maxReconnect
	}
	return next
}

// Next drains whatever events are currently queued, without blocking.
func (s *LogStream) Next(ctx context.Context) []PoolEvent {
	var events []PoolEvent
	for {
		select {
		case <-ctx.Done():
			return events
		case ev := <-s.out:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (s *LogStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Info("📡 Subscribed to program logs", zap.String("program", s.programID))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		s.handleMessage(ctx, message)
	}
}

func (s *LogStream) subscribe(conn *websocket.Conn) error {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      s.requestID.Add(1),
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{s.programID}},
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(request)
}

type logNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Signature string   `json:"signature"`
				Err       any      `json:"err"`
				Logs      []string `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (s *LogStream) handleMessage(ctx context.Context, message []byte) {
	var note logNotification
	if err := json.Unmarshal(message, &note); err != nil || note.Method != "logsNotification" {
		return
	}
	value := note.Params.Result.Value
	if value.Err != nil || !isPoolInit(value.Logs) {
		return
	}

	sig, err := solana.SignatureFromBase58(value.Signature)
	if err != nil {
		s.logger.Debug("skipping notification with bad signature", zap.String("signature", value.Signature))
		return
	}

	keysCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	keys, err := s.resolver.TransactionAccountKeys(keysCtx, sig)
	cancel()
	if err != nil {
		s.logger.Warn("failed to resolve init transaction accounts",
			zap.String("signature", value.Signature),
			zap.Error(err))
		return
	}
	if len(keys) <= initQuoteMintIndex {
		s.logger.Debug("init transaction has too few accounts",
			zap.String("signature", value.Signature),
			zap.Int("accounts", len(keys)))
		return
	}

	raw, _ := json.Marshal(streamInit{
		PoolID:    keys[initPoolIndex],
		TokenMint: keys[initCoinMintIndex],
		QuoteMint: keys[initQuoteMintIndex],
	})

	ev, err := s.norm.Normalize(raw)
	if err != nil {
		// Quote-leg and malformed events are skips, not errors.
		return
	}

	select {
	case s.out <- ev:
	default:
		s.logger.Warn("event buffer full, dropping pool event", zap.String("pool", ev.PoolID))
	}
}

// isPoolInit reports whether the log lines contain a pool initialization.
func isPoolInit(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, "initialize2") || strings.Contains(line, "InitializeInstruction2") {
			return true
		}
	}
	return false
}
