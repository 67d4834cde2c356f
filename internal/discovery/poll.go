// ================================
// File: internal/discovery/poll.go
// ================================
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PollSource discovers pools by polling a listing API that returns a JSON
// array of pool rows. It is the fallback when no WebSocket endpoint is
// configured.
type PollSource struct {
	endpoint   string
	httpClient *http.Client
	norm       *Normalizer
	logger     *zap.Logger
}

func NewPollSource(endpoint string, norm *Normalizer, logger *zap.Logger) *PollSource {
	return &PollSource{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		norm:   norm,
		logger: logger.Named("poll_source"),
	}
}

// Next fetches the current listing and normalizes every row. Fetch failures
// yield an empty batch; the next tick retries.
func (p *PollSource) Next(ctx context.Context) []PoolEvent {
	rows, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("pool listing fetch failed", zap.Error(err))
		return nil
	}

	events := make([]PoolEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := p.norm.Normalize(row)
		if err != nil {
			if errors.Is(err, ErrUnrecognizedShape) {
				p.logger.Debug("skipping malformed listing row")
			}
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (p *PollSource) fetch(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected listing status: " + resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
