// ================================
// File: internal/oracle/oracle.go
// ================================

// Package oracle fetches USD prices from an external price API. A failed or
// missing lookup is reported as unavailable, never as an error: callers skip
// the cycle and retry on the next one.
package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client polls a Jupiter-style price API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("oracle"),
	}
}

type priceResponse struct {
	Data map[string]struct {
		Price float64 `json:"price"`
	} `json:"data"`
}

// GetPrice returns the USD price for a mint. The second return is false when
// the price is unavailable for any reason.
func (c *Client) GetPrice(ctx context.Context, mint, vsMint string) (float64, bool) {
	params := url.Values{}
	params.Set("ids", mint)
	if vsMint != "" {
		params.Set("vsToken", vsMint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+params.Encode(), nil)
	if err != nil {
		return 0, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("price fetch failed", zap.String("mint", mint), zap.Error(err))
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("price API status", zap.String("mint", mint), zap.String("status", resp.Status))
		return 0, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		c.logger.Debug("malformed price response", zap.String("mint", mint), zap.Error(err))
		return 0, false
	}

	entry, ok := pr.Data[mint]
	if !ok || entry.Price <= 0 {
		return 0, false
	}
	return entry.Price, true
}
