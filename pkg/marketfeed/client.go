// Package marketfeed fetches aggregate market statistics for the
// decision matrix. The fetch is best-effort: callers degrade any
// failure to empty statistics rather than surfacing an error to the
// governance loop.
package marketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TokenStat is one sampled token's market row.
type TokenStat struct {
	Symbol       string  `json:"symbol"`
	PriceUSD     float64 `json:"priceUsd"`
	LiquidityUSD float64 `json:"liquidityUsd"`
	Volume24hUSD float64 `json:"volume24hUsd"`
	MomentumPct  float64 `json:"momentumPct"`
}

// Overview is the aggregate market snapshot: a bounded token sample
// plus the aggregate hourly price index used for momentum indicators.
type Overview struct {
	Tokens     []TokenStat `json:"tokens"`
	PriceIndex []float64   `json:"priceIndex"`
	AsOf       time.Time   `json:"asOf"`
}

// Config holds client settings.
type Config struct {
	ServiceURL string
	Timeout    time.Duration
}

// Fetcher is the surface the matrix builder depends on.
type Fetcher interface {
	Overview(ctx context.Context) (*Overview, error)
}

// Client is the HTTP implementation of Fetcher.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient creates a marketfeed client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimSuffix(cfg.ServiceURL, "/"),
	}
}

// Overview fetches the current market overview.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/market/overview", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("marketfeed error (%d): %s", resp.StatusCode, string(body))
	}

	var overview Overview
	if err := json.Unmarshal(body, &overview); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &overview, nil
}
