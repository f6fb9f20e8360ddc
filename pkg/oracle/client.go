// Package oracle is the HTTP client for the external batch reasoning
// service: model policy resolution, batch submission, status polling,
// and paginated result retrieval. It implements no retries; the
// governance loop degrades failures to no-op cycles.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the oracle surface the orchestrator depends on.
type API interface {
	ResolveFrontierModel(ctx context.Context) (*ModelPolicy, error)
	CreateBatch(ctx context.Context, requests []BatchRequest) (*Batch, error)
	GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error)
	GetBatchResults(ctx context.Context, batchID, cursor string) (*ResultsPage, error)
}

// Config holds client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP implementation of API.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	apiKey     string
}

// NewClient creates an oracle client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// ResolveFrontierModel asks the policy endpoint which model is
// currently eligible.
func (c *Client) ResolveFrontierModel(ctx context.Context) (*ModelPolicy, error) {
	var policy ModelPolicy
	if err := c.makeRequest(ctx, http.MethodGet, "/v1/models/frontier", nil, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// CreateBatch submits a set of prompts as one asynchronous batch job.
func (c *Client) CreateBatch(ctx context.Context, requests []BatchRequest) (*Batch, error) {
	payload := struct {
		Requests []BatchRequest `json:"requests"`
	}{Requests: requests}

	var batch Batch
	if err := c.makeRequest(ctx, http.MethodPost, "/v1/batches", payload, &batch); err != nil {
		return nil, err
	}
	if batch.ID == "" {
		return nil, fmt.Errorf("oracle returned batch without id")
	}
	return &batch, nil
}

// GetBatchStatus polls a batch job.
func (c *Client) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	var status BatchStatus
	path := "/v1/batches/" + url.PathEscape(batchID)
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetBatchResults fetches one page of a completed batch's results.
// Pass an empty cursor for the first page.
func (c *Client) GetBatchResults(ctx context.Context, batchID, cursor string) (*ResultsPage, error) {
	path := "/v1/batches/" + url.PathEscape(batchID) + "/results"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var page ResultsPage
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	reqURL := c.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("oracle service error (%d): %s", resp.StatusCode, errorResp.Error)
		}
		return fmt.Errorf("oracle service error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
