package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a Rivora API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token for gateways in front of the API
}

// RivoraClient is a pure HTTP client for the Rivora API.
type RivoraClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewRivoraClient creates a new client for the Rivora API.
func NewRivoraClient(cfg Config) *RivoraClient {
	return &RivoraClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *RivoraClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		if apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CalculateScores runs the full scoring pipeline for one wallet.
func (c *RivoraClient) CalculateScores(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/calculate-scores", nil, map[string]string{
		"walletAddress": address,
	})
}

// BatchScores scores several wallets in one call.
func (c *RivoraClient) BatchScores(ctx context.Context, addresses []string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/batch-scores", nil, map[string]any{
		"walletAddresses": addresses,
	})
}

// Verify reads the scores stored on the ledger for a wallet.
func (c *RivoraClient) Verify(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/verify/"+url.PathEscape(address), nil, nil)
}

// PrepareSave builds an unsigned transaction storing the scores.
func (c *RivoraClient) PrepareSave(ctx context.Context, address string, trust, health float64, userType string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/blockchain/save-scores", nil, map[string]any{
		"walletAddress": address,
		"trustRating":   trust,
		"healthScore":   health,
		"userType":      userType,
	})
}

// History lists prepared drafts and submissions for a wallet. cursor is
// the nextCursor of a previous page.
func (c *RivoraClient) History(ctx context.Context, address, cursor string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/history/"+url.PathEscape(address), q, nil)
}

// Status returns the service status.
func (c *RivoraClient) Status(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/status", nil, nil)
}
