// Package bracketd provides a Go client for the bracketd HTTP API.
package bracketd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a running bracketd server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. The HTTP timeout is
// generous because a webhook call blocks until the bracket reaches a
// terminal state.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Hour},
	}
}

// Signal is the webhook payload.
type Signal struct {
	Symbol       string   `json:"symbol"`
	Action       string   `json:"action"`
	Quantity     int      `json:"quantity"`
	LimitPrice   float64  `json:"limitPrice"`
	TakeProfit   float64  `json:"takeProfit"`
	TrailAmt     float64  `json:"trailAmt"`
	StopLoss     *float64 `json:"stopLoss,omitempty"`
	Timeframe    string   `json:"timeframe,omitempty"`
	RelativeType string   `json:"relativeType,omitempty"`
}

// BracketResponse is the success body of a webhook call.
type BracketResponse struct {
	Status          string          `json:"status"`
	ParentOrderID   string          `json:"parentOrderId"`
	ParentFillPrice float64         `json:"parentFillPrice"`
	ChildOrderType  string          `json:"childOrderType"`
	ChildFillPrice  float64         `json:"childFillPrice"`
	LogEntry        json.RawMessage `json:"logEntry"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bracketd: %s (%d): %s", e.Code, e.StatusCode, e.Detail)
}

// PlaceBracket submits a signal and blocks until the bracket completes or
// fails.
func (c *Client) PlaceBracket(ctx context.Context, sig Signal) (*BracketResponse, error) {
	var out BracketResponse
	if err := c.do(ctx, http.MethodPost, "/webhook", sig, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TradeLogs returns all recorded ledger entries.
func (c *Client) TradeLogs(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		TradeLogs json.RawMessage `json:"trade_logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/trade_logs", nil, &out); err != nil {
		return nil, err
	}
	return out.TradeLogs, nil
}

// Config returns the current runtime settings document.
func (c *Client) Config(ctx context.Context) (map[string]any, error) {
	var out struct {
		Config map[string]any `json:"config"`
	}
	if err := c.do(ctx, http.MethodGet, "/config", nil, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// UpdateConfig merges dot-path/value pairs into the runtime settings.
func (c *Client) UpdateConfig(ctx context.Context, updates map[string]any) error {
	return c.do(ctx, http.MethodPost, "/config/update", updates, nil)
}

// ConnectionStatus reports whether the server's venue connection is up.
func (c *Client) ConnectionStatus(ctx context.Context) (bool, error) {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := c.do(ctx, http.MethodGet, "/connection_status", nil, &out); err != nil {
		return false, err
	}
	return out.Connected, nil
}

// ResetOrders cancels every open order at the venue.
func (c *Client) ResetOrders(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reset_orders", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Detail = string(data)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
