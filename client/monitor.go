package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletwatch/service/poller"
	"github.com/brojonat/walletwatch/service/solana"
	"github.com/brojonat/walletwatch/service/summary"
)

// TransactionList is a page of journal or archive records.
type TransactionList struct {
	Wallet       string           `json:"wallet,omitempty"`
	Days         int              `json:"days"`
	Period       string           `json:"period"`
	Count        int              `json:"count"`
	Total        *int64           `json:"total,omitempty"`
	Transactions []*solana.Record `json:"transactions"`
}

// Event is one Server-Sent Event from the live feed.
type Event struct {
	Name string
	Data string
}

// Client is the HTTP client for the walletwatch server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new walletwatch client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Start tells the server to monitor wallet, replacing any running session.
func (c *Client) Start(ctx context.Context, wallet string) (*poller.Status, error) {
	body, err := json.Marshal(map[string]string{"wallet": wallet})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var status poller.Status
	if err := c.do(ctx, http.MethodPost, "/api/v1/monitor", nil, bytes.NewReader(body), &status); err != nil {
		return nil, err
	}
	c.logger.Debug("monitoring started", "wallet", wallet)
	return &status, nil
}

// Stop tells the server to stop monitoring.
func (c *Client) Stop(ctx context.Context) (*poller.Status, error) {
	var status poller.Status
	if err := c.do(ctx, http.MethodDelete, "/api/v1/monitor", nil, nil, &status); err != nil {
		return nil, err
	}
	c.logger.Debug("monitoring stopped")
	return &status, nil
}

// Status returns the server's monitoring status.
func (c *Client) Status(ctx context.Context) (*poller.Status, error) {
	var status poller.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/monitor", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Transactions lists journal records for a period ("1", "7", "30", "90", "all").
func (c *Client) Transactions(ctx context.Context, period string) (*TransactionList, error) {
	var list TransactionList
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions", periodQuery(period), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Summary returns the aggregated summary for a period.
func (c *Client) Summary(ctx context.Context, period string) (*summary.Summary, error) {
	var s summary.Summary
	if err := c.do(ctx, http.MethodGet, "/api/v1/summary", periodQuery(period), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SummaryText returns the server-rendered summary text view.
func (c *Client) SummaryText(ctx context.Context, period string) (string, error) {
	q := periodQuery(period)
	q.Set("format", "text")

	resp, err := c.send(ctx, http.MethodGet, "/api/v1/summary", q, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.parseErrorResponse(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// Archive lists records from the server's Postgres archive.
// An empty wallet means the currently monitored one; limit <= 0 uses the server default.
func (c *Client) Archive(ctx context.Context, wallet, period string, limit int) (*TransactionList, error) {
	q := periodQuery(period)
	if wallet != "" {
		q.Set("wallet", wallet)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var list TransactionList
	if err := c.do(ctx, http.MethodGet, "/api/v1/archive", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Stream reads the live feed until ctx is cancelled or the server closes the
// stream, calling handle for every event. The connected event is included.
func (c *Client) Stream(ctx context.Context, handle func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The shared client's timeout would cut the stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	var (
		name string
		data []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				if name == "" {
					name = "message"
				}
				handle(Event{Name: name, Data: strings.Join(data, "\n")})
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

func periodQuery(period string) url.Values {
	q := url.Values{}
	if period != "" {
		q.Set("period", period)
	}
	return q
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// do sends a request and decodes a 200 JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out interface{}) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
