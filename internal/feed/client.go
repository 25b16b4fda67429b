package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"danso/internal/domain"
)

// ErrStatus marks a non-success response from the signal server.
var ErrStatus = errors.New("server error")

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client talks to the signal server's HTTP contract.
type Client struct {
	baseURL      string
	snapshotPath string
	httpClient   *http.Client
	log          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSnapshotPath overrides the snapshot endpoint path.
func WithSnapshotPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.snapshotPath = path
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		snapshotPath: "/api/sts/status",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server root the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// Snapshot fetches and decodes the current server state.
func (c *Client) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	raw, err := c.get(ctx, c.snapshotPath)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return DecodeSnapshot(raw)
}

// Candles fetches the intraday candle series for ticker.
func (c *Client) Candles(ctx context.Context, ticker string) ([]domain.Candle, error) {
	raw, err := c.get(ctx, "/api/chart_data/"+url.PathEscape(strings.ToUpper(ticker)))
	if err != nil {
		return nil, err
	}
	return DecodeCandles(raw)
}

// ExchangeToken trades a delivery registration id for a push token.
func (c *Client) ExchangeToken(ctx context.Context, registration string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/push/token", map[string]string{"registration": registration}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrMalformed)
	}
	return resp.Token, nil
}

// RegisterToken subscribes token to server notifications.
func (c *Client) RegisterToken(ctx context.Context, token string) error {
	return c.post(ctx, "/subscribe", map[string]string{"token": token}, nil)
}

// SetAlertThreshold stores the minimum score that triggers a notification for
// token.
func (c *Client) SetAlertThreshold(ctx context.Context, token string, threshold int) error {
	body := struct {
		Token     string `json:"token"`
		Threshold int    `json:"threshold"`
	}{token, threshold}
	return c.post(ctx, "/api/set_alert_threshold", body, nil)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.URL.Path, err)
	}
	c.log.Debug("feed request", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "bytes", len(raw), "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s: %d %s", ErrStatus, req.Method, req.URL.Path, resp.StatusCode, serverMessage(raw))
	}
	return raw, nil
}

// serverMessage extracts {"error": ...} or {"message": ...} from an error body.
func serverMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
