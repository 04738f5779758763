// Package tools implements the TMDB retrieval toolkit offered to the
// reasoning engine. One HTTP client serves every tool; each tool is a
// thin view over a TMDB endpoint with results trimmed to what a model
// can usefully quote back.
package tools

import (
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
)

// DefaultBaseURL is the TMDB v3 API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

var (
	// ErrNotFound indicates the requested TMDB resource does not exist.
	// Never retried.
	ErrNotFound = errors.New("resource not found")

	// ErrAPI indicates a TMDB or network failure after retries.
	ErrAPI = errors.New("tmdb api error")
)

// ClientConfig configures the TMDB client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// MaxRetries bounds retries of transient failures. Zero means 3.
	MaxRetries int
}

// Client is a TMDB v3 API client.
type Client struct {
	cfg    ClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a TMDB client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// get performs one TMDB GET with retries and decodes the JSON body into
// out. A 404 maps to ErrNotFound and is not retried; 5xx and transport
// errors are retried with exponential backoff.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.cfg.APIKey)

	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + endpoint + "?" + params.Encode()

	var lastErr error
	delay := 500 * time.Millisecond

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("tmdb retry", "endpoint", endpoint, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrAPI, ctx.Err())
			case <-time.After(delay):
				delay = min(delay*2, 10*time.Second)
			}
		}

		err := c.fetch(ctx, reqURL, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %s: %w", ErrAPI, endpoint, lastErr)
}

func (c *Client) fetch(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
