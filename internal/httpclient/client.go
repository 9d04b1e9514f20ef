// Package httpclient provides a rate-limited, retrying HTTP client for the
// web services that resolve citations (Crossref and friends).
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/observability"
)

// maxErrorBody bounds how much of an error response is kept in the error message.
const maxErrorBody = 512

// Config configures a Client.
type Config struct {
	// Source names the upstream in errors and metrics, e.g. "crossref".
	Source string

	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the delay between retries when the upstream gives no Retry-After.
	RetryDelay time.Duration

	// UserAgent is sent with every request that does not set its own.
	UserAgent string

	// Mailto is appended as a query parameter so that the upstream can
	// route the client into its polite pool.
	Mailto string
}

// Client wraps http.Client with rate limiting, retries and request metrics.
// It is safe for concurrent use.
type Client struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      Config
	metrics     *observability.Metrics
}

// New creates a client. metrics may be nil.
// The client waits on the rate limiter before every attempt and retries
// 429 and 5xx responses.
func New(cfg Config, metrics *observability.Metrics) *Client {
	if cfg.Source == "" {
		cfg.Source = "http"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = int(cfg.RateLimit)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "DOAB-ReferenceService/1.0"
		if cfg.Mailto != "" {
			cfg.UserAgent += " (mailto:" + cfg.Mailto + ")"
		}
	}

	return &Client{
		client:      &http.Client{Timeout: cfg.Timeout},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
		metrics:     metrics,
	}
}

// Source returns the configured upstream name.
func (c *Client) Source() string {
	return c.config.Source
}

// Do executes req with rate limiting and retries.
// A request body is only resent on retry when req.GetBody is set.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			c.metrics.RecordExternalRequest(c.config.Source, "error", time.Since(start).Seconds())
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < c.config.MaxRetries {
				if err := c.retry(req, c.config.RetryDelay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}
		c.metrics.RecordExternalRequest(c.config.Source, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		delay := c.retryDelay(resp)
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if attempt >= c.config.MaxRetries {
			return nil, domain.NewExternalAPIError(c.config.Source, resp.StatusCode,
				fmt.Sprintf("max retries exhausted after %d attempts", c.config.MaxRetries+1),
				domain.ErrServiceUnavailable)
		}
		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		if err := c.retry(req, delay); err != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// GetJSON fetches endpoint with the given query and decodes a 200 response into dest.
// Non-200 responses become *domain.ExternalAPIError; a 404 unwraps to domain.ErrNotFound.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, dest any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid %s endpoint: %w", c.config.Source, err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.config.Mailto != "" && q.Get("mailto") == "" {
		q.Set("mailto", c.config.Mailto)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", c.config.Source, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var cause error
		if resp.StatusCode == http.StatusNotFound {
			cause = domain.ErrNotFound
		}
		return domain.NewExternalAPIError(c.config.Source, resp.StatusCode, string(body), cause)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.config.Source, err)
	}
	return nil
}

func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// retryDelay honours Retry-After given in seconds or as an HTTP date.
func (c *Client) retryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return c.config.RetryDelay
}

// retry sleeps for delay and rewinds the request body.
func (c *Client) retry(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
	}

	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	req.Body = body
	return nil
}
