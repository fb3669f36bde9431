package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy defines how transient upstream failures are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the retry settings used by all connectors:
// up to 3 retries with delay baseDelay * 2^attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// backoff computes the delay before the given retry attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// HTTPClient wraps outbound HTTP calls with bounded exponential-backoff
// retries and request pacing. HTTP 429 and 5xx responses are retried;
// 401/403 fail immediately because retrying a bad credential only wastes
// budget; other non-2xx statuses fail without retry.
type HTTPClient struct {
	client    *http.Client
	policy    RetryPolicy
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger
}

// HTTPClientOptions configures an HTTPClient.
type HTTPClientOptions struct {
	Timeout           time.Duration
	Policy            RetryPolicy
	RequestsPerSecond float64
	UserAgent         string
}

// NewHTTPClient builds a retrying client. A zero RequestsPerSecond
// disables pacing.
func NewHTTPClient(opts HTTPClientOptions, logger *slog.Logger) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	policy := opts.Policy
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		policy:    policy,
		limiter:   limiter,
		userAgent: opts.UserAgent,
		logger:    logger,
	}
}

// Get fetches url and returns the response body. Requests are retried per
// the client's policy; the returned error wraps *HTTPStatusError for
// non-2xx terminal responses.
func (c *HTTPClient) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.policy.backoff(attempt - 1)
			c.logger.Debug("retrying upstream request",
				"url", url,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		body, err := c.doOnce(ctx, url, header)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *HTTPStatusError
		if errors.As(err, &se) && isRetryableStatus(se.StatusCode) {
			continue
		}
		// Auth rejections, other statuses and malformed-request errors
		// are not transient.
		return nil, err
	}

	return nil, fmt.Errorf("max retries exceeded (%d): %w", c.policy.MaxRetries, lastErr)
}

// GetJSON fetches url and decodes the response body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	body, err := c.Get(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func (c *HTTPClient) doOnce(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: snippet}
	}

	return body, nil
}
