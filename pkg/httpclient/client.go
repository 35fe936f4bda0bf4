// Package httpclient provides the shared outbound HTTP fetcher. Every
// external request in the server funnels through Client.Fetch, which applies
// the URL guard, the global token bucket, per-call deadlines, bounded
// retries with jittered backoff, and response-size caps.
//
// Fetch never returns a Go error: every failure mode is absorbed into the
// FetchResult so callers can fold degraded fetches into partial results.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/ratelimit"
	"github.com/iron-manus/jarvis/pkg/urlguard"
)

// Stable error identifiers carried in FetchResult.Error.
const (
	ErrSSRFBlocked = "ssrf_blocked"
	ErrRateLimited = "rate_limited"
	ErrTimeout     = "timeout"
	ErrNetwork     = "network_error"
)

const (
	defaultMaxRetries  = 2
	defaultBackoffBase = 1000 * time.Millisecond
	defaultBackoffMax  = 8000 * time.Millisecond
)

// FetchResult is the complete outcome of one fetch, success or not.
// EndpointID is filled by callers fetching on behalf of a registry entry.
type FetchResult struct {
	EndpointID string  `json:"endpoint_id,omitempty"`
	OK         bool    `json:"ok"`
	Status     int     `json:"status"`
	Body       string  `json:"body"`
	Error      string  `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	Confidence float64 `json:"confidence"`
}

// FetchOptions tune a single fetch.
type FetchOptions struct {
	// ConfidenceWeight becomes the result confidence on any 2xx response.
	ConfidenceWeight float64
	// Timeout overrides the configured per-call deadline when positive.
	Timeout time.Duration
}

// Client is the shared fetcher. Safe for concurrent use.
type Client struct {
	http             *http.Client
	guard            *urlguard.Guard
	bucket           *ratelimit.Bucket
	userAgent        string
	maxContentLength int64
	maxResponseChars int
	timeout          time.Duration
	maxRetries       int
	backoffBase      time.Duration
	backoffMax       time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the underlying round tripper (tests point it at
// an httptest server or a scripted fake).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// WithBucket shares or replaces the token bucket.
func WithBucket(b *ratelimit.Bucket) Option {
	return func(c *Client) {
		c.bucket = b
	}
}

// WithBackoff overrides the retry delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// WithMaxRetries overrides the retry budget (attempts beyond the first).
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// New builds the shared fetcher from configuration. The guard is consulted
// before the first request and on every redirect hop.
func New(cfg *config.Config, guard *urlguard.Guard, opts ...Option) *Client {
	c := &Client{
		guard:            guard,
		bucket:           ratelimit.NewBucket(cfg.RateLimit),
		userAgent:        cfg.Fetch.UserAgent,
		maxContentLength: cfg.Fetch.MaxContentLength,
		maxResponseChars: cfg.Knowledge.MaxResponseSize,
		timeout:          cfg.Knowledge.Timeout(),
		maxRetries:       defaultMaxRetries,
		backoffBase:      defaultBackoffBase,
		backoffMax:       defaultBackoffMax,
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.http = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return guard.Check(req.Context(), req.URL.String())
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs a guarded GET. DurationMS spans the whole call: guard,
// token wait, all attempts, and body reading.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts FetchOptions) FetchResult {
	start := time.Now()
	result := c.fetch(ctx, rawURL, opts)
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func (c *Client) fetch(ctx context.Context, rawURL string, opts FetchOptions) FetchResult {
	if err := c.guard.Check(ctx, rawURL); err != nil {
		return FetchResult{Error: ErrSSRFBlocked}
	}

	if err := c.bucket.Wait(ctx); err != nil {
		return FetchResult{Error: ErrRateLimited}
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var result FetchResult
	for attempt := 0; ; attempt++ {
		var retriable bool
		result, retriable = c.attempt(ctx, rawURL, timeout, opts)
		if result.OK || !retriable || attempt >= c.maxRetries {
			return result
		}
		if err := c.backoff(ctx, attempt); err != nil {
			result.Error = ErrTimeout
			return result
		}
	}
}

// attempt issues one GET and classifies the outcome. The returned bool
// reports whether the failure class is worth another attempt.
func (c *Client) attempt(ctx context.Context, rawURL string, timeout time.Duration, opts FetchOptions) (FetchResult, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{Error: ErrNetwork}, false
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/*")

	resp, err := c.http.Do(req)
	if err != nil {
		var blocked *urlguard.BlockedError
		if errors.As(err, &blocked) {
			// A redirect hop was rejected by the guard.
			return FetchResult{Error: ErrSSRFBlocked}, false
		}
		if ctx.Err() != nil {
			// The caller's own budget is gone; retrying is pointless.
			return FetchResult{Error: ErrTimeout}, false
		}
		if attemptCtx.Err() != nil {
			// Only this attempt timed out; the caller still has budget.
			return FetchResult{Error: ErrTimeout}, true
		}
		return FetchResult{Error: ErrNetwork}, true
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxContentLength))
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{Status: resp.StatusCode, Error: ErrTimeout}, false
		}
		return FetchResult{Status: resp.StatusCode, Error: ErrNetwork}, true
	}
	text := truncateChars(string(body), c.maxResponseChars)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return FetchResult{
			OK:         true,
			Status:     resp.StatusCode,
			Body:       text,
			Confidence: opts.ConfidenceWeight,
		}, false
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return FetchResult{
			Status: resp.StatusCode,
			Body:   text,
			Error:  fmt.Sprintf("http_%d", resp.StatusCode),
		}, true
	default:
		return FetchResult{
			Status: resp.StatusCode,
			Body:   text,
			Error:  fmt.Sprintf("http_%d", resp.StatusCode),
		}, false
	}
}

// backoff sleeps min(base·2^attempt, max) with ±20% jitter, honoring ctx.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << attempt
	if delay > c.backoffMax {
		delay = c.backoffMax
	}

	c.mu.Lock()
	jitter := 0.8 + 0.4*c.rand.Float64()
	c.mu.Unlock()
	delay = time.Duration(float64(delay) * jitter)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncateChars cuts s to at most n characters (runes, not bytes), so a
// multi-byte rune is never split.
func truncateChars(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
