// Package client is the HTTP transport used to talk to SemVerX registries.
//
// Requests are retried with exponential backoff on 429 and 5xx responses and
// each upstream host gets its own circuit breaker, so a registry that keeps
// failing is short-circuited instead of hammered.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	circuit "github.com/rubyist/circuitbreaker"
)

const (
	defaultUserAgent  = "semverx"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	defaultBaseDelay  = 50 * time.Millisecond
	maxErrorBody      = 1024
)

// RateLimiter controls request pacing. *rate.Limiter from golang.org/x/time
// satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Client is an HTTP client with retry logic for registry APIs.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	token       string
	maxRetries  int
	baseDelay   time.Duration
	rateLimiter RateLimiter
	logger      *log.Logger
	breakers    *breakerSet
}

// breakerSet holds one circuit breaker per upstream host. It is shared by
// copies made with WithUserAgent.
type breakerSet struct {
	mu sync.Mutex
	m  map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the first retry interval.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithToken attaches "Authorization: Bearer <token>" to every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithRateLimiter paces outgoing requests.
func WithRateLimiter(rl RateLimiter) Option {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return NewClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		logger:     log.New(io.Discard),
		breakers:   &breakerSet{m: make(map[string]*circuit.Breaker)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithUserAgent returns a copy of the client that sends ua as User-Agent.
func (c *Client) WithUserAgent(ua string) *Client {
	return &Client{
		httpClient:  c.httpClient,
		userAgent:   ua,
		token:       c.token,
		maxRetries:  c.maxRetries,
		baseDelay:   c.baseDelay,
		rateLimiter: c.rateLimiter,
		logger:      c.logger,
		breakers:    c.breakers,
	}
}

// GetJSON fetches url and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// PostJSON sends in as a JSON body and decodes the response into out.
// out may be nil.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string) error {
	_, err := c.do(ctx, http.MethodDelete, url, nil)
	return err
}

// GetBody fetches url and returns the raw response body.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// Head issues a HEAD request and returns the status code.
func (c *Client) Head(ctx context.Context, url string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// BreakerState reports "open" or "closed" for every host seen so far.
func (c *Client) BreakerState() map[string]string {
	c.breakers.mu.Lock()
	defer c.breakers.mu.Unlock()

	states := make(map[string]string, len(c.breakers.m))
	for host, breaker := range c.breakers.m {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func (c *Client) breaker(rawURL string) (string, *circuit.Breaker) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	c.breakers.mu.Lock()
	defer c.breakers.mu.Unlock()
	if b, ok := c.breakers.m[host]; ok {
		return host, b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers.m[host] = b
	return host, b
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	host, breaker := c.breaker(url)
	if !breaker.Ready() {
		return nil, fmt.Errorf("%s: %w", host, ErrCircuitOpen)
	}

	// Only upstream failures count against the breaker. Client errors such
	// as 404 are returned through result.
	var body []byte
	var result error
	err := breaker.Call(func() error {
		body, result = c.retry(ctx, method, url, payload)
		if isUpstreamFailure(result) {
			return result
		}
		return nil
	}, 0)
	if result != nil {
		return nil, result
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) retry(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = c.baseDelay
	delays.MaxInterval = 30 * c.baseDelay
	delays.MaxElapsedTime = 0
	delays.Reset()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delays.NextBackOff()
			var rle *RateLimitError
			if errors.As(lastErr, &rle) && rle.RetryAfter > 0 {
				wait = time.Duration(rle.RetryAfter) * time.Second
			}
			c.logger.Debug("retrying request", "method", method, "url", url, "attempt", attempt, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := c.once(ctx, method, url, payload)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload []byte) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, url, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}
	return body, nil
}

// transportError marks failures below HTTP: refused connections, resets,
// truncated bodies.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	var te *transportError
	return errors.As(err, &te)
}

func isUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	var te *transportError
	return errors.As(err, &te)
}
