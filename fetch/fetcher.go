// Package fetch downloads package tarballs with retry, per-host circuit
// breaking and artifact URL resolution.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	"github.com/rs/dnscache"
)

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream registry unavailable")
	ErrTooLarge     = errors.New("artifact exceeds size limit")
)

const dnsRefreshInterval = 5 * time.Minute

// Artifact is a downloaded tarball. The caller must close Body.
type Artifact struct {
	Body        io.ReadCloser
	Size        int64 // -1 if unknown
	ContentType string
	ETag        string
}

// Downloader fetches artifacts by URL.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*Artifact, error)
	Head(ctx context.Context, url string) (size int64, contentType string, err error)
}

// Fetcher downloads artifacts over HTTP.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	token      string
	maxRetries int
	baseDelay  time.Duration
	maxSize    int64
	logger     *log.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client. The DNS cache is not used.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(f *Fetcher) {
		f.token = token
	}
}

func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the first retry delay. Later delays grow exponentially.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithMaxSize rejects artifacts larger than n bytes. Zero means no limit.
func WithMaxSize(n int64) Option {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher creates a Fetcher. Unless WithHTTPClient is given it dials
// through a DNS cache that is refreshed until Close is called.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		userAgent:  "semverx",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		logger:     log.New(io.Discard),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = f.cachingClient()
	}
	return f
}

func (f *Fetcher) cachingClient() *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(dnsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-f.stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				return nil, fmt.Errorf("dialing %s: %w", host, lastErr)
			},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Close stops the DNS refresh loop. It is safe to call more than once.
func (f *Fetcher) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

// Fetch downloads the artifact at url, retrying rate limits and upstream
// failures with jittered exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Artifact, error) {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = f.baseDelay
	delays.RandomizationFactor = 0.1
	delays.MaxElapsedTime = 0
	delays.Reset()

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delays.NextBackOff()
			f.logger.Debug("retrying download", "url", url, "attempt", attempt, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		artifact, err := f.doFetch(ctx, url)
		if err == nil {
			return artifact, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (f *Fetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	return req, nil
}

func (f *Fetcher) doFetch(ctx context.Context, url string) (*Artifact, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching artifact: %w: %w", ErrUpstreamDown, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		size := contentLength(resp.Header)
		if f.maxSize > 0 && size > f.maxSize {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s: %d bytes: %w", url, size, ErrTooLarge)
		}
		body := resp.Body
		if f.maxSize > 0 {
			body = &limitedBody{ReadCloser: resp.Body, remaining: f.maxSize}
		}
		return &Artifact{
			Body:        body,
			Size:        size,
			ContentType: resp.Header.Get("Content-Type"),
			ETag:        resp.Header.Get("ETag"),
		}, nil

	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrUpstreamDown)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// Head reports the size and content type of the artifact at url without
// downloading it.
func (f *Fetcher) Head(ctx context.Context, url string) (size int64, contentType string, err error) {
	req, err := f.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return 0, "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("head request: %w: %w", ErrUpstreamDown, err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, "", ErrNotFound
	case resp.StatusCode >= 500:
		return 0, "", fmt.Errorf("status %d: %w", resp.StatusCode, ErrUpstreamDown)
	case resp.StatusCode != http.StatusOK:
		return 0, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return contentLength(resp.Header), resp.Header.Get("Content-Type"), nil
}

func contentLength(h http.Header) int64 {
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

// limitedBody fails with ErrTooLarge once more than remaining bytes are read.
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrTooLarge
	}
	// Read one byte past the limit so an exact-size body still succeeds.
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
