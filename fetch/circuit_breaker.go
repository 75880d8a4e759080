package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

const breakerThreshold = 5

// CircuitBreakerFetcher wraps a Downloader with one circuit breaker per
// host. Only upstream failures count toward tripping; a missing artifact does
// not.
type CircuitBreakerFetcher struct {
	next     Downloader
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewCircuitBreakerFetcher wraps next.
func NewCircuitBreakerFetcher(next Downloader) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{
		next:     next,
		breakers: make(map[string]*circuit.Breaker),
	}
}

func (cbf *CircuitBreakerFetcher) breaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	b, ok := cbf.breakers[host]
	cbf.mu.RUnlock()
	if ok {
		return b
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()
	if b, ok := cbf.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(breakerThreshold),
	})
	cbf.breakers[host] = b
	return b
}

func (cbf *CircuitBreakerFetcher) call(rawURL string, fn func() error) error {
	host := hostOf(rawURL)
	b := cbf.breaker(host)
	if !b.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var result error
	err := b.Call(func() error {
		result = fn()
		if errors.Is(result, ErrUpstreamDown) || errors.Is(result, ErrRateLimited) {
			return result
		}
		return nil
	}, 0)
	if result != nil {
		return result
	}
	return err
}

// Fetch downloads url through the host's breaker.
func (cbf *CircuitBreakerFetcher) Fetch(ctx context.Context, fetchURL string) (*Artifact, error) {
	var artifact *Artifact
	err := cbf.call(fetchURL, func() error {
		var err error
		artifact, err = cbf.next.Fetch(ctx, fetchURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// Head checks url through the host's breaker.
func (cbf *CircuitBreakerFetcher) Head(ctx context.Context, headURL string) (size int64, contentType string, err error) {
	err = cbf.call(headURL, func() error {
		var headErr error
		size, contentType, headErr = cbf.next.Head(ctx, headURL)
		return headErr
	})
	return size, contentType, err
}

// BreakerState reports "open" or "closed" per host.
func (cbf *CircuitBreakerFetcher) BreakerState() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string, len(cbf.breakers))
	for host, b := range cbf.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
