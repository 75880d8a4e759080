package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// stubDownloader returns err from every call and counts them.
type stubDownloader struct {
	calls atomic.Int32
	err   error
}

func (s *stubDownloader) Fetch(ctx context.Context, url string) (*Artifact, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Artifact{Body: io.NopCloser(nil), Size: -1}, nil
}

func (s *stubDownloader) Head(ctx context.Context, url string) (int64, string, error) {
	s.calls.Add(1)
	return 0, "", s.err
}

func TestCircuitBreakerFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tarball"))
	}))
	defer server.Close()

	cbf := NewCircuitBreakerFetcher(newTestFetcher(t))
	artifact, err := cbf.Fetch(context.Background(), server.URL+"/core.tgz")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	body, _ := io.ReadAll(artifact.Body)
	if string(body) != "tarball" {
		t.Errorf("body = %q, want %q", string(body), "tarball")
	}
}

func TestCircuitBreakerHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Content-Type", "application/gzip")
	}))
	defer server.Close()

	cbf := NewCircuitBreakerFetcher(newTestFetcher(t))
	size, contentType, err := cbf.Head(context.Background(), server.URL+"/core.tgz")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if size != 1234 {
		t.Errorf("size = %d, want 1234", size)
	}
	if contentType != "application/gzip" {
		t.Errorf("contentType = %q, want application/gzip", contentType)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://r.obinexus.org/live/tarballs/1.stable.0.stable.0.stable/core", "r.obinexus.org"},
		{"http://localhost:8080/local/tarballs/x", "localhost:8080"},
		{"not-a-valid-url", "not-a-valid-url"},
	}

	for _, tt := range tests {
		if got := hostOf(tt.url); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestBreakerStatePerHost(t *testing.T) {
	server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("one"))
	}))
	defer server1.Close()
	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("two"))
	}))
	defer server2.Close()

	cbf := NewCircuitBreakerFetcher(newTestFetcher(t))
	if states := cbf.BreakerState(); len(states) != 0 {
		t.Errorf("BreakerState = %v, want empty", states)
	}

	for _, u := range []string{server1.URL, server2.URL} {
		artifact, err := cbf.Fetch(context.Background(), u+"/core.tgz")
		if err != nil {
			t.Fatalf("Fetch(%s) failed: %v", u, err)
		}
		_ = artifact.Body.Close()
	}

	states := cbf.BreakerState()
	if len(states) != 2 {
		t.Errorf("len(BreakerState) = %d, want 2", len(states))
	}
	for host, state := range states {
		if state != "closed" {
			t.Errorf("state[%s] = %s, want closed", host, state)
		}
	}
}

func TestCircuitBreakerOpensOnUpstreamFailures(t *testing.T) {
	stub := &stubDownloader{err: ErrUpstreamDown}
	cbf := NewCircuitBreakerFetcher(stub)

	for range 10 {
		_, _ = cbf.Fetch(context.Background(), "https://r.obinexus.org/core.tgz")
	}

	if got := stub.calls.Load(); got != breakerThreshold {
		t.Errorf("calls = %d, want %d", got, breakerThreshold)
	}
	if state := cbf.BreakerState()["r.obinexus.org"]; state != "open" {
		t.Errorf("state = %q, want open", state)
	}

	_, err := cbf.Fetch(context.Background(), "https://r.obinexus.org/core.tgz")
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("Fetch with open breaker = %v, want ErrUpstreamDown", err)
	}
}

func TestCircuitBreakerIgnoresNotFound(t *testing.T) {
	stub := &stubDownloader{err: ErrNotFound}
	cbf := NewCircuitBreakerFetcher(stub)

	for range 10 {
		_, err := cbf.Fetch(context.Background(), "https://r.obinexus.org/missing.tgz")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Fetch = %v, want ErrNotFound", err)
		}
	}

	if got := stub.calls.Load(); got != 10 {
		t.Errorf("calls = %d, want 10", got)
	}
	if state := cbf.BreakerState()["r.obinexus.org"]; state != "closed" {
		t.Errorf("state = %q, want closed", state)
	}
}
