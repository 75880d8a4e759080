package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a package or version is not found.
	ErrNotFound = errors.New("not found")

	// ErrCircuitOpen is returned while the breaker for a host is tripped.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Tier    string
	ID      string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("%s: package %s version %s not found", e.Tier, e.ID, e.Version)
	}
	return fmt.Sprintf("%s: package %s not found", e.Tier, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError is returned when the registry keeps rate limiting after
// every retry has been spent.
type RateLimitError struct {
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}
