package core

import "github.com/git-pkgs/semverx/client"

// ErrNotFound is returned when a package or version is not found.
var ErrNotFound = client.ErrNotFound

// Error types shared with the transport.
type (
	HTTPError      = client.HTTPError
	NotFoundError  = client.NotFoundError
	RateLimitError = client.RateLimitError
)
