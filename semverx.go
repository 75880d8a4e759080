// Package semverx is a client for SemVerX package registries.
//
// SemVerX versions carry a maturity state on every component
// (major.state.minor.state.patch.state, e.g. 2.stable.1.experimental.0.stable)
// and every package carries a fault state reported by the registry. The
// client resolves dependency graphs against a registry, refusing graphs
// whose fault state reaches system panic, and orders them for install.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/semverx"
//		_ "github.com/git-pkgs/semverx/all"
//	)
//
//	reg, err := semverx.New(semverx.Live, "", semverx.DefaultClient())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res, err := semverx.Resolve(context.Background(), reg, "@obinexus/core", semverx.AnyVersion, semverx.Hybrid)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Order, res.Fault)
package semverx

import (
	"context"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/semverx/client"
	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/resolve"
	"github.com/git-pkgs/semverx/version"
)

// Re-export types from internal/core
type (
	// Registry is the interface implemented by SemVerX registry clients.
	Registry = core.Registry

	// Package is the metadata of one package version.
	Package = core.Package

	// Dependency is a parsed "id@range" declaration.
	Dependency = core.Dependency

	// DagResult is a server-side graph resolution.
	DagResult = core.DagResult

	// Strategy selects how a resolved graph is ordered.
	Strategy = core.Strategy

	// AccessTier selects the registry deployment.
	AccessTier = core.AccessTier

	// URLBuilder constructs URLs for a registry tier.
	URLBuilder = core.URLBuilder

	// UpdateType classifies an update notification.
	UpdateType = core.UpdateType

	// Update is an update notification for a package.
	Update = core.Update
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic for registry APIs.
	Client = client.Client

	// RateLimiter controls request pacing.
	RateLimiter = client.RateLimiter
)

// Result is a completed local resolution.
type Result = resolve.Result

// Re-export constants
const (
	Eulerian    = core.Eulerian
	Hamiltonian = core.Hamiltonian
	AStar       = core.AStar
	Hybrid      = core.Hybrid

	Live   = core.Live
	Local  = core.Local
	Remote = core.Remote

	OptIn        = core.OptIn
	Mandatory    = core.Mandatory
	StaleRelease = core.StaleRelease
)

// AnyVersion admits every version.
var AnyVersion = version.Any

// Re-export errors
var (
	ErrNotFound     = client.ErrNotFound
	ErrUnknownValue = core.ErrUnknownValue
	ErrBlocked      = core.ErrBlocked
)

// Error types
type (
	HTTPError      = client.HTTPError
	NotFoundError  = client.NotFoundError
	RateLimitError = client.RateLimitError
	FaultError     = core.FaultError
)

// New creates a new registry for the given tier.
// If baseURL is empty, the tier's default endpoint is used.
// If client is nil, DefaultClient() is used.
func New(tier AccessTier, baseURL string, c *Client) (Registry, error) {
	return core.New(tier, baseURL, c)
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	return client.NewClient(opts...)
}

// Option configures a Client.
type Option = client.Option

// WithTimeout sets the HTTP client timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the maximum number of retries.
var WithMaxRetries = client.WithMaxRetries

// WithToken sends a bearer credential with every request.
var WithToken = client.WithToken

// SupportedTiers returns all registered tiers.
// Note: registries must be imported to be registered.
func SupportedTiers() []AccessTier {
	return core.SupportedTiers()
}

// BuildURLs returns a map of all non-empty URLs for a package.
// Keys are "registry", "download" and "purl".
func BuildURLs(urls URLBuilder, id, ver string) map[string]string {
	return core.BuildURLs(urls, id, ver)
}

// DefaultURL returns the default endpoint for a tier.
func DefaultURL(tier AccessTier) string {
	return core.DefaultURL(tier)
}

// ParseVersion parses a six-component SemVerX version.
func ParseVersion(s string) (version.Version, error) {
	return version.Parse(s)
}

// ParseRange parses a six-slot version range such as 1.stable.*.*.*.*.
func ParseRange(s string) (version.Range, error) {
	return version.ParseRange(s)
}

// Resolve builds and orders the dependency graph of id with default engine
// settings. Use the resolve package for caching, metrics or concurrency
// limits.
func Resolve(ctx context.Context, reg Registry, id string, r version.Range, s Strategy) (*Result, error) {
	return resolve.New(reg).Resolve(ctx, id, r, s)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
// Supports both package PURLs (pkg:semverx/core) and version PURLs
// (pkg:semverx/core@1.stable.0.stable.0.stable).
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// NewFromPURL creates a registry client from a PURL and returns the parsed components.
// Returns the registry, package id, and version (empty if not in PURL).
func NewFromPURL(purl string, c *Client) (Registry, string, string, error) {
	return core.NewFromPURL(purl, c)
}

// FetchPackageFromPURL fetches package metadata using a PURL. Packages
// whose fault state is negative or blocking are rejected with an error.
func FetchPackageFromPURL(ctx context.Context, purl string, c *Client) (*Package, error) {
	return core.FetchPackageFromPURL(ctx, purl, c)
}

// BulkFetchPackages fetches the highest version admitted by r of each id in
// parallel. Ids that fail to fetch, or whose fault state is blocking, are
// left out of the map and reported in the joined error.
func BulkFetchPackages(ctx context.Context, reg Registry, ids []string, r version.Range, s Strategy) (map[string]*Package, error) {
	return core.BulkFetchPackages(ctx, reg, ids, r, s)
}

// BulkFetchPackagesWithConcurrency fetches packages with a custom concurrency limit.
func BulkFetchPackagesWithConcurrency(ctx context.Context, reg Registry, ids []string, r version.Range, s Strategy, concurrency int) (map[string]*Package, error) {
	return core.BulkFetchPackagesWithConcurrency(ctx, reg, ids, r, s, concurrency)
}

// BulkFetchPURLs fetches package metadata for multiple PURLs in parallel.
// Returns a map of PURL to Package and the joined per-PURL errors.
func BulkFetchPURLs(ctx context.Context, purls []string, c *Client) (map[string]*Package, error) {
	return core.BulkFetchPURLs(ctx, purls, c)
}
