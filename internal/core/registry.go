package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/git-pkgs/semverx/version"
)

// Registry is the interface implemented by SemVerX registry clients.
type Registry interface {
	// Tier returns the access tier this registry talks to.
	Tier() AccessTier

	// FetchPackage retrieves metadata for the highest version of id admitted
	// by r. It returns a *NotFoundError when the registry has no match.
	FetchPackage(ctx context.Context, id string, r version.Range, s Strategy) (*Package, error)

	// ResolveDag asks the registry to resolve the dependency graph of id.
	ResolveDag(ctx context.Context, id string, s Strategy) (*DagResult, error)

	// Subscribe registers interest in updates for id and returns the
	// observer id issued by the registry.
	Subscribe(ctx context.Context, id string) (string, error)

	// Unsubscribe revokes an observer id.
	Unsubscribe(ctx context.Context, observerID string) error

	// URLs returns the URL builder for this registry.
	URLs() URLBuilder
}

// Factory creates a registry instance for a given base URL.
type Factory func(baseURL string, client *Client) Registry

var (
	factories = make(map[AccessTier]Factory)
	defaults  = make(map[AccessTier]string)
	mu        sync.RWMutex
)

// Register adds a registry factory for a tier.
// defaultURL is the endpoint used when New is called without a base URL.
func Register(tier AccessTier, defaultURL string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[tier] = factory
	defaults[tier] = defaultURL
}

// New creates a new registry for the given tier.
// If baseURL is empty, the default endpoint is used.
func New(tier AccessTier, baseURL string, client *Client) (Registry, error) {
	mu.RLock()
	factory, ok := factories[tier]
	defaultURL := defaults[tier]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no registry registered for tier %q: %w", tier, ErrUnknownValue)
	}

	if baseURL == "" {
		baseURL = defaultURL
	}

	if client == nil {
		client = DefaultClient()
	}

	return factory(baseURL, client), nil
}

// SupportedTiers returns all registered tiers in sorted order.
func SupportedTiers() []AccessTier {
	mu.RLock()
	defer mu.RUnlock()

	tiers := make([]AccessTier, 0, len(factories))
	for tier := range factories {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

// DefaultURL returns the default endpoint for a tier.
func DefaultURL(tier AccessTier) string {
	mu.RLock()
	defer mu.RUnlock()
	return defaults[tier]
}
