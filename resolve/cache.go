package resolve

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

// Cache memoises package fetches across Resolve calls. Entries are keyed by
// strategy, id and range; concurrent requests for the same key share one
// in-flight fetch. The shared fetch is detached from any single caller's
// cancellation: a caller that gives up stops waiting, the others still get
// the result. Failed fetches are not stored. A Cache should only be shared
// by engines talking to the same registry.
type Cache struct {
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*core.Package
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*core.Package)}
}

func cacheKey(id string, r version.Range, s core.Strategy) string {
	return string(s) + ":" + id + "@" + r.String()
}

// Fetch returns the cached package for (id, r) or fetches it from reg.
// cached reports whether the result came from a stored entry or another
// caller's in-flight fetch.
func (c *Cache) Fetch(ctx context.Context, reg core.Registry, id string, r version.Range, s core.Strategy) (pkg *core.Package, cached bool, err error) {
	key := cacheKey(id, r, s)

	c.mu.RLock()
	pkg, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return pkg, true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		pkg, err := reg.FetchPackage(shared, id, r, s)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = pkg
		c.mu.Unlock()
		return pkg, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*core.Package), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops every stored entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*core.Package)
}
