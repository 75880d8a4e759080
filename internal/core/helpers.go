package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/git-pkgs/semverx/version"
)

const defaultConcurrency = 15

// BulkFetchPackages fetches the highest version of each id in parallel.
// Every package is fault-checked. Ids that fail to fetch or are blocked are
// omitted from the map and reported in the joined error.
func BulkFetchPackages(ctx context.Context, reg Registry, ids []string, r version.Range, s Strategy) (map[string]*Package, error) {
	return BulkFetchPackagesWithConcurrency(ctx, reg, ids, r, s, defaultConcurrency)
}

// BulkFetchPackagesWithConcurrency fetches packages with a custom concurrency limit.
func BulkFetchPackagesWithConcurrency(ctx context.Context, reg Registry, ids []string, r version.Range, s Strategy, concurrency int) (map[string]*Package, error) {
	return bulk(ctx, ids, concurrency, func(ctx context.Context, id string) (*Package, error) {
		pkg, err := reg.FetchPackage(ctx, id, r, s)
		if err != nil {
			return nil, err
		}
		return pkg, pkg.Check()
	})
}

// BulkFetchPURLs fetches package metadata for multiple PURLs in parallel.
// Returns a map of PURL to Package; failures are reported in the joined error.
func BulkFetchPURLs(ctx context.Context, purls []string, client *Client) (map[string]*Package, error) {
	return bulk(ctx, purls, defaultConcurrency, func(ctx context.Context, p string) (*Package, error) {
		return FetchPackageFromPURL(ctx, p, client)
	})
}

func bulk(ctx context.Context, keys []string, concurrency int, fetch func(context.Context, string) (*Package, error)) (map[string]*Package, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make(map[string]*Package)
	errs := make([]error, len(keys))
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[i] = fmt.Errorf("%s: %w", key, ctx.Err())
				return
			}

			pkg, err := fetch(ctx, key)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", key, err)
				return
			}
			mu.Lock()
			results[key] = pkg
			mu.Unlock()
		}(i, key)
	}

	wg.Wait()
	return results, errors.Join(errs...)
}
