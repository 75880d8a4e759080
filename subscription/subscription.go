// Package subscription keeps the local table of update callbacks in step
// with the observer ids a registry issues.
//
// A Registry is an explicit instance; callers that need one share it by
// reference. Subscribe and Unsubscribe for the same package are serialised,
// and a callback is only stored once the registry has issued its observer id.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/git-pkgs/semverx/internal/core"
)

const (
	DefaultMaxObservers = 100
	DefaultDispatchRate = rate.Limit(10)
)

var (
	ErrTooManyObservers = errors.New("too many observers for package")
	ErrUnknownObserver  = errors.New("unknown observer")
	ErrRateLimited      = errors.New("update dispatch rate limited")
)

// Callback receives update notifications for a package.
type Callback func(ctx context.Context, u core.Update)

// Registry maps package ids to the callbacks subscribed to them.
type Registry struct {
	remote       core.Registry
	logger       *log.Logger
	maxObservers int
	dispatchRate rate.Limit
	burst        int

	mu       sync.Mutex
	packages map[string]*entry
}

// entry holds the observers of one package. Its mutex serialises
// subscribe and unsubscribe for that package.
type entry struct {
	mu        sync.Mutex
	observers map[string]Callback
	order     []string
	limiter   *rate.Limiter
	removed   bool
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMaxObservers caps the observers held per package.
func WithMaxObservers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxObservers = n
		}
	}
}

// WithDispatchRate sets how many updates per second Dispatch delivers for a
// single package, with the given burst.
func WithDispatchRate(limit rate.Limit, burst int) Option {
	return func(r *Registry) {
		r.dispatchRate = limit
		r.burst = burst
	}
}

// New creates a Registry that obtains observer ids from remote.
func New(remote core.Registry, opts ...Option) *Registry {
	r := &Registry{
		remote:       remote,
		logger:       log.New(io.Discard),
		maxObservers: DefaultMaxObservers,
		dispatchRate: DefaultDispatchRate,
		burst:        int(DefaultDispatchRate),
		packages:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lock returns the locked entry for packageID, creating it when create is
// set. It returns nil when the package has no entry and create is false.
func (r *Registry) lock(packageID string, create bool) *entry {
	for {
		r.mu.Lock()
		e, ok := r.packages[packageID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			e = &entry{
				observers: make(map[string]Callback),
				limiter:   rate.NewLimiter(r.dispatchRate, r.burst),
			}
			r.packages[packageID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if !e.removed {
			return e
		}
		// Dropped while we waited; look again.
		e.mu.Unlock()
	}
}

// dropIfEmpty removes e from the table once it has no observers. e must be
// locked.
func (r *Registry) dropIfEmpty(packageID string, e *entry) {
	if len(e.observers) > 0 {
		return
	}
	e.removed = true
	r.mu.Lock()
	if r.packages[packageID] == e {
		delete(r.packages, packageID)
	}
	r.mu.Unlock()
}

// Subscribe registers cb for updates to packageID and returns the observer id
// the registry issued for it. When the registry call fails nothing is stored.
func (r *Registry) Subscribe(ctx context.Context, packageID string, cb Callback) (string, error) {
	if cb == nil {
		return "", errors.New("subscription: nil callback")
	}

	e := r.lock(packageID, true)
	defer e.mu.Unlock()

	if len(e.observers) >= r.maxObservers {
		return "", fmt.Errorf("%s: %w (limit %d)", packageID, ErrTooManyObservers, r.maxObservers)
	}

	observerID, err := r.remote.Subscribe(ctx, packageID)
	if err != nil {
		r.dropIfEmpty(packageID, e)
		return "", fmt.Errorf("subscribing to %s: %w", packageID, err)
	}
	if _, dup := e.observers[observerID]; dup {
		return "", fmt.Errorf("subscribing to %s: registry reissued observer %s", packageID, observerID)
	}

	e.observers[observerID] = cb
	e.order = append(e.order, observerID)
	r.logger.Debug("subscribed", "package", packageID, "observer", observerID, "observers", len(e.observers))
	return observerID, nil
}

// Unsubscribe revokes observerID with the registry and removes its callback.
// Other observers of the package are untouched. If the registry no longer
// knows the observer the local callback is still removed.
func (r *Registry) Unsubscribe(ctx context.Context, packageID, observerID string) error {
	e := r.lock(packageID, false)
	if e == nil {
		return fmt.Errorf("%s/%s: %w", packageID, observerID, ErrUnknownObserver)
	}
	defer e.mu.Unlock()

	if _, ok := e.observers[observerID]; !ok {
		return fmt.Errorf("%s/%s: %w", packageID, observerID, ErrUnknownObserver)
	}

	if err := r.remote.Unsubscribe(ctx, observerID); err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("unsubscribing %s: %w", observerID, err)
		}
		r.logger.Debug("observer already revoked", "package", packageID, "observer", observerID)
	}

	delete(e.observers, observerID)
	for i, id := range e.order {
		if id == observerID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	r.dropIfEmpty(packageID, e)
	r.logger.Debug("unsubscribed", "package", packageID, "observer", observerID)
	return nil
}

// Observers returns the observer ids held for packageID in subscription
// order.
func (r *Registry) Observers(packageID string) []string {
	e := r.lock(packageID, false)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Len returns the number of packages with at least one observer.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packages)
}

// Dispatch delivers u to every callback subscribed to u.PackageID, in
// subscription order, and returns how many were called. Callbacks run on the
// caller's goroutine without any registry lock held.
func (r *Registry) Dispatch(ctx context.Context, u core.Update) (int, error) {
	if _, err := core.ParseUpdateType(string(u.Type)); err != nil {
		return 0, err
	}

	e := r.lock(u.PackageID, false)
	if e == nil {
		return 0, nil
	}
	if !e.limiter.Allow() {
		e.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", u.PackageID, ErrRateLimited)
	}
	callbacks := make([]Callback, 0, len(e.order))
	for _, id := range e.order {
		callbacks = append(callbacks, e.observers[id])
	}
	e.mu.Unlock()

	for i, cb := range callbacks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		cb(ctx, u)
	}
	r.logger.Debug("dispatched update", "package", u.PackageID, "type", u.Type, "version", u.NewVersion, "callbacks", len(callbacks))
	return len(callbacks), nil
}
