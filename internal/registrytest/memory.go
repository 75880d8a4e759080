// Package registrytest provides an in-memory SemVerX registry and an
// httptest server that exposes it over the registry's HTTP API.
package registrytest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

// Memory is an in-memory core.Registry. It records every fetch so tests can
// assert on call counts and order.
type Memory struct {
	mu        sync.Mutex
	tier      core.AccessTier
	packages  map[string][]*core.Package
	dags      map[string]*core.DagResult
	tarballs  map[string][]byte
	observers map[string]string
	revoked   map[string]bool
	fetches   []string

	// Delay, when set, is waited out before answering a fetch for id.
	Delay func(id string) time.Duration

	// SubscribeErr and UnsubscribeErr, when set, fail the matching calls.
	SubscribeErr   error
	UnsubscribeErr error
}

// NewMemory creates an empty registry for tier live.
func NewMemory() *Memory {
	return &Memory{
		tier:      core.Live,
		packages:  make(map[string][]*core.Package),
		dags:      make(map[string]*core.DagResult),
		tarballs:  make(map[string][]byte),
		observers: make(map[string]string),
		revoked:   make(map[string]bool),
	}
}

// Package builds a package with the given dependency declarations.
func Package(id, ver string, faultState int, deps ...string) *core.Package {
	return &core.Package{
		ID:           id,
		Name:         id,
		Version:      version.MustParse(ver),
		Dependencies: deps,
		FaultState:   faultState,
	}
}

// Add registers package versions.
func (m *Memory) Add(pkgs ...*core.Package) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pkg := range pkgs {
		m.packages[pkg.ID] = append(m.packages[pkg.ID], pkg)
	}
	return m
}

// AddTarball stores data as the artifact for pkg and sets pkg.Checksum to its
// SHA-256 digest.
func (m *Memory) AddTarball(pkg *core.Package, data []byte) {
	sum := sha256.Sum256(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg.Checksum = hex.EncodeToString(sum[:])
	m.tarballs[tarballKey(pkg.ID, pkg.Version)] = data
}

// SetTarball stores data for id at v without touching any checksum.
func (m *Memory) SetTarball(id string, v version.Version, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tarballs[tarballKey(id, v)] = data
}

// Tarball returns the stored artifact for id at v.
func (m *Memory) Tarball(id string, v version.Version) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.tarballs[tarballKey(id, v)]
	return data, ok
}

func tarballKey(id string, v version.Version) string {
	return id + "@" + v.String()
}

// SetDag sets the server-side resolution result for id.
func (m *Memory) SetDag(id string, dag *core.DagResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dags[id] = dag
}

// Fetches returns the ids fetched so far, in call order.
func (m *Memory) Fetches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetches...)
}

// FetchCount returns how many times id was fetched.
func (m *Memory) FetchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.fetches {
		if f == id {
			n++
		}
	}
	return n
}

// Observers returns the live observer ids, sorted.
func (m *Memory) Observers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Revoked reports whether observerID was issued and later unsubscribed.
func (m *Memory) Revoked(observerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[observerID]
}

func (m *Memory) Tier() core.AccessTier { return m.tier }

func (m *Memory) URLs() core.URLBuilder { return purlOnly{} }

// purlOnly names packages but has no HTTP locations.
type purlOnly struct{}

func (purlOnly) Registry(string, string) string { return "" }
func (purlOnly) Download(string, string) string { return "" }
func (purlOnly) PURL(id, ver string) string     { return core.NewPURL(id, ver, nil) }

// FetchPackage returns the highest registered version of id admitted by r.
func (m *Memory) FetchPackage(ctx context.Context, id string, r version.Range, s core.Strategy) (*core.Package, error) {
	m.mu.Lock()
	m.fetches = append(m.fetches, id)
	delay := m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(id)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.packages[id]
	versions := make([]version.Version, len(candidates))
	for i, pkg := range candidates {
		versions[i] = pkg.Version
	}
	best, ok := version.MaxSatisfying(r, versions)
	if !ok {
		nf := &core.NotFoundError{Tier: string(m.tier), ID: id}
		if !r.IsAny() {
			nf.Version = r.String()
		}
		return nil, nf
	}
	for _, pkg := range candidates {
		if pkg.Version == best {
			cp := *pkg
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("registrytest: lost version %s of %s", best, id)
}

// ResolveDag returns the result set with SetDag.
func (m *Memory) ResolveDag(ctx context.Context, id string, s core.Strategy) (*core.DagResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dag, ok := m.dags[id]
	if !ok {
		return nil, &core.NotFoundError{Tier: string(m.tier), ID: id}
	}
	cp := *dag
	cp.Path = append([]string(nil), dag.Path...)
	return &cp, nil
}

// Subscribe issues a new observer id for a known package.
func (m *Memory) Subscribe(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return "", m.SubscribeErr
	}
	if _, ok := m.packages[id]; !ok {
		return "", &core.NotFoundError{Tier: string(m.tier), ID: id}
	}
	observerID := uuid.NewString()
	m.observers[observerID] = id
	return observerID, nil
}

// Unsubscribe revokes observerID.
func (m *Memory) Unsubscribe(ctx context.Context, observerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UnsubscribeErr != nil {
		return m.UnsubscribeErr
	}
	if _, ok := m.observers[observerID]; !ok {
		return &core.NotFoundError{Tier: string(m.tier), ID: observerID}
	}
	delete(m.observers, observerID)
	m.revoked[observerID] = true
	return nil
}
