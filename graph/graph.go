// Package graph holds the dependency graph built while resolving a package.
//
// Nodes are package ids materialised through a Fetcher. Edges point from a
// dependent to its dependency and carry the version range that was declared.
// A Graph is safe for concurrent use; AddNode guarantees one fetch per id no
// matter how many goroutines ask for it.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

var (
	// ErrConflict is wrapped by ConflictError.
	ErrConflict = errors.New("conflicting version ranges")

	// ErrCycle is wrapped by CycleError.
	ErrCycle = errors.New("dependency cycle")
)

type (
	// Fetcher loads the package metadata for id.
	Fetcher func(ctx context.Context, id string) (*core.Package, error)

	// Edge is a declared dependency From -> To.
	Edge struct {
		From  string
		To    string
		Range version.Range
	}

	// ConflictError reports two different ranges declared for the same node.
	ConflictError struct {
		NodeID string
		RangeA version.Range
		RangeB version.Range
	}

	// CycleError reports a dependency cycle as a closed path, e.g. [A B C A].
	CycleError struct {
		Path []string
	}

	// Graph is a lazily materialised dependency graph.
	Graph struct {
		mu    sync.Mutex
		nodes map[string]*node
		edges map[string]map[string]version.Range
	}

	node struct {
		pkg  *core.Package
		err  error
		done chan struct{}
	}
)

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting ranges for %s: %s vs %s", e.NodeID, e.RangeA, e.RangeB)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
		edges: make(map[string]map[string]version.Range),
	}
}

// AddNode materialises id using fetch. The first caller performs the fetch;
// later and concurrent callers receive the same package or error without
// fetching again. Waiting callers stop early if ctx is cancelled.
func (g *Graph) AddNode(ctx context.Context, id string, fetch Fetcher) (*core.Package, error) {
	g.mu.Lock()
	if n, ok := g.nodes[id]; ok {
		g.mu.Unlock()
		select {
		case <-n.done:
			return n.pkg, n.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := &node{done: make(chan struct{})}
	g.nodes[id] = n
	g.mu.Unlock()

	pkg, err := fetch(ctx, id)
	if err == nil && pkg == nil {
		err = fmt.Errorf("fetcher returned no package for %s", id)
	}

	g.mu.Lock()
	n.pkg, n.err = pkg, err
	g.mu.Unlock()
	close(n.done)

	return pkg, err
}

// AddEdge records that from depends on to within r. Re-adding the same edge
// with the same range is a no-op; a different range is a *ConflictError.
func (g *Graph) AddEdge(from, to string, r version.Range) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	out, ok := g.edges[from]
	if !ok {
		out = make(map[string]version.Range)
		g.edges[from] = out
	}
	if existing, ok := out[to]; ok {
		if existing == r {
			return nil
		}
		return &ConflictError{NodeID: to, RangeA: existing, RangeB: r}
	}
	out[to] = r
	return nil
}

// Package returns the materialised package for id.
func (g *Graph) Package(id string) (*core.Package, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok || !isReady(n) || n.err != nil {
		return nil, false
	}
	return n.pkg, true
}

// Nodes returns every successfully materialised id in sorted order.
func (g *Graph) Nodes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodesLocked()
}

func (g *Graph) nodesLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id, n := range g.nodes {
		if isReady(n) && n.err == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the sorted targets of edges leaving id.
func (g *Graph) Dependencies(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedKeys(g.edges[id])
}

// Edges returns all edges sorted by (From, To).
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var edges []Edge
	for _, from := range sortedKeys(g.edges) {
		for _, to := range sortedKeys(g.edges[from]) {
			edges = append(edges, Edge{From: from, To: to, Range: g.edges[from][to]})
		}
	}
	return edges
}

// Degree is the number of edges touching id, ignoring direction.
func (g *Graph) Degree(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := len(g.edges[id])
	for from, out := range g.edges {
		if from == id {
			continue
		}
		if _, ok := out[id]; ok {
			d++
		}
	}
	return d
}

// Depths returns the shortest edge distance from root to every reachable node.
func (g *Graph) Depths(root string) map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	depths := map[string]int{root: 0}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range sortedKeys(g.edges[id]) {
			if _, seen := depths[dep]; seen {
				continue
			}
			depths[dep] = depths[id] + 1
			queue = append(queue, dep)
		}
	}
	return depths
}

const (
	white = iota
	grey
	black
)

// DetectCycle runs a three-colour depth-first search over the nodes in sorted
// order and returns the first cycle found as a closed path, or nil.
func (g *Graph) DetectCycle() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	colour := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		stack = append(stack, id)
		for _, dep := range sortedKeys(g.edges[id]) {
			switch colour[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return false
	}

	roots := g.nodesLocked()
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			roots = append(roots, from)
		}
	}
	sort.Strings(roots)

	for _, id := range roots {
		if colour[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// Order returns the materialised nodes with every dependency placed before
// its dependents. Among nodes whose dependencies are all placed, less picks
// the next one. A cycle yields a *CycleError.
func (g *Graph) Order(less func(a, b string) bool) ([]string, error) {
	if cycle := g.DetectCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	g.mu.Lock()
	ids := g.nodesLocked()
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	pending := make(map[string]int, len(ids))
	dependents := make(map[string][]string)
	for _, from := range ids {
		for to := range g.edges[from] {
			if !present[to] || to == from {
				continue
			}
			pending[from]++
			dependents[to] = append(dependents[to], from)
		}
	}
	g.mu.Unlock()

	var ready []string
	for _, id := range ids {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, id)

		for _, dependent := range dependents[id] {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order, nil
}

// ByID orders ids lexically.
func ByID(a, b string) bool { return a < b }

func isReady(n *node) bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
