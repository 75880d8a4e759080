// Package resolve turns a root package and version range into an ordered,
// fault-checked install plan.
//
// Resolution fetches the root, then walks its dependency declarations level by
// level, fetching each new id once and in parallel. Any package at or above
// fault.SystemPanic stops the walk. Once the graph is complete it is checked
// for cycles and range conflicts and ordered by the requested strategy.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/semverx/fault"
	"github.com/git-pkgs/semverx/graph"
	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

const defaultConcurrency = 8

// Result is a completed resolution.
type Result struct {
	Root     string
	Order    []string // dependencies before dependents
	Packages map[string]*core.Package
	Fault    fault.State // most severe fault class across the graph
	RawFault int         // highest fault state reported by the registry
	Strategy core.Strategy
	Applied  core.Strategy // Strategy, or Hybrid after a fallback
	Trail    []string      // vertex sequence of the Eulerian trail, when applied
	Graph    *graph.Graph
}

// Engine resolves package graphs against a registry.
type Engine struct {
	registry    core.Registry
	cache       *Cache
	concurrency int
	logger      *log.Logger
	metrics     *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache shares fetched packages across Resolve calls.
func WithCache(c *Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithConcurrency bounds the number of parallel fetches per level.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records resolution metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine backed by reg.
func New(reg core.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		concurrency: defaultConcurrency,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve builds and orders the dependency graph of rootID.
func (e *Engine) Resolve(ctx context.Context, rootID string, r version.Range, s core.Strategy) (*Result, error) {
	start := time.Now()
	res, err := e.resolve(ctx, rootID, r, s)
	e.metrics.observeResolution(s, err, time.Since(start))
	if err != nil {
		e.logger.Debug("resolution failed", "package", rootID, "strategy", s, "err", err)
		return nil, err
	}
	e.logger.Debug("resolved", "package", rootID, "strategy", s, "applied", res.Applied, "nodes", len(res.Order), "fault", res.Fault)
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, rootID string, r version.Range, s core.Strategy) (*Result, error) {
	s, err := core.ParseStrategy(string(s))
	if err != nil {
		return nil, err
	}

	g := graph.New()
	// First declared range per id. Written only between levels, read by the
	// fetches of the current level.
	ranges := map[string]version.Range{rootID: r}
	fetch := func(ctx context.Context, id string) (*core.Package, error) {
		return e.fetch(ctx, id, ranges[id], s)
	}

	root, err := g.AddNode(ctx, rootID, fetch)
	if err != nil {
		return nil, e.fetchError(ctx, rootID, err)
	}
	if err := checkFault(root); err != nil {
		return nil, err
	}
	if !r.Admits(root.Version) {
		return nil, &Error{Kind: Conflict, PackageID: rootID, RangeA: r, RangeB: version.Exact(root.Version)}
	}

	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			pkg, _ := g.Package(id)
			deps, err := pkg.Requirements()
			if err != nil {
				return nil, &Error{Kind: FetchFailed, PackageID: id, Detail: "malformed dependency", Err: err}
			}
			for _, dep := range deps {
				if err := g.AddEdge(id, dep.ID, dep.Range); err != nil {
					var conflict *graph.ConflictError
					if errors.As(err, &conflict) {
						return nil, &Error{Kind: Conflict, PackageID: conflict.NodeID, RangeA: conflict.RangeA, RangeB: conflict.RangeB, Err: err}
					}
					return nil, err
				}
				if _, seen := ranges[dep.ID]; !seen {
					ranges[dep.ID] = dep.Range
					next = append(next, dep.ID)
				}
			}
		}

		if err := e.fetchLevel(ctx, g, next, fetch); err != nil {
			return nil, err
		}
		frontier = next
	}

	if cycle := g.DetectCycle(); cycle != nil {
		return nil, &Error{Kind: CyclicDependency, PackageID: cycle[0], Path: cycle}
	}

	packages := make(map[string]*core.Package)
	aggregate := fault.Clean
	raw := 0
	for _, id := range g.Nodes() {
		pkg, _ := g.Package(id)
		packages[id] = pkg
		f, _ := pkg.Fault()
		aggregate = fault.Max(aggregate, f)
		raw = max(raw, pkg.FaultState)
	}

	for _, edge := range g.Edges() {
		pkg := packages[edge.To]
		if edge.Range.Admits(pkg.Version) {
			continue
		}
		rangeA := ranges[edge.To]
		if rangeA == edge.Range {
			rangeA = version.Exact(pkg.Version)
		}
		return nil, &Error{Kind: Conflict, PackageID: edge.To, RangeA: rangeA, RangeB: edge.Range}
	}

	if fault.IsBlocking(aggregate) {
		return nil, &Error{Kind: Panic, PackageID: rootID, Detail: fmt.Sprintf("aggregate fault state %d", aggregate)}
	}

	p := newPlanner(g, rootID, packages)
	order, applied, trail := p.plan(s)
	if applied != s {
		e.metrics.observeFallback(s)
		e.logger.Debug("strategy fell back", "package", rootID, "requested", s, "applied", applied)
	}

	return &Result{
		Root:     rootID,
		Order:    order,
		Packages: packages,
		Fault:    aggregate,
		RawFault: raw,
		Strategy: s,
		Applied:  applied,
		Trail:    trail,
		Graph:    g,
	}, nil
}

// fetchLevel materialises ids in parallel. The first failure cancels the
// remaining fetches of the level.
func (e *Engine) fetchLevel(ctx context.Context, g *graph.Graph, ids []string, fetch graph.Fetcher) error {
	if len(ids) == 0 {
		return nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)
	for _, id := range ids {
		eg.Go(func() error {
			pkg, err := g.AddNode(gctx, id, fetch)
			if err != nil {
				return e.fetchError(gctx, id, err)
			}
			return checkFault(pkg)
		})
	}

	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (e *Engine) fetch(ctx context.Context, id string, r version.Range, s core.Strategy) (*core.Package, error) {
	var (
		pkg    *core.Package
		cached bool
		err    error
	)
	if e.cache != nil {
		pkg, cached, err = e.cache.Fetch(ctx, e.registry, id, r, s)
	} else {
		pkg, err = e.registry.FetchPackage(ctx, id, r, s)
	}
	e.metrics.observeFetch(err, cached)
	if err == nil {
		e.logger.Debug("fetched", "package", id, "version", pkg.Version, "fault", pkg.FaultState, "cached", cached)
	}
	return pkg, err
}

func (e *Engine) fetchError(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	if errors.Is(err, core.ErrNotFound) {
		return &Error{Kind: PackageNotFound, PackageID: id, Err: err}
	}
	var httpErr *core.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsNotFound() {
		return &Error{Kind: PackageNotFound, PackageID: id, Err: err}
	}
	return &Error{Kind: FetchFailed, PackageID: id, Detail: err.Error(), Err: err}
}

// checkFault classifies pkg and fails with Panic when it blocks.
func checkFault(pkg *core.Package) error {
	f, err := pkg.Fault()
	if err != nil {
		return &Error{Kind: FetchFailed, PackageID: pkg.ID, Detail: "invalid fault state", Err: err}
	}
	if fault.IsBlocking(f) {
		return &Error{Kind: Panic, PackageID: pkg.ID, Detail: pkg.ErrorMessage}
	}
	return nil
}

// ResolveRemote asks the registry to resolve id server-side and applies the
// same fault gate as Resolve.
func (e *Engine) ResolveRemote(ctx context.Context, id string, s core.Strategy) (*core.DagResult, fault.State, error) {
	s, err := core.ParseStrategy(string(s))
	if err != nil {
		return nil, fault.Clean, err
	}

	dag, err := e.registry.ResolveDag(ctx, id, s)
	if err != nil {
		return nil, fault.Clean, e.fetchError(ctx, id, err)
	}

	f, err := fault.Classify(dag.FaultState)
	if err != nil {
		return nil, fault.Clean, &Error{Kind: FetchFailed, PackageID: id, Detail: "invalid fault state", Err: err}
	}
	if fault.IsBlocking(f) {
		return nil, f, &Error{Kind: Panic, PackageID: id, Detail: fmt.Sprintf("fault state %d", dag.FaultState)}
	}
	return dag, f, nil
}
