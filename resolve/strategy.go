package resolve

import (
	"math"
	"sort"

	"github.com/git-pkgs/semverx/fault"
	"github.com/git-pkgs/semverx/graph"
	"github.com/git-pkgs/semverx/internal/core"
)

// Cost weights for the astar strategy.
const (
	faultWeight = 100
	depthWeight = 10
)

// planner orders a complete, acyclic graph. Every strategy is a tie-break
// rule over graph.Order, so every plan keeps dependencies first.
type planner struct {
	g        *graph.Graph
	root     string
	packages map[string]*core.Package
	faults   map[string]fault.State
}

func newPlanner(g *graph.Graph, root string, packages map[string]*core.Package) *planner {
	faults := make(map[string]fault.State, len(packages))
	for id, pkg := range packages {
		f, _ := pkg.Fault()
		faults[id] = f
	}
	return &planner{g: g, root: root, packages: packages, faults: faults}
}

// plan returns the install order, the strategy actually applied and, for
// eulerian, the trail it followed.
func (p *planner) plan(s core.Strategy) ([]string, core.Strategy, []string) {
	switch s {
	case core.Eulerian:
		if order, trail, ok := p.eulerian(); ok {
			return order, core.Eulerian, trail
		}
	case core.Hamiltonian:
		if order, ok := p.hamiltonian(); ok {
			return order, core.Hamiltonian, nil
		}
	case core.AStar:
		return p.astar(), core.AStar, nil
	}
	return p.hybrid(), core.Hybrid, nil
}

func (p *planner) order(less func(a, b string) bool) []string {
	// The graph was checked for cycles before planning.
	order, _ := p.g.Order(less)
	return order
}

// hybrid breaks ties by ascending fault state, then id.
func (p *planner) hybrid() []string {
	return p.order(p.byFaultThenID)
}

func (p *planner) byFaultThenID(a, b string) bool {
	if p.faults[a] != p.faults[b] {
		return p.faults[a] < p.faults[b]
	}
	return a < b
}

// astar is best-first over the ready set, cheapest first. The cost of a node
// is fault*100 + depth*10 + the maturity cost of its version.
func (p *planner) astar() []string {
	depths := p.g.Depths(p.root)
	cost := func(id string) int {
		c := int(p.faults[id])*faultWeight + depths[id]*depthWeight
		if pkg, ok := p.packages[id]; ok {
			c += pkg.Version.StateCost()
		}
		return c
	}
	return p.order(func(a, b string) bool {
		ca, cb := cost(a), cost(b)
		if ca != cb {
			return ca < cb
		}
		return a < b
	})
}

// hamiltonian succeeds when the graph has a path through every node along
// dependency edges. For a DAG that path exists exactly when the topological
// order is unique and each node depends on the one before it.
func (p *planner) hamiltonian() ([]string, bool) {
	order := p.hybrid()
	for i := 1; i < len(order); i++ {
		if !p.dependsOn(order[i], order[i-1]) {
			return nil, false
		}
	}
	return order, true
}

func (p *planner) dependsOn(dependent, dependency string) bool {
	for _, dep := range p.g.Dependencies(dependent) {
		if dep == dependency {
			return true
		}
	}
	return false
}

// eulerian walks every edge of the undirected graph exactly once
// (Hierholzer). It needs zero or two odd-degree vertices. The order in which
// the trail first reaches each node breaks ties in the topological order.
func (p *planner) eulerian() ([]string, []string, bool) {
	edges := p.g.Edges()
	if len(edges) == 0 {
		return []string{p.root}, []string{p.root}, true
	}

	type halfEdge struct {
		to   string
		edge int
	}
	adj := make(map[string][]halfEdge)
	for i, e := range edges {
		adj[e.From] = append(adj[e.From], halfEdge{to: e.To, edge: i})
		adj[e.To] = append(adj[e.To], halfEdge{to: e.From, edge: i})
	}

	var odd []string
	for id, hs := range adj {
		sort.Slice(hs, func(i, j int) bool {
			if hs[i].to != hs[j].to {
				return hs[i].to < hs[j].to
			}
			return hs[i].edge < hs[j].edge
		})
		if len(hs)%2 == 1 {
			odd = append(odd, id)
		}
	}
	sort.Strings(odd)

	start := p.root
	switch len(odd) {
	case 0:
	case 2:
		start = odd[0]
	default:
		return nil, nil, false
	}

	used := make([]bool, len(edges))
	next := make(map[string]int)
	stack := []string{start}
	var trail []string
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		advanced := false
		for next[v] < len(adj[v]) {
			h := adj[v][next[v]]
			next[v]++
			if used[h.edge] {
				continue
			}
			used[h.edge] = true
			stack = append(stack, h.to)
			advanced = true
			break
		}
		if !advanced {
			trail = append(trail, v)
			stack = stack[:len(stack)-1]
		}
	}
	if len(trail) != len(edges)+1 {
		// Disconnected edge set.
		return nil, nil, false
	}
	for i, j := 0, len(trail)-1; i < j; i, j = i+1, j-1 {
		trail[i], trail[j] = trail[j], trail[i]
	}

	rank := make(map[string]int)
	for i, id := range trail {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	rankOf := func(id string) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return math.MaxInt
	}
	order := p.order(func(a, b string) bool {
		ra, rb := rankOf(a), rankOf(b)
		if ra != rb {
			return ra < rb
		}
		return a < b
	})
	return order, trail, true
}
