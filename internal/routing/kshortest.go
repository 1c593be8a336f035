package routing

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
)

const (
	// DefaultHopDiff is how many edges longer than the shortest feasible
	// path a candidate may be.
	DefaultHopDiff = 3
	// DefaultMaxCandidates bounds how many simple paths are enumerated.
	DefaultMaxCandidates = 64
)

// Candidate is a feasible path and its bottleneck capacity.
type Candidate struct {
	Path     []string
	Capacity int64
}

// Hops returns the number of edges on the path.
func (c Candidate) Hops() int { return len(c.Path) - 1 }

// KShortestOptions tunes KShortestFeasible.
type KShortestOptions struct {
	HopDiff       int
	MaxCandidates int
}

// DefaultKShortestOptions returns the stock pruning parameters.
func DefaultKShortestOptions() KShortestOptions {
	return KShortestOptions{HopDiff: DefaultHopDiff, MaxCandidates: DefaultMaxCandidates}
}

// KShortestFeasible enumerates loopless paths in non-decreasing edge count
// over the edges whose capacity in q.Pool is at least q.MinCapacity, and drops
// any longer than the shortest of them plus opts.HopDiff. opts.MaxCandidates
// bounds only the alternatives after the shortest feasible path. The result is
// ordered by (length, capacity ascending, node sequence) and may be empty.
func KShortestFeasible(ctx context.Context, g *core.CapacityGraph, q Query, opts KShortestOptions) ([]Candidate, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.HopDiff < 0 {
		opts.HopDiff = 0
	}
	for _, id := range []string{q.Source, q.Destination} {
		if !g.HasNode(id) {
			return nil, fmt.Errorf("%w: %w: %s", ErrNoPath, core.ErrNodeNotFound, id)
		}
	}
	if q.Source == q.Destination {
		return []Candidate{{Path: []string{q.Source}, Capacity: core.Unbounded}}, nil
	}

	view := g.FeasibleView(q.Pool, q.MinCapacity)
	s, _ := view.ID(q.Source)
	t, _ := view.ID(q.Destination)
	raw := path.YenKShortestPaths(view.UndirectedGraph, opts.MaxCandidates, math.Inf(1), simple.Node(s), simple.Node(t))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feasible := make([]Candidate, 0, len(raw))
	shortest := -1
	for _, nodes := range raw {
		p := view.Names(nodes)
		capacity, err := g.PathCapacity(p, q.Pool)
		if err != nil {
			return nil, err
		}
		if capacity < q.MinCapacity {
			continue
		}
		c := Candidate{Path: p, Capacity: capacity}
		if shortest < 0 || c.Hops() < shortest {
			shortest = c.Hops()
		}
		feasible = append(feasible, c)
	}

	out := feasible[:0]
	for _, c := range feasible {
		if c.Hops() <= shortest+opts.HopDiff {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Hops() != b.Hops() {
			return a.Hops() < b.Hops()
		}
		if a.Capacity != b.Capacity {
			return a.Capacity < b.Capacity
		}
		return lessPath(a.Path, b.Path)
	})
	return out, nil
}

func lessPath(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
