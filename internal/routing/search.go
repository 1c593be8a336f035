package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
)

// ErrNoPath is returned when no path satisfies the capacity requirement.
var ErrNoPath = errors.New("no feasible path")

// DefaultMaxPaths bounds the multi-path search.
const DefaultMaxPaths = 10

// Query describes one path request.
type Query struct {
	Source      string
	Destination string
	MinCapacity int64
	Pool        core.Pool
}

// Searcher runs the hop-guided constrained depth-first search over a
// capacity graph. It keeps no search state between calls, so one Searcher
// may serve concurrent queries.
//
// The search is exhaustive backtracking with a heuristic neighbor order, not
// a shortest-path algorithm. Its worst case is exponential in the number of
// nodes on dense or cyclic topologies.
type Searcher struct {
	graph    *core.CapacityGraph
	hops     *core.HopTable
	maxPaths int
}

// SearcherOption customises a Searcher.
type SearcherOption func(*Searcher)

// WithMaxPaths sets how many paths FindPaths collects before stopping.
func WithMaxPaths(n int) SearcherOption {
	return func(s *Searcher) {
		if n > 0 {
			s.maxPaths = n
		}
	}
}

// WithHopTable shares a hop table with other components.
func WithHopTable(h *core.HopTable) SearcherOption {
	return func(s *Searcher) {
		if h != nil {
			s.hops = h
		}
	}
}

// NewSearcher builds a Searcher for g.
func NewSearcher(g *core.CapacityGraph, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		graph:    g,
		hops:     core.NewHopTable(),
		maxPaths: DefaultMaxPaths,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindPath returns the first path found. A neighbor whose edge fails the
// capacity test ends exploration at the current node.
func (s *Searcher) FindPath(ctx context.Context, q Query) ([]string, error) {
	paths, err := s.run(ctx, q, 1, true)
	if err != nil {
		return nil, err
	}
	return paths[0], nil
}

// FindPaths collects up to the configured number of distinct paths in
// discovery order. Edges failing the capacity test are skipped. The first
// path is the canonical result.
func (s *Searcher) FindPaths(ctx context.Context, q Query) ([][]string, error) {
	return s.run(ctx, q, s.maxPaths, false)
}

func (s *Searcher) run(ctx context.Context, q Query, limit int, strict bool) ([][]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, id := range []string{q.Source, q.Destination} {
		if !s.graph.HasNode(id) {
			return nil, fmt.Errorf("%w: %w: %s", ErrNoPath, core.ErrNodeNotFound, id)
		}
	}
	if q.Source == q.Destination {
		return [][]string{{q.Source}}, nil
	}

	hops, err := s.hops.Compute(s.graph, q.Destination)
	if err != nil {
		return nil, err
	}

	w := &walker{
		ctx:     ctx,
		graph:   s.graph,
		query:   q,
		hops:    hops,
		limit:   limit,
		strict:  strict,
		visited: make(map[string]bool),
	}
	if _, err := w.walk(q.Source); err != nil {
		return nil, err
	}
	if len(w.found) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s with capacity >= %d", ErrNoPath, q.Source, q.Destination, q.MinCapacity)
	}
	return w.found, nil
}

// walker holds the state of one search call.
type walker struct {
	ctx    context.Context
	graph  *core.CapacityGraph
	query  Query
	hops   map[string]int
	limit  int
	strict bool

	visited map[string]bool
	stack   []string
	found   [][]string
}

type candidate struct {
	id       string
	hops     int
	known    bool
	capacity int64
}

func (w *walker) walk(node string) (bool, error) {
	if w.visited[node] {
		return false, nil
	}
	if err := w.ctx.Err(); err != nil {
		return false, err
	}

	w.visited[node] = true
	w.stack = append(w.stack, node)
	defer func() {
		w.visited[node] = false
		w.stack = w.stack[:len(w.stack)-1]
	}()

	if node == w.query.Destination {
		w.found = append(w.found, append([]string(nil), w.stack...))
		return len(w.found) >= w.limit, nil
	}

	for _, next := range w.order(node) {
		if next.capacity < w.query.MinCapacity {
			if w.strict {
				return false, nil
			}
			continue
		}
		if w.visited[next.id] {
			continue
		}
		done, err := w.walk(next.id)
		if err != nil || done {
			return done, err
		}
	}
	return false, nil
}

// order sorts the neighbors of node by hop distance to the destination,
// then by ascending capacity, then by id. Neighbors with no known distance
// come last.
func (w *walker) order(node string) []candidate {
	neighbors := w.graph.Neighbors(node)
	out := make([]candidate, 0, len(neighbors))
	for _, n := range neighbors {
		c, err := w.graph.Capacity(node, n, w.query.Pool)
		if err != nil {
			continue
		}
		d, ok := w.hops[n]
		out = append(out, candidate{id: n, hops: d, known: ok, capacity: c})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.known != b.known {
			return a.known
		}
		if a.hops != b.hops {
			return a.hops < b.hops
		}
		if a.capacity != b.capacity {
			return a.capacity < b.capacity
		}
		return a.id < b.id
	})
	return out
}
