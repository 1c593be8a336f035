package core

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// HopTable caches breadth-first hop counts to each destination. Entries are
// absent until Compute has run for that destination; nodes unreachable from
// the destination never get an entry.
type HopTable struct {
	mu   sync.RWMutex
	dist map[string]map[string]int
}

// NewHopTable returns an empty table.
func NewHopTable() *HopTable {
	return &HopTable{dist: make(map[string]map[string]int)}
}

// Compute recomputes from scratch the hop count of every node to destination
// over the current topology and returns a copy of the result.
func (h *HopTable) Compute(g *CapacityGraph, destination string) (map[string]int, error) {
	dist, err := HopDistances(g.View(), destination)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.dist[destination] = dist
	h.mu.Unlock()

	out := make(map[string]int, len(dist))
	for k, v := range dist {
		out[k] = v
	}
	return out, nil
}

// Distance returns the last computed hop count from node to destination.
func (h *HopTable) Distance(destination, node string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.dist[destination][node]
	return d, ok
}

// HopDistances runs a breadth-first walk from destination over view and
// returns the depth at which each reachable node was first seen.
func HopDistances(view *GraphView, destination string) (map[string]int, error) {
	id, ok := view.ID(destination)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, destination)
	}

	dist := make(map[string]int, view.Nodes().Len())
	var bf traverse.BreadthFirst
	bf.Walk(view.UndirectedGraph, simple.Node(id), func(n graph.Node, depth int) bool {
		dist[view.Name(n.ID())] = depth
		return false
	})
	return dist, nil
}
