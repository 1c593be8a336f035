package routing

import (
	"container/heap"
	"fmt"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
)

// MaxFeasibleCapacity returns the largest bandwidth any single path between
// src and dst could carry in pool, i.e. the widest-path bottleneck. It
// returns 0 with ErrNoPath when the nodes are disconnected.
func MaxFeasibleCapacity(g *core.CapacityGraph, src, dst string, pool core.Pool) (int64, error) {
	for _, id := range []string{src, dst} {
		if !g.HasNode(id) {
			return 0, fmt.Errorf("%w: %w: %s", ErrNoPath, core.ErrNodeNotFound, id)
		}
	}
	if src == dst {
		return core.Unbounded, nil
	}

	best := map[string]int64{src: core.Unbounded}
	done := make(map[string]bool)
	pq := &widthQueue{{node: src, width: core.Unbounded}}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(widthItem)
		if done[cur.node] {
			continue
		}
		done[cur.node] = true
		if cur.node == dst {
			return cur.width, nil
		}
		for _, n := range g.Neighbors(cur.node) {
			if done[n] {
				continue
			}
			c, err := g.Capacity(cur.node, n, pool)
			if err != nil {
				continue
			}
			w := min(cur.width, c)
			if prev, ok := best[n]; !ok || w > prev {
				best[n] = w
				heap.Push(pq, widthItem{node: n, width: w})
			}
		}
	}
	return 0, fmt.Errorf("%w: %s and %s are disconnected", ErrNoPath, src, dst)
}

type widthItem struct {
	node  string
	width int64
}

// widthQueue is a max-heap on width, ties broken by node id.
type widthQueue []widthItem

func (q widthQueue) Len() int { return len(q) }
func (q widthQueue) Less(i, j int) bool {
	if q[i].width != q[j].width {
		return q[i].width > q[j].width
	}
	return q[i].node < q[j].node
}
func (q widthQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *widthQueue) Push(x any)   { *q = append(*q, x.(widthItem)) }
func (q *widthQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
