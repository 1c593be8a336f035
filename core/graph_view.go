package core

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// GraphView is an immutable gonum snapshot of the topology. Node ids are
// assigned in sorted node-name order so two views of the same topology are
// identical.
type GraphView struct {
	*simple.UndirectedGraph

	ids   map[string]int64
	names []string
}

// View snapshots the current topology, ignoring capacity.
func (g *CapacityGraph) View() *GraphView {
	return g.view(func(Edge) bool { return true })
}

// FeasibleView snapshots the topology keeping only edges whose capacity in
// pool is at least minCapacity. Every node is kept.
func (g *CapacityGraph) FeasibleView(pool Pool, minCapacity int64) *GraphView {
	return g.view(func(e Edge) bool { return e.Capacity(pool) >= minCapacity })
}

func (g *CapacityGraph) view(keep func(Edge) bool) *GraphView {
	nodes := g.Nodes()
	edges := g.Edges()

	v := &GraphView{
		UndirectedGraph: simple.NewUndirectedGraph(),
		ids:             make(map[string]int64, len(nodes)),
		names:           nodes,
	}
	for i, name := range nodes {
		id := int64(i)
		v.ids[name] = id
		v.AddNode(simple.Node(id))
	}
	for _, e := range edges {
		if !keep(e) {
			continue
		}
		v.SetEdge(simple.Edge{F: simple.Node(v.ids[e.Key.A]), T: simple.Node(v.ids[e.Key.B])})
	}
	return v
}

// ID returns the gonum node id for name.
func (v *GraphView) ID(name string) (int64, bool) {
	id, ok := v.ids[name]
	return id, ok
}

// Name returns the node name for a gonum id.
func (v *GraphView) Name(id int64) string {
	if id < 0 || int(id) >= len(v.names) {
		return ""
	}
	return v.names[id]
}

// Names translates a gonum node sequence back into node names.
func (v *GraphView) Names(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = v.Name(n.ID())
	}
	return out
}
