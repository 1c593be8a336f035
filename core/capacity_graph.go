package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrEdgeExists           = errors.New("edge already exists")
	ErrEdgeNotFound         = errors.New("edge not found")
	ErrNodeNotFound         = errors.New("node not found")
	ErrSelfLoop             = errors.New("self-loop edge")
	ErrInvalidCapacity      = errors.New("invalid capacity")
	ErrInvalidPath          = errors.New("invalid path")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrReservationExists    = errors.New("intent already holds a reservation")
)

// Unbounded is the capacity reported for a single-node path, i.e. source and
// destination attached to the same switch.
const Unbounded int64 = math.MaxInt64

// Pool selects which capacity ledger an operation reads or writes.
type Pool int

const (
	// PoolReal is the committed allocation ledger.
	PoolReal Pool = iota
	// PoolVirtual is the planning-only ledger used to prove batch feasibility.
	PoolVirtual
)

func (p Pool) String() string {
	switch p {
	case PoolReal:
		return "real"
	case PoolVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// EdgeKey addresses an undirected edge by its unordered endpoint pair. A is
// always the lexically smaller node.
type EdgeKey struct {
	A string
	B string
}

// NewEdgeKey normalizes (u, v) so that both orientations map to one key.
func NewEdgeKey(u, v string) EdgeKey {
	if v < u {
		u, v = v, u
	}
	return EdgeKey{A: u, B: v}
}

// Other returns the endpoint opposite to n.
func (k EdgeKey) Other(n string) string {
	if n == k.A {
		return k.B
	}
	return k.A
}

func (k EdgeKey) String() string { return k.A + "-" + k.B }

// Edge is a bidirectional link with its capacity ledgers. Values returned by
// CapacityGraph accessors are copies.
type Edge struct {
	Key         EdgeKey
	MaxCapacity int64
	Remaining   int64
	Virtual     int64
	// PortA and PortB are the switch ports on Key.A and Key.B, when known.
	PortA string
	PortB string
}

// Capacity returns the value of the selected ledger.
func (e Edge) Capacity(pool Pool) int64 {
	if pool == PoolVirtual {
		return e.Virtual
	}
	return e.Remaining
}

// PortOn returns the port the edge uses on node.
func (e Edge) PortOn(node string) (string, bool) {
	switch node {
	case e.Key.A:
		return e.PortA, e.PortA != ""
	case e.Key.B:
		return e.PortB, e.PortB != ""
	default:
		return "", false
	}
}

// EdgeOption customises an edge at insertion.
type EdgeOption func(e *Edge, u, v string)

// WithPorts records the switch port used on u and on v.
func WithPorts(portU, portV string) EdgeOption {
	return func(e *Edge, u, v string) {
		if u == e.Key.A {
			e.PortA, e.PortB = portU, portV
			return
		}
		e.PortA, e.PortB = portV, portU
	}
}

type reservation struct {
	path []string
	bw   int64
}

// CapacityGraph is the undirected topology with per-edge capacity ledgers.
// It owns all capacity state and the authoritative edge -> intent mapping;
// intents are referenced by identifier only.
//
// Every mutation keeps 0 <= Remaining <= MaxCapacity and
// 0 <= Virtual <= MaxCapacity, and for every edge the sum of the bandwidth of
// intents routed over it equals MaxCapacity - Remaining.
type CapacityGraph struct {
	mu sync.RWMutex

	edges map[EdgeKey]*Edge
	adj   map[string]map[string]struct{}
	// routed maps each edge to the intents reserved on it and their bandwidth.
	routed       map[EdgeKey]map[string]int64
	reservations map[string]reservation
}

// NewCapacityGraph returns an empty graph.
func NewCapacityGraph() *CapacityGraph {
	return &CapacityGraph{
		edges:        make(map[EdgeKey]*Edge),
		adj:          make(map[string]map[string]struct{}),
		routed:       make(map[EdgeKey]map[string]int64),
		reservations: make(map[string]reservation),
	}
}

// AddNode registers a node with no edges. Adding an existing node is a no-op.
func (g *CapacityGraph) AddNode(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
}

func (g *CapacityGraph) addNodeLocked(id string) {
	if _, ok := g.adj[id]; !ok {
		g.adj[id] = make(map[string]struct{})
	}
}

// AddEdge inserts the undirected edge u-v with both ledgers set to capacity.
func (g *CapacityGraph) AddEdge(u, v string, capacity int64, opts ...EdgeOption) error {
	if u == "" || v == "" {
		return fmt.Errorf("%w: empty endpoint", ErrNodeNotFound)
	}
	if u == v {
		return fmt.Errorf("%w: %s", ErrSelfLoop, u)
	}
	if capacity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	key := NewEdgeKey(u, v)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.edges[key]; exists {
		return fmt.Errorf("%w: %s", ErrEdgeExists, key)
	}
	e := &Edge{
		Key:         key,
		MaxCapacity: capacity,
		Remaining:   capacity,
		Virtual:     capacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e, u, v)
		}
	}
	g.edges[key] = e
	g.addNodeLocked(u)
	g.addNodeLocked(v)
	g.adj[u][v] = struct{}{}
	g.adj[v][u] = struct{}{}
	return nil
}

// RemoveEdge deletes u-v. Every intent routed over it has its reservation
// released along its whole path; the identifiers of those intents are
// returned in sorted order. An absent edge yields ErrEdgeNotFound and no
// mutation, as does any reservation that cannot be credited back.
func (g *CapacityGraph) RemoveEdge(u, v string) ([]string, error) {
	key := NewEdgeKey(u, v)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrEdgeNotFound, key)
	}

	invalidated := make([]string, 0, len(g.routed[key]))
	for intentID := range g.routed[key] {
		invalidated = append(invalidated, intentID)
	}
	sort.Strings(invalidated)

	if err := g.releaseLocked(invalidated...); err != nil {
		return nil, err
	}

	delete(g.edges, key)
	delete(g.routed, key)
	delete(g.adj[key.A], key.B)
	delete(g.adj[key.B], key.A)
	return invalidated, nil
}

// HasNode reports whether id is part of the topology.
func (g *CapacityGraph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.adj[id]
	return ok
}

// HasEdge reports whether u-v exists.
func (g *CapacityGraph) HasEdge(u, v string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[NewEdgeKey(u, v)]
	return ok
}

// Edge returns a copy of the edge u-v.
func (g *CapacityGraph) Edge(u, v string) (Edge, error) {
	key := NewEdgeKey(u, v)
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[key]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, key)
	}
	return *e, nil
}

// Edges returns copies of all edges ordered by key.
func (g *CapacityGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.A != out[j].Key.A {
			return out[i].Key.A < out[j].Key.A
		}
		return out[i].Key.B < out[j].Key.B
	})
	return out
}

// Nodes returns all node identifiers in sorted order.
func (g *CapacityGraph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.adj))
	for id := range g.adj {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Neighbors returns the nodes adjacent to id in sorted order.
func (g *CapacityGraph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.adj[id]))
	for n := range g.adj[id] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EdgeCount returns the number of edges.
func (g *CapacityGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// ResetCapacities restores the chosen ledger to MaxCapacity on every edge.
// Resetting the real ledger also drops every reservation, since none of them
// is backed by capacity afterwards.
func (g *CapacityGraph) ResetCapacities(pool Pool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.edges {
		if pool == PoolVirtual {
			e.Virtual = e.MaxCapacity
			continue
		}
		e.Remaining = e.MaxCapacity
	}
	if pool == PoolReal {
		g.routed = make(map[EdgeKey]map[string]int64)
		g.reservations = make(map[string]reservation)
	}
}

// Capacity returns the selected ledger of u-v.
func (g *CapacityGraph) Capacity(u, v string, pool Pool) (int64, error) {
	e, err := g.Edge(u, v)
	if err != nil {
		return 0, err
	}
	return e.Capacity(pool), nil
}

// PathCapacity returns the bottleneck (minimum) capacity along path in the
// selected ledger. A single-node path reports Unbounded.
func (g *CapacityGraph) PathCapacity(path []string, pool Pool) (int64, error) {
	if len(path) == 0 {
		return 0, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(path) == 1 {
		if _, ok := g.adj[path[0]]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, path[0])
		}
		return Unbounded, nil
	}

	bottleneck := Unbounded
	for i := 0; i < len(path)-1; i++ {
		key := NewEdgeKey(path[i], path[i+1])
		e, ok := g.edges[key]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrEdgeNotFound, key)
		}
		if c := e.Capacity(pool); c < bottleneck {
			bottleneck = c
		}
	}
	return bottleneck, nil
}

// Reserve commits bw along path in the real ledger on behalf of intentID and
// records the intent on every traversed edge. Either every edge is debited or
// none is.
func (g *CapacityGraph) Reserve(intentID string, path []string, bw int64) error {
	if intentID == "" {
		return fmt.Errorf("%w: empty intent id", ErrInvalidPath)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.reservations[intentID]; exists {
		return fmt.Errorf("%w: %s", ErrReservationExists, intentID)
	}
	keys, err := g.debitLocked(path, bw, PoolReal)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if g.routed[key] == nil {
			g.routed[key] = make(map[string]int64)
		}
		g.routed[key][intentID] += bw
	}
	g.reservations[intentID] = reservation{path: append([]string(nil), path...), bw: bw}
	return nil
}

// ReserveVirtual debits bw along path in the planning ledger only.
func (g *CapacityGraph) ReserveVirtual(path []string, bw int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.debitLocked(path, bw, PoolVirtual)
	return err
}

// debitLocked validates the whole path before touching any ledger so that a
// failed debit leaves no partial state behind.
func (g *CapacityGraph) debitLocked(path []string, bw int64, pool Pool) ([]EdgeKey, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if bw <= 0 {
		return nil, fmt.Errorf("%w: bandwidth %d", ErrInvalidCapacity, bw)
	}
	if len(path) == 1 {
		if _, ok := g.adj[path[0]]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, path[0])
		}
		return nil, nil
	}

	keys := make([]EdgeKey, 0, len(path)-1)
	need := make(map[EdgeKey]int64, len(path)-1)
	for i := 0; i < len(path)-1; i++ {
		key := NewEdgeKey(path[i], path[i+1])
		if _, ok := g.edges[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrEdgeNotFound, key)
		}
		if _, seen := need[key]; !seen {
			keys = append(keys, key)
		}
		need[key] += bw
	}
	for _, key := range keys {
		if avail := g.edges[key].Capacity(pool); avail < need[key] {
			return nil, fmt.Errorf("%w: %s has %d, need %d (%s)", ErrInsufficientCapacity, key, avail, need[key], pool)
		}
	}
	for _, key := range keys {
		e := g.edges[key]
		if pool == PoolVirtual {
			e.Virtual -= need[key]
		} else {
			e.Remaining -= need[key]
		}
	}
	return keys, nil
}

// Release returns the capacity held by intentID to every edge on its path
// and forgets the reservation. It reports false when nothing was reserved.
func (g *CapacityGraph) Release(intentID string) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.reservations[intentID]
	if !ok {
		return nil, false
	}
	if err := g.releaseLocked(intentID); err != nil {
		return nil, false
	}
	return res.path, true
}

// releaseLocked credits the reservations of intentIDs back to their edges.
// All credits are checked before any is applied, so an error leaves the
// graph untouched.
func (g *CapacityGraph) releaseLocked(intentIDs ...string) error {
	credit := make(map[EdgeKey]int64)
	for _, intentID := range intentIDs {
		res, ok := g.reservations[intentID]
		if !ok {
			continue
		}
		seen := make(map[EdgeKey]bool, len(res.path))
		for i := 0; i < len(res.path)-1; i++ {
			key := NewEdgeKey(res.path[i], res.path[i+1])
			held, ok := g.routed[key][intentID]
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := g.edges[key]; !ok {
				return fmt.Errorf("%w: %s routed for intent %s", ErrEdgeNotFound, key, intentID)
			}
			credit[key] += held
		}
	}
	for key, c := range credit {
		e := g.edges[key]
		if e.Remaining+c > e.MaxCapacity {
			return fmt.Errorf("%w: releasing %d on %s exceeds max capacity %d", ErrInvalidCapacity, c, key, e.MaxCapacity)
		}
	}

	for key, c := range credit {
		g.edges[key].Remaining += c
	}
	for _, intentID := range intentIDs {
		res, ok := g.reservations[intentID]
		if !ok {
			continue
		}
		for i := 0; i < len(res.path)-1; i++ {
			key := NewEdgeKey(res.path[i], res.path[i+1])
			delete(g.routed[key], intentID)
			if len(g.routed[key]) == 0 {
				delete(g.routed, key)
			}
		}
		delete(g.reservations, intentID)
	}
	return nil
}

// Reservation returns the path and bandwidth reserved for intentID.
func (g *CapacityGraph) Reservation(intentID string) ([]string, int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res, ok := g.reservations[intentID]
	if !ok {
		return nil, 0, false
	}
	return append([]string(nil), res.path...), res.bw, true
}

// IntentsOn returns the identifiers of intents routed over u-v, sorted.
func (g *CapacityGraph) IntentsOn(u, v string) []string {
	key := NewEdgeKey(u, v)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.routed[key]))
	for id := range g.routed[key] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckInvariants verifies the capacity and accounting invariants on every
// edge and returns the first violation found.
func (g *CapacityGraph) CheckInvariants() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for key, e := range g.edges {
		if e.Remaining < 0 || e.Remaining > e.MaxCapacity {
			return fmt.Errorf("%w: %s remaining %d outside [0,%d]", ErrInvalidCapacity, key, e.Remaining, e.MaxCapacity)
		}
		if e.Virtual < 0 || e.Virtual > e.MaxCapacity {
			return fmt.Errorf("%w: %s virtual %d outside [0,%d]", ErrInvalidCapacity, key, e.Virtual, e.MaxCapacity)
		}
		var sum int64
		for _, bw := range g.routed[key] {
			sum += bw
		}
		if sum != e.MaxCapacity-e.Remaining {
			return fmt.Errorf("%w: %s routed %d but used %d", ErrInvalidCapacity, key, sum, e.MaxCapacity-e.Remaining)
		}
	}
	return nil
}
