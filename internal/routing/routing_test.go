package routing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
)

type edge struct {
	u, v string
	c    int64
}

func buildGraph(t *testing.T, edges []edge) *core.CapacityGraph {
	t.Helper()
	g := core.NewCapacityGraph()
	for _, e := range edges {
		if err := g.AddEdge(e.u, e.v, e.c); err != nil {
			t.Fatalf("AddEdge %s-%s: %v", e.u, e.v, err)
		}
	}
	return g
}

// diamond: two equal-length routes 1-2-4 and 1-3-4, the 1-3 leg narrower.
func diamond(t *testing.T) *core.CapacityGraph {
	return buildGraph(t, []edge{
		{"1", "2", 10}, {"1", "3", 5}, {"2", "4", 10}, {"3", "4", 10},
	})
}

func TestFindPathScenarioA(t *testing.T) {
	g := buildGraph(t, []edge{{"1", "2", 10}, {"2", "3", 10}})
	got, err := NewSearcher(g).FindPath(context.Background(), Query{Source: "1", Destination: "3", MinCapacity: 5})
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Fatalf("expected [1 2 3], got %v", got)
	}
}

func TestFindPathPrefersScarceEdgeOnTie(t *testing.T) {
	g := diamond(t)
	got, err := NewSearcher(g).FindPath(context.Background(), Query{Source: "1", Destination: "4", MinCapacity: 1})
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"1", "3", "4"}) {
		t.Fatalf("expected scarce route [1 3 4], got %v", got)
	}
}

func TestSinglePathDefeatVersusMultiPathContinue(t *testing.T) {
	g := diamond(t)
	s := NewSearcher(g)
	q := Query{Source: "1", Destination: "4", MinCapacity: 6}

	// The best-ordered neighbor (3) fails the capacity test, which ends the
	// single-path search at the source.
	if _, err := s.FindPath(context.Background(), q); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath in single-path mode, got %v", err)
	}

	paths, err := s.FindPaths(context.Background(), q)
	if err != nil {
		t.Fatalf("FindPaths: %v", err)
	}
	if !reflect.DeepEqual(paths, [][]string{{"1", "2", "4"}}) {
		t.Fatalf("expected [[1 2 4]], got %v", paths)
	}
}

func TestFindPathsOrderAndLimit(t *testing.T) {
	g := diamond(t)
	q := Query{Source: "1", Destination: "4", MinCapacity: 1}

	paths, err := NewSearcher(g).FindPaths(context.Background(), q)
	if err != nil {
		t.Fatalf("FindPaths: %v", err)
	}
	want := [][]string{{"1", "3", "4"}, {"1", "2", "4"}}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}

	paths, err = NewSearcher(g, WithMaxPaths(1)).FindPaths(context.Background(), q)
	if err != nil {
		t.Fatalf("FindPaths: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 path with limit 1, got %d", len(paths))
	}
}

func TestFindPathScenarioDNoMutation(t *testing.T) {
	g := buildGraph(t, []edge{{"1", "2", 10}, {"2", "3", 10}})
	before := g.Edges()

	_, err := NewSearcher(g).FindPath(context.Background(), Query{Source: "1", Destination: "3", MinCapacity: 11})
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath, got %v", err)
	}
	cands, err := KShortestFeasible(context.Background(), g, Query{Source: "1", Destination: "3", MinCapacity: 11}, DefaultKShortestOptions())
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %v", cands)
	}
	if after := g.Edges(); !reflect.DeepEqual(before, after) {
		t.Fatalf("search mutated capacities")
	}
}

func TestFindPathSameNodeAndUnknownNode(t *testing.T) {
	g := buildGraph(t, []edge{{"1", "2", 10}})
	s := NewSearcher(g)

	got, err := s.FindPath(context.Background(), Query{Source: "2", Destination: "2", MinCapacity: 100})
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("expected single-node path, got %v", got)
	}

	_, err = s.FindPath(context.Background(), Query{Source: "1", Destination: "9", MinCapacity: 1})
	if !errors.Is(err, ErrNoPath) || !errors.Is(err, core.ErrNodeNotFound) {
		t.Fatalf("expected ErrNoPath wrapping ErrNodeNotFound, got %v", err)
	}
}

func TestFindPathUsesSelectedPool(t *testing.T) {
	g := buildGraph(t, []edge{{"1", "2", 10}, {"2", "3", 10}})
	if err := g.ReserveVirtual([]string{"1", "2", "3"}, 8); err != nil {
		t.Fatalf("ReserveVirtual: %v", err)
	}
	s := NewSearcher(g)

	if _, err := s.FindPath(context.Background(), Query{Source: "1", Destination: "3", MinCapacity: 5, Pool: core.PoolVirtual}); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected virtual pool to be exhausted, got %v", err)
	}
	if _, err := s.FindPath(context.Background(), Query{Source: "1", Destination: "3", MinCapacity: 5, Pool: core.PoolReal}); err != nil {
		t.Fatalf("real pool should still fit: %v", err)
	}
}

func TestFindPathDeterministic(t *testing.T) {
	g := buildGraph(t, []edge{
		{"a", "b", 4}, {"a", "c", 4}, {"b", "d", 4}, {"c", "d", 4}, {"b", "c", 4}, {"d", "e", 4},
	})
	s := NewSearcher(g)
	q := Query{Source: "a", Destination: "e", MinCapacity: 2}

	first, err := s.FindPath(context.Background(), q)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := s.FindPath(context.Background(), q)
		if err != nil {
			t.Fatalf("FindPath: %v", err)
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d returned %v, first run %v", i, got, first)
		}
	}
}

func TestFindPathHonoursCancellation(t *testing.T) {
	g := diamond(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSearcher(g).FindPath(ctx, Query{Source: "1", Destination: "4", MinCapacity: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func kspGraph(t *testing.T) *core.CapacityGraph {
	return buildGraph(t, []edge{
		{"1", "2", 10}, {"2", "3", 10},
		{"1", "4", 3}, {"4", "3", 3},
		{"1", "5", 10}, {"5", "6", 10}, {"6", "7", 10}, {"7", "8", 10}, {"8", "9", 10}, {"9", "3", 10},
	})
}

func TestKShortestFeasibleOrderingAndPruning(t *testing.T) {
	g := kspGraph(t)

	got, err := KShortestFeasible(context.Background(), g, Query{Source: "1", Destination: "3", MinCapacity: 2}, DefaultKShortestOptions())
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	want := []Candidate{
		{Path: []string{"1", "4", "3"}, Capacity: 3},
		{Path: []string{"1", "2", "3"}, Capacity: 10},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestKShortestFeasibleHopDiff(t *testing.T) {
	g := kspGraph(t)
	q := Query{Source: "1", Destination: "3", MinCapacity: 5}

	got, err := KShortestFeasible(context.Background(), g, q, DefaultKShortestOptions())
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	if len(got) != 1 || got[0].Hops() != 2 {
		t.Fatalf("six-hop detour should be pruned with hop diff 3, got %v", got)
	}

	got, err = KShortestFeasible(context.Background(), g, q, KShortestOptions{HopDiff: 4, MaxCandidates: 64})
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	if len(got) != 2 || got[1].Hops() != 6 {
		t.Fatalf("six-hop detour should survive hop diff 4, got %v", got)
	}
}

func TestKShortestFeasibleShortestInfeasible(t *testing.T) {
	g := buildGraph(t, []edge{
		{"1", "2", 1}, {"2", "3", 1},
		{"1", "4", 10}, {"4", "5", 10}, {"5", "3", 10},
	})
	got, err := KShortestFeasible(context.Background(), g, Query{Source: "1", Destination: "3", MinCapacity: 5}, DefaultKShortestOptions())
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0].Path, []string{"1", "4", "5", "3"}) {
		t.Fatalf("expected the three-hop route, got %v", got)
	}
}

// narrowFan joins s and t through 70 two-hop relays of capacity 1 and one
// three-hop route of capacity 10.
func narrowFan(t *testing.T) *core.CapacityGraph {
	t.Helper()
	var edges []edge
	for i := 0; i < 70; i++ {
		m := fmt.Sprintf("m%02d", i)
		edges = append(edges, edge{"s", m, 1}, edge{m, "t", 1})
	}
	edges = append(edges, edge{"s", "x", 10}, edge{"x", "y", 10}, edge{"y", "t", 10})
	return buildGraph(t, edges)
}

func TestKShortestFeasibleBeyondCandidateBound(t *testing.T) {
	g := narrowFan(t)
	q := Query{Source: "s", Destination: "t", MinCapacity: 5}

	got, err := KShortestFeasible(context.Background(), g, q, DefaultKShortestOptions())
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	want := []Candidate{{Path: []string{"s", "x", "y", "t"}, Capacity: 10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got, err = KShortestFeasible(context.Background(), g, Query{Source: "s", Destination: "t", MinCapacity: 1}, KShortestOptions{HopDiff: 3, MaxCandidates: 2})
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	if len(got) != 2 || got[0].Hops() != 2 || got[1].Hops() != 2 {
		t.Fatalf("candidate bound should trim alternatives to two two-hop relays, got %v", got)
	}
}

func TestKShortestFeasibleSameNode(t *testing.T) {
	g := kspGraph(t)
	got, err := KShortestFeasible(context.Background(), g, Query{Source: "2", Destination: "2", MinCapacity: 50}, DefaultKShortestOptions())
	if err != nil {
		t.Fatalf("KShortestFeasible: %v", err)
	}
	if len(got) != 1 || got[0].Capacity != core.Unbounded {
		t.Fatalf("expected unbounded single-node candidate, got %v", got)
	}
}

func TestMaxFeasibleCapacity(t *testing.T) {
	g := kspGraph(t)
	if err := g.Reserve("x", []string{"1", "2", "3"}, 9); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	got, err := MaxFeasibleCapacity(g, "1", "3", core.PoolReal)
	if err != nil {
		t.Fatalf("MaxFeasibleCapacity: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected widest route of 10 via the detour, got %d", got)
	}

	g.AddNode("island")
	if _, err := MaxFeasibleCapacity(g, "1", "island", core.PoolReal); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath for disconnected node, got %v", err)
	}
}
