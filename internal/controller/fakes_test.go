package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
)

var errDeviceDown = errors.New("device down")

// memInstaller records rules in memory and can be told to fail per device.
type memInstaller struct {
	mu      sync.Mutex
	next    int
	rules   map[string]model.FlowRule
	failing map[string]bool
}

func newMemInstaller() *memInstaller {
	return &memInstaller{rules: make(map[string]model.FlowRule), failing: make(map[string]bool)}
}

func (f *memInstaller) InstallFlow(_ context.Context, r model.FlowRule) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[r.DeviceID] {
		return "", fmt.Errorf("%w: %s", errDeviceDown, r.DeviceID)
	}
	f.next++
	id := fmt.Sprintf("%d", f.next)
	r.RuleID = id
	f.rules[r.DeviceID+"/"+id] = r
	return id, nil
}

func (f *memInstaller) DeleteFlow(_ context.Context, device, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := device + "/" + id
	if _, ok := f.rules[key]; !ok {
		return fmt.Errorf("rule %s not found", key)
	}
	delete(f.rules, key)
	return nil
}

func (f *memInstaller) setFailing(device string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[device] = fail
}

func (f *memInstaller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rules)
}

func (f *memInstaller) devices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	for _, r := range f.rules {
		seen[r.DeviceID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// staticTopology serves a fixed host and link listing.
type staticTopology struct {
	mu    sync.Mutex
	hosts []model.Host
	links []model.Link
	err   error
}

func (s *staticTopology) Hosts(context.Context) ([]model.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.Host(nil), s.hosts...), nil
}

func (s *staticTopology) Links(context.Context) ([]model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.Link(nil), s.links...), nil
}

// connect adds both directions of a link between a/pa and b/pb.
func (s *staticTopology) connect(a, pa, b, pb string, bw int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links,
		model.Link{Src: model.SwitchPort{Device: a, Port: pa}, Dst: model.SwitchPort{Device: b, Port: pb}, Bandwidth: bw},
		model.Link{Src: model.SwitchPort{Device: b, Port: pb}, Dst: model.SwitchPort{Device: a, Port: pa}, Bandwidth: bw},
	)
}

// disconnect drops both directions of the link between a and b.
func (s *staticTopology) disconnect(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.links[:0]
	for _, l := range s.links {
		if core.NewEdgeKey(l.Src.Device, l.Dst.Device) == core.NewEdgeKey(a, b) {
			continue
		}
		kept = append(kept, l)
	}
	s.links = kept
}

func host(n int, device, port string) model.Host {
	return model.Host{
		ID:       fmt.Sprintf("00:00:00:00:00:%02x/None", n),
		MAC:      fmt.Sprintf("00:00:00:00:00:%02x", n),
		Location: model.SwitchPort{Device: device, Port: port},
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("i%d", n)
	}
}

// diamond builds s1-s2-s4 and s1-s3-s4, every link with capacity c. On each
// switch the port towards switch sN is N; hosts attach on port 9.
func diamond(t *testing.T, c int64) *core.CapacityGraph {
	t.Helper()
	g := core.NewCapacityGraph()
	for _, e := range [][2]string{{"s1", "s2"}, {"s2", "s4"}, {"s1", "s3"}, {"s3", "s4"}} {
		if err := g.AddEdge(e[0], e[1], c, core.WithPorts(e[1][1:], e[0][1:])); err != nil {
			t.Fatalf("AddEdge(%s,%s): %v", e[0], e[1], err)
		}
	}
	return g
}

func newTestManager(t *testing.T, g *core.CapacityGraph, inst RuleInstaller, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithIDGenerator(sequentialIDs())}, opts...)
	m, err := NewManager(alloc.New(g, alloc.DefaultConfig()), inst, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}
