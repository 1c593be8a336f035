package controller

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
	"github.com/signalsfoundry/bandwidth-intent-controller/kb"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
)

// DefaultLinkCapacity is used for links without a bandwidth annotation.
const DefaultLinkCapacity int64 = 10

// SyncResult summarises one reconciliation pass.
type SyncResult struct {
	AddedEdges   []core.EdgeKey
	RemovedEdges []core.EdgeKey
	// Invalidated holds the sorted, de-duplicated ids of intents whose path
	// lost an edge. Their capacity has already been released.
	Invalidated  []string
	HostsAdded   []string
	HostsRemoved []string
}

// Changed reports whether the pass altered the graph or the host set.
func (r SyncResult) Changed() bool {
	return len(r.AddedEdges)+len(r.RemovedEdges)+len(r.HostsAdded)+len(r.HostsRemoved) > 0
}

// Reconciler aligns the capacity graph and host knowledge base with the
// live topology.
type Reconciler struct {
	graph           *core.CapacityGraph
	hosts           *kb.KnowledgeBase
	source          TopologySource
	defaultCapacity int64

	log     logging.Logger
	metrics *observability.ControllerCollector
	tracer  trace.Tracer
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDefaultCapacity overrides DefaultLinkCapacity.
func WithDefaultCapacity(c int64) ReconcilerOption {
	return func(r *Reconciler) {
		if c > 0 {
			r.defaultCapacity = c
		}
	}
}

// WithReconcilerLogger sets the reconciler logger.
func WithReconcilerLogger(l logging.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = logging.OrNoop(l) }
}

// WithReconcilerMetrics attaches a metrics collector.
func WithReconcilerMetrics(m *observability.ControllerCollector) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler returns a reconciler feeding g and hosts from source.
func NewReconciler(g *core.CapacityGraph, hosts *kb.KnowledgeBase, source TopologySource, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		graph:           g,
		hosts:           hosts,
		source:          source,
		defaultCapacity: DefaultLinkCapacity,
		log:             logging.Noop(),
		tracer:          observability.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type liveEdge struct {
	capacity  int64
	annotated bool
	ports     map[string]string
}

// Sync fetches the live links and hosts and applies the difference. A
// failing topology call leaves the graph and host set untouched.
func (r *Reconciler) Sync(ctx context.Context) (SyncResult, error) {
	ctx, span := r.tracer.Start(ctx, "controller.Sync")
	defer span.End()

	links, err := r.source.Links(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return SyncResult{}, fmt.Errorf("list links: %w", err)
	}
	hosts, err := r.source.Hosts(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return SyncResult{}, fmt.Errorf("list hosts: %w", err)
	}

	live := r.fold(ctx, links)
	var res SyncResult

	seen := make(map[string]struct{})
	for _, e := range r.graph.Edges() {
		if _, ok := live[e.Key]; ok {
			continue
		}
		ids, err := r.graph.RemoveEdge(e.Key.A, e.Key.B)
		if err != nil {
			r.logger(ctx).Warn(ctx, "edge removal failed", logging.String("edge", e.Key.String()), logging.Err(err))
			continue
		}
		res.RemovedEdges = append(res.RemovedEdges, e.Key)
		for _, id := range ids {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				res.Invalidated = append(res.Invalidated, id)
			}
		}
		r.logger(ctx).Info(ctx, "link removed",
			logging.String("edge", e.Key.String()),
			logging.Strings("invalidated", ids),
		)
	}
	sort.Strings(res.Invalidated)

	keys := make([]core.EdgeKey, 0, len(live))
	for k := range live {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	for _, k := range keys {
		if r.graph.HasEdge(k.A, k.B) {
			continue
		}
		le := live[k]
		if err := r.graph.AddEdge(k.A, k.B, le.capacity, core.WithPorts(le.ports[k.A], le.ports[k.B])); err != nil {
			r.logger(ctx).Warn(ctx, "edge insertion failed", logging.String("edge", k.String()), logging.Err(err))
			continue
		}
		res.AddedEdges = append(res.AddedEdges, k)
		r.logger(ctx).Info(ctx, "link added",
			logging.String("edge", k.String()),
			logging.Int64("capacity", le.capacity),
		)
	}

	res.HostsAdded, res.HostsRemoved = r.hosts.Sync(hosts)
	for _, h := range hosts {
		if h.Location.Device != "" {
			r.graph.AddNode(h.Location.Device)
		}
	}
	for _, id := range res.HostsRemoved {
		r.logger(ctx).Warn(ctx, "host disappeared", logging.String("host_id", id))
	}

	r.metrics.SetTopologyEdges(r.graph.EdgeCount())
	r.metrics.AddTopologyChanges(len(res.AddedEdges), len(res.RemovedEdges))
	span.SetAttributes(
		attribute.Int("edges.added", len(res.AddedEdges)),
		attribute.Int("edges.removed", len(res.RemovedEdges)),
		attribute.Int("intents.invalidated", len(res.Invalidated)),
	)
	return res, nil
}

// fold merges the per-direction link listing into undirected edges. The
// first bandwidth annotation seen for a pair wins; pairs without one get the
// default capacity.
func (r *Reconciler) fold(ctx context.Context, links []model.Link) map[core.EdgeKey]*liveEdge {
	live := make(map[core.EdgeKey]*liveEdge, len(links)/2+1)
	for _, l := range links {
		if l.Src.Device == "" || l.Dst.Device == "" || l.Src.Device == l.Dst.Device {
			r.logger(ctx).Debug(ctx, "skipping link", logging.String("src", l.Src.String()), logging.String("dst", l.Dst.String()))
			continue
		}
		key := core.NewEdgeKey(l.Src.Device, l.Dst.Device)
		le, ok := live[key]
		if !ok {
			le = &liveEdge{capacity: r.defaultCapacity, ports: make(map[string]string, 2)}
			live[key] = le
		}
		if !le.annotated && l.Bandwidth > 0 {
			le.capacity = l.Bandwidth
			le.annotated = true
		}
		if _, ok := le.ports[l.Src.Device]; !ok {
			le.ports[l.Src.Device] = l.Src.Port
		}
		if _, ok := le.ports[l.Dst.Device]; !ok {
			le.ports[l.Dst.Device] = l.Dst.Port
		}
	}
	return live
}

func (r *Reconciler) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, r.log)
}
