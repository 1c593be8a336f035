package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ControllerCollector bundles the Prometheus metrics of the allocation
// controller. All methods are safe on a nil receiver so components can run
// without metrics.
type ControllerCollector struct {
	gatherer prometheus.Gatherer

	PathComputationDuration *prometheus.HistogramVec
	Allocations             *prometheus.CounterVec
	IntentsByState          *prometheus.GaugeVec
	TopologyEdges           prometheus.Gauge
	TopologyChanges         *prometheus.CounterVec
	FlowRuleOps             *prometheus.CounterVec
	CommandQueueDepth       prometheus.Gauge
	LoopIterationDuration   prometheus.Histogram

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewControllerCollector registers controller metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against one registry returns the existing collectors.
func NewControllerCollector(reg prometheus.Registerer) (*ControllerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	pathDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intent_path_computation_duration_seconds",
		Help:    "Duration of path searches, labeled by strategy.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"strategy"}), "intent_path_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	allocations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intent_allocations_total",
		Help: "Allocation attempts, labeled by mode (single|greedy) and result (ok|no_path|infeasible|error).",
	}, []string{"mode", "result"}), "intent_allocations_total")
	if err != nil {
		return nil, err
	}

	intents, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "intents",
		Help: "Current number of intents per lifecycle state.",
	}, []string{"state"}), "intents")
	if err != nil {
		return nil, err
	}

	edges, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topology_edges",
		Help: "Current number of edges in the capacity graph.",
	}), "topology_edges")
	if err != nil {
		return nil, err
	}

	changes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topology_edge_changes_total",
		Help: "Edges added or removed by reconciliation, labeled by change (added|removed).",
	}, []string{"change"}), "topology_edge_changes_total")
	if err != nil {
		return nil, err
	}

	flowOps, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_rule_operations_total",
		Help: "Flow rule pushes and deletions, labeled by op (install|delete) and result (ok|error).",
	}, []string{"op", "result"}), "flow_rule_operations_total")
	if err != nil {
		return nil, err
	}

	queueDepth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "command_queue_depth",
		Help: "Commands waiting for the next control loop iteration.",
	}), "command_queue_depth")
	if err != nil {
		return nil, err
	}

	loopDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "control_loop_iteration_duration_seconds",
		Help:    "Duration of one control loop iteration (sync, commands, retries).",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}), "control_loop_iteration_duration_seconds")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_requests_total",
		Help: "Total number of handled admin RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "admin_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admin_request_duration_seconds",
		Help:    "Admin RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "admin_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &ControllerCollector{
		gatherer:                gatherer,
		PathComputationDuration: pathDuration,
		Allocations:             allocations,
		IntentsByState:          intents,
		TopologyEdges:           edges,
		TopologyChanges:         changes,
		FlowRuleOps:             flowOps,
		CommandQueueDepth:       queueDepth,
		LoopIterationDuration:   loopDuration,
		RPCRequests:             requests,
		RPCDurations:            durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ControllerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePathComputation records one path search duration.
func (c *ControllerCollector) ObservePathComputation(strategy string, d time.Duration) {
	if c == nil || c.PathComputationDuration == nil {
		return
	}
	c.PathComputationDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// IncAllocation counts one allocation attempt.
func (c *ControllerCollector) IncAllocation(mode, result string) {
	if c == nil || c.Allocations == nil {
		return
	}
	c.Allocations.WithLabelValues(mode, result).Inc()
}

// SetIntentCounts replaces the per-state intent gauges.
func (c *ControllerCollector) SetIntentCounts(counts map[string]int) {
	if c == nil || c.IntentsByState == nil {
		return
	}
	c.IntentsByState.Reset()
	for state, n := range counts {
		c.IntentsByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetTopologyEdges updates the edge gauge.
func (c *ControllerCollector) SetTopologyEdges(n int) {
	if c == nil || c.TopologyEdges == nil {
		return
	}
	c.TopologyEdges.Set(float64(n))
}

// AddTopologyChanges counts edges added or removed by one reconciliation.
func (c *ControllerCollector) AddTopologyChanges(added, removed int) {
	if c == nil || c.TopologyChanges == nil {
		return
	}
	if added > 0 {
		c.TopologyChanges.WithLabelValues("added").Add(float64(added))
	}
	if removed > 0 {
		c.TopologyChanges.WithLabelValues("removed").Add(float64(removed))
	}
}

// IncFlowRuleOp counts one flow rule install or delete.
func (c *ControllerCollector) IncFlowRuleOp(op string, err error) {
	if c == nil || c.FlowRuleOps == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.FlowRuleOps.WithLabelValues(op, result).Inc()
}

// SetQueueDepth updates the command queue gauge.
func (c *ControllerCollector) SetQueueDepth(n int) {
	if c == nil || c.CommandQueueDepth == nil {
		return
	}
	c.CommandQueueDepth.Set(float64(n))
}

// ObserveIteration records one control loop iteration duration.
func (c *ControllerCollector) ObserveIteration(d time.Duration) {
	if c == nil || c.LoopIterationDuration == nil {
		return
	}
	c.LoopIterationDuration.Observe(d.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ControllerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControllerCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
