package alloc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/routing"
)

// ErrInfeasible is returned when a batch cannot be placed as a whole.
var ErrInfeasible = errors.New("allocation infeasible")

// InfeasibleError names the first request the planner could not place and
// the largest bandwidth it could have been given at that point.
type InfeasibleError struct {
	IntentID     string
	RequiredBW   int64
	BestCapacity int64
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%s: intent %s needs %d, best achievable %d", ErrInfeasible, e.IntentID, e.RequiredBW, e.BestCapacity)
}

func (e *InfeasibleError) Unwrap() error { return ErrInfeasible }

// Strategy selects the path search used by the allocator.
type Strategy string

const (
	// StrategyKShortest takes the best capacity-filtered k-shortest candidate.
	StrategyKShortest Strategy = "kshortest"
	// StrategyHop takes the first path of the multi-path hop-guided search.
	StrategyHop Strategy = "hop"
	// StrategyHopStrict uses the single-path hop-guided search, which gives up
	// at a node as soon as its best-ordered neighbor fails the capacity test.
	StrategyHopStrict Strategy = "hop-strict"
)

// Config tunes path selection.
type Config struct {
	Strategy      Strategy
	HopDiff       int
	MaxCandidates int
	MaxPaths      int
}

// DefaultConfig returns the stock allocator settings.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyKShortest,
		HopDiff:       routing.DefaultHopDiff,
		MaxCandidates: routing.DefaultMaxCandidates,
		MaxPaths:      routing.DefaultMaxPaths,
	}
}

// Request is one bandwidth demand between two graph nodes.
type Request struct {
	IntentID   string
	Src        string
	Dst        string
	RequiredBW int64
}

// Assignment is the path chosen for a request.
type Assignment struct {
	IntentID   string
	Path       []string
	RequiredBW int64
	// Capacity is the bottleneck of Path in the pool searched, before the
	// request itself was deducted.
	Capacity int64
}

// Allocator places requests on a capacity graph. It is not safe for
// concurrent use; the control loop is its only caller.
type Allocator struct {
	graph    *core.CapacityGraph
	searcher *routing.Searcher
	cfg      Config

	log     logging.Logger
	metrics *observability.ControllerCollector
	tracer  trace.Tracer
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithLogger sets the allocator logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Allocator) { a.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.ControllerCollector) Option {
	return func(a *Allocator) { a.metrics = m }
}

// WithHopTable shares a hop table with the hop-guided search.
func WithHopTable(h *core.HopTable) Option {
	return func(a *Allocator) {
		a.searcher = routing.NewSearcher(a.graph, routing.WithMaxPaths(a.cfg.MaxPaths), routing.WithHopTable(h))
	}
}

// New returns an allocator over g.
func New(g *core.CapacityGraph, cfg Config, opts ...Option) *Allocator {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.MaxPaths <= 0 {
		cfg.MaxPaths = def.MaxPaths
	}
	if cfg.HopDiff < 0 {
		cfg.HopDiff = def.HopDiff
	}

	a := &Allocator{
		graph:  g,
		cfg:    cfg,
		log:    logging.Noop(),
		tracer: observability.Tracer(),
	}
	a.searcher = routing.NewSearcher(g, routing.WithMaxPaths(cfg.MaxPaths))
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Graph returns the graph the allocator mutates.
func (a *Allocator) Graph() *core.CapacityGraph { return a.graph }

// AllocateSingle searches the real pool for req, commits the best path and
// returns it. Failure to find a path is reported as routing.ErrNoPath and
// leaves the graph untouched.
func (a *Allocator) AllocateSingle(ctx context.Context, req Request) ([]string, error) {
	ctx, span := a.tracer.Start(ctx, "alloc.AllocateSingle", trace.WithAttributes(
		attribute.String("intent.id", req.IntentID),
		attribute.Int64("intent.required_bw", req.RequiredBW),
	))
	defer span.End()

	cand, err := a.choose(ctx, req, core.PoolReal)
	if err != nil {
		a.metrics.IncAllocation("single", resultOf(err))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := a.graph.Reserve(req.IntentID, cand.Path, req.RequiredBW); err != nil {
		a.metrics.IncAllocation("single", "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reserve intent %s: %w", req.IntentID, err)
	}

	a.metrics.IncAllocation("single", "ok")
	span.SetAttributes(attribute.StringSlice("path", cand.Path))
	a.log.Debug(ctx, "intent allocated",
		logging.String("intent_id", req.IntentID),
		logging.Strings("path", cand.Path),
		logging.Int64("bottleneck", cand.Capacity),
	)
	return cand.Path, nil
}

// Plan runs the planning pass only: requests are served in non-increasing
// RequiredBW order (stable for equal demands) against a freshly reset
// virtual pool. The real pool is never touched.
func (a *Allocator) Plan(ctx context.Context, reqs []Request) ([]Assignment, error) {
	ordered := SortByDemand(reqs)

	a.graph.ResetCapacities(core.PoolVirtual)
	plan := make([]Assignment, 0, len(ordered))
	for _, req := range ordered {
		cand, err := a.choose(ctx, req, core.PoolVirtual)
		if err != nil {
			if !errors.Is(err, routing.ErrNoPath) {
				return nil, err
			}
			best, _ := routing.MaxFeasibleCapacity(a.graph, req.Src, req.Dst, core.PoolVirtual)
			return nil, &InfeasibleError{IntentID: req.IntentID, RequiredBW: req.RequiredBW, BestCapacity: best}
		}
		if err := a.graph.ReserveVirtual(cand.Path, req.RequiredBW); err != nil {
			return nil, fmt.Errorf("plan intent %s: %w", req.IntentID, err)
		}
		plan = append(plan, Assignment{
			IntentID:   req.IntentID,
			Path:       cand.Path,
			RequiredBW: req.RequiredBW,
			Capacity:   cand.Capacity,
		})
	}
	return plan, nil
}

// GreedyAllocate replans every request. When the planning pass succeeds the
// real pool is reset and exactly the planned paths are reserved, in the same
// order. When it fails an *InfeasibleError is returned and the real pool,
// including every existing reservation, is left as it was.
func (a *Allocator) GreedyAllocate(ctx context.Context, reqs []Request) ([]Assignment, error) {
	ctx, span := a.tracer.Start(ctx, "alloc.GreedyAllocate", trace.WithAttributes(
		attribute.Int("intents", len(reqs)),
	))
	defer span.End()

	plan, err := a.Plan(ctx, reqs)
	if err != nil {
		a.metrics.IncAllocation("greedy", resultOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	a.graph.ResetCapacities(core.PoolReal)
	for _, as := range plan {
		if err := a.graph.Reserve(as.IntentID, as.Path, as.RequiredBW); err != nil {
			a.metrics.IncAllocation("greedy", "error")
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("commit intent %s: %w", as.IntentID, err)
		}
	}

	a.metrics.IncAllocation("greedy", "ok")
	a.log.Info(ctx, "replan committed", logging.Int("intents", len(plan)))
	return plan, nil
}

// Release returns the capacity held by intentID.
func (a *Allocator) Release(intentID string) bool {
	_, ok := a.graph.Release(intentID)
	return ok
}

// BestCapacity reports the widest single path between src and dst in the
// real pool, 0 when they are disconnected.
func (a *Allocator) BestCapacity(src, dst string) int64 {
	best, err := routing.MaxFeasibleCapacity(a.graph, src, dst, core.PoolReal)
	if err != nil {
		return 0
	}
	return best
}

// Alternatives lists up to MaxPaths hop-guided paths able to carry req in
// the real pool, without reserving anything.
func (a *Allocator) Alternatives(ctx context.Context, req Request) ([][]string, error) {
	return a.searcher.FindPaths(ctx, routing.Query{
		Source:      req.Src,
		Destination: req.Dst,
		MinCapacity: req.RequiredBW,
		Pool:        core.PoolReal,
	})
}

func (a *Allocator) choose(ctx context.Context, req Request, pool core.Pool) (routing.Candidate, error) {
	if req.RequiredBW <= 0 {
		return routing.Candidate{}, fmt.Errorf("intent %s: %w: bandwidth %d", req.IntentID, core.ErrInvalidCapacity, req.RequiredBW)
	}
	q := routing.Query{
		Source:      req.Src,
		Destination: req.Dst,
		MinCapacity: req.RequiredBW,
		Pool:        pool,
	}

	start := time.Now()
	defer func() { a.metrics.ObservePathComputation(string(a.cfg.Strategy), time.Since(start)) }()

	var p []string
	switch a.cfg.Strategy {
	case StrategyHop:
		paths, err := a.searcher.FindPaths(ctx, q)
		if err != nil {
			return routing.Candidate{}, err
		}
		p = paths[0]
	case StrategyHopStrict:
		path, err := a.searcher.FindPath(ctx, q)
		if err != nil {
			return routing.Candidate{}, err
		}
		p = path
	default:
		cands, err := routing.KShortestFeasible(ctx, a.graph, q, routing.KShortestOptions{
			HopDiff:       a.cfg.HopDiff,
			MaxCandidates: a.cfg.MaxCandidates,
		})
		if err != nil {
			return routing.Candidate{}, err
		}
		if len(cands) == 0 {
			return routing.Candidate{}, fmt.Errorf("%w: %s -> %s with capacity >= %d", routing.ErrNoPath, req.Src, req.Dst, req.RequiredBW)
		}
		return cands[0], nil
	}

	capacity, err := a.graph.PathCapacity(p, pool)
	if err != nil {
		return routing.Candidate{}, err
	}
	return routing.Candidate{Path: p, Capacity: capacity}, nil
}

// SortByDemand returns a copy of reqs ordered by RequiredBW, largest first.
// Equal demands keep their input order.
func SortByDemand(reqs []Request) []Request {
	out := append([]Request(nil), reqs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequiredBW > out[j].RequiredBW })
	return out
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	case errors.Is(err, routing.ErrNoPath):
		return "no_path"
	default:
		return "error"
	}
}
