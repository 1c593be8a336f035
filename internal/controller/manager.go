package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/routing"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
	"github.com/signalsfoundry/bandwidth-intent-controller/timectrl"
)

// ErrIntentNotFound is returned for operations on unknown intent ids.
var ErrIntentNotFound = errors.New("intent not found")

// DefaultInstallWorkers bounds concurrent rule pushes.
const DefaultInstallWorkers = 8

// Manager owns the intent set. It allocates paths through the allocator,
// derives flow rules from them and pushes those rules through the
// installer.
//
// Manager is not safe for concurrent use: the control loop is the only
// goroutine that mutates the intent set and the capacity graph.
type Manager struct {
	alloc     *alloc.Allocator
	installer RuleInstaller
	pool      *ants.Pool
	priority  int
	clock     timectrl.Clock
	newID     func() string

	intents map[string]*model.Intent
	order   []string

	log     logging.Logger
	metrics *observability.ControllerCollector
	tracer  trace.Tracer

	workers int
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) { m.log = logging.OrNoop(l) }
}

// WithManagerMetrics attaches a metrics collector.
func WithManagerMetrics(c *observability.ControllerCollector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// WithClock sets the clock used to stamp intents.
func WithClock(c timectrl.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithPriority sets the priority of derived flow rules.
func WithPriority(p int) ManagerOption {
	return func(m *Manager) {
		if p > 0 {
			m.priority = p
		}
	}
}

// WithInstallWorkers sets the size of the rule push pool.
func WithInstallWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithIDGenerator replaces the random intent id source.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager returns a manager placing intents with a and installing rules
// through installer. Close releases its worker pool.
func NewManager(a *alloc.Allocator, installer RuleInstaller, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		alloc:     a,
		installer: installer,
		priority:  model.DefaultFlowPriority,
		clock:     timectrl.Real{},
		newID:     uuid.NewString,
		intents:   make(map[string]*model.Intent),
		log:       logging.Noop(),
		tracer:    observability.Tracer(),
		workers:   DefaultInstallWorkers,
	}
	for _, opt := range opts {
		opt(m)
	}
	pool, err := ants.NewPool(m.workers)
	if err != nil {
		return nil, fmt.Errorf("rule push pool: %w", err)
	}
	m.pool = pool
	return m, nil
}

// Close releases the worker pool.
func (m *Manager) Close() {
	m.pool.Release()
}

// Get returns a copy of the intent with the given id.
func (m *Manager) Get(id string) (*model.Intent, error) {
	in, ok := m.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
	}
	return in.Clone(), nil
}

// List returns copies of every live intent in creation order.
func (m *Manager) List() []*model.Intent {
	out := make([]*model.Intent, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.intents[id].Clone())
	}
	return out
}

// Len returns the number of live intents.
func (m *Manager) Len() int { return len(m.order) }

// AddIntent registers a new intent and places it. A single-path allocation
// is tried first; when no path fits, every live intent is replanned. If the
// replan is infeasible the new intent is rejected with an
// *alloc.InfeasibleError carrying the best capacity currently available
// between its endpoints, and existing allocations are left as they were.
//
// A failure to install flow rules does not fail the call: the intent stays
// Allocated and RetryPending pushes its rules again.
func (m *Manager) AddIntent(ctx context.Context, src, dst model.Endpoint, bw int64) (*model.Intent, error) {
	if bw <= 0 {
		return nil, fmt.Errorf("%w: bandwidth %d", core.ErrInvalidCapacity, bw)
	}
	in := &model.Intent{
		ID:         m.newID(),
		Src:        src,
		Dst:        dst,
		RequiredBW: bw,
		State:      model.IntentPending,
		CreatedAt:  m.clock.Now(),
	}

	ctx, span := m.tracer.Start(ctx, "controller.AddIntent", trace.WithAttributes(
		attribute.String("intent.id", in.ID),
		attribute.String("intent.src", src.NodeID),
		attribute.String("intent.dst", dst.NodeID),
		attribute.Int64("intent.required_bw", bw),
	))
	defer span.End()
	defer m.publish()

	m.intents[in.ID] = in
	m.order = append(m.order, in.ID)

	path, err := m.alloc.AllocateSingle(ctx, requestOf(in))
	switch {
	case err == nil:
		m.allocated(in, path)
		m.installLogged(ctx, in)
		return in.Clone(), nil
	case errors.Is(err, routing.ErrNoPath) && !errors.Is(err, core.ErrNodeNotFound):
	default:
		m.finish(in, model.IntentRejected)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.logger(ctx).Info(ctx, "no single path, replanning",
		logging.String("intent_id", in.ID),
		logging.Int("intents", len(m.order)),
	)
	plan, err := m.alloc.GreedyAllocate(ctx, m.activeRequests())
	if err != nil {
		m.finish(in, model.IntentRejected)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, alloc.ErrInfeasible) {
			return nil, &alloc.InfeasibleError{
				IntentID:     in.ID,
				RequiredBW:   bw,
				BestCapacity: m.alloc.BestCapacity(src.NodeID, dst.NodeID),
			}
		}
		return nil, err
	}
	m.applyPlan(ctx, plan)
	return in.Clone(), nil
}

// RemoveIntent releases the intent's capacity, deletes its rules and drops
// it. Rule deletion failures are returned after the intent is gone.
func (m *Manager) RemoveIntent(ctx context.Context, id string) error {
	in, ok := m.intents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntentNotFound, id)
	}
	ctx, span := m.tracer.Start(ctx, "controller.RemoveIntent", trace.WithAttributes(attribute.String("intent.id", id)))
	defer span.End()
	defer m.publish()

	m.alloc.Release(id)
	err := m.uninstall(ctx, in)
	m.finish(in, model.IntentRemoved)
	m.logger(ctx).Info(ctx, "intent removed", logging.String("intent_id", id))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RemoveAll removes every intent.
func (m *Manager) RemoveAll(ctx context.Context) error {
	ids := append([]string(nil), m.order...)
	var errs []error
	for _, id := range ids {
		if err := m.RemoveIntent(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearAllFlows deletes every installed rule. Soft clearing keeps the intent
// set and its reservations so rules are pushed again on the next retry;
// otherwise every intent is released and dropped.
func (m *Manager) ClearAllFlows(ctx context.Context, soft bool) error {
	defer m.publish()

	var errs []error
	for _, id := range m.order {
		if err := m.uninstall(ctx, m.intents[id]); err != nil {
			errs = append(errs, err)
		}
	}
	if !soft {
		for _, id := range append([]string(nil), m.order...) {
			m.alloc.Release(id)
			m.finish(m.intents[id], model.IntentRemoved)
		}
	}
	m.logger(ctx).Info(ctx, "flows cleared", logging.Any("soft", soft))
	return errors.Join(errs...)
}

// HandleInvalidated re-places intents whose path lost an edge. Each is tried
// on its own first; if any fails, every live intent is replanned and
// intents that still do not fit are rejected. The rejected ids are returned.
func (m *Manager) HandleInvalidated(ctx context.Context, ids []string) ([]string, error) {
	defer m.publish()

	var pending []*model.Intent
	for _, id := range ids {
		in, ok := m.intents[id]
		if !ok {
			continue
		}
		if err := m.uninstall(ctx, in); err != nil {
			m.logger(ctx).Warn(ctx, "stale rule deletion failed", logging.String("intent_id", id), logging.Err(err))
		}
		m.alloc.Release(id)
		in.Path = nil
		in.State = model.IntentPending
		pending = append(pending, in)
	}

	failed := false
	for _, in := range pending {
		path, err := m.alloc.AllocateSingle(ctx, requestOf(in))
		if err != nil {
			m.logger(ctx).Info(ctx, "reallocation failed", logging.String("intent_id", in.ID), logging.Err(err))
			failed = true
			continue
		}
		m.allocated(in, path)
		m.installLogged(ctx, in)
		m.logger(ctx).Info(ctx, "intent rerouted", logging.String("intent_id", in.ID), logging.Strings("path", path))
	}
	if !failed {
		return nil, nil
	}
	return m.Replan(ctx)
}

// Replan runs the batch allocator over every live intent. While the batch is
// infeasible the intent the planner could not place is rejected and the
// batch retried without it. On success all rules are re-derived and pushed.
// The rejected ids are returned.
func (m *Manager) Replan(ctx context.Context) ([]string, error) {
	ctx, span := m.tracer.Start(ctx, "controller.Replan")
	defer span.End()
	defer m.publish()

	var rejected []string
	for {
		reqs := m.activeRequests()
		if len(reqs) == 0 {
			return rejected, nil
		}
		plan, err := m.alloc.GreedyAllocate(ctx, reqs)
		if err == nil {
			m.applyPlan(ctx, plan)
			span.SetAttributes(attribute.StringSlice("rejected", rejected))
			return rejected, nil
		}

		var inf *alloc.InfeasibleError
		if !errors.As(err, &inf) {
			span.SetStatus(codes.Error, err.Error())
			return rejected, err
		}
		in, ok := m.intents[inf.IntentID]
		if !ok {
			return rejected, fmt.Errorf("%w: planner named %s", ErrIntentNotFound, inf.IntentID)
		}
		m.logger(ctx).Warn(ctx, "intent rejected",
			logging.String("intent_id", in.ID),
			logging.Int64("required_bw", inf.RequiredBW),
			logging.Int64("best_capacity", inf.BestCapacity),
		)
		m.alloc.Release(in.ID)
		if err := m.uninstall(ctx, in); err != nil {
			m.logger(ctx).Warn(ctx, "rule deletion failed", logging.String("intent_id", in.ID), logging.Err(err))
		}
		m.finish(in, model.IntentRejected)
		rejected = append(rejected, in.ID)
	}
}

// RetryPending pushes rules for intents left Allocated by an earlier
// installation failure and places intents still Pending. Pending intents
// that cannot be placed trigger a replan, which rejects what does not fit.
func (m *Manager) RetryPending(ctx context.Context) ([]string, error) {
	defer m.publish()

	needReplan := false
	for _, id := range append([]string(nil), m.order...) {
		in := m.intents[id]
		switch in.State {
		case model.IntentAllocated:
			m.installLogged(ctx, in)
		case model.IntentPending:
			path, err := m.alloc.AllocateSingle(ctx, requestOf(in))
			if err != nil {
				needReplan = true
				continue
			}
			m.allocated(in, path)
			m.installLogged(ctx, in)
		}
	}
	if !needReplan {
		return nil, nil
	}
	return m.Replan(ctx)
}

// applyPlan replaces every intent's path with its planned one and re-pushes
// all rules.
func (m *Manager) applyPlan(ctx context.Context, plan []alloc.Assignment) {
	for _, id := range m.order {
		if err := m.uninstall(ctx, m.intents[id]); err != nil {
			m.logger(ctx).Warn(ctx, "rule deletion failed", logging.String("intent_id", id), logging.Err(err))
		}
	}
	for _, as := range plan {
		if in, ok := m.intents[as.IntentID]; ok {
			m.allocated(in, as.Path)
		}
	}
	for _, id := range m.order {
		if in := m.intents[id]; in.State == model.IntentAllocated {
			m.installLogged(ctx, in)
		}
	}
}

// logger prefers the iteration logger carried on ctx.
func (m *Manager) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, m.log)
}

func (m *Manager) allocated(in *model.Intent, path []string) {
	in.Path = append([]string(nil), path...)
	in.State = model.IntentAllocated
}

// finish moves in to a terminal state and drops it from the set.
func (m *Manager) finish(in *model.Intent, state model.IntentState) {
	in.State = state
	delete(m.intents, in.ID)
	for i, id := range m.order {
		if id == in.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) activeRequests() []alloc.Request {
	reqs := make([]alloc.Request, 0, len(m.order))
	for _, id := range m.order {
		reqs = append(reqs, requestOf(m.intents[id]))
	}
	return reqs
}

func requestOf(in *model.Intent) alloc.Request {
	return alloc.Request{
		IntentID:   in.ID,
		Src:        in.Src.NodeID,
		Dst:        in.Dst.NodeID,
		RequiredBW: in.RequiredBW,
	}
}

func (m *Manager) installLogged(ctx context.Context, in *model.Intent) {
	if err := m.install(ctx, in); err != nil {
		m.logger(ctx).Warn(ctx, "rule installation failed",
			logging.String("intent_id", in.ID),
			logging.Err(err),
		)
	}
}

// install derives and pushes the rules of an Allocated intent. Either every
// rule is installed and the intent becomes Installed, or the rules that did
// go through are deleted again and the intent stays Allocated.
func (m *Manager) install(ctx context.Context, in *model.Intent) error {
	rules, err := DeriveFlowRules(m.alloc.Graph(), in, m.priority)
	if err != nil {
		return err
	}

	ids := make([]string, len(rules))
	errs := make([]error, len(rules))
	m.fanOut(len(rules), func(i int) {
		ids[i], errs[i] = m.installer.InstallFlow(ctx, rules[i])
		m.metrics.IncFlowRuleOp("install", errs[i])
	})

	if err := errors.Join(errs...); err != nil {
		for i := range rules {
			if errs[i] != nil {
				continue
			}
			derr := m.installer.DeleteFlow(ctx, rules[i].DeviceID, ids[i])
			m.metrics.IncFlowRuleOp("delete", derr)
		}
		return err
	}
	for i := range rules {
		rules[i].RuleID = ids[i]
	}
	in.FlowRules = rules
	in.State = model.IntentInstalled
	m.logger(ctx).Debug(ctx, "rules installed", logging.String("intent_id", in.ID), logging.Int("rules", len(rules)))
	return nil
}

// uninstall deletes the installed rules of in. The rule list is cleared even
// when some deletions fail.
func (m *Manager) uninstall(ctx context.Context, in *model.Intent) error {
	rules := in.FlowRules
	in.FlowRules = nil
	if in.State == model.IntentInstalled {
		in.State = model.IntentAllocated
	}
	if len(rules) == 0 {
		return nil
	}

	errs := make([]error, len(rules))
	m.fanOut(len(rules), func(i int) {
		if !rules[i].Installed() {
			return
		}
		errs[i] = m.installer.DeleteFlow(ctx, rules[i].DeviceID, rules[i].RuleID)
		m.metrics.IncFlowRuleOp("delete", errs[i])
	})
	return errors.Join(errs...)
}

// fanOut runs task(0..n-1) on the worker pool and waits for all of them.
// Tasks the pool refuses run inline.
func (m *Manager) fanOut(n int, task func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		run := func() {
			defer wg.Done()
			task(i)
		}
		if err := m.pool.Submit(run); err != nil {
			run()
		}
	}
	wg.Wait()
}

func (m *Manager) publish() {
	if m.metrics == nil {
		return
	}
	counts := map[string]int{
		model.IntentPending.String():   0,
		model.IntentAllocated.String(): 0,
		model.IntentInstalled.String(): 0,
	}
	for _, in := range m.intents {
		counts[in.State.String()]++
	}
	m.metrics.SetIntentCounts(counts)
}
