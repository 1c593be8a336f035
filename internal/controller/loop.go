package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
	"github.com/signalsfoundry/bandwidth-intent-controller/kb"
	"github.com/signalsfoundry/bandwidth-intent-controller/model"
	"github.com/signalsfoundry/bandwidth-intent-controller/timectrl"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// LoopConfig tunes the control loop.
type LoopConfig struct {
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Loop is the single goroutine that mutates the capacity graph and the
// intent set. Each iteration reconciles the topology, executes every queued
// command and retries unfinished installations, then sleeps for the poll
// interval.
type Loop struct {
	reconciler *Reconciler
	manager    *Manager
	hosts      *kb.KnowledgeBase
	queue      *CommandQueue
	cfg        LoopConfig

	clock   timectrl.Clock
	out     io.Writer
	log     logging.Logger
	metrics *observability.ControllerCollector
	tracer  trace.Tracer
	// scoped is set when log was supplied; it is then handed to the
	// reconciler and manager for the duration of each iteration.
	scoped bool
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithLoopClock sets the clock driving the poll interval.
func WithLoopClock(c timectrl.Clock) LoopOption {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithOutput sets where command results are written.
func WithOutput(w io.Writer) LoopOption {
	return func(l *Loop) {
		if w != nil {
			l.out = w
		}
	}
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(lg logging.Logger) LoopOption {
	return func(l *Loop) {
		l.log = logging.OrNoop(lg)
		l.scoped = lg != nil
	}
}

// WithLoopMetrics attaches a metrics collector.
func WithLoopMetrics(m *observability.ControllerCollector) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop wires a control loop.
func NewLoop(r *Reconciler, m *Manager, hosts *kb.KnowledgeBase, q *CommandQueue, cfg LoopConfig, opts ...LoopOption) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	l := &Loop{
		reconciler: r,
		manager:    m,
		hosts:      hosts,
		queue:      q,
		cfg:        cfg,
		clock:      timectrl.Real{},
		out:        io.Discard,
		log:        logging.Noop(),
		tracer:     observability.Tracer(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run iterates until ctx is cancelled. An iteration in progress is finished
// before the loop stops; every rule is then deleted and every intent
// dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info(ctx, "control loop started", logging.String("poll_interval", l.cfg.PollInterval.String()))
	for {
		l.Iterate(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			return l.shutdown(ctx)
		case <-l.clock.After(l.cfg.PollInterval):
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ShutdownTimeout)
	defer cancel()

	l.log.Info(cctx, "control loop stopping, clearing flows", logging.Int("intents", l.manager.Len()))
	if err := l.manager.ClearAllFlows(cctx, false); err != nil {
		return fmt.Errorf("clear flows: %w", err)
	}
	return nil
}

// Iterate runs one reconcile, command and retry pass.
func (l *Loop) Iterate(ctx context.Context) {
	start := time.Now()
	ctx, iterationID := logging.NewIterationContext(ctx)
	ctx, span := l.tracer.Start(ctx, "controller.Iterate", trace.WithAttributes(
		attribute.String("iteration.id", iterationID),
	))
	defer span.End()
	defer func() { l.metrics.ObserveIteration(time.Since(start)) }()
	if l.scoped {
		ctx = logging.ContextWithLogger(ctx, l.log)
	}

	res, err := l.reconciler.Sync(ctx)
	if err != nil {
		l.log.Warn(ctx, "topology sync failed", logging.Err(err))
	} else if res.Changed() {
		l.log.Info(ctx, "topology changed",
			logging.Int("edges_added", len(res.AddedEdges)),
			logging.Int("edges_removed", len(res.RemovedEdges)),
			logging.Int("hosts_added", len(res.HostsAdded)),
			logging.Int("hosts_removed", len(res.HostsRemoved)),
		)
	}
	if err == nil && len(res.Invalidated) > 0 {
		fmt.Fprintf(l.out, "topology change invalidated %d intent(s): %s\n", len(res.Invalidated), strings.Join(res.Invalidated, ", "))
		rejected, err := l.manager.HandleInvalidated(ctx, res.Invalidated)
		l.reportRejected(rejected)
		if err != nil {
			l.log.Error(ctx, "reallocation failed", logging.Err(err))
		}
	}

	lines := l.queue.Drain()
	l.metrics.SetQueueDepth(l.queue.Len())
	for _, line := range lines {
		_ = l.Execute(ctx, line)
	}

	rejected, err := l.manager.RetryPending(ctx)
	l.reportRejected(rejected)
	if err != nil {
		l.log.Error(ctx, "retry failed", logging.Err(err))
	}
}

// Execute runs one command line and writes its outcome. Failures are
// reported and returned, never fatal to the loop.
func (l *Loop) Execute(ctx context.Context, line string) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		fmt.Fprintf(l.out, "error: %v\n", err)
		return err
	}
	l.log.Debug(ctx, "command", logging.String("kind", cmd.Kind.String()), logging.String("line", line))

	switch cmd.Kind {
	case CommandAdd:
		err = l.add(ctx, cmd)
	case CommandList:
		WriteIntents(l.out, l.manager.List())
	case CommandRemove:
		err = l.remove(ctx, cmd)
	}
	if err != nil {
		fmt.Fprintf(l.out, "error: %v\n", err)
	}
	return err
}

func (l *Loop) add(ctx context.Context, cmd Command) error {
	src, err := l.hosts.Resolve(cmd.Src)
	if err != nil {
		return fmt.Errorf("source %s: %w", cmd.Src, err)
	}
	dst, err := l.hosts.Resolve(cmd.Dst)
	if err != nil {
		return fmt.Errorf("destination %s: %w", cmd.Dst, err)
	}

	in, err := l.manager.AddIntent(ctx, src, dst, cmd.BW)
	var inf *alloc.InfeasibleError
	if errors.As(err, &inf) {
		return fmt.Errorf("intent rejected: %d requested, best achievable %d", inf.RequiredBW, inf.BestCapacity)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(l.out, "added %s %s path %s\n", in.ID, in.State, strings.Join(in.Path, " -> "))
	return nil
}

func (l *Loop) remove(ctx context.Context, cmd Command) error {
	if cmd.All {
		n := l.manager.Len()
		if err := l.manager.RemoveAll(ctx); err != nil {
			return err
		}
		fmt.Fprintf(l.out, "removed %d intent(s)\n", n)
		return nil
	}
	if err := l.manager.RemoveIntent(ctx, cmd.Target); err != nil {
		return err
	}
	fmt.Fprintf(l.out, "removed %s\n", cmd.Target)
	return nil
}

func (l *Loop) reportRejected(ids []string) {
	for _, id := range ids {
		fmt.Fprintf(l.out, "intent %s rejected: no longer fits the topology\n", id)
	}
}

// WriteIntents prints intents as a table.
func WriteIntents(w io.Writer, intents []*model.Intent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSRC\tDST\tBW\tSTATE\tPATH")
	for _, in := range intents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			in.ID, in.Src.Label(), in.Dst.Label(), in.RequiredBW, in.State, strings.Join(in.Path, " -> "))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d intents\n", len(intents))
}
