package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/admin"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/config"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/controller"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/onos"
	"github.com/signalsfoundry/bandwidth-intent-controller/kb"
)

const consoleHelp = `commands:
  add <src> <dst> <bw>        reserve bw between two hosts (id or number)
  list | ls                   show intents
  rm | delete | remove <id>   remove an intent, or "all"
  help                        show this text
  exit | quit                 stop the controller
`

func newRunCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the control loop against the SDN controller",
		Long: "Polls the controller topology, keeps intents allocated as links come and go, " +
			"and reads console commands from standard input.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runController(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runController(ctx context.Context, cfg *config.Config, in io.Reader, out, errOut io.Writer) error {
	log := logging.New(withOutput(cfg.Log(), errOut))

	collector, err := observability.NewControllerCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	tcfg := cfg.Trace()
	tcfg.Version = Version
	tcfg.Output = errOut
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	client := onos.New(cfg.ONOS(), onos.WithLogger(log))
	graph := core.NewCapacityGraph()
	hosts := kb.NewKnowledgeBase()
	hosts.Subscribe(func(ev kb.Event) {
		log.Debug(ctx, "host "+ev.Type.String(),
			logging.String("host_id", ev.Host.ID),
			logging.String("location", ev.Host.Location.String()),
		)
	})

	reconciler := controller.NewReconciler(graph, hosts, client,
		controller.WithDefaultCapacity(cfg.Allocator.DefaultLinkCapacity),
		controller.WithReconcilerLogger(log),
		controller.WithReconcilerMetrics(collector),
	)
	allocator := alloc.New(graph, cfg.Alloc(),
		alloc.WithLogger(log),
		alloc.WithMetrics(collector),
		alloc.WithHopTable(core.NewHopTable()),
	)
	manager, err := controller.NewManager(allocator, client,
		controller.WithManagerLogger(log),
		controller.WithManagerMetrics(collector),
		controller.WithPriority(cfg.Flows.Priority),
		controller.WithInstallWorkers(cfg.Flows.InstallWorkers),
	)
	if err != nil {
		return err
	}
	defer manager.Close()

	queue := controller.NewCommandQueue()
	loop := controller.NewLoop(reconciler, manager, hosts, queue, cfg.LoopSettings(),
		controller.WithOutput(out),
		controller.WithLoopLogger(log),
		controller.WithLoopMetrics(collector),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsSrv := serveMetrics(cfg.Metrics.Addr, collector, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer scancel()
		_ = metricsSrv.Shutdown(sctx)
	}()

	adminDone := make(chan error, 1)
	if cfg.Admin.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Admin.GRPCAddr)
		if err != nil {
			return fmt.Errorf("admin listen %s: %w", cfg.Admin.GRPCAddr, err)
		}
		adminSrv := admin.New(collector, log)
		adminSrv.SetServing(true)
		go func() { adminDone <- adminSrv.Serve(ctx, lis) }()
	} else {
		adminDone <- nil
	}

	fmt.Fprint(out, consoleHelp)
	go readCommands(ctx, in, out, queue, cancel)

	loopErr := loop.Run(ctx)
	cancel()
	return errors.Join(loopErr, <-adminDone)
}

// readCommands feeds console lines into queue until in is exhausted. "exit"
// and "quit" stop the controller; end of input does not.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, queue *controller.CommandQueue, stop context.CancelFunc) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
		case "exit", "quit":
			stop()
			return
		case "help", "?":
			fmt.Fprint(out, consoleHelp)
		default:
			queue.Push(line)
		}
	}
}

func serveMetrics(addr string, collector *observability.ControllerCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
