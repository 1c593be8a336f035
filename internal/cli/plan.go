package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
)

// PlanReport is the result of an offline batch allocation.
type PlanReport struct {
	Feasible    bool               `yaml:"feasible"`
	Strategy    string             `yaml:"strategy"`
	Assignments []PlannedIntent    `yaml:"assignments,omitempty"`
	Rejected    *RejectedIntent    `yaml:"rejected,omitempty"`
	Edges       []PlannedEdgeUsage `yaml:"edges,omitempty"`
}

// PlannedIntent is one placed request.
type PlannedIntent struct {
	ID           string     `yaml:"id"`
	Src          string     `yaml:"src"`
	Dst          string     `yaml:"dst"`
	BW           int64      `yaml:"bw"`
	Path         []string   `yaml:"path,flow"`
	Alternatives [][]string `yaml:"alternatives,omitempty"`
}

// RejectedIntent names the request that made the batch infeasible.
type RejectedIntent struct {
	ID           string `yaml:"id"`
	RequiredBW   int64  `yaml:"required_bw"`
	BestCapacity int64  `yaml:"best_capacity"`
}

// PlannedEdgeUsage is an edge ledger after the commit pass.
type PlannedEdgeUsage struct {
	Edge      string `yaml:"edge"`
	Max       int64  `yaml:"max"`
	Remaining int64  `yaml:"remaining"`
}

type planOptions struct {
	graphFile    string
	intentsFile  string
	output       string
	strategy     string
	alternatives bool
}

func newPlanCmd(load loadFunc) *cobra.Command {
	var opts planOptions

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Allocate a batch of intents against a graph file",
		Long: `Loads a capacity graph ("<a> <b> <capacity>" per line) and a batch of
intents ("<src> <dst> <bw>" per line), runs the two-phase greedy allocator and
prints the chosen paths, or the request that could not be placed.`,
		Example: `  intentctl plan --graph topo.graph --intents batch.intents
  intentctl plan --graph topo.graph --intents batch.intents --output yaml --alternatives`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			acfg := cfg.Alloc()
			if opts.strategy != "" {
				acfg.Strategy = alloc.Strategy(opts.strategy)
			}
			report, err := runPlan(cmd, opts, acfg)
			if report != nil {
				if werr := writePlanReport(cmd.OutOrStdout(), opts.output, report); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.graphFile, "graph", "", "capacity graph file")
	cmd.Flags().StringVar(&opts.intentsFile, "intents", "", "intent batch file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format (text, yaml)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "override allocator strategy (kshortest, hop, hop-strict)")
	cmd.Flags().BoolVar(&opts.alternatives, "alternatives", false, "list alternative feasible paths per intent")
	_ = cmd.MarkFlagRequired("graph")
	_ = cmd.MarkFlagRequired("intents")
	return cmd
}

func runPlan(cmd *cobra.Command, opts planOptions, cfg alloc.Config) (*PlanReport, error) {
	switch cfg.Strategy {
	case alloc.StrategyKShortest, alloc.StrategyHop, alloc.StrategyHopStrict:
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	if opts.output != "text" && opts.output != "yaml" {
		return nil, fmt.Errorf("unknown output format %q", opts.output)
	}

	g, err := core.LoadGraphFile(opts.graphFile)
	if err != nil {
		return nil, err
	}
	triples, err := core.ReadTriplesFile(opts.intentsFile)
	if err != nil {
		return nil, err
	}

	reqs := make([]alloc.Request, 0, len(triples))
	for _, t := range triples {
		reqs = append(reqs, alloc.Request{
			IntentID:   fmt.Sprintf("intent-%d", t.Line),
			Src:        t.A,
			Dst:        t.B,
			RequiredBW: t.Value,
		})
	}

	a := alloc.New(g, cfg)
	ctx := cmd.Context()

	var alts map[string][][]string
	if opts.alternatives {
		alts = make(map[string][][]string, len(reqs))
		for _, req := range reqs {
			paths, err := a.Alternatives(ctx, req)
			if err != nil {
				continue
			}
			alts[req.IntentID] = paths
		}
	}

	report := &PlanReport{Strategy: string(cfg.Strategy)}
	plan, err := a.GreedyAllocate(ctx, reqs)
	if err != nil {
		var inf *alloc.InfeasibleError
		if !errors.As(err, &inf) {
			return nil, err
		}
		report.Rejected = &RejectedIntent{ID: inf.IntentID, RequiredBW: inf.RequiredBW, BestCapacity: inf.BestCapacity}
		return report, err
	}

	byID := make(map[string]alloc.Request, len(reqs))
	for _, req := range reqs {
		byID[req.IntentID] = req
	}
	report.Feasible = true
	for _, as := range plan {
		req := byID[as.IntentID]
		report.Assignments = append(report.Assignments, PlannedIntent{
			ID:           as.IntentID,
			Src:          req.Src,
			Dst:          req.Dst,
			BW:           as.RequiredBW,
			Path:         as.Path,
			Alternatives: alts[as.IntentID],
		})
	}
	for _, e := range g.Edges() {
		report.Edges = append(report.Edges, PlannedEdgeUsage{Edge: e.Key.String(), Max: e.MaxCapacity, Remaining: e.Remaining})
	}
	return report, nil
}

func writePlanReport(w io.Writer, format string, r *PlanReport) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return enc.Close()
	}

	if r.Rejected != nil {
		fmt.Fprintf(w, "infeasible: %s needs %d, best achievable %d\n", r.Rejected.ID, r.Rejected.RequiredBW, r.Rejected.BestCapacity)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSRC\tDST\tBW\tPATH")
	for _, a := range r.Assignments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", a.ID, a.Src, a.Dst, a.BW, strings.Join(a.Path, "->"))
		for _, alt := range a.Alternatives {
			fmt.Fprintf(tw, "\t\t\t\t  alt %s\n", strings.Join(alt, "->"))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal: %d intents (strategy %s)\n", len(r.Assignments), r.Strategy)
	return nil
}
