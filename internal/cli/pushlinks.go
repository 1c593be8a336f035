package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/bandwidth-intent-controller/core"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/onos"
)

func newPushLinksCmd(load loadFunc) *cobra.Command {
	var graphFile string

	cmd := &cobra.Command{
		Use:   "push-links",
		Short: "Annotate controller links with bandwidths from a graph file",
		Long: `Reads a capacity graph file and posts a network configuration that sets
the "bandwidth" annotation on both directions of every switch link. Lines whose
first endpoint is a host ("h...") are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			triples, err := core.ReadTriplesFile(graphFile)
			if err != nil {
				return err
			}
			linkCfg, err := onos.BuildLinkConfig(triples)
			if err != nil {
				return err
			}

			log := logging.New(withOutput(cfg.Log(), cmd.ErrOrStderr()))
			client := onos.New(cfg.ONOS(), onos.WithLogger(log))
			if err := client.ConfigureLinkBandwidths(cmd.Context(), linkCfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configured %d link directions\n", len(linkCfg.Links))
			return nil
		},
	}
	cmd.Flags().StringVar(&graphFile, "graph", "", "capacity graph file")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}

func withOutput(cfg logging.Config, w io.Writer) logging.Config {
	cfg.Output = w
	return cfg
}
