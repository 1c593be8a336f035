// Package cli implements the intentctl command tree.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/config"
)

// Version is stamped at link time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

type loadFunc func() (*config.Config, error)

// NewRootCmd builds the command tree reading from in and writing to out
// and errOut.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "intentctl",
		Short:         "Bandwidth intent controller",
		Long:          "Allocates bandwidth-guaranteed paths for host-to-host intents and installs the flow rules that realise them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML config file (default: search for intentctl.yaml)")
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	load := func() (*config.Config, error) { return config.Load(cfgFile) }
	root.AddCommand(newRunCmd(load))
	root.AddCommand(newPlanCmd(load))
	root.AddCommand(newPushLinksCmd(load))
	return root
}

// Execute runs intentctl with the process arguments until completion or an
// interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}
