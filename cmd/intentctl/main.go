package main

import (
	"fmt"
	"os"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "intentctl: %v\n", err)
		os.Exit(1)
	}
}
