// Command terrainview runs the selection targeting pipeline against a
// headless scene: as an HTTP service, as a one-shot geometry deriver, or as
// a scripted replay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "terrainview",
		Short:         "Selection-to-camera targeting and terrain provider management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newDeriveCmd(),
		newReplayCmd(),
		newTerrainCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
