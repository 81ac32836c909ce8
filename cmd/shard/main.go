package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "shard",
		Short:        "media-companion shard: hosts companion sessions and serves the session API",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newCheckCharactersCmd(),
	)
	return rootCmd
}
