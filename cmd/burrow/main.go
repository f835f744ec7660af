package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - multi-tenant container workload lifecycle",
	Long: `Burrow runs tenant workloads as containers on a single daemon.

Collaborators create workloads and request lifecycle actions (start, stop,
pause, unpause, restart, delete). Burrow executes them in the background,
keeps each workload's state in step with the daemon and records its logs.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "127.0.0.1:8080", "Burrow API address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workloadCmd)
	rootCmd.AddCommand(actionCmd)
}
