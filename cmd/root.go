// Package cmd defines the crawld command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawld",
		Short: "Task orchestration and request governance for hostile platforms",
		Long: `crawld schedules and executes crawl tasks against rate-limited,
anti-bot-protected platforms. It combines priority scheduling with host
fairness, a bounded worker pool, adaptive rate limiting, identity and proxy
rotation, and per-host circuit breaking.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
