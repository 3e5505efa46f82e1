package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "flowguard",
		Short: "Run workflow scripts safely and learn from their failures",
	}
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newHistoryCmd(a),
		newPatternsCmd(a),
		newStatsCmd(a),
		newMigrateCmd(a),
		newServeMetricsCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":    Version,
					"build_time": BuildTime,
					"git_commit": GitCommit,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "FlowGuard %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
			return nil
		},
	}
}
