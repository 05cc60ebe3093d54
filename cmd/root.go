// Package cmd wires the engine into a command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modelguard/modelguard/pkg/version"
)

// Execute is the main entry point for the CLI.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.Version = fmt.Sprintf(`{"version": "%s", "commit": "%s"}`, version.Version, version.CommitSHA)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modelguard",
		Short: "modelguard scans model artifacts and configuration bundles for security issues.",
		Long: "modelguard orchestrates security scanners over machine-learning model artifacts\n" +
			"and tool/configuration bundles, normalizes their findings, evaluates pass/fail\n" +
			"policy, and persists results under per-tenant encryption and shard isolation.",
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the engine configuration file")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newMigrateCmd())
	return rootCmd
}
