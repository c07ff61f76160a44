// Package cmd wires the manager's cobra command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the manager's root command, exiting non-zero on failure.
func Execute() {
	rootCmd := &cobra.Command{
		Use:          "external-resources-manager",
		Short:        "Reconciles external cloud resources declared in the configuration catalog.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(RunCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
