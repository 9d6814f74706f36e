// Command paygate runs the entitlement and billing reconciliation service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "paygate",
	Short:         "Checkout, webhook reconciliation and entitlement service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("paygate %s (%s)\n", Version, GitCommit)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
