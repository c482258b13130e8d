// Package cmd implements the CLI surface using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dtnsim",
	Short: "dtnsim - discrete-event simulator for delay-tolerant bundle networks",
	Long: `dtnsim simulates bundle-layer traffic over scheduled, intermittent
contacts with finite bandwidth and nonzero loss.  Applications at each node
generate prioritized bundles; the core decides when to forward, when to
segment and retransmit over an LTP-style reliable transfer, and when to
drop, and reports end-to-end delivery statistics.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and reports any error on stderr.  Child
// commands and flags are attached in init.  This is called by main.main().
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"experiment configuration file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
}
