// Package cli implements the veilctl operator command line.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	natsURL string
	apiURL  string
)

var rootCmd = &cobra.Command{
	Use:   "veilctl",
	Short: "VeilStream operator CLI",
	Long: `veilctl is the operator command-line interface for the VeilStream
masking pipeline.

Inspect and replay dead-lettered events, check backfill progress,
read pipeline stats, and seed synthetic events for development.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "nats://localhost:4222", "NATS server URL")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8098", "pipeline admin API URL")
}
