package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "seedream-studio-server",
	Short: "SeeDream multi-image generation server",
	Long: `seedream-studio-server fans image generation requests out to the Ark
SeeDream API. It streams interactive generations back over SSE and runs
background tasks from a Redis queue with claim, heartbeat and retry.`,
	SilenceUsage: true,
}

// Execute - entrypoint called from main
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
