// Package cmd provides the cinemesh CLI commands.
//
// Commands:
//   - serve: HTTP API server with paced SSE streaming
//   - version: build information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cinemesh",
	Short: "Cinemesh - conversational movie and TV research assistant",
	Long: `Cinemesh is a conversational service for movie and TV research.
Each turn runs as a background computation that survives client
disconnects; conversation history is durable and replayable.

Run "cinemesh serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
