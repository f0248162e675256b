// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sekigaharaEI/archon/internal/command"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Archon daemon",
	Long: `Stop the Archon daemon gracefully.

This command sends a daemon_shutdown command to the running daemon via
Unix Domain Socket. The daemon stops the scheduler, the Control API
listener, and the metrics server, then exits cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func runStopCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	fmt.Println("Sending shutdown command to daemon...")
	resp, err := client.DaemonShutdown(ctx)
	if err != nil {
		exitWithError("failed to send daemon_shutdown command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon_shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Daemon is shutting down.")
}
