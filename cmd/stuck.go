// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sekigaharaEI/archon/internal/command"
)

// stuckCmd triggers an immediate stuck-detector scan.
var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "Trigger an immediate stuck-detector scan",
	Long: `Run the stuck detector across all active tasks now, instead of
waiting for its next periodic scan.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStuckScan()
	},
}

func runStuckScan() {
	client := command.NewUDSClient(socketPath, 30*time.Second)
	ctx := context.Background()

	resp, err := client.StuckScan(ctx)
	if err != nil {
		exitWithError("failed to send stuck_scan command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("stuck_scan failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}
