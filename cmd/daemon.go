// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sekigaharaEI/archon/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Archon daemon in the foreground",
	Long: `Run the Archon daemon process in the foreground.

The daemon:
  1. Loads global configuration from the config file
  2. Initializes logging
  3. Restores scheduled jobs for every active task
  4. Starts the stuck-detector scan ticker
  5. Starts the Control API (UDS JSON-RPC) listener, then the metrics server
  6. Handles signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (defaults to the value in config)")
}

func runDaemon() {
	fmt.Printf("Starting archon daemon (config: %s, socket: %s)\n", configFile, socketPath)

	d, err := daemon.New(configFile, socketPath, pidFile)
	if err != nil {
		exitWithError("failed to initialize daemon", err)
	}

	if err := d.Start(); err != nil {
		exitWithError("failed to start daemon", err)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon exited with error: %v\n", err)
		os.Exit(1)
	}
}
