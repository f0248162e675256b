// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "archond",
	Short: "Archon - autonomous Claude task daemon",
	Long: `Archon supervises long-running and scheduled Claude Code sessions.

It runs two kinds of tasks:
  - Probe tasks: a long-lived Claude session is polled on an interval,
    its transcript analyzed for stuck/error/completed conditions, and
    auto-corrected or escalated as needed.
  - Cron tasks: a fresh Claude session is launched on a cron schedule
    to execute a fixed piece of work and report its outcome.

A stuck detector scans all tasks for staleness, and a notifier reports
errors, corrections, and completions to the configured channel.

Local control is via a CLI talking to the daemon over a Unix Domain
Socket.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/archon/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/archond.sock",
		"daemon socket path")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(stuckCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
