// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sekigaharaEI/archon/internal/command"
	"github.com/sekigaharaEI/archon/internal/probeexec"
)

// probeCmd groups Probe-mode task operations.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Manage Probe-mode tasks",
	Long: `Create, check, and stop Probe-mode tasks.

A Probe task supervises a long-running Claude session: it is polled on
an interval, its transcript analyzed, and auto-corrected or escalated
based on what the analysis finds.`,
}

var probeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new Probe task",
	Run: func(cmd *cobra.Command, args []string) {
		runProbeCreate()
	},
}

var probeCheckCmd = &cobra.Command{
	Use:   "check <task-id>",
	Short: "Run a check cycle against a Probe task now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runProbeCheck(args[0])
	},
}

var probeStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a Probe task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runProbeStop(args[0])
	},
}

var (
	probeTaskID      string
	probeInitial     string
	probeProjectPath string
	probeName        string
	probeDescription string
	probeCheckEvery  int
	probeMaxCorr     int
	probeGraceful    bool
	probeStopTimeout int
)

func init() {
	probeCmd.AddCommand(probeCreateCmd)
	probeCmd.AddCommand(probeCheckCmd)
	probeCmd.AddCommand(probeStopCmd)

	probeCreateCmd.Flags().StringVar(&probeTaskID, "id", "", "task id (required)")
	probeCreateCmd.Flags().StringVar(&probeInitial, "prompt", "", "initial prompt (required)")
	probeCreateCmd.Flags().StringVar(&probeProjectPath, "project", "", "project directory (required)")
	probeCreateCmd.Flags().StringVar(&probeName, "name", "", "human-readable task name")
	probeCreateCmd.Flags().StringVar(&probeDescription, "description", "", "task description")
	probeCreateCmd.Flags().IntVar(&probeCheckEvery, "check-interval", 5, "check interval in minutes")
	probeCreateCmd.Flags().IntVar(&probeMaxCorr, "max-corrections", 3, "max auto-corrections before escalation")
	probeCreateCmd.MarkFlagRequired("id")
	probeCreateCmd.MarkFlagRequired("prompt")
	probeCreateCmd.MarkFlagRequired("project")

	probeStopCmd.Flags().BoolVar(&probeGraceful, "graceful", true, "stop gracefully before force-killing")
	probeStopCmd.Flags().IntVar(&probeStopTimeout, "timeout", 10, "graceful stop timeout in seconds")
}

func runProbeCreate() {
	client := command.NewUDSClient(socketPath, 30*time.Second)
	ctx := context.Background()

	req := probeexec.StartRequest{
		TaskID:               probeTaskID,
		InitialPrompt:        probeInitial,
		ProjectPath:          probeProjectPath,
		Name:                 probeName,
		Description:          probeDescription,
		CheckIntervalMinutes: probeCheckEvery,
		MaxAutoCorrections:   probeMaxCorr,
	}

	resp, err := client.ProbeCreate(ctx, req)
	if err != nil {
		exitWithError("failed to send probe_create command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("probe_create failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func runProbeCheck(taskID string) {
	client := command.NewUDSClient(socketPath, 30*time.Second)
	ctx := context.Background()

	resp, err := client.ProbeCheck(ctx, taskID)
	if err != nil {
		exitWithError("failed to send probe_check command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("probe_check failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func runProbeStop(taskID string) {
	client := command.NewUDSClient(socketPath, time.Duration(probeStopTimeout+5)*time.Second)
	ctx := context.Background()

	resp, err := client.ProbeStop(ctx, taskID, probeGraceful, probeStopTimeout)
	if err != nil {
		exitWithError("failed to send probe_stop command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("probe_stop failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}
	fmt.Println(string(out))
}
