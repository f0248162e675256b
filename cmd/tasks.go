// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sekigaharaEI/archon/internal/command"
)

// tasksCmd groups read-only task queries, across both Probe and Cron modes.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect tasks",
	Long:  `List tasks, fetch a single task's full configuration, or tail its log.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		runTasksList()
	},
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Get a task's full configuration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTasksGet(args[0])
	},
}

var tasksLogsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Tail a task's log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTasksLogs(args[0])
	},
}

var (
	tasksFilterMode   string
	tasksFilterStatus string
	tasksLogLines     int
)

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksGetCmd)
	tasksCmd.AddCommand(tasksLogsCmd)

	tasksListCmd.Flags().StringVar(&tasksFilterMode, "mode", "", "filter by mode (probe|cron)")
	tasksListCmd.Flags().StringVar(&tasksFilterStatus, "status", "", "filter by status (active|paused|stopped|stuck)")

	tasksLogsCmd.Flags().IntVarP(&tasksLogLines, "lines", "n", 100, "number of trailing lines to show")
}

func runTasksList() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TasksList(ctx, tasksFilterMode, tasksFilterStatus)
	if err != nil {
		exitWithError("failed to send tasks_list command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("tasks_list failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func runTasksGet(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TasksGet(ctx, taskID)
	if err != nil {
		exitWithError("failed to send tasks_get command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("tasks_get failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func runTasksLogs(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TasksLogs(ctx, taskID, tasksLogLines)
	if err != nil {
		exitWithError("failed to send tasks_logs command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("tasks_logs failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}
