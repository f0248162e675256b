// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sekigaharaEI/archon/internal/command"
	"github.com/sekigaharaEI/archon/internal/cronexec"
)

// cronCmd groups Cron-mode task operations.
var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage Cron-mode tasks",
	Long: `Create, execute, pause, resume, and stop Cron-mode tasks.

A Cron task launches a fresh Claude session on a cron schedule to
execute a fixed piece of work defined by a task markdown file and an
optional workflow file.`,
}

var cronCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new Cron task",
	Run: func(cmd *cobra.Command, args []string) {
		runCronCreate()
	},
}

var cronExecuteCmd = &cobra.Command{
	Use:   "execute <task-id>",
	Short: "Run a Cron task now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCronExecute(args[0])
	},
}

var cronStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a Cron task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCronAction(args[0], "stop")
	},
}

var cronPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a Cron task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCronAction(args[0], "pause")
	},
}

var cronResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused Cron task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCronAction(args[0], "resume")
	},
}

var (
	cronTaskID      string
	cronName        string
	cronDescription string
	cronProjectPath string
	cronTaskFile    string
	cronWorkflow    string
	cronExpression  string
	cronCheckEvery  int
	cronTimeout     int
)

func init() {
	cronCmd.AddCommand(cronCreateCmd)
	cronCmd.AddCommand(cronExecuteCmd)
	cronCmd.AddCommand(cronStopCmd)
	cronCmd.AddCommand(cronPauseCmd)
	cronCmd.AddCommand(cronResumeCmd)

	cronCreateCmd.Flags().StringVar(&cronTaskID, "id", "", "task id (required)")
	cronCreateCmd.Flags().StringVar(&cronName, "name", "", "human-readable task name")
	cronCreateCmd.Flags().StringVar(&cronDescription, "description", "", "task description")
	cronCreateCmd.Flags().StringVar(&cronProjectPath, "project", "", "project directory (required)")
	cronCreateCmd.Flags().StringVar(&cronTaskFile, "task-file", "", "path to the task markdown file (required)")
	cronCreateCmd.Flags().StringVar(&cronWorkflow, "workflow-file", "", "path to an optional workflow file")
	cronCreateCmd.Flags().StringVar(&cronExpression, "schedule", "", "cron expression, e.g. \"0 * * * *\" (required)")
	cronCreateCmd.Flags().IntVar(&cronCheckEvery, "check-interval", 60, "check interval in minutes")
	cronCreateCmd.Flags().IntVar(&cronTimeout, "timeout", 30, "execution timeout in minutes")
	cronCreateCmd.MarkFlagRequired("id")
	cronCreateCmd.MarkFlagRequired("project")
	cronCreateCmd.MarkFlagRequired("task-file")
	cronCreateCmd.MarkFlagRequired("schedule")
}

func runCronCreate() {
	taskContent, err := os.ReadFile(cronTaskFile)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to read task file %s", cronTaskFile), err)
	}

	var workflowContent string
	if cronWorkflow != "" {
		data, err := os.ReadFile(cronWorkflow)
		if err != nil {
			exitWithError(fmt.Sprintf("failed to read workflow file %s", cronWorkflow), err)
		}
		workflowContent = string(data)
	}

	client := command.NewUDSClient(socketPath, 30*time.Second)
	ctx := context.Background()

	req := cronexec.CreateRequest{
		TaskID:               cronTaskID,
		Name:                 cronName,
		Description:          cronDescription,
		ProjectPath:          cronProjectPath,
		TaskContent:          string(taskContent),
		WorkflowContent:      workflowContent,
		CronExpression:       cronExpression,
		CheckIntervalMinutes: cronCheckEvery,
		TimeoutMinutes:       cronTimeout,
	}

	resp, err := client.CronCreate(ctx, req)
	if err != nil {
		exitWithError("failed to send cron_create command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("cron_create failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func runCronExecute(taskID string) {
	client := command.NewUDSClient(socketPath, 5*time.Minute)
	ctx := context.Background()

	resp, err := client.CronExecute(ctx, taskID)
	if err != nil {
		exitWithError("failed to send cron_execute command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("cron_execute failed: %s", resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}

func runCronAction(taskID, action string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	var resp *command.Response
	var err error
	switch action {
	case "stop":
		resp, err = client.CronStop(ctx, taskID)
	case "pause":
		resp, err = client.CronPause(ctx, taskID)
	case "resume":
		resp, err = client.CronResume(ctx, taskID)
	}
	if err != nil {
		exitWithError(fmt.Sprintf("failed to send cron_%s command", action), err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("cron_%s failed: %s", action, resp.Error.Message), nil)
	}

	printJSON(resp.Result)
}
