// Package cronexec implements Cron-mode task execution: running a
// one-shot Claude CLI invocation against a task's workflow, analyzing
// its output, and tracking consecutive-failure bookkeeping that can
// auto-pause a task.
package cronexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sekigaharaEI/archon/internal/analyzer"
	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/types"
)

// Notifier is the subset of the notifier package a cron Executor needs.
type Notifier interface {
	NotifyTaskError(taskID, message string) bool
	NotifyTaskWarning(taskID, message string) bool
	NotifyTaskCompleted(taskID, message string) bool
}

// CreateRequest bundles the parameters of a new Cron task.
type CreateRequest struct {
	TaskID               string
	Name                 string
	Description          string
	ProjectPath          string
	TaskContent          string
	WorkflowContent      string
	CronExpression       string
	CheckIntervalMinutes int
	TimeoutMinutes       int
}

// Executor drives a single Cron task's lifecycle.
type Executor struct {
	store    *store.Store
	notifier Notifier
	cliPath  string
}

// New builds an Executor bound to the daemon's state store, notifier,
// and configured Claude CLI binary.
func New(st *store.Store, n Notifier, cliPath string) *Executor {
	return &Executor{store: st, notifier: n, cliPath: cliPath}
}

// CreateCronTask writes a new Cron task's config.json plus its
// task.md / workflow/workflow.md content files.
func (e *Executor) CreateCronTask(req CreateRequest) (*types.TaskConfig, error) {
	if err := e.store.EnsureTaskDir(req.TaskID); err != nil {
		return nil, err
	}

	kind := types.ScheduleEvery
	if req.CronExpression != "" {
		kind = types.ScheduleCron
	}

	cfg := &types.TaskConfig{
		TaskID:      req.TaskID,
		Mode:        types.ModeCron,
		Name:        req.Name,
		Description: req.Description,
		ProjectPath: req.ProjectPath,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Schedule: types.ScheduleConfig{
			Kind:                 kind,
			CronExpression:       req.CronExpression,
			CheckIntervalMinutes: req.CheckIntervalMinutes,
		},
		State:        types.TaskRuntimeState{Status: types.StatusActive},
		Notification: types.DefaultNotificationRules(),
		Execution: &types.ExecutionConfig{
			TimeoutMinutes:         req.TimeoutMinutes,
			MaxConsecutiveFailures: 3,
		},
		CronState:    &types.CronJobState{},
		WorkflowPath: "workflow/workflow.md",
		TaskMDPath:   "task.md",
	}

	if err := e.store.SaveConfig(cfg); err != nil {
		return nil, err
	}
	if err := e.store.SetStatus(req.TaskID, types.StatusActive); err != nil {
		return nil, err
	}
	if err := e.store.SaveTaskMarkdown(req.TaskID, req.TaskContent); err != nil {
		return nil, err
	}
	if err := e.store.SaveWorkflow(req.TaskID, req.WorkflowContent); err != nil {
		return nil, err
	}
	_ = e.store.AppendLog(req.TaskID, "ACTION cron task created")

	return cfg, nil
}

// ExecuteCron runs one Cron invocation: builds the prompt from
// task.md + workflow.md, runs the CLI under the task's timeout,
// analyzes the output, and updates execution bookkeeping.
func (e *Executor) ExecuteCron(ctx context.Context, taskID string) (types.AnalysisResult, error) {
	cfg, err := e.store.LoadConfig(taskID)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	if cfg.Execution == nil {
		cfg.Execution = &types.ExecutionConfig{MaxConsecutiveFailures: 3}
	}

	if err := e.store.AcquireLock(taskID); err != nil {
		if errors.Is(err, store.ErrLocked) {
			return types.AnalysisResult{Status: "locked", Summary: "task is being executed by another process"}, nil
		}
		return types.AnalysisResult{}, err
	}
	defer e.store.ReleaseLock(taskID)

	if err := e.store.MarkCheckStart(taskID); err != nil {
		return types.AnalysisResult{}, err
	}
	defer e.store.MarkCheckEnd(taskID)

	start := time.Now()
	cfg.Execution.LastRun = start.UTC().Format(time.RFC3339)
	cfg.Execution.LastResult = ""
	cfg.CronState.LastRunAtMS = start.UnixMilli()
	if err := e.store.SaveConfig(cfg); err != nil {
		return types.AnalysisResult{}, err
	}
	_ = e.store.AppendLog(taskID, "ACTION starting cron execution")

	prompt, err := e.buildPrompt(taskID)
	if err != nil {
		return types.AnalysisResult{}, err
	}

	timeout := time.Duration(cfg.Execution.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	output, err := e.runClaudeCLI(ctx, cfg.ProjectPath, prompt, timeout)
	duration := time.Since(start)

	if errors.Is(err, context.DeadlineExceeded) {
		return e.handleTimeout(taskID, cfg, duration)
	}
	if err != nil {
		_ = e.store.AppendLog(taskID, fmt.Sprintf("ERROR cron execution failed: %v", err))
		result := types.AnalysisResult{
			Status:  "error",
			Summary: err.Error(),
			Issues:  []types.Issue{{Type: "execution_error", Message: err.Error()}},
		}
		if err := e.updateExecutionState(taskID, cfg, result, duration); err != nil {
			return types.AnalysisResult{}, err
		}
		return result, nil
	}

	result := analyzer.NewCronResultAnalyzer(cfg.Notification).AnalyzeOutput(output)
	if err := e.updateExecutionState(taskID, cfg, result, duration); err != nil {
		return types.AnalysisResult{}, err
	}
	_ = e.store.AppendLog(taskID, fmt.Sprintf("OUTPUT execution finished: %s, %s", result.Status, result.Summary))
	return result, nil
}

func (e *Executor) buildPrompt(taskID string) (string, error) {
	taskMD, err := e.store.LoadTaskMarkdown(taskID)
	if err != nil {
		return "", err
	}
	workflowMD, err := e.store.LoadWorkflow(taskID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`# Task description

%s

# Workflow

%s

# Output contract

Execute the task following the workflow above, then emit the result in this JSON shape:

`+"```json"+`
{
  "status": "success | warning | error",
  "summary": "one-line summary",
  "findings": [
    {"level": "info|warning|error", "message": "specific finding"}
  ],
  "metrics": {
    "key": "value"
  }
}
`+"```"+`
`, taskMD, workflowMD), nil
}

func (e *Executor) runClaudeCLI(ctx context.Context, projectPath, prompt string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cliPath, "-p", prompt)
	cmd.Dir = projectPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", context.DeadlineExceeded
	}
	if err != nil {
		return "", fmt.Errorf("cronexec: claude cli: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.String(), nil
}

func (e *Executor) updateExecutionState(taskID string, cfg *types.TaskConfig, result types.AnalysisResult, duration time.Duration) error {
	cfg.Execution.LastResult = result.Status
	cfg.Execution.RunCount++
	cfg.CronState.LastRunDurationMS = duration.Milliseconds()
	cfg.CronState.RunCount++

	if result.Status == "error" {
		cfg.Execution.ConsecutiveFailures++
		cfg.CronState.ErrorCount++
		cfg.CronState.LastError = result.Summary
	} else {
		cfg.Execution.ConsecutiveFailures = 0
		cfg.CronState.LastError = ""
	}

	return e.store.SaveConfig(cfg)
}

func (e *Executor) handleTimeout(taskID string, cfg *types.TaskConfig, duration time.Duration) (types.AnalysisResult, error) {
	_ = e.store.AppendLog(taskID, "WARNING cron execution timed out")

	cfg.Execution.LastResult = "timeout"
	cfg.Execution.ConsecutiveFailures++
	cfg.CronState.LastRunDurationMS = duration.Milliseconds()
	cfg.CronState.ErrorCount++
	cfg.CronState.LastError = "execution timed out"

	failures := cfg.Execution.ConsecutiveFailures
	maxFailures := cfg.Execution.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}

	if failures >= maxFailures {
		cfg.State.Status = types.StatusPaused
		_ = e.store.AppendLog(taskID, fmt.Sprintf("ACTION paused after %d consecutive timeouts", failures))
		e.notifier.NotifyTaskError(taskID, fmt.Sprintf("task paused after %d consecutive timeouts", failures))
	}

	if err := e.store.SaveConfig(cfg); err != nil {
		return types.AnalysisResult{}, err
	}
	if failures >= maxFailures {
		if err := e.store.SetStatus(taskID, types.StatusPaused); err != nil {
			return types.AnalysisResult{}, err
		}
	}

	return types.AnalysisResult{
		Status:  "timeout",
		Summary: fmt.Sprintf("execution timed out (%d consecutive failures)", failures),
		Issues:  []types.Issue{{Type: "timeout", Message: "execution timed out"}},
	}, nil
}

// HandleExecutionResult decides whether to notify based on the
// result's status and the task's notification rules.
func (e *Executor) HandleExecutionResult(taskID string, cfg *types.TaskConfig, result types.AnalysisResult) {
	a := analyzer.NewCronResultAnalyzer(cfg.Notification)

	if a.ShouldNotify(result) {
		switch result.Status {
		case "error":
			e.notifier.NotifyTaskError(taskID, result.Summary)
		case "warning":
			if cfg.Notification.EnableClaudeAnalysis {
				e.notifier.NotifyTaskWarning(taskID, result.Summary)
			}
		}
	}

	if result.Status == "success" && cfg.Notification.NotifyOnSuccess {
		e.notifier.NotifyTaskCompleted(taskID, result.Summary)
	}
}

// StopCron marks a task stopped.
func (e *Executor) StopCron(taskID string) error {
	if err := e.store.SetStatus(taskID, types.StatusStopped); err != nil {
		return err
	}
	return e.store.AppendLog(taskID, "ACTION cron task stopped")
}

// PauseCron marks a task paused.
func (e *Executor) PauseCron(taskID string) error {
	if err := e.store.SetStatus(taskID, types.StatusPaused); err != nil {
		return err
	}
	return e.store.AppendLog(taskID, "ACTION cron task paused")
}

// ResumeCron marks a task active.
func (e *Executor) ResumeCron(taskID string) error {
	if err := e.store.SetStatus(taskID, types.StatusActive); err != nil {
		return err
	}
	return e.store.AppendLog(taskID, "ACTION cron task resumed")
}
