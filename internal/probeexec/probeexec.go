// Package probeexec implements Probe-mode task execution: launching a
// supervised Claude CLI session, checking on it via the Analyzer, and
// reacting to what the analysis finds (auto-correction, stuck
// notification, completion).
package probeexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sekigaharaEI/archon/internal/analyzer"
	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/types"
)

// Notifier is the subset of the notifier package an Executor needs.
// Defined locally so this package does not import notifier directly,
// keeping the dependency direction single-file-testable.
type Notifier interface {
	NotifyTaskError(taskID, message string) bool
	NotifyTaskStuck(taskID, message string) bool
	NotifyTaskCompleted(taskID, message string) bool
	NotifyCorrectionNeeded(taskID, message string) bool
}

// StartRequest bundles the parameters of a new Probe task.
type StartRequest struct {
	TaskID                string
	InitialPrompt         string
	ProjectPath           string
	Name                  string
	Description           string
	CheckIntervalMinutes  int
	MaxAutoCorrections    int
}

// Executor drives a single Probe task's lifecycle.
type Executor struct {
	store    *store.Store
	notifier Notifier
	cliPath  string

	// processStartDelay is the pause after spawning the CLI before
	// checking whether it is still alive; a var (not a const) so
	// tests can shrink it.
	processStartDelay time.Duration
}

// New builds an Executor bound to the daemon's state store, notifier,
// and configured Claude CLI binary.
func New(st *store.Store, n Notifier, cliPath string) *Executor {
	return &Executor{store: st, notifier: n, cliPath: cliPath, processStartDelay: 2 * time.Second}
}

// StartProbe launches a new Probe task: spawns the supervised CLI,
// writes config.json, and seeds destination.md with the task's goal
// and completion criteria.
func (e *Executor) StartProbe(ctx context.Context, req StartRequest) (*types.TaskConfig, error) {
	if err := e.store.EnsureTaskDir(req.TaskID); err != nil {
		return nil, err
	}

	pid, err := e.startClaudeCLI(ctx, req.TaskID, req.InitialPrompt, req.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("probeexec: start probe %q: %w", req.TaskID, err)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Probe task - %s", req.TaskID)
	}
	criteria := types.DefaultCriteriaConfig()

	cfg := &types.TaskConfig{
		TaskID:      req.TaskID,
		Mode:        types.ModeProbe,
		Name:        name,
		Description: req.Description,
		ProjectPath: req.ProjectPath,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Schedule: types.ScheduleConfig{
			Kind:                 types.ScheduleEvery,
			CheckIntervalMinutes: req.CheckIntervalMinutes,
		},
		State: types.TaskRuntimeState{Status: types.StatusActive},
		Notification: types.DefaultNotificationRules(),
		Probe: &types.ProbeConfig{
			PID:            pid,
			SessionID:      req.TaskID,
			InitialPrompt:  req.InitialPrompt,
			StdoutLog:      "probe_stdout.log",
			StderrLog:      "probe_stderr.log",
		},
		Correction: &types.CorrectionConfig{
			MaxAutoCorrections:    req.MaxAutoCorrections,
			EscalateAfterFailures: 2,
		},
		Criteria: &criteria,
	}

	if err := e.store.SaveConfig(cfg); err != nil {
		return nil, err
	}
	if err := e.store.SetStatus(req.TaskID, types.StatusActive); err != nil {
		return nil, err
	}

	destination := fmt.Sprintf(`# Task Goal

## Core objective
%s

## Acceptance criteria
- [ ] Task completed as specified
- [ ] No unrecovered errors

## Completion signal
The probe is considered complete when its output contains one of:
%s

## Notes
none
`, req.InitialPrompt, strings.Join(criteria.CompletionKeywords, ", "))
	if err := e.store.SaveDestination(req.TaskID, destination); err != nil {
		return nil, err
	}

	_ = e.store.AppendLog(req.TaskID, fmt.Sprintf("ACTION probe started, pid=%d", pid))
	return cfg, nil
}

// startClaudeCLI spawns the supervised CLI in its own session (so it
// survives the daemon's controlling terminal going away) with stdout
// and stderr redirected to the task's log files, then confirms it is
// still running a short delay later.
func (e *Executor) startClaudeCLI(ctx context.Context, taskID, prompt, projectPath string) (int, error) {
	taskDir := e.store.TaskDir(taskID)

	stdout, err := os.Create(taskDir + "/probe_stdout.log")
	if err != nil {
		return 0, fmt.Errorf("probeexec: create stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(taskDir + "/probe_stderr.log")
	if err != nil {
		return 0, fmt.Errorf("probeexec: create stderr log: %w", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, e.cliPath, "-p", prompt, "--session-id", taskID)
	cmd.Dir = projectPath
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("probeexec: launch claude cli: %w", err)
	}

	time.Sleep(e.processStartDelay)

	if !processAlive(cmd.Process.Pid) {
		return 0, errors.New("probe process exited immediately after launch")
	}
	return cmd.Process.Pid, nil
}

// CheckProbe performs one supervision pass: verifies the process is
// alive, incrementally reads new transcript content, and classifies
// the result via the Analyzer.
func (e *Executor) CheckProbe(ctx context.Context, taskID string) (types.AnalysisResult, error) {
	cfg, err := e.store.LoadConfig(taskID)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	if cfg.Probe == nil {
		return types.AnalysisResult{Status: "error", Summary: "task has no probe configuration"}, nil
	}

	if err := e.store.AcquireLock(taskID); err != nil {
		if errors.Is(err, store.ErrLocked) {
			return types.AnalysisResult{Status: "locked", Summary: "task is being checked by another process"}, nil
		}
		return types.AnalysisResult{}, err
	}
	defer e.store.ReleaseLock(taskID)

	if err := e.store.MarkCheckStart(taskID); err != nil {
		return types.AnalysisResult{}, err
	}
	defer e.store.MarkCheckEnd(taskID)

	if !processAlive(cfg.Probe.PID) {
		_ = e.store.AppendLog(taskID, fmt.Sprintf("WARNING probe process %d has exited", cfg.Probe.PID))
		_ = e.store.SetStatus(taskID, types.StatusStopped)
		return types.AnalysisResult{Status: "stopped", Summary: fmt.Sprintf("probe process %d has exited", cfg.Probe.PID)}, nil
	}

	transcriptPath := cfg.Probe.TranscriptPath
	if transcriptPath == "" && cfg.Probe.SessionID != "" {
		if p, err := analyzer.GetTranscriptPath(e.cliPath, cfg.Probe.SessionID); err == nil && p != "" {
			transcriptPath = p
			cfg.Probe.TranscriptPath = p
			_ = e.store.SaveConfig(cfg)
		}
	}
	if transcriptPath == "" {
		return types.AnalysisResult{Status: "unknown", Summary: "unable to locate transcript path"}, nil
	}

	read, err := analyzer.ReadTranscriptIncremental(transcriptPath, cfg.State.LastTranscriptOffset)
	if err != nil {
		return types.AnalysisResult{}, err
	}

	cfg.State.LastTranscriptOffset = read.NewOffset
	cfg.State.LastCheck = time.Now().UTC().Format(time.RFC3339)
	if err := e.store.SaveConfig(cfg); err != nil {
		return types.AnalysisResult{}, err
	}

	criteria := types.CriteriaConfig{}
	if cfg.Criteria != nil {
		criteria = *cfg.Criteria
	}
	result := analyzer.NewTranscriptAnalyzer(criteria).AnalyzeMessages(read.Messages)

	_ = e.store.AppendLog(taskID, fmt.Sprintf("OUTPUT analysis result: %s, %s", result.Status, result.Summary))
	return result, nil
}

// HandleCheckResult reacts to one analysis result: error triggers
// auto-correction (or escalation once the budget is spent), stuck
// notifies, completed stops the task.
func (e *Executor) HandleCheckResult(ctx context.Context, taskID string, result types.AnalysisResult) error {
	switch {
	case result.Status == "error" && len(result.Issues) > 0:
		return e.handleError(ctx, taskID, result)
	case result.Status == "stuck":
		return e.handleStuck(taskID, result)
	case result.Status == "completed":
		return e.handleCompleted(taskID, result)
	default:
		return e.store.AppendLog(taskID, "DECISION probe running normally, no intervention needed")
	}
}

func (e *Executor) handleError(ctx context.Context, taskID string, result types.AnalysisResult) error {
	cfg, err := e.store.LoadConfig(taskID)
	if err != nil {
		return err
	}
	if cfg.Correction == nil {
		return nil
	}

	if cfg.Correction.CurrentCount >= cfg.Correction.MaxAutoCorrections {
		_ = e.store.AppendLog(taskID, fmt.Sprintf("DECISION auto-correction budget exhausted (%d/%d)",
			cfg.Correction.CurrentCount, cfg.Correction.MaxAutoCorrections))
		e.notifier.NotifyCorrectionNeeded(taskID, fmt.Sprintf(
			"automatic correction failed %d times, manual intervention required", cfg.Correction.CurrentCount))
		return nil
	}

	_ = e.store.AppendLog(taskID, fmt.Sprintf("ACTION starting auto-correction (%d/%d)",
		cfg.Correction.CurrentCount+1, cfg.Correction.MaxAutoCorrections))
	return e.executeCorrection(ctx, cfg, result)
}

func (e *Executor) handleStuck(taskID string, result types.AnalysisResult) error {
	_ = e.store.AppendLog(taskID, fmt.Sprintf("WARNING probe stuck: %s", result.Summary))
	e.notifier.NotifyTaskStuck(taskID, fmt.Sprintf("probe task stuck: %s", result.Summary))
	return nil
}

func (e *Executor) handleCompleted(taskID string, result types.AnalysisResult) error {
	_ = e.store.AppendLog(taskID, "ACTION task completed")
	if err := e.store.SetStatus(taskID, types.StatusStopped); err != nil {
		return err
	}
	e.notifier.NotifyTaskCompleted(taskID, result.Summary)
	return nil
}

// executeCorrection resumes the Probe's Claude session with an
// injected instruction describing the detected issues.
func (e *Executor) executeCorrection(ctx context.Context, cfg *types.TaskConfig, result types.AnalysisResult) error {
	if cfg.Probe == nil || cfg.Probe.SessionID == "" {
		return errors.New("probeexec: cannot correct without a session id")
	}

	var issueLines []string
	for _, issue := range result.Issues {
		msg := issue.Message
		if len(msg) > 100 {
			msg = msg[:100]
		}
		issueLines = append(issueLines, fmt.Sprintf("- %s: %s", issue.Type, msg))
	}
	issuesText := strings.Join(issueLines, "\n")

	prompt := fmt.Sprintf("The following issues were detected, please fix them:\n\n%s\n\nAnalyze the root cause, fix it, and continue the original task.\n", issuesText)

	cmd := exec.CommandContext(ctx, e.cliPath, "--resume", cfg.Probe.SessionID, "-p", prompt)
	cmd.Dir = cfg.ProjectPath
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = e.store.AppendLog(cfg.TaskID, fmt.Sprintf("ERROR correction failed: %v", err))
		return fmt.Errorf("probeexec: inject correction: %w", err)
	}
	// The correction process is detached intentionally: its own
	// check_probe pass on the next scheduler tick observes the result.
	go func() { _ = cmd.Wait() }()

	cfg.Correction.CurrentCount++
	cfg.State.LastCorrection = time.Now().UTC().Format(time.RFC3339)
	if err := e.store.SaveConfig(cfg); err != nil {
		return err
	}

	_ = e.store.AppendCorrection(cfg.TaskID, types.CorrectionRecord{
		Index:          cfg.Correction.CurrentCount,
		Timestamp:      time.Now().UTC().Format("2006-01-02 15:04"),
		Corrector:      "Archon",
		Reason:         issuesText,
		Analysis:       fmt.Sprintf("severity: medium\nissue count: %d", len(result.Issues)),
		Instruction:    prompt,
		Result:         "in progress",
		FollowUpStatus: "pending observation",
	})

	_ = e.store.AppendLog(cfg.TaskID, fmt.Sprintf("ACTION correction instruction injected, new pid %d", cmd.Process.Pid))
	return nil
}

// StopProbe terminates the supervised process: SIGTERM first when
// graceful, escalating to SIGKILL after timeout elapses (or
// immediately when graceful is false).
func (e *Executor) StopProbe(taskID string, graceful bool, timeout time.Duration) (bool, error) {
	cfg, err := e.store.LoadConfig(taskID)
	if err != nil {
		return false, err
	}
	if cfg.Probe == nil || cfg.Probe.PID == 0 {
		return true, nil
	}
	pid := cfg.Probe.PID

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	if graceful {
		if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return e.finalizeStop(taskID, pid, err)
		}
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if !processAlive(pid) {
				break
			}
			time.Sleep(time.Second)
		}
		if processAlive(pid) {
			_ = proc.Signal(syscall.SIGKILL)
		}
	} else {
		if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return e.finalizeStop(taskID, pid, err)
		}
	}

	if err := e.store.SetStatus(taskID, types.StatusStopped); err != nil {
		return false, err
	}
	_ = e.store.AppendLog(taskID, fmt.Sprintf("ACTION probe stopped, pid %d", pid))
	return true, nil
}

func (e *Executor) finalizeStop(taskID string, pid int, cause error) (bool, error) {
	if errors.Is(cause, syscall.ESRCH) {
		_ = e.store.SetStatus(taskID, types.StatusStopped)
		return true, nil
	}
	return false, fmt.Errorf("probeexec: stop probe %q (pid %d): %w", taskID, pid, cause)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}
