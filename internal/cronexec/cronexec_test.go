package cronexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/types"
)

type fakeNotifier struct {
	errors    []string
	warnings  []string
	completed []string
}

func (f *fakeNotifier) NotifyTaskError(taskID, message string) bool {
	f.errors = append(f.errors, message)
	return true
}
func (f *fakeNotifier) NotifyTaskWarning(taskID, message string) bool {
	f.warnings = append(f.warnings, message)
	return true
}
func (f *fakeNotifier) NotifyTaskCompleted(taskID, message string) bool {
	f.completed = append(f.completed, message)
	return true
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestExecutor(t *testing.T, cliPath string) (*Executor, *store.Store, *fakeNotifier) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	notifier := &fakeNotifier{}
	return New(st, notifier, cliPath), st, notifier
}

func TestCreateCronTask(t *testing.T) {
	exec, st, _ := newTestExecutor(t, "unused")

	cfg, err := exec.CreateCronTask(CreateRequest{
		TaskID:               "c1",
		Name:                 "nightly check",
		ProjectPath:          t.TempDir(),
		TaskContent:          "check the build",
		WorkflowContent:      "1. run tests\n2. report",
		CheckIntervalMinutes: 60,
		TimeoutMinutes:       10,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ModeCron, cfg.Mode)

	status, err := st.GetStatus("c1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, status)

	md, err := st.LoadTaskMarkdown("c1")
	require.NoError(t, err)
	assert.Equal(t, "check the build", md)
}

func TestExecuteCron_SuccessResetsFailures(t *testing.T) {
	cli := writeScript(t, `echo '{"status":"success","summary":"all good"}'`)
	exec, st, _ := newTestExecutor(t, cli)

	_, err := exec.CreateCronTask(CreateRequest{
		TaskID:          "c2",
		ProjectPath:     t.TempDir(),
		TaskContent:     "check",
		WorkflowContent: "go",
		TimeoutMinutes:  1,
	})
	require.NoError(t, err)

	cfg, err := st.LoadConfig("c2")
	require.NoError(t, err)
	cfg.Execution.ConsecutiveFailures = 2
	require.NoError(t, st.SaveConfig(cfg))

	result, err := exec.ExecuteCron(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	cfg, err = st.LoadConfig("c2")
	require.NoError(t, err)
	assert.Zero(t, cfg.Execution.ConsecutiveFailures)
	assert.Equal(t, 1, cfg.Execution.RunCount)
}

func TestExecuteCron_WarningResetsFailures(t *testing.T) {
	cli := writeScript(t, `echo '{"status":"warning","summary":"slow but ok"}'`)
	exec, st, _ := newTestExecutor(t, cli)

	_, err := exec.CreateCronTask(CreateRequest{
		TaskID:          "c3",
		ProjectPath:     t.TempDir(),
		TaskContent:     "check",
		WorkflowContent: "go",
		TimeoutMinutes:  1,
	})
	require.NoError(t, err)

	cfg, err := st.LoadConfig("c3")
	require.NoError(t, err)
	cfg.Execution.ConsecutiveFailures = 2
	require.NoError(t, st.SaveConfig(cfg))

	result, err := exec.ExecuteCron(context.Background(), "c3")
	require.NoError(t, err)
	assert.Equal(t, "warning", result.Status)

	cfg, err = st.LoadConfig("c3")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Execution.ConsecutiveFailures)
}

func TestExecuteCron_ErrorIncrementsFailures(t *testing.T) {
	cli := writeScript(t, `echo 'something Error happened'; exit 0`)
	exec, st, _ := newTestExecutor(t, cli)

	_, err := exec.CreateCronTask(CreateRequest{
		TaskID:          "c4",
		ProjectPath:     t.TempDir(),
		TaskContent:     "check",
		WorkflowContent: "go",
		TimeoutMinutes:  1,
	})
	require.NoError(t, err)

	result, err := exec.ExecuteCron(context.Background(), "c4")
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)

	cfg, err := st.LoadConfig("c4")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Execution.ConsecutiveFailures)
	assert.Equal(t, 1, cfg.CronState.ErrorCount)
}

func TestExecuteCron_TimeoutPausesAfterThreshold(t *testing.T) {
	cli := writeScript(t, "sleep 5")
	exec, st, notifier := newTestExecutor(t, cli)

	_, err := exec.CreateCronTask(CreateRequest{
		TaskID:          "c5",
		ProjectPath:     t.TempDir(),
		TaskContent:     "check",
		WorkflowContent: "go",
		TimeoutMinutes:  1,
	})
	require.NoError(t, err)

	cfg, err := st.LoadConfig("c5")
	require.NoError(t, err)
	cfg.Execution.MaxConsecutiveFailures = 1
	require.NoError(t, st.SaveConfig(cfg))

	// The task's own timeout is a full minute; a tighter parent
	// deadline forces the timeout path without waiting it out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := exec.ExecuteCron(ctx, "c5")
	require.NoError(t, err)
	assert.Equal(t, "timeout", result.Status)

	cfg, err = st.LoadConfig("c5")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, cfg.State.Status)
	require.Len(t, notifier.errors, 1)
}

func TestHandleExecutionResult_WarningNotifiesWhenClaudeAnalysisEnabled(t *testing.T) {
	exec, _, notifier := newTestExecutor(t, "unused")
	cfg := &types.TaskConfig{Notification: types.DefaultNotificationRules()}

	exec.HandleExecutionResult("c6", cfg, types.AnalysisResult{Status: "warning", Summary: "slow run"})
	require.Len(t, notifier.warnings, 1)
}

func TestPauseResumeStopCron(t *testing.T) {
	exec, st, _ := newTestExecutor(t, "unused")
	_, err := exec.CreateCronTask(CreateRequest{
		TaskID: "c7", ProjectPath: t.TempDir(), TaskContent: "x", WorkflowContent: "y",
	})
	require.NoError(t, err)

	require.NoError(t, exec.PauseCron("c7"))
	status, err := st.GetStatus("c7")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, status)

	require.NoError(t, exec.ResumeCron("c7"))
	status, err = st.GetStatus("c7")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, status)

	require.NoError(t, exec.StopCron("c7"))
	status, err = st.GetStatus("c7")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, status)
}
