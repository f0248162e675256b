package command

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekigaharaEI/archon/internal/config"
	"github.com/sekigaharaEI/archon/internal/cronexec"
	"github.com/sekigaharaEI/archon/internal/notifier"
	"github.com/sekigaharaEI/archon/internal/probeexec"
	"github.com/sekigaharaEI/archon/internal/scheduler"
	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/stuckdetector"
	"github.com/sekigaharaEI/archon/internal/types"
)

func writeFakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// nilBuildCallback is the no-op implementation the test harness uses
// wherever the handler needs one; scheduler wiring itself is covered
// by the scheduler package's own tests.
func nilBuildCallback(cfg *types.TaskConfig) scheduler.JobCallback {
	return nil
}

func newTestHandler(t *testing.T, cliPath string) (*CommandHandler, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	n := notifier.New(config.NotifierConfig{Enabled: false, Method: "system"})
	pe := probeexec.New(st, n, cliPath)
	ce := cronexec.New(st, n, cliPath)
	sched := scheduler.New(0)
	sd := stuckdetector.New(st, n, config.StuckDetectorConfig{
		ScanIntervalMinutes:       5,
		ArchonCheckTimeoutMinutes: 5,
		ProbeNoOutputMinutes:      60,
		CronExecutionMinutes:      30,
	})

	h := NewCommandHandler(Components{
		Store:         st,
		ProbeExec:     pe,
		CronExec:      ce,
		Scheduler:     sched,
		StuckDetector: sd,
		BuildCallback: nilBuildCallback,
	})
	return h, st
}

func TestHandler_Status_Empty(t *testing.T) {
	h, _ := newTestHandler(t, "unused")

	resp := h.Handle(context.Background(), Command{Method: "status", ID: "1"})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["running"])
	assert.Equal(t, 0, result["task_count"])
}

func TestHandler_UnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t, "unused")

	resp := h.Handle(context.Background(), Command{Method: "does_not_exist", ID: "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandler_InvalidParams(t *testing.T) {
	h, _ := newTestHandler(t, "unused")

	resp := h.Handle(context.Background(), Command{
		Method: "tasks_get",
		Params: json.RawMessage(`{"task_id": 123}`), // wrong type
		ID:     "1",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandler_ProbeLifecycle(t *testing.T) {
	cli := writeFakeCLI(t, "sleep 30")
	h, _ := newTestHandler(t, cli)

	ctx := context.Background()

	createParams, _ := json.Marshal(probeexec.StartRequest{
		TaskID:               "probe-1",
		InitialPrompt:        "build the thing",
		ProjectPath:          t.TempDir(),
		CheckIntervalMinutes: 5,
		MaxAutoCorrections:   3,
	})
	resp := h.Handle(ctx, Command{Method: "probe_create", Params: createParams, ID: "1"})
	require.Nil(t, resp.Error)

	cfg, ok := resp.Result.(*types.TaskConfig)
	require.True(t, ok)
	assert.Equal(t, "probe-1", cfg.TaskID)

	listResp := h.Handle(ctx, Command{Method: "tasks_list", ID: "2"})
	require.Nil(t, listResp.Error)
	listResult := listResp.Result.(map[string]interface{})
	assert.Equal(t, 1, listResult["count"])

	stopParams, _ := json.Marshal(ProbeStopParams{TaskID: "probe-1", Graceful: false, TimeoutSecond: 1})
	stopResp := h.Handle(ctx, Command{Method: "probe_stop", Params: stopParams, ID: "3"})
	require.Nil(t, stopResp.Error)
}

func TestHandler_ConfigReload(t *testing.T) {
	h, _ := newTestHandler(t, "unused")

	resp := h.Handle(context.Background(), Command{Method: "config_reload", ID: "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)

	h.UpdateComponents(Components{
		Store:         h.components.Store,
		ProbeExec:     h.components.ProbeExec,
		CronExec:      h.components.CronExec,
		Scheduler:     h.components.Scheduler,
		StuckDetector: h.components.StuckDetector,
		BuildCallback: nilBuildCallback,
		Reloader:      reloaderFunc(func() error { return nil }),
	})

	resp = h.Handle(context.Background(), Command{Method: "config_reload", ID: "2"})
	assert.Nil(t, resp.Error)
}

type reloaderFunc func() error

func (f reloaderFunc) Reload() error { return f() }

func TestHandler_DaemonShutdown(t *testing.T) {
	h, _ := newTestHandler(t, "unused")

	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })

	resp := h.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "1"})
	require.Nil(t, resp.Error)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown func was not invoked")
	}
}

func TestHandler_StuckScan_NoTasks(t *testing.T) {
	h, _ := newTestHandler(t, "unused")

	resp := h.Handle(context.Background(), Command{Method: "stuck_scan", ID: "1"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, 0, result["stuck_count"])
}
