// Package command implements the Control API: a JSON-RPC 2.0 method
// table wrapping task CRUD, Probe/Cron lifecycle transitions, the
// stuck detector, and daemon-level operations, transported over a
// Unix domain socket (see uds_server.go / uds_client.go).
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sekigaharaEI/archon/internal/cronexec"
	"github.com/sekigaharaEI/archon/internal/probeexec"
	"github.com/sekigaharaEI/archon/internal/scheduler"
	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/stuckdetector"
	"github.com/sekigaharaEI/archon/internal/types"
)

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// Components bundles every daemon component the Control API needs.
// Passed wholesale to NewCommandHandler and, on a config reload, to
// UpdateComponents so the handler always dispatches against the
// daemon's current executors/notifier without the daemon having to
// know the handler's internal field layout.
type Components struct {
	Store         *store.Store
	ProbeExec     *probeexec.Executor
	CronExec      *cronexec.Executor
	Scheduler     *scheduler.Scheduler
	StuckDetector *stuckdetector.Detector
	BuildCallback scheduler.BuildCallback
	Reloader      ConfigReloader
}

// CommandHandler handles Control API commands.
type CommandHandler struct {
	mu         sync.RWMutex
	components Components

	shutdownFunc func() // called by daemon_shutdown to trigger graceful stop
	startTime    int64  // unix timestamp of daemon start, for uptime
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(c Components) *CommandHandler {
	return &CommandHandler{
		components: c,
		startTime:  time.Now().Unix(),
	}
}

// UpdateComponents swaps in freshly (re)built components after a
// config reload.
func (h *CommandHandler) UpdateComponents(c Components) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components = c
}

func (h *CommandHandler) get() Components {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.components
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a Control API command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes, per JSON-RPC 2.0.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "status":
		return h.handleStatus(ctx, cmd)
	case "tasks_list":
		return h.handleTasksList(ctx, cmd)
	case "tasks_get":
		return h.handleTasksGet(ctx, cmd)
	case "tasks_logs":
		return h.handleTasksLogs(ctx, cmd)
	case "probe_create":
		return h.handleProbeCreate(ctx, cmd)
	case "probe_check":
		return h.handleProbeCheck(ctx, cmd)
	case "probe_stop":
		return h.handleProbeStop(ctx, cmd)
	case "cron_create":
		return h.handleCronCreate(ctx, cmd)
	case "cron_execute":
		return h.handleCronExecute(ctx, cmd)
	case "cron_stop":
		return h.handleCronStop(ctx, cmd)
	case "cron_pause":
		return h.handleCronPause(ctx, cmd)
	case "cron_resume":
		return h.handleCronResume(ctx, cmd)
	case "stuck_scan":
		return h.handleStuckScan(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	default:
		return errResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}

func okResponse(id string, result interface{}) Response {
	return Response{ID: id, Result: result}
}

func (h *CommandHandler) unmarshalParams(cmd Command, v interface{}) *Response {
	if len(cmd.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return &resp
	}
	return nil
}

// handleStatus returns overall daemon status: running flag, task
// counts by status, and registered scheduler job ids.
func (h *CommandHandler) handleStatus(_ context.Context, cmd Command) Response {
	c := h.get()

	ids, err := c.Store.ListTasks()
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("list tasks failed: %v", err))
	}

	counts := map[types.TaskStatus]int{}
	for _, id := range ids {
		cfg, err := c.Store.LoadConfig(id)
		if err != nil {
			continue
		}
		counts[cfg.State.Status]++
	}

	return okResponse(cmd.ID, map[string]interface{}{
		"running":     true,
		"uptime_sec":  time.Now().Unix() - h.startTime,
		"task_count":  len(ids),
		"task_counts": counts,
		"jobs":        c.Scheduler.JobIDs(),
	})
}

// TasksListParams filters tasks_list by mode and/or status.
type TasksListParams struct {
	Mode   string `json:"mode,omitempty"`
	Status string `json:"status,omitempty"`
}

func (h *CommandHandler) handleTasksList(_ context.Context, cmd Command) Response {
	var params TasksListParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}

	c := h.get()
	ids, err := c.Store.ListTasks()
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("list tasks failed: %v", err))
	}

	var tasks []*types.TaskConfig
	for _, id := range ids {
		cfg, err := c.Store.LoadConfig(id)
		if err != nil {
			continue
		}
		if params.Mode != "" && string(cfg.Mode) != params.Mode {
			continue
		}
		if params.Status != "" && string(cfg.State.Status) != params.Status {
			continue
		}
		tasks = append(tasks, cfg)
	}

	return okResponse(cmd.ID, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

// TaskIDParams is shared by every method that names exactly one task.
type TaskIDParams struct {
	TaskID string `json:"task_id"`
}

func (h *CommandHandler) handleTasksGet(_ context.Context, cmd Command) Response {
	var params TaskIDParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}
	cfg, err := h.get().Store.LoadConfig(params.TaskID)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("get task failed: %v", err))
	}
	return okResponse(cmd.ID, cfg)
}

// TasksLogsParams names a task and how many trailing lines to return.
type TasksLogsParams struct {
	TaskID string `json:"task_id"`
	Lines  int    `json:"lines"`
}

func (h *CommandHandler) handleTasksLogs(_ context.Context, cmd Command) Response {
	var params TasksLogsParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}
	lines, err := h.get().Store.TailLog(params.TaskID, params.Lines)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("tail log failed: %v", err))
	}
	return okResponse(cmd.ID, map[string]interface{}{"task_id": params.TaskID, "lines": lines})
}

func (h *CommandHandler) handleProbeCreate(ctx context.Context, cmd Command) Response {
	var req probeexec.StartRequest
	if resp := h.unmarshalParams(cmd, &req); resp != nil {
		return *resp
	}

	c := h.get()
	cfg, err := c.ProbeExec.StartProbe(ctx, req)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("start probe failed: %v", err))
	}

	if callback := c.BuildCallback(cfg); callback != nil {
		if err := c.Scheduler.AddJob(cfg.TaskID, cfg.Mode, cfg.Schedule, callback); err != nil {
			return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("schedule probe failed: %v", err))
		}
	}

	return okResponse(cmd.ID, cfg)
}

func (h *CommandHandler) handleProbeCheck(ctx context.Context, cmd Command) Response {
	var params TaskIDParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}

	c := h.get()
	result, err := c.ProbeExec.CheckProbe(ctx, params.TaskID)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("check probe failed: %v", err))
	}
	if err := c.ProbeExec.HandleCheckResult(ctx, params.TaskID, result); err != nil {
		slog.Error("handle probe check result failed", "task_id", params.TaskID, "error", err)
	}

	return okResponse(cmd.ID, result)
}

// ProbeStopParams names a task and how it should be stopped.
type ProbeStopParams struct {
	TaskID        string `json:"task_id"`
	Graceful      bool   `json:"graceful"`
	TimeoutSecond int    `json:"timeout_seconds"`
}

func (h *CommandHandler) handleProbeStop(_ context.Context, cmd Command) Response {
	var params ProbeStopParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}
	timeout := time.Duration(params.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := h.get()
	stopped, err := c.ProbeExec.StopProbe(params.TaskID, params.Graceful, timeout)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("stop probe failed: %v", err))
	}
	c.Scheduler.RemoveJob(params.TaskID, types.ModeProbe)

	return okResponse(cmd.ID, map[string]interface{}{"task_id": params.TaskID, "stopped": stopped})
}

func (h *CommandHandler) handleCronCreate(_ context.Context, cmd Command) Response {
	var req cronexec.CreateRequest
	if resp := h.unmarshalParams(cmd, &req); resp != nil {
		return *resp
	}

	c := h.get()
	cfg, err := c.CronExec.CreateCronTask(req)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("create cron task failed: %v", err))
	}

	if callback := c.BuildCallback(cfg); callback != nil {
		if err := c.Scheduler.AddJob(cfg.TaskID, cfg.Mode, cfg.Schedule, callback); err != nil {
			return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("schedule cron task failed: %v", err))
		}
	}

	return okResponse(cmd.ID, cfg)
}

func (h *CommandHandler) handleCronExecute(ctx context.Context, cmd Command) Response {
	var params TaskIDParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}

	c := h.get()
	cfg, err := c.Store.LoadConfig(params.TaskID)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("load task failed: %v", err))
	}
	result, err := c.CronExec.ExecuteCron(ctx, params.TaskID)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("execute cron failed: %v", err))
	}
	c.CronExec.HandleExecutionResult(params.TaskID, cfg, result)

	return okResponse(cmd.ID, result)
}

func (h *CommandHandler) handleCronStop(_ context.Context, cmd Command) Response {
	var params TaskIDParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}
	c := h.get()
	if err := c.CronExec.StopCron(params.TaskID); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("stop cron failed: %v", err))
	}
	c.Scheduler.RemoveJob(params.TaskID, types.ModeCron)
	return okResponse(cmd.ID, map[string]interface{}{"task_id": params.TaskID, "status": "stopped"})
}

func (h *CommandHandler) handleCronPause(_ context.Context, cmd Command) Response {
	var params TaskIDParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}
	c := h.get()
	if err := c.CronExec.PauseCron(params.TaskID); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("pause cron failed: %v", err))
	}
	c.Scheduler.PauseJob(params.TaskID, types.ModeCron)
	return okResponse(cmd.ID, map[string]interface{}{"task_id": params.TaskID, "status": "paused"})
}

func (h *CommandHandler) handleCronResume(_ context.Context, cmd Command) Response {
	var params TaskIDParams
	if resp := h.unmarshalParams(cmd, &params); resp != nil {
		return *resp
	}
	c := h.get()
	if err := c.CronExec.ResumeCron(params.TaskID); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("resume cron failed: %v", err))
	}
	c.Scheduler.ResumeJob(params.TaskID, types.ModeCron)
	return okResponse(cmd.ID, map[string]interface{}{"task_id": params.TaskID, "status": "active"})
}

func (h *CommandHandler) handleStuckScan(_ context.Context, cmd Command) Response {
	c := h.get()
	count, err := c.StuckDetector.Run()
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("stuck scan failed: %v", err))
	}
	return okResponse(cmd.ID, map[string]interface{}{"stuck_count": count})
}

// handleDaemonShutdown triggers graceful daemon shutdown via the
// registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}
	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // non-blocking: let the response be sent first
	return okResponse(cmd.ID, map[string]interface{}{"status": "shutting_down"})
}

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	reloader := h.get().Reloader
	if reloader == nil {
		return errResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := reloader.Reload(); err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}
	return okResponse(cmd.ID, map[string]interface{}{"status": "reloaded"})
}
