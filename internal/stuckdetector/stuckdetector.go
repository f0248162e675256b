// Package stuckdetector periodically scans every active task for signs
// that it has stalled: an Archon check that itself never returned, a
// Probe transcript that has gone silent, or a Cron execution that has
// run far past its own timeout. It never terminates a process itself;
// it only flags tasks and updates their recorded state so the operator
// (or the next scheduler tick) can act.
package stuckdetector

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sekigaharaEI/archon/internal/config"
	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/types"
)

// Notifier is the subset of the notifier package a Detector needs.
type Notifier interface {
	NotifyTaskStuck(taskID, message string) bool
}

// Detector scans the state store for stalled tasks.
type Detector struct {
	store      *store.Store
	notifier   Notifier
	thresholds config.StuckDetectorConfig
}

// New builds a Detector bound to the daemon's state store, notifier,
// and configured thresholds.
func New(st *store.Store, n Notifier, thresholds config.StuckDetectorConfig) *Detector {
	return &Detector{store: st, notifier: n, thresholds: thresholds}
}

// inferMode guesses a task's mode from its id suffix first (task ids
// are chosen by the caller, so a suffix may be absent), falling back to
// the persisted config's own Mode field when the id carries no
// recognizable suffix.
func inferMode(taskID string, cfg *types.TaskConfig) types.TaskMode {
	switch {
	case strings.HasSuffix(taskID, "_probe"):
		return types.ModeProbe
	case strings.HasSuffix(taskID, "_cron"):
		return types.ModeCron
	case cfg != nil && cfg.Mode != "":
		return cfg.Mode
	default:
		return ""
	}
}

// ScanAllTasks walks every task directory under the store and returns
// the stuck ones. A task that can't be read (missing or corrupt
// config) or whose mode can't be determined is skipped rather than
// reported, matching the donor source's permissive scan.
func (d *Detector) ScanAllTasks() ([]types.StuckInfo, error) {
	taskIDs, err := d.store.ListTasks()
	if err != nil {
		return nil, err
	}

	var stuck []types.StuckInfo
	for _, taskID := range taskIDs {
		cfg, err := d.store.LoadConfig(taskID)
		if err != nil {
			continue
		}
		mode := inferMode(taskID, cfg)
		if mode == "" {
			continue
		}
		if info, ok := d.detectStuck(taskID, mode, cfg); ok {
			stuck = append(stuck, info)
		}
	}
	return stuck, nil
}

func (d *Detector) detectStuck(taskID string, mode types.TaskMode, cfg *types.TaskConfig) (types.StuckInfo, bool) {
	if cfg.State.Status != types.StatusActive {
		return types.StuckInfo{}, false
	}

	archonCheckTimeout := d.thresholds.ArchonCheckTimeoutMinutes
	if archonCheckTimeout <= 0 {
		archonCheckTimeout = 5
	}
	if age, present, err := d.store.CheckStartAge(taskID); err == nil && present {
		if age.Minutes() > float64(archonCheckTimeout) {
			return types.StuckInfo{
				TaskID:               taskID,
				TaskMode:             mode,
				StuckType:            types.StuckTypeArchonCheckTimeout,
				StuckDurationMinutes: age.Minutes(),
				Details:              "an Archon check on this task started but never returned",
			}, true
		}
	}

	switch mode {
	case types.ModeProbe:
		return d.detectProbeStuck(taskID, cfg)
	case types.ModeCron:
		return d.detectCronStuck(taskID, cfg)
	default:
		return types.StuckInfo{}, false
	}
}

func (d *Detector) detectProbeStuck(taskID string, cfg *types.TaskConfig) (types.StuckInfo, bool) {
	if cfg.Probe == nil {
		return types.StuckInfo{}, false
	}

	threshold := d.thresholds.ProbeNoOutputMinutes
	if threshold <= 0 {
		threshold = 60
	}

	transcriptPath := cfg.Probe.TranscriptPath
	if transcriptPath == "" {
		return types.StuckInfo{}, false
	}

	info, err := os.Stat(transcriptPath)
	if err != nil {
		return types.StuckInfo{}, false
	}

	elapsed := time.Since(info.ModTime())
	if elapsed.Minutes() <= float64(threshold) {
		return types.StuckInfo{}, false
	}

	alive := processAlive(cfg.Probe.PID)
	return types.StuckInfo{
		TaskID:               taskID,
		TaskMode:             types.ModeProbe,
		StuckType:            types.StuckTypeProbeNoOutput,
		StuckDurationMinutes: elapsed.Minutes(),
		Details:              processAliveDetail(alive),
	}, true
}

func processAliveDetail(alive bool) string {
	if alive {
		return "process is still running but the transcript has had no new output"
	}
	return "process is no longer running"
}

func (d *Detector) detectCronStuck(taskID string, cfg *types.TaskConfig) (types.StuckInfo, bool) {
	if cfg.Execution == nil || cfg.Execution.LastRun == "" || cfg.Execution.LastResult != "" {
		return types.StuckInfo{}, false
	}

	lastRun, err := time.Parse(time.RFC3339, cfg.Execution.LastRun)
	if err != nil {
		return types.StuckInfo{}, false
	}

	threshold := cfg.Execution.TimeoutMinutes
	if threshold <= 0 {
		threshold = d.thresholds.CronExecutionMinutes
	}
	if threshold <= 0 {
		threshold = 30
	}

	elapsed := time.Since(lastRun)
	if elapsed.Minutes() <= float64(threshold) {
		return types.StuckInfo{}, false
	}

	return types.StuckInfo{
		TaskID:               taskID,
		TaskMode:             types.ModeCron,
		StuckType:            types.StuckTypeCronExecutionTimeout,
		StuckDurationMinutes: elapsed.Minutes(),
		Details:              "cron execution has been running past its configured timeout",
	}, true
}

// HandleStuckTasks notifies and mutates recorded state for every
// flagged task, matching the donor source's per-stuck-type remediation.
func (d *Detector) HandleStuckTasks(stuckTasks []types.StuckInfo) {
	for _, info := range stuckTasks {
		_ = d.store.AppendLog(info.TaskID, "WARNING "+info.Details)
		d.notifier.NotifyTaskStuck(info.TaskID, info.Details)

		switch info.StuckType {
		case types.StuckTypeArchonCheckTimeout:
			_ = d.store.MarkCheckEnd(info.TaskID)
		case types.StuckTypeProbeNoOutput:
			_ = d.store.SetStatus(info.TaskID, types.StatusStuck)
		case types.StuckTypeCronExecutionTimeout:
			d.markCronTimeout(info.TaskID)
		}
	}
}

func (d *Detector) markCronTimeout(taskID string) {
	cfg, err := d.store.LoadConfig(taskID)
	if err != nil || cfg.Execution == nil {
		return
	}
	cfg.Execution.LastResult = "timeout"
	cfg.Execution.ConsecutiveFailures++
	_ = d.store.SaveConfig(cfg)
}

// Run performs one full scan-and-handle pass, the unit the daemon's
// stuck-detection ticker invokes on its own interval.
func (d *Detector) Run() (int, error) {
	stuckTasks, err := d.ScanAllTasks()
	if err != nil {
		return 0, err
	}
	d.HandleStuckTasks(stuckTasks)
	return len(stuckTasks), nil
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
