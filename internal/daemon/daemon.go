// Package daemon implements the Archon daemon lifecycle: config load,
// component wiring, signal handling, and graceful shutdown around the
// Probe/Cron executors, the scheduler, the stuck detector, and the
// Control API listener.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sekigaharaEI/archon/internal/command"
	"github.com/sekigaharaEI/archon/internal/config"
	"github.com/sekigaharaEI/archon/internal/cronexec"
	"github.com/sekigaharaEI/archon/internal/metrics"
	"github.com/sekigaharaEI/archon/internal/notifier"
	"github.com/sekigaharaEI/archon/internal/probeexec"
	"github.com/sekigaharaEI/archon/internal/scheduler"
	"github.com/sekigaharaEI/archon/internal/store"
	"github.com/sekigaharaEI/archon/internal/stuckdetector"
	"github.com/sekigaharaEI/archon/internal/types"
)

// Daemon manages the Archon daemon process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	store         *store.Store
	notifier      *notifier.Notifier
	probeExec     *probeexec.Executor
	cronExec      *cronexec.Executor
	scheduler     *scheduler.Scheduler
	stuckDetector *stuckdetector.Detector
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server
	logCloser     io.Closer

	ctx          context.Context
	cancel       context.CancelFunc
	stuckCancel  context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	sigChan      chan os.Signal
}

// New loads configuration and builds a Daemon. socketPath and pidFile
// override the config file's control.socket/control.pid_file when
// non-empty, matching the CLI's --socket/--pidfile flags.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}

	if socketPath == "" {
		socketPath = cfg.Control.Socket
	}
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging.
	logCloser, err := initLogging(d.config.Log)
	if err != nil {
		return fmt.Errorf("daemon: init logging: %w", err)
	}
	d.logCloser = logCloser

	slog.Info("starting archon daemon",
		"config", d.configPath,
		"socket", d.socketPath,
		"data_dir", d.config.DataDir,
	)

	// 2. Write PID file.
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	// 3. Build the State Store and outbound Notifier.
	st, err := store.New(d.config.DataDir)
	if err != nil {
		return fmt.Errorf("daemon: init state store: %w", err)
	}
	d.store = st
	d.notifier = notifier.New(d.config.Notifier)

	// 4. Build the Probe/Cron executors.
	d.probeExec = probeexec.New(d.store, d.notifier, d.config.ClaudeCLI.Path)
	d.cronExec = cronexec.New(d.store, d.notifier, d.config.ClaudeCLI.Path)

	// 5. Build the scheduler and restore jobs for every active task.
	d.scheduler = scheduler.New(0)
	if err := d.scheduler.Restore(d.store, d.buildCallback); err != nil {
		slog.Error("failed to restore scheduled jobs", "error", err)
	}

	// 6. Build the stuck detector and start its scan ticker.
	d.stuckDetector = stuckdetector.New(d.store, d.notifier, d.config.StuckDetector)
	d.startStuckTicker()

	// 7. Build the command handler and wire the shutdown callback.
	d.cmdHandler = command.NewCommandHandler(command.Components{
		Store:         d.store,
		ProbeExec:     d.probeExec,
		CronExec:      d.cronExec,
		Scheduler:     d.scheduler,
		StuckDetector: d.stuckDetector,
		BuildCallback: d.buildCallback,
		Reloader:      d,
	})
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 8. Start the Control API (UDS JSON-RPC) listener.
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 9. Start the metrics server.
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("daemon: start metrics server: %w", err)
	}

	d.notifier.NotifyServiceStatus("started", "archon daemon started")
	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components, in the
// order: scheduler, stuck-detector ticker, Control API listener,
// metrics server, context cancellation, signal handler, pid file,
// final notification, logs. Stopping the scheduler cancels running
// callbacks' contexts; it does not wait for them to return.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	if d.scheduler != nil {
		slog.Info("stopping scheduler")
		d.scheduler.Stop()
	}

	if d.stuckCancel != nil {
		d.stuckCancel()
	}

	if d.udsServer != nil {
		slog.Info("stopping control api listener")
		if err := d.udsServer.Stop(); err != nil {
			slog.Error("error stopping control api listener", "error", err)
		}
	}

	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing pid file", "error", err)
	}

	if d.notifier != nil {
		d.notifier.NotifyServiceStatus("stopped", "archon daemon stopped")
	}

	if d.logCloser != nil {
		if err := d.logCloser.Close(); err != nil {
			slog.Error("error flushing logs", "error", err)
		}
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered
// by a signal (SIGTERM/SIGINT), the daemon_shutdown command, or
// context cancellation. SIGHUP triggers a config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// TriggerShutdown triggers graceful shutdown from an external caller
// (the daemon_shutdown command, or a test). Safe to call more than once.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format/outputs, notifier method/targets,
// stuck detector thresholds, Claude CLI path.
// Cold (requires restart): data_dir, control.socket, control.host/port,
// metrics.listen.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("daemon: load new config: %w", err)
	}

	oldConfig := d.config
	hotReloaded := []string{}

	if closer, err := initLogging(newConfig.Log); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else {
		if d.logCloser != nil {
			_ = d.logCloser.Close()
		}
		d.logCloser = closer
		if newConfig.Log.Level != oldConfig.Log.Level || newConfig.Log.Format != oldConfig.Log.Format {
			hotReloaded = append(hotReloaded, "log")
		}
	}

	d.notifier = notifier.New(newConfig.Notifier)
	d.probeExec = probeexec.New(d.store, d.notifier, newConfig.ClaudeCLI.Path)
	d.cronExec = cronexec.New(d.store, d.notifier, newConfig.ClaudeCLI.Path)
	d.stuckDetector = stuckdetector.New(d.store, d.notifier, newConfig.StuckDetector)
	hotReloaded = append(hotReloaded, "notifier", "executors", "stuck_detector")

	if d.cmdHandler != nil {
		d.cmdHandler.UpdateComponents(command.Components{
			Store:         d.store,
			ProbeExec:     d.probeExec,
			CronExec:      d.cronExec,
			Scheduler:     d.scheduler,
			StuckDetector: d.stuckDetector,
			BuildCallback: d.buildCallback,
			Reloader:      d,
		})
	}

	d.config = newConfig

	if newConfig.StuckDetector.ScanIntervalMinutes != oldConfig.StuckDetector.ScanIntervalMinutes {
		if d.stuckCancel != nil {
			d.stuckCancel()
		}
		d.startStuckTicker()
		hotReloaded = append(hotReloaded, "stuck_scan_interval")
	}

	requiresRestart := []string{}
	if newConfig.DataDir != oldConfig.DataDir {
		requiresRestart = append(requiresRestart, "data_dir")
	}
	if newConfig.Control.Socket != oldConfig.Control.Socket {
		requiresRestart = append(requiresRestart, "control.socket")
	}
	if newConfig.Metrics.Listen != oldConfig.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)

	return nil
}

// buildCallback builds a scheduler job callback for a task by mode,
// implementing scheduler.BuildCallback. Used both at startup restore
// and whenever the Control API registers a freshly created task.
func (d *Daemon) buildCallback(cfg *types.TaskConfig) scheduler.JobCallback {
	switch cfg.Mode {
	case types.ModeProbe:
		return func(ctx context.Context, taskID string) {
			current, err := d.store.LoadConfig(taskID)
			if err != nil {
				slog.Error("probe check: load config failed", "task_id", taskID, "error", err)
				return
			}
			if current.State.Status != types.StatusActive {
				return
			}
			metrics.SchedulerFiresTotal.WithLabelValues("probe").Inc()
			result, err := d.probeExec.CheckProbe(ctx, taskID)
			if err != nil {
				slog.Error("probe check failed", "task_id", taskID, "error", err)
				return
			}
			if err := d.probeExec.HandleCheckResult(ctx, taskID, result); err != nil {
				slog.Error("probe check result handling failed", "task_id", taskID, "error", err)
			}
		}
	case types.ModeCron:
		return func(ctx context.Context, taskID string) {
			cronCfg, err := d.store.LoadConfig(taskID)
			if err != nil {
				slog.Error("cron execution: load config failed", "task_id", taskID, "error", err)
				return
			}
			if cronCfg.State.Status != types.StatusActive {
				// cronexec has no scheduler reference of its own (an
				// auto-pause inside handleTimeout only updates the
				// store), so this re-read is what actually enforces
				// the "return silently if no longer active" contract
				// documented on JobCallback.
				return
			}
			metrics.SchedulerFiresTotal.WithLabelValues("cron").Inc()
			start := time.Now()
			result, err := d.cronExec.ExecuteCron(ctx, taskID)
			outcome := "success"
			if err != nil {
				outcome = "error"
				slog.Error("cron execution failed", "task_id", taskID, "error", err)
			} else if result.Status != "success" {
				outcome = result.Status
			}
			metrics.CronExecutionSeconds.WithLabelValues(taskID, outcome).Observe(time.Since(start).Seconds())
			if err == nil {
				d.cronExec.HandleExecutionResult(taskID, cronCfg, result)
			}
		}
	default:
		return nil
	}
}

// startStuckTicker launches the stuck-detector scan loop at the
// currently configured interval, tied to a cancellable sub-context of
// the daemon's lifecycle context so Reload can restart it on an
// interval change.
func (d *Daemon) startStuckTicker() {
	ctx, cancel := context.WithCancel(d.ctx)
	d.stuckCancel = cancel

	interval := time.Duration(d.config.StuckDetector.ScanIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := d.stuckDetector.Run(); err != nil {
					slog.Error("stuck detector scan failed", "error", err)
				} else if n > 0 {
					slog.Info("stuck detector scan found stalled tasks", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("daemon: start metrics server: %w", err)
	}

	slog.Info("metrics server started", "addr", d.config.Metrics.Listen, "path", d.config.Metrics.Path)
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file %s: %w", d.pidFile, err)
	}
	slog.Debug("pid file written", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove pid file %s: %w", d.pidFile, err)
	}
	slog.Debug("pid file removed", "path", d.pidFile)
	return nil
}
