// Package notifier sends best-effort outbound notifications about
// task lifecycle events through one of three sinks: the host's native
// notification system, Slack, or a generic webhook. Every send is
// best-effort — a delivery failure is logged and swallowed, never
// propagated to the caller, so a broken notification channel never
// blocks task supervision.
package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/sekigaharaEI/archon/internal/config"
)

// Notifier dispatches notifications according to its configured method.
type Notifier struct {
	cfg        config.NotifierConfig
	httpClient *http.Client
}

// New builds a Notifier from the daemon's notifier configuration.
func New(cfg config.NotifierConfig) *Notifier {
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send dispatches one notification. It always returns true/false for
// callers that want to know delivery outcome, but never panics or
// returns an error — failures are logged.
func (n *Notifier) Send(title, message, level string) bool {
	if !n.cfg.Enabled {
		slog.Debug("notifier: disabled, dropping notification", "title", title)
		return true
	}

	switch n.cfg.Method {
	case "system", "":
		return n.sendSystem(title, message, level)
	case "slack":
		return n.sendSlack(title, message, level)
	case "webhook":
		return n.sendWebhook(title, message, level)
	default:
		slog.Warn("notifier: unknown method", "method", n.cfg.Method)
		return false
	}
}

func (n *Notifier) sendSystem(title, message, level string) bool {
	switch runtime.GOOS {
	case "darwin":
		return n.sendMacOS(title, message)
	case "linux":
		return n.sendLinux(title, message, level)
	case "windows":
		return n.sendWindows(title, message)
	default:
		slog.Warn("notifier: unsupported OS for system notifications", "os", runtime.GOOS)
		return false
	}
}

func (n *Notifier) sendMacOS(title, message string) bool {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	cmd := exec.Command("osascript", "-e", script)
	if err := runWithTimeout(cmd, 10*time.Second); err != nil {
		slog.Error("notifier: macOS notification failed", "error", err)
		return false
	}
	return true
}

// urgencyForLevel maps a notification level to notify-send's urgency
// vocabulary.
func urgencyForLevel(level string) string {
	switch level {
	case "info":
		return "low"
	case "error":
		return "critical"
	default:
		return "normal"
	}
}

func (n *Notifier) sendLinux(title, message, level string) bool {
	cmd := exec.Command("notify-send", "-u", urgencyForLevel(level), "-a", "daemon-archon", title, message)
	if err := runWithTimeout(cmd, 10*time.Second); err == nil {
		return true
	} else if !isNotFound(err) {
		slog.Error("notifier: linux notification failed", "error", err)
		return false
	}

	slog.Warn("notifier: notify-send not installed, falling back to zenity")
	fallback := exec.Command("zenity", "--notification", fmt.Sprintf("--text=%s: %s", title, message))
	if err := runWithTimeout(fallback, 10*time.Second); err != nil {
		slog.Error("notifier: neither notify-send nor zenity is available")
		return false
	}
	return true
}

func (n *Notifier) sendWindows(title, message string) bool {
	cmd := exec.Command("msg", "*", fmt.Sprintf("%s\n%s", title, message))
	if err := runWithTimeout(cmd, 10*time.Second); err != nil {
		slog.Error("notifier: windows notification failed", "error", err)
		return false
	}
	return true
}

func runWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		return fmt.Errorf("notifier: command timed out after %s", timeout)
	}
}

func isNotFound(err error) bool {
	_, ok := err.(*exec.Error)
	return ok
}

var colorByLevel = map[string]string{
	"info":    "#36a64f",
	"warning": "#ff9800",
	"error":   "#f44336",
}

func (n *Notifier) sendSlack(title, message, level string) bool {
	if n.cfg.SlackWebhook == "" {
		slog.Error("notifier: slack webhook url is not configured")
		return false
	}
	color, ok := colorByLevel[level]
	if !ok {
		color = colorByLevel["info"]
	}
	payload := map[string]any{
		"attachments": []map[string]any{
			{
				"color":  color,
				"title":  title,
				"text":   message,
				"footer": "daemon-archon",
				"ts":     time.Now().Unix(),
			},
		},
	}
	return n.postJSON(n.cfg.SlackWebhook, payload)
}

func (n *Notifier) sendWebhook(title, message, level string) bool {
	if n.cfg.WebhookURL == "" {
		slog.Error("notifier: webhook url is not configured")
		return false
	}
	payload := map[string]any{
		"title":     title,
		"message":   message,
		"level":     level,
		"source":    "daemon-archon",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return n.postJSON(n.cfg.WebhookURL, payload)
}

func (n *Notifier) postJSON(url string, payload map[string]any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("notifier: marshal payload", "error", err)
		return false
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		slog.Error("notifier: build request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Error("notifier: http post failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// --- Convenience wrappers, one per event kind the rest of the daemon emits ---

// NotifyTaskError reports a task-level error.
func (n *Notifier) NotifyTaskError(taskID, message string) bool {
	return n.Send(fmt.Sprintf("task error: %s", taskID), message, "error")
}

// NotifyTaskWarning reports a task-level warning distinct from an
// outright error, used by the Cron executor's suspicious-status path.
func (n *Notifier) NotifyTaskWarning(taskID, message string) bool {
	return n.Send(fmt.Sprintf("task warning: %s", taskID), message, "warning")
}

// NotifyTaskStuck reports that the stuck detector flagged a task.
func (n *Notifier) NotifyTaskStuck(taskID, message string) bool {
	return n.Send(fmt.Sprintf("task stuck: %s", taskID), message, "warning")
}

// NotifyTaskCompleted reports that a task finished.
func (n *Notifier) NotifyTaskCompleted(taskID, summary string) bool {
	if summary == "" {
		summary = "task completed successfully"
	}
	return n.Send(fmt.Sprintf("task completed: %s", taskID), summary, "info")
}

// NotifyCorrectionNeeded reports that a task exhausted its
// auto-correction budget and needs a human.
func (n *Notifier) NotifyCorrectionNeeded(taskID, reason string) bool {
	return n.Send(fmt.Sprintf("manual intervention needed: %s", taskID), reason, "error")
}

// NotifyServiceStatus reports a daemon-level lifecycle event.
func (n *Notifier) NotifyServiceStatus(status, message string) bool {
	return n.Send(fmt.Sprintf("archon daemon: %s", status), message, "info")
}
