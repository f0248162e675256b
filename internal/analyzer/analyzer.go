// Package analyzer turns raw Probe transcripts and Cron output into the
// shared types.AnalysisResult the rest of the daemon acts on. Every
// exported function here is pure or does read-only I/O; none of them
// mutate task state, which keeps the package trivially unit-testable
// and safe to call from both the scheduler's goroutines and the
// control-plane handler.
package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sekigaharaEI/archon/internal/types"
)

const (
	// recentMessageWindow bounds how far back into a transcript the
	// issue/finding scan looks.
	recentMessageWindow = 10
	// completionWindow bounds how far back the completion-keyword
	// scan looks; narrower than recentMessageWindow because
	// completion is usually signalled in the final turn or two.
	completionWindow = 5

	idleStuckMinutes = 60
	idleIdleMinutes  = 15

	issueMessageMaxLen   = 200
	findingMessageMaxLen = 100
)

// TranscriptAnalyzer classifies a Probe task's transcript against the
// task's own success/failure/completion criteria.
type TranscriptAnalyzer struct {
	criteria types.CriteriaConfig
}

// NewTranscriptAnalyzer builds an analyzer bound to a task's criteria.
func NewTranscriptAnalyzer(criteria types.CriteriaConfig) *TranscriptAnalyzer {
	return &TranscriptAnalyzer{criteria: criteria}
}

// AnalyzeMessages inspects the tail of a transcript and returns a
// classification of the task's current state.
func (a *TranscriptAnalyzer) AnalyzeMessages(messages []types.TranscriptRecord) types.AnalysisResult {
	if len(messages) == 0 {
		return types.AnalysisResult{
			Status:  "unknown",
			Summary: "no probe status available",
			Issues:  []types.Issue{{Type: "no_data", Message: "transcript is empty"}},
		}
	}

	last := messages[len(messages)-1]
	lastActivity := last.Timestamp

	idleMinutes := 0.0
	if lastActivity != "" {
		if t, err := time.Parse(time.RFC3339, lastActivity); err == nil {
			idleMinutes = time.Since(t).Minutes()
		}
	}

	var issues []types.Issue
	var findings []types.Finding

	for _, msg := range tailReversed(messages, recentMessageWindow) {
		content := msg.Content
		lowerContent := strings.ToLower(content)

		if msg.Role == "tool_result" && msg.IsError {
			issues = append(issues, types.Issue{Type: "tool_error", Message: truncate(content, issueMessageMaxLen)})
		}
		for _, indicator := range a.criteria.FailureIndicators {
			if strings.Contains(lowerContent, strings.ToLower(indicator)) {
				issues = append(issues, types.Issue{Type: "failure_indicator", Message: truncate(content, issueMessageMaxLen)})
			}
		}
		for _, indicator := range a.criteria.SuccessIndicators {
			if strings.Contains(lowerContent, strings.ToLower(indicator)) {
				findings = append(findings, types.Finding{Type: "success_indicator", Message: truncate(content, findingMessageMaxLen)})
			}
		}
	}

	var status string
	switch {
	case len(issues) > 0:
		status = "error"
	case idleMinutes > idleStuckMinutes:
		status = "stuck"
	case idleMinutes > idleIdleMinutes:
		status = "idle"
	default:
		status = "running"
	}

	for _, msg := range tailReversed(messages, completionWindow) {
		for _, keyword := range a.criteria.CompletionKeywords {
			if strings.Contains(msg.Content, keyword) {
				status = "completed"
				break
			}
		}
	}

	return types.AnalysisResult{
		Status:       status,
		Summary:      fmt.Sprintf("status: %s, last activity: %.1f minutes ago", status, idleMinutes),
		Issues:       issues,
		Findings:     findings,
		Progress:     a.estimateProgress(messages, findings),
		LastActivity: lastActivity,
	}
}

func (a *TranscriptAnalyzer) estimateProgress(messages []types.TranscriptRecord, findings []types.Finding) int {
	if len(a.criteria.SuccessIndicators) > 0 && len(findings) >= len(a.criteria.SuccessIndicators) {
		return 100
	}
	progress := int(float64(len(messages)) / 50 * 100)
	if progress > 90 {
		progress = 90
	}
	return progress
}

// tailReversed returns the last n elements of messages (or all of
// them if shorter), newest first.
func tailReversed(messages []types.TranscriptRecord, n int) []types.TranscriptRecord {
	start := 0
	if len(messages) > n {
		start = len(messages) - n
	}
	tail := messages[start:]
	reversed := make([]types.TranscriptRecord, len(tail))
	for i, m := range tail {
		reversed[len(tail)-1-i] = m
	}
	return reversed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CronResultAnalyzer classifies a Cron task's execution output and
// decides whether it warrants a notification.
type CronResultAnalyzer struct {
	rules types.NotificationRules
}

// NewCronResultAnalyzer builds an analyzer bound to a task's
// notification rules.
func NewCronResultAnalyzer(rules types.NotificationRules) *CronResultAnalyzer {
	return &CronResultAnalyzer{rules: rules}
}

// errorKeywords and warningKeywords are carried forward verbatim from
// the donor source, Chinese locale equivalents included, rather than
// narrowed to English-only.
var errorKeywords = []string{"error", "failed", "exception", "fatal", "错误", "失败"}
var warningKeywords = []string{"warning", "warn", "警告"}

// AnalyzeOutput classifies a Cron task's CLI output. JSON output is
// treated as authoritative (the task's own status/summary/findings);
// anything else falls back to a keyword scan of the raw text.
func (a *CronResultAnalyzer) AnalyzeOutput(output string) types.AnalysisResult {
	var asJSON struct {
		Status   string          `json:"status"`
		Summary  string          `json:"summary"`
		Findings []types.Finding `json:"findings"`
		Metrics  map[string]any  `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(output), &asJSON); err == nil && asJSON.Status != "" {
		var issues []types.Issue
		switch asJSON.Status {
		case "error":
			issues = []types.Issue{{Type: "status_error", Message: asJSON.Summary}}
		case "warning":
			issues = []types.Issue{{Type: "status_warning", Message: asJSON.Summary}}
		}
		return types.AnalysisResult{
			Status:   asJSON.Status,
			Summary:  asJSON.Summary,
			Issues:   issues,
			Findings: asJSON.Findings,
			Metrics:  asJSON.Metrics,
		}
	}
	return a.analyzeText(output)
}

func (a *CronResultAnalyzer) analyzeText(output string) types.AnalysisResult {
	lower := strings.ToLower(output)

	status := "success"
	var issues []types.Issue

	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			status = "error"
			issues = append(issues, types.Issue{Type: "keyword_error", Message: truncate(output, issueMessageMaxLen)})
			break
		}
	}
	if status != "error" {
		for _, kw := range warningKeywords {
			if strings.Contains(lower, kw) {
				status = "warning"
				issues = append(issues, types.Issue{Type: "keyword_warning", Message: truncate(output, issueMessageMaxLen)})
				break
			}
		}
	}

	summary := truncate(output, findingMessageMaxLen)
	if output == "" {
		summary = "no output"
	}

	return types.AnalysisResult{Status: status, Summary: summary, Issues: issues}
}

// ShouldNotify decides whether a Cron analysis result warrants a
// notification. Statuses in NotifyOnStatus always notify; statuses in
// SuspiciousStatus notify only when Claude-assisted analysis is
// enabled, deferring the final call to that analysis rather than
// notifying blind.
func (a *CronResultAnalyzer) ShouldNotify(result types.AnalysisResult) bool {
	notifyOn := a.rules.NotifyOnStatus
	if len(notifyOn) == 0 {
		notifyOn = []string{"error"}
	}
	for _, s := range notifyOn {
		if result.Status == s {
			return true
		}
	}
	for _, s := range a.rules.SuspiciousStatus {
		if result.Status == s && a.rules.EnableClaudeAnalysis {
			return true
		}
	}
	return false
}

// TranscriptReadResult is the outcome of an incremental transcript
// read: the newly appended messages, the offset to resume from next
// time, and the file's current size.
type TranscriptReadResult struct {
	Messages  []types.TranscriptRecord
	NewOffset int64
	FileSize  int64
}

// ReadTranscriptIncremental reads only the transcript bytes appended
// since lastOffset. If the file has shrunk below lastOffset — the
// signature of log rotation — the call returns no messages with
// NewOffset 0, so the next call reads the file from the beginning.
// Lines that are not valid JSON are skipped with a warning.
func ReadTranscriptIncremental(path string, lastOffset int64) (TranscriptReadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TranscriptReadResult{}, nil
		}
		return TranscriptReadResult{}, fmt.Errorf("analyzer: stat transcript %q: %w", path, err)
	}
	fileSize := info.Size()

	if fileSize < lastOffset {
		slog.Warn("analyzer: transcript shrank, resetting offset", "path", path, "size", fileSize, "offset", lastOffset)
		return TranscriptReadResult{NewOffset: 0, FileSize: fileSize}, nil
	}
	if fileSize == lastOffset {
		return TranscriptReadResult{NewOffset: lastOffset, FileSize: fileSize}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return TranscriptReadResult{}, fmt.Errorf("analyzer: open transcript %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(lastOffset, 0); err != nil {
		return TranscriptReadResult{}, fmt.Errorf("analyzer: seek transcript %q: %w", path, err)
	}

	var messages []types.TranscriptRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var consumed int64 = lastOffset
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		consumed += int64(len(scanner.Bytes())) + 1
		if line == "" {
			continue
		}
		var rec types.TranscriptRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Warn("analyzer: skipping malformed transcript line", "path", path, "error", err)
			continue
		}
		messages = append(messages, rec)
	}

	return TranscriptReadResult{Messages: messages, NewOffset: consumed, FileSize: fileSize}, nil
}

// GetTranscriptPath asks the supervised Claude CLI for the transcript
// file backing a session id, used when a Probe task's config does not
// already record transcript_path directly.
func GetTranscriptPath(cliPath, sessionID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, cliPath, "--list-sessions", "--format=json")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("analyzer: list sessions: %w", err)
	}

	var sessions []struct {
		SessionID      string `json:"session_id"`
		TranscriptPath string `json:"transcript_path"`
	}
	if err := json.Unmarshal(out, &sessions); err != nil {
		return "", fmt.Errorf("analyzer: decode session list: %w", err)
	}
	for _, s := range sessions {
		if s.SessionID == sessionID {
			return s.TranscriptPath, nil
		}
	}
	return "", fmt.Errorf("analyzer: no session found for %q", sessionID)
}
