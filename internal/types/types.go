// Package types defines the shared data contracts used across every
// Archon component: task identity, task configuration, and the
// transient value objects (analysis results, stuck reports) passed
// between them.
package types

// TaskMode distinguishes the two kinds of supervised task.
type TaskMode string

const (
	ModeProbe TaskMode = "probe"
	ModeCron  TaskMode = "cron"
)

// TaskStatus is the durable, task-level lifecycle status. It is kept
// consistent between config.json's state.status field and the
// sibling status file (see the state store's SetStatus).
type TaskStatus string

const (
	StatusActive  TaskStatus = "active"
	StatusPaused  TaskStatus = "paused"
	StatusStopped TaskStatus = "stopped"
	StatusStuck   TaskStatus = "stuck"
)

// ProbeStatus is the Analyzer's finer-grained classification of a
// single Probe check, distinct from the task-level TaskStatus.
type ProbeStatus string

const (
	ProbeRunning   ProbeStatus = "running"
	ProbeIdle      ProbeStatus = "idle"
	ProbeStuck     ProbeStatus = "stuck"
	ProbeError     ProbeStatus = "error"
	ProbeCompleted ProbeStatus = "completed"
	ProbeStopped   ProbeStatus = "stopped"
	ProbeUnknown   ProbeStatus = "unknown"
)

// CronScheduleKind is the donor source's richer schedule trichotomy.
// At is accepted and stored for config compatibility only. The
// Scheduler ignores Kind and AtMS: it drives a schedule by its cron
// expression when one is set, otherwise by its interval, so there is
// no one-shot trigger.
type CronScheduleKind string

const (
	ScheduleAt    CronScheduleKind = "at"
	ScheduleEvery CronScheduleKind = "every"
	ScheduleCron  CronScheduleKind = "cron"
)

// Stuck type identifiers, used both as StuckInfo.StuckType values and
// as archon.log decision tags.
const (
	StuckTypeProbeNoOutput        = "probe_no_output"
	StuckTypeArchonCheckTimeout   = "archon_check_timeout"
	StuckTypeCronExecutionTimeout = "cron_execution_timeout"
)

// ScheduleConfig describes when a task's job fires.
type ScheduleConfig struct {
	Kind                 CronScheduleKind `json:"kind,omitempty"`
	CheckIntervalMinutes int              `json:"check_interval_minutes"`
	CronExpression       string           `json:"cron_expression,omitempty"`
	Timezone             string           `json:"timezone,omitempty"`
	AtMS                 int64            `json:"at_ms,omitempty"`
	NextRun              string           `json:"next_run,omitempty"`
}

// ProbeConfig holds the Probe-mode fields of a task.
type ProbeConfig struct {
	SessionID      string `json:"session_id"`
	PID            int    `json:"pid,omitempty"`
	InitialPrompt  string `json:"initial_prompt"`
	StdoutLog      string `json:"stdout_log,omitempty"`
	StderrLog      string `json:"stderr_log,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// CorrectionConfig bounds how many auto-corrections a Probe task may
// receive before escalating to a human.
type CorrectionConfig struct {
	MaxAutoCorrections   int `json:"max_auto_corrections"`
	CurrentCount         int `json:"current_count"`
	EscalateAfterFailures int `json:"escalate_after_failures"`
}

// CriteriaConfig names the substrings the Analyzer scans for in a
// Probe transcript.
type CriteriaConfig struct {
	SuccessIndicators  []string `json:"success_indicators"`
	FailureIndicators  []string `json:"failure_indicators"`
	CompletionKeywords []string `json:"completion_keywords"`
}

// DefaultCriteriaConfig mirrors the donor source's dataclass defaults.
func DefaultCriteriaConfig() CriteriaConfig {
	return CriteriaConfig{
		SuccessIndicators:  []string{"任务完成", "测试通过"},
		FailureIndicators:  []string{"错误", "失败", "Error"},
		CompletionKeywords: []string{"任务完成"},
	}
}

// ExecutionConfig is the Cron-mode execution bookkeeping.
type ExecutionConfig struct {
	TimeoutMinutes         int    `json:"timeout_minutes"`
	LastRun                string `json:"last_run,omitempty"`
	LastResult             string `json:"last_result,omitempty"`
	RunCount               int    `json:"run_count"`
	ConsecutiveFailures    int    `json:"consecutive_failures"`
	MaxConsecutiveFailures int    `json:"max_consecutive_failures"`
}

// CronJobState is runtime scheduling state surfaced through the
// Control API's job introspection endpoints.
type CronJobState struct {
	NextRunAtMS       int64  `json:"next_run_at_ms,omitempty"`
	LastRunAtMS       int64  `json:"last_run_at_ms,omitempty"`
	LastRunDurationMS int64  `json:"last_run_duration_ms,omitempty"`
	RunCount          int    `json:"run_count"`
	ErrorCount        int    `json:"error_count"`
	LastError         string `json:"last_error,omitempty"`
}

// NotificationRules controls when the Notifier is invoked for a task.
type NotificationRules struct {
	NotifyOnError        bool                      `json:"notify_on_error"`
	NotifyOnSuccess      bool                       `json:"notify_on_success"`
	NotifyOnStatus       []string                   `json:"notify_on_status"`
	SuspiciousStatus     []string                   `json:"suspicious_status"`
	MetricThresholds     map[string]map[string]int `json:"metric_thresholds,omitempty"`
	EnableClaudeAnalysis bool                       `json:"enable_claude_analysis"`
	QuietHours           string                     `json:"quiet_hours,omitempty"`
}

// DefaultNotificationRules mirrors the donor source's dataclass defaults.
func DefaultNotificationRules() NotificationRules {
	return NotificationRules{
		NotifyOnError:        true,
		NotifyOnSuccess:      false,
		NotifyOnStatus:       []string{"error"},
		SuspiciousStatus:     []string{"warning"},
		EnableClaudeAnalysis: true,
	}
}

// TaskRuntimeState is the embedded `state` object of config.json.
type TaskRuntimeState struct {
	Status               TaskStatus `json:"status"`
	LastCheck            string     `json:"last_check,omitempty"`
	LastCorrection       string     `json:"last_correction,omitempty"`
	LastTranscriptOffset int64      `json:"last_transcript_offset"`
}

// TaskConfig is the full on-disk config.json contract for a task.
// Probe-only and Cron-only fields are pointers so that round-tripping
// a Cron task never fabricates Probe fields and vice versa — this is
// the Go equivalent of the donor source's ProbeTaskConfig/CronTaskConfig
// dataclass split, flattened into one struct with a discriminant
// (Mode) because Go has no dataclass inheritance.
type TaskConfig struct {
	TaskID      string     `json:"task_id"`
	Mode        TaskMode   `json:"mode"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ProjectPath string     `json:"project_path,omitempty"`
	CreatedAt   string     `json:"created_at"`

	Schedule     ScheduleConfig    `json:"schedule"`
	State        TaskRuntimeState  `json:"state"`
	Notification NotificationRules `json:"notification"`

	Probe      *ProbeConfig      `json:"probe,omitempty"`
	Correction *CorrectionConfig `json:"correction,omitempty"`
	Criteria   *CriteriaConfig   `json:"criteria,omitempty"`

	Execution    *ExecutionConfig `json:"execution,omitempty"`
	CronState    *CronJobState    `json:"cron_state,omitempty"`
	WorkflowPath string           `json:"workflow_path,omitempty"`
	TaskMDPath   string           `json:"task_md_path,omitempty"`
}

// JobID is the scheduler's job identifier convention `<mode>_<task_id>`.
func (tc *TaskConfig) JobID() string {
	return string(tc.Mode) + "_" + tc.TaskID
}

// Issue is one entry in an AnalysisResult's issues list.
type Issue struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Finding is one entry in an AnalysisResult's findings list.
type Finding struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnalysisResult is the Analyzer's transient output, shared by both
// the Probe transcript analysis and the Cron output analysis paths.
type AnalysisResult struct {
	Status       string         `json:"status"`
	Summary      string         `json:"summary"`
	Issues       []Issue        `json:"issues,omitempty"`
	Findings     []Finding      `json:"findings,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Progress     int            `json:"progress"`
	LastActivity string         `json:"last_activity,omitempty"`
}

// StuckInfo reports one stalled task found by the Stuck Detector.
type StuckInfo struct {
	TaskID               string   `json:"task_id"`
	TaskMode             TaskMode `json:"task_mode"`
	StuckType            string   `json:"stuck_type"`
	StuckDurationMinutes float64  `json:"stuck_duration_minutes"`
	Details              string   `json:"details"`
}

// CorrectionRecord is one row appended to a Probe task's corrections.md.
type CorrectionRecord struct {
	Index          int    `json:"index"`
	Timestamp      string `json:"timestamp"`
	Corrector      string `json:"corrector"`
	Reason         string `json:"reason"`
	Analysis       string `json:"analysis"`
	Instruction    string `json:"instruction"`
	Result         string `json:"result"`
	FollowUpStatus string `json:"follow_up_status"`
}

// TranscriptRecord is one parsed line of a Probe session transcript.
type TranscriptRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}
