package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "5m"). Omitted
// fields fall back to the defaults documented on each section.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Monitor    MonitorConfig    `json:"monitor"`
	Escalation EscalationConfig `json:"escalation"`
	Ledger     LedgerConfig     `json:"ledger"`
	Notifier   NotifierConfig   `json:"notifier"`
	Status     StatusConfig     `json:"status"`
	Metrics    MetricsConfig    `json:"metrics"`
	Inspect    InspectConfig    `json:"inspect"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the task scheduler.
//
// Defaults:
//   - tick: "100ms"
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - timezone: local
type SchedulerConfig struct {
	Tick           string       `json:"tick,omitempty"`
	DefaultTimeout string       `json:"default_timeout,omitempty"`
	HistorySize    int          `json:"history_size,omitempty"`
	Timezone       string       `json:"timezone,omitempty"`
	Tasks          []TaskConfig `json:"tasks,omitempty"`
}

// TaskConfig declares a command run on a schedule.
//
// Example:
//
//	{ "id": "backup", "priority": "low", "schedule": "0 3 * * *",
//	  "command": "/usr/local/bin/backup", "args": ["--quick"], "timeout": "10m" }
type TaskConfig struct {
	ID       string   `json:"id"`
	Priority string   `json:"priority,omitempty"` // critical|high|medium|low|background
	Schedule string   `json:"schedule"`           // cron, Go duration or HH:MM
	Command  string   `json:"command"`
	Args     []string `json:"args,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

// MonitorConfig controls the health monitor.
//
// Defaults: interval "1s", failure_backoff "5s", failure_backoff_after 3,
// high_usage 80, disk_path "/".
type MonitorConfig struct {
	Interval            string  `json:"interval,omitempty"`
	FailureBackoff      string  `json:"failure_backoff,omitempty"`
	FailureBackoffAfter int     `json:"failure_backoff_after,omitempty"`
	HighUsage           float64 `json:"high_usage,omitempty"`
	DiskPath            string  `json:"disk_path,omitempty"`
}

// EscalationConfig sets the escalation thresholds. They are read once at
// startup; edits take effect on restart.
//
// Defaults: cpu/memory 95, response_timeout "300s", stuck_timeout "600s"
// ("-1s" disables), error_count_threshold 10, error_window "60s",
// tightened cpu/memory 70, recover_above 80.
type EscalationConfig struct {
	CPUCritical         float64 `json:"cpu_critical,omitempty"`
	MemoryCritical      float64 `json:"memory_critical,omitempty"`
	ResponseTimeout     string  `json:"response_timeout,omitempty"`
	StuckTimeout        string  `json:"stuck_timeout,omitempty"`
	ErrorCountThreshold int     `json:"error_count_threshold,omitempty"`
	ErrorWindow         string  `json:"error_window,omitempty"`
	TightenedCPU        float64 `json:"tightened_cpu,omitempty"`
	TightenedMemory     float64 `json:"tightened_memory,omitempty"`
	RecoverAbove        float64 `json:"recover_above,omitempty"`
	NotifyTimeout       string  `json:"notify_timeout,omitempty"`
}

// LedgerConfig controls the activity ledger.
//
// Example:
//
//	"ledger": { "driver": "file", "path": "./vigil_data/activity" }
type LedgerConfig struct {
	Driver      string `json:"driver,omitempty"` // file|sqlite|memory
	Path        string `json:"path,omitempty"`
	MaxRecords  int    `json:"max_records,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig controls emergency notifications. Channels without
// credentials are skipped.
type NotifierConfig struct {
	Enabled     bool           `json:"enabled"`
	MinInterval string         `json:"min_interval,omitempty"`
	Burst       int            `json:"burst,omitempty"`
	Timeout     string         `json:"timeout,omitempty"`
	Log         bool           `json:"log"`
	GitHub      GitHubConfig   `json:"github"`
	Telegram    TelegramConfig `json:"telegram"`
}

type GitHubConfig struct {
	Token  string   `json:"token,omitempty"` // or $GITHUB_TOKEN
	Repo   string   `json:"repo,omitempty"`
	Labels []string `json:"labels,omitempty"`
	APIURL string   `json:"api_url,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // or $TELEGRAM_TOKEN
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// StatusConfig controls the status document written for `vigil status`.
//
// Defaults: path "./vigil_data/status.json", interval "5s".
type StatusConfig struct {
	Path     string `json:"path,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// InspectConfig controls the local HTTP endpoint (/healthz, /status,
// /metrics, /debug/pprof/). Binding beyond loopback requires a token.
//
// Defaults: addr "127.0.0.1:7878".
type InspectConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}
