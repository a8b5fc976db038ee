package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/config"
	"vigil/internal/escalation"
	"vigil/internal/health"
	"vigil/internal/ledger"
	"vigil/internal/notifier"
	"vigil/internal/observability/inspect"
	"vigil/internal/task/scheduler"
	logx "vigil/pkg/logx"
)

const (
	defaultDataDir        = "./vigil_data"
	defaultStatusInterval = 5 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, 100*time.Millisecond)
	if err != nil {
		return scheduler.Config{}, err
	}
	def, err := config.ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Tick:           tick,
		DefaultTimeout: def,
		HistorySize:    cfg.Scheduler.HistorySize,
		Timezone:       cfg.Scheduler.Timezone,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (health.Config, error) {
	iv, err := config.ParseDurationField("monitor.interval", cfg.Monitor.Interval)
	if err != nil {
		return health.Config{}, err
	}
	backoff, err := config.ParseDurationField("monitor.failure_backoff", cfg.Monitor.FailureBackoff)
	if err != nil {
		return health.Config{}, err
	}
	// Zero values are defaulted by the monitor.
	return health.Config{
		Interval:            iv,
		FailureBackoff:      backoff,
		FailureBackoffAfter: cfg.Monitor.FailureBackoffAfter,
		HighUsage:           cfg.Monitor.HighUsage,
	}, nil
}

func mapEscalationConfig(cfg *config.Config) (escalation.Config, error) {
	e := cfg.Escalation
	out := escalation.Config{
		Baseline: escalation.Thresholds{
			CPUCritical:         e.CPUCritical,
			MemoryCritical:      e.MemoryCritical,
			ErrorCountThreshold: e.ErrorCountThreshold,
		},
		TightenedCPU:    e.TightenedCPU,
		TightenedMemory: e.TightenedMemory,
		RecoverAbove:    e.RecoverAbove,
	}
	var err error
	if out.Baseline.ResponseTimeout, err = config.ParseDurationField("escalation.response_timeout", e.ResponseTimeout); err != nil {
		return escalation.Config{}, err
	}
	if out.Baseline.StuckTimeout, err = config.ParseSignedDuration("escalation.stuck_timeout", e.StuckTimeout); err != nil {
		return escalation.Config{}, err
	}
	if out.ErrorWindow, err = config.ParseDurationField("escalation.error_window", e.ErrorWindow); err != nil {
		return escalation.Config{}, err
	}
	if out.NotifyTimeout, err = config.ParseDurationField("escalation.notify_timeout", e.NotifyTimeout); err != nil {
		return escalation.Config{}, err
	}
	return out, nil
}

func mapLedgerConfig(cfg *config.Config) (ledger.Config, error) {
	busy, err := config.ParseDurationField("ledger.busy_timeout", cfg.Ledger.BusyTimeout)
	if err != nil {
		return ledger.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	path := strings.TrimSpace(cfg.Ledger.Path)
	if path == "" {
		switch driver {
		case "sqlite":
			path = filepath.Join(defaultDataDir, "activity.db")
		case "", "file":
			path = filepath.Join(defaultDataDir, "activity")
		}
	}
	return ledger.Config{
		Driver:      driver,
		Path:        path,
		MaxRecords:  cfg.Ledger.MaxRecords,
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	minIv, err := config.ParseDurationField("notifier.min_interval", cfg.Notifier.MinInterval)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := config.ParseDurationField("notifier.timeout", cfg.Notifier.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     cfg.Notifier.Enabled,
		MinInterval: minIv,
		Burst:       cfg.Notifier.Burst,
		Timeout:     timeout,
	}, nil
}

// buildChannels returns the channels that have enough configuration to
// deliver. Tokens fall back to GITHUB_TOKEN / TELEGRAM_TOKEN.
func buildChannels(cfg *config.Config, log logx.Logger) ([]notifier.Channel, error) {
	n := cfg.Notifier
	var out []notifier.Channel
	if n.Log {
		out = append(out, notifier.NewLog(log))
	}

	if repo := strings.TrimSpace(n.GitHub.Repo); repo != "" {
		token := firstNonEmpty(n.GitHub.Token, os.Getenv("GITHUB_TOKEN"))
		if token == "" {
			log.Warn("github channel skipped: no token", logx.String("repo", repo))
		} else {
			gh, err := notifier.NewGitHub(notifier.GitHubConfig{
				Token:  token,
				Repo:   repo,
				Labels: n.GitHub.Labels,
				APIURL: n.GitHub.APIURL,
			})
			if err != nil {
				return nil, fmt.Errorf("notifier.github: %w", err)
			}
			out = append(out, gh)
		}
	}

	if n.Telegram.ChatID != 0 {
		token := firstNonEmpty(n.Telegram.Token, os.Getenv("TELEGRAM_TOKEN"))
		if token == "" {
			log.Warn("telegram channel skipped: no token", logx.Int64("chat_id", n.Telegram.ChatID))
		} else {
			tg, err := notifier.NewTelegram(notifier.TelegramConfig{
				Token:    token,
				ChatID:   n.Telegram.ChatID,
				ThreadID: n.Telegram.ThreadID,
				APIURL:   n.Telegram.APIURL,
			})
			if err != nil {
				return nil, fmt.Errorf("notifier.telegram: %w", err)
			}
			out = append(out, tg)
		}
	}
	return out, nil
}

func mapStatus(cfg *config.Config) (string, time.Duration, error) {
	iv, err := config.ParseDurationOrDefault("status.interval", cfg.Status.Interval, defaultStatusInterval)
	if err != nil {
		return "", 0, err
	}
	return StatusPath(cfg), iv, nil
}

func mapInspectConfig(cfg *config.Config) inspect.Config {
	return inspect.Config{
		Enabled: cfg.Inspect.Enabled,
		Addr:    cfg.Inspect.Addr,
		Token:   firstNonEmpty(cfg.Inspect.Token, os.Getenv("VIGIL_INSPECT_TOKEN")),
	}
}

// StatusPath is the status document location for cfg.
func StatusPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Status.Path); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir, "status.json")
}

// LedgerConfig exposes the effective ledger settings for read-only tools.
func LedgerConfig(cfg *config.Config) (ledger.Config, error) { return mapLedgerConfig(cfg) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
