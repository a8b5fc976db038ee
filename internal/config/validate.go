package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"vigil/internal/task/scheduler"
)

// Validate checks field syntax and ranges. It does not touch the network.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	pct := func(path string, v float64) {
		if v < 0 || v > 100 {
			add(fmt.Errorf("%s: must be within 0..100, got %v", path, v))
		}
	}

	dur("scheduler.tick", c.Scheduler.Tick)
	dur("scheduler.default_timeout", c.Scheduler.DefaultTimeout)
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	if c.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler.history_size: must be >= 0"))
	}
	seen := make(map[string]bool, len(c.Scheduler.Tasks))
	for i, t := range c.Scheduler.Tasks {
		path := fmt.Sprintf("scheduler.tasks[%d]", i)
		id := strings.TrimSpace(t.ID)
		switch {
		case id == "":
			add(fmt.Errorf("%s.id: required", path))
		case seen[id]:
			add(fmt.Errorf("%s.id: duplicate %q", path, id))
		}
		seen[id] = true
		if _, err := scheduler.ParsePriority(t.Priority); err != nil {
			add(fmt.Errorf("%s.priority: %w", path, err))
		}
		if err := scheduler.ValidateSchedule(t.Schedule); err != nil {
			add(fmt.Errorf("%s.schedule: %w", path, err))
		}
		if strings.TrimSpace(t.Command) == "" {
			add(fmt.Errorf("%s.command: required", path))
		}
		dur(path+".timeout", t.Timeout)
	}

	dur("monitor.interval", c.Monitor.Interval)
	dur("monitor.failure_backoff", c.Monitor.FailureBackoff)
	if c.Monitor.FailureBackoffAfter < 0 {
		add(errors.New("monitor.failure_backoff_after: must be >= 0"))
	}
	pct("monitor.high_usage", c.Monitor.HighUsage)

	e := c.Escalation
	pct("escalation.cpu_critical", e.CPUCritical)
	pct("escalation.memory_critical", e.MemoryCritical)
	pct("escalation.tightened_cpu", e.TightenedCPU)
	pct("escalation.tightened_memory", e.TightenedMemory)
	pct("escalation.recover_above", e.RecoverAbove)
	dur("escalation.response_timeout", e.ResponseTimeout)
	_, err := ParseSignedDuration("escalation.stuck_timeout", e.StuckTimeout)
	add(err)
	dur("escalation.error_window", e.ErrorWindow)
	dur("escalation.notify_timeout", e.NotifyTimeout)
	if e.ErrorCountThreshold < 0 {
		add(errors.New("escalation.error_count_threshold: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Ledger.Driver)) {
	case "", "file", "sqlite", "memory":
	default:
		add(fmt.Errorf("ledger.driver: unknown driver %q", c.Ledger.Driver))
	}
	if c.Ledger.MaxRecords < 0 {
		add(errors.New("ledger.max_records: must be >= 0"))
	}
	dur("ledger.busy_timeout", c.Ledger.BusyTimeout)

	dur("notifier.min_interval", c.Notifier.MinInterval)
	dur("notifier.timeout", c.Notifier.Timeout)
	if c.Notifier.Burst < 0 {
		add(errors.New("notifier.burst: must be >= 0"))
	}
	if gh := c.Notifier.GitHub; gh.Repo != "" && strings.Count(gh.Repo, "/") != 1 {
		add(fmt.Errorf("notifier.github.repo: want owner/name, got %q", gh.Repo))
	}

	dur("status.interval", c.Status.Interval)

	if addr := strings.TrimSpace(c.Inspect.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("inspect.addr: %w", err))
		}
	}

	return errors.Join(errs...)
}
