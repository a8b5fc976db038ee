package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()

	jsonCfg := `{
  "logging": {"level": "debug", "console": true},
  "scheduler": {"tick": "50ms", "tasks": [
    {"id": "backup", "priority": "low", "schedule": "0 3 * * *", "command": "/bin/true"}
  ]},
  "escalation": {"cpu_critical": 90, "stuck_timeout": "-1s"},
  "ledger": {"driver": "sqlite", "path": "/tmp/l.db"}
}`
	yamlCfg := `
logging:
  level: debug
  console: true
scheduler:
  tick: 50ms
  tasks:
    - id: backup
      priority: low
      schedule: "0 3 * * *"
      command: /bin/true
escalation:
  cpu_critical: 90
  stuck_timeout: -1s
ledger:
  driver: sqlite
  path: /tmp/l.db
`
	for _, tc := range []struct {
		name string
		file string
		body string
	}{
		{"json", "vigil.json", jsonCfg},
		{"yaml", "vigil.yaml", yamlCfg},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.file, []byte(tc.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
				t.Fatalf("logging = %+v", cfg.Logging)
			}
			if len(cfg.Scheduler.Tasks) != 1 || cfg.Scheduler.Tasks[0].Schedule != "0 3 * * *" {
				t.Fatalf("tasks = %+v", cfg.Scheduler.Tasks)
			}
			if cfg.Escalation.CPUCritical != 90 || cfg.Escalation.StuckTimeout != "-1s" {
				t.Fatalf("escalation = %+v", cfg.Escalation)
			}
			if cfg.Ledger.Driver != "sqlite" {
				t.Fatalf("ledger = %+v", cfg.Ledger)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"bogus": 1}`, "unknown field"},
		{"trailing data", `{} {}`, "trailing data"},
		{"bad duration", `{"monitor": {"interval": "soon"}}`, "monitor.interval"},
		{"negative duration", `{"scheduler": {"tick": "-1s"}}`, "scheduler.tick"},
		{"percent range", `{"escalation": {"cpu_critical": 140}}`, "escalation.cpu_critical"},
		{"ledger driver", `{"ledger": {"driver": "postgres"}}`, "ledger.driver"},
		{"task schedule", `{"scheduler": {"tasks": [{"id": "a", "schedule": "whenever", "command": "x"}]}}`, "tasks[0].schedule"},
		{"task priority", `{"scheduler": {"tasks": [{"id": "a", "priority": "urgent", "schedule": "5m", "command": "x"}]}}`, "tasks[0].priority"},
		{"duplicate task", `{"scheduler": {"tasks": [
			{"id": "a", "schedule": "5m", "command": "x"},
			{"id": "a", "schedule": "5m", "command": "x"}]}}`, "duplicate"},
		{"timezone", `{"scheduler": {"timezone": "Mars/Olympus"}}`, "scheduler.timezone"},
		{"inspect addr", `{"inspect": {"addr": "localhost"}}`, "inspect.addr"},
		{"github repo", `{"notifier": {"github": {"repo": "nope"}}}`, "owner/name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("vigil.json", []byte(tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	t.Parallel()

	if got := FormatOf("/etc/vigil/VIGIL.YML"); got != FormatYAML {
		t.Fatalf("FormatOf(.YML) = %q", got)
	}
	if got := FormatOf("vigil.conf"); got != FormatJSON {
		t.Fatalf("FormatOf(.conf) = %q", got)
	}

	cfg, err := Decode("empty.yaml", nil)
	if err != nil || cfg == nil {
		t.Fatalf("empty yaml: %v", err)
	}

	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed", "scheduler: [\n", "vigil config bad.yaml: yaml:"},
		{"numeric top-level key", "1: x\n", `unknown field "1"`},
		{"unknown nested key", "monitor:\n  intervall: 5s\n", "vigil config bad.yaml (yaml)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("bad.yaml", []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("set: got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatalf("negative should fail")
	}
	d, err = ParseSignedDuration("x", "-1s")
	if err != nil || d != -time.Second {
		t.Fatalf("signed: got %v, %v", d, err)
	}
}

func TestManagerLoadAndGet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vigil.json")
	writeFile(t, path, `{"logging": {"level": "warn"}}`)

	m := NewManager(path)
	if m.Get() != nil {
		t.Fatalf("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" || m.Get() != cfg {
		t.Fatalf("unexpected committed config: %+v", m.Get())
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vigil.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, "logging:\n  level: debug\n")

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
}

func TestManagerWatchSkipsInvalidAndRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vigil.json")
	writeFile(t, path, `{"logging": {"level": "info"}}`)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return context.Canceled
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	writeFile(t, path, `{"logging": {"level": `)
	m.reload(ctx)
	writeFile(t, path, `{"logging": {"level": "trace"}}`)
	m.reload(ctx)
	writeFile(t, path, `{"logging": {"level": "info"}}`)
	m.reload(ctx)

	select {
	case cfg := <-ch:
		t.Fatalf("unexpected publish: %+v", cfg.Logging)
	default:
	}
	if m.Get().Logging.Level != "info" {
		t.Fatalf("committed level = %q", m.Get().Logging.Level)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("expected latest config to win")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join("..", "..", "vigil.example.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if len(cfg.Scheduler.Tasks) != 2 || cfg.Notifier.GitHub.Repo != "example/ops" {
		t.Fatalf("unexpected example config: %+v", cfg.Scheduler.Tasks)
	}
}
