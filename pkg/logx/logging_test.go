package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	l.With(String("comp", "x")).Error("dropped too", Err(errors.New("boom")))
}

func TestFieldsAndCaller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(zerolog.New(&buf)).With(String("comp", "test"))
	l.Warn("hello", Int("n", 3), Float64("score", 42.5), Bool("ok", true), Err(errors.New("boom")), Err(nil))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{"comp": "test", "n": 3.0, "score": 42.5, "ok": true, "message": "hello", "level": "warn"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %v, want %v (line %s)", k, got[k], v, buf.String())
		}
	}
	if c, _ := got[zerolog.CallerFieldName].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// Not parallel: NewService sets zerolog globals.
func TestServiceApplySwitchesSinks(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	log.Debug("below level")
	log.Info("to first")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	log.Debug("to second")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if strings.Contains(string(a), "below level") || !strings.Contains(string(a), "to first") {
		t.Fatalf("first log = %q", a)
	}
	if !strings.Contains(string(b), "to second") || strings.Contains(string(b), "to first") {
		t.Fatalf("second log = %q", b)
	}
	if !log.Enabled(LevelDebug) {
		t.Fatalf("debug should be enabled after Apply")
	}
}
