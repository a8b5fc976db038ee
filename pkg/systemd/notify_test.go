package systemd

import (
	"testing"
)

func TestNotifierStates(t *testing.T) {
	t.Parallel()

	var got []string
	n := NotifierFunc(func(state string) (bool, error) {
		got = append(got, state)
		return true, nil
	})
	if ok, err := n.Ready(); !ok || err != nil {
		t.Fatalf("Ready = %v, %v", ok, err)
	}
	n.Watchdog()
	_, _ = n.Status("healthy")
	_, _ = n.Stopping()

	want := []string{"READY=1", "WATCHDOG=1", "STATUS=healthy", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("states = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotifierWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ok, err := Notifier{}.Ready()
	if ok || err != nil {
		t.Fatalf("Ready without socket = %v, %v", ok, err)
	}
}

func TestWatchdogIntervalDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	if d := WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval without systemd = %v", d)
	}
}

func TestWatchdogIntervalFromEnv(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "30000000")
	t.Setenv("WATCHDOG_PID", "")
	if d := WatchdogInterval(); d.Seconds() != 30 {
		t.Fatalf("WatchdogInterval = %v, want 30s", d)
	}
}
