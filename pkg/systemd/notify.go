// Package systemd reports service state to the systemd manager.
//
// Every function is a no-op when the process is not started by systemd
// (NOTIFY_SOCKET unset).
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value is ready to use.
type Notifier struct {
	// send is swapped in tests.
	send func(state string) (bool, error)
}

// NotifierFunc routes messages through send instead of the notify socket.
func NotifierFunc(send func(state string) (bool, error)) Notifier { return Notifier{send: send} }

func (n Notifier) notify(state string) (bool, error) {
	if n.send != nil {
		return n.send(state)
	}
	return daemon.SdNotify(false, state)
}

// Ready tells systemd startup is complete (Type=notify units).
func (n Notifier) Ready() (bool, error) { return n.notify(daemon.SdNotifyReady) }

func (n Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

// Watchdog pings the service watchdog. Callers may ignore the result.
func (n Notifier) Watchdog() { _, _ = n.notify(daemon.SdNotifyWatchdog) }

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(msg string) (bool, error) { return n.notify("STATUS=" + msg) }

// WatchdogInterval returns the configured WatchdogSec, or 0 when the
// watchdog is disabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
