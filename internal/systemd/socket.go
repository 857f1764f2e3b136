// Package systemd integrates with socket activation and the sd_notify
// protocol. Every call is a no-op outside systemd.
package systemd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listeners holds the systemd-activated listeners kpark understands.
type Listeners struct {
	HTTP      net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves socket-activated listeners by FileDescriptorName.
// Expected names are "http" and "metrics"; missing ones stay nil and the
// caller binds them itself.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false)
	if len(fds) == 0 {
		return listeners, nil
	}

	listeners.Activated = true

	// Requires systemd 227+
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := listenersMap["http"]; ok && len(lns) > 0 {
		listeners.HTTP = lns[0]
	}

	if lns, ok := listenersMap["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

func notify(state string) error {
	// sent=false means not running under systemd, which is fine
	if _, err := daemon.SdNotify(false, state); err != nil {
		return fmt.Errorf("failed to send sd_notify %q: %w", state, err)
	}
	return nil
}

// NotifyReady tells systemd the service has finished starting up.
func NotifyReady() error {
	return notify(daemon.SdNotifyReady)
}

// NotifyStopping tells systemd the service is shutting down.
func NotifyStopping() error {
	return notify(daemon.SdNotifyStopping)
}

// NotifyWatchdog resets the systemd watchdog timer.
func NotifyWatchdog() error {
	return notify(daemon.SdNotifyWatchdog)
}

// RunWatchdog pings the watchdog at half the configured interval until ctx
// is done. It returns immediately when WatchdogSec is not set.
func RunWatchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("failed to read watchdog settings: %w", err)
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := NotifyWatchdog(); err != nil {
				return err
			}
		}
	}
}
