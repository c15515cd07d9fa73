package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// sdNotify is swapped in tests.
var sdNotify = daemon.SdNotify

func notify(state string) error {
	// sent is false when NOTIFY_SOCKET is unset, which is not an error
	if _, err := sdNotify(false, state); err != nil {
		return fmt.Errorf("failed to send sd_notify %q: %w", state, err)
	}
	return nil
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	return notify(daemon.SdNotifyReady)
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	return notify(daemon.SdNotifyStopping)
}

// NotifyReloading sends RELOADING=1 notification to systemd. Call
// NotifyReady once the new configuration is in effect.
func NotifyReloading() error {
	return notify(daemon.SdNotifyReloading)
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// until ctx is done. It returns immediately when the watchdog is disabled.
func RunWatchdog(ctx context.Context, logger zerolog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("failed to read watchdog settings: %w", err)
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	logger.Debug().Dur("interval", interval).Msg("Systemd watchdog enabled")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := notify(daemon.SdNotifyWatchdog); err != nil {
				logger.Warn().Err(err).Msg("Watchdog ping failed")
			}
		}
	}
}
