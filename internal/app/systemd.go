package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindd/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
var sdNotify = daemon.SdNotify

func (a *App) notifySystemd(state string) {
	sent, err := sdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify", logx.String("state", state))
	}
}

// watchdogLoop pings the systemd watchdog at half the configured interval.
// It returns at once when WatchdogSec is not set for the unit.
func (a *App) watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if a.Healthy() != nil {
				// Let systemd restart us.
				continue
			}
			a.notifySystemd(daemon.SdNotifyWatchdog)
		}
	}
}
