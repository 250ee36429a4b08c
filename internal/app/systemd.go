package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "reminderd/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside systemd every call
// is a no-op.
type sdNotifier struct {
	log      logx.Logger
	watchdog time.Duration
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log.With(logx.String("comp", "systemd"))}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog env invalid", logx.Err(err))
	}
	n.watchdog = d
	return n
}

func (n *sdNotifier) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()     { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Reloading() { n.notify(daemon.SdNotifyReloading) }
func (n *sdNotifier) Stopping()  { n.notify(daemon.SdNotifyStopping) }

func (n *sdNotifier) WatchdogEnabled() bool { return n.watchdog > 0 }

// runWatchdog pings systemd at half the configured interval until ctx ends.
func (n *sdNotifier) runWatchdog(ctx context.Context) error {
	if n.watchdog <= 0 {
		return nil
	}
	t := time.NewTicker(n.watchdog / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
