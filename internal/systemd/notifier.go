// Package systemd reports service state to systemd (Type=notify units) and
// picks up socket-activated listeners. Every call is a no-op when the
// process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/camfeed/internal/events"
	"github.com/smazurov/camfeed/internal/logging"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewNotifier creates a notifier.
func NewNotifier(logger logging.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Ready tells systemd that startup finished.
func (n *Notifier) Ready() error {
	return n.notify(daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func (n *Notifier) Stopping() error {
	return n.notify(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) error {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

func (n *Notifier) notify(state string) error {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		return fmt.Errorf("sd_notify %q: %w", state, err)
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
	return nil
}

// StartWatchdog pings the watchdog at half the interval systemd asked for
// until ctx ends or StopWatchdog is called. It reports whether a watchdog
// is configured.
func (n *Notifier) StartWatchdog(ctx context.Context) (bool, error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return false, fmt.Errorf("watchdog settings: %w", err)
	}
	if interval == 0 {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return true, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.stopped = make(chan struct{})

	n.logger.Info("Watchdog enabled", "interval", interval)
	go n.watchdogLoop(ctx, interval/2, n.stopped)
	return true, nil
}

// StopWatchdog stops the ping loop and waits for it to exit.
func (n *Notifier) StopWatchdog() {
	n.mu.Lock()
	cancel, stopped := n.cancel, n.stopped
	n.cancel, n.stopped = nil, nil
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (n *Notifier) watchdogLoop(ctx context.Context, every time.Duration, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				n.logger.Warn("Watchdog ping failed", "error", err)
			}
		}
	}
}

// TrackCapture mirrors capture lifecycle events into the status line.
// Events from a superseded run are ignored. The returned function removes
// the subscriptions.
func (n *Notifier) TrackCapture(bus *events.Bus) func() {
	var order events.RunOrder
	set := func(run uint64, ended bool, format string, args ...any) {
		order.Apply(run, ended, func() {
			if err := n.Status(format, args...); err != nil {
				n.logger.Debug("Status update failed", "error", err)
			}
		})
	}

	unsubs := []func(){
		bus.Subscribe(func(e events.CaptureStartedEvent) {
			set(e.Run, false, "Streaming from %s at %dx%d@%d", e.Backend, e.Width, e.Height, e.FPS)
		}),
		bus.Subscribe(func(e events.CaptureStoppedEvent) {
			set(e.Run, true, "Idle (%s, %d frames)", e.Reason, e.FramesCaptured)
		}),
		bus.Subscribe(func(e events.CaptureFailedEvent) {
			set(e.Run, true, "Capture failed: %s", e.Error)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Listeners returns sockets passed in by systemd socket activation, or
// nil when there are none.
func Listeners() ([]net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	var out []net.Listener
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out, nil
}
