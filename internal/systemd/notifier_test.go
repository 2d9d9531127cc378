package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camfeed/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// notifySocket binds a datagram socket and points NOTIFY_SOCKET at it.
func notifySocket(t *testing.T) *net.UnixConn {
	t.Helper()
	// t.TempDir paths can exceed the unix socket path limit.
	dir, err := os.MkdirTemp("", "sdn")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readMessage(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no notify message: %v", err)
	}
	return string(buf[:n])
}

func TestNotifierStates(t *testing.T) {
	conn := notifySocket(t)
	n := NewNotifier(testLogger())

	tests := []struct {
		name string
		send func() error
		want string
	}{
		{"ready", n.Ready, "READY=1"},
		{"status", func() error { return n.Status("Streaming from %s", "v4l2") }, "STATUS=Streaming from v4l2"},
		{"stopping", n.Stopping, "STOPPING=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("send error = %v", err)
			}
			if got := readMessage(t, conn); got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotifierWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := NewNotifier(testLogger())

	if err := n.Ready(); err != nil {
		t.Errorf("Ready() error = %v, want nil", err)
	}
	enabled, err := n.StartWatchdog(context.Background())
	if err != nil || enabled {
		t.Errorf("StartWatchdog() = %v, %v, want false, nil", enabled, err)
	}
	n.StopWatchdog()
}

func TestWatchdog(t *testing.T) {
	conn := notifySocket(t)
	t.Setenv("WATCHDOG_USEC", "40000")
	t.Setenv("WATCHDOG_PID", "")
	n := NewNotifier(testLogger())

	enabled, err := n.StartWatchdog(context.Background())
	if err != nil || !enabled {
		t.Fatalf("StartWatchdog() = %v, %v, want true, nil", enabled, err)
	}
	for range 2 {
		if got := readMessage(t, conn); got != "WATCHDOG=1" {
			t.Errorf("message = %q, want WATCHDOG=1", got)
		}
	}

	n.StopWatchdog()
	n.StopWatchdog()

	// Drain anything sent before the stop, then expect silence.
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := conn.Read(buf); err == nil {
		t.Error("watchdog still pinging after StopWatchdog")
	}
}

func TestWatchdogInvalidInterval(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "soon")
	n := NewNotifier(testLogger())

	if _, err := n.StartWatchdog(context.Background()); err == nil {
		t.Error("StartWatchdog() error = nil, want parse error")
	}
}

func TestTrackCapture(t *testing.T) {
	conn := notifySocket(t)
	bus := events.New()
	n := NewNotifier(testLogger())

	unsubscribe := n.TrackCapture(bus)
	defer unsubscribe()

	bus.Publish(events.CaptureStartedEvent{Run: 2, Backend: "picamera", Width: 640, Height: 480, FPS: 30})
	if got := readMessage(t, conn); got != "STATUS=Streaming from picamera at 640x480@30" {
		t.Errorf("started status = %q", got)
	}

	// The stop of the previous run arrives late and must not mark the
	// service idle.
	bus.Publish(events.CaptureStoppedEvent{Run: 1, Backend: "picamera", Reason: "idle"})
	bus.Publish(events.CaptureFailedEvent{Run: 2, Backend: "picamera", Error: "device unplugged"})
	if got := readMessage(t, conn); !strings.Contains(got, "device unplugged") {
		t.Errorf("failed status = %q", got)
	}

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if size, err := conn.Read(buf); err == nil {
		t.Errorf("unexpected status after failure: %q", buf[:size])
	}
}

func TestListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() error = %v", err)
	}
	if len(listeners) != 0 {
		t.Errorf("got %d listeners, want none", len(listeners))
	}
}
