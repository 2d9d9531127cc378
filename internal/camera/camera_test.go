package camera

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camfeed/internal/logging"
	"github.com/smazurov/camfeed/internal/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"auto", BackendAuto, false},
		{"", BackendAuto, false},
		{"PiCamera", BackendPicamera, false},
		{" v4l2 ", BackendV4L2, false},
		{"opencv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero width", func(c *Config) { c.Width = 0 }, "must be positive"},
		{"odd height", func(c *Config) { c.Height = 481 }, "must be even"},
		{"fps too high", func(c *Config) { c.FPS = 240 }, "fps 240"},
		{"quality zero", func(c *Config) { c.Quality = 0 }, "jpeg quality 0"},
		{"bad backend", func(c *Config) { c.Backend = "gstreamer" }, "unknown camera backend"},
		{"no failures allowed", func(c *Config) { c.MaxReadFailures = 0 }, "max read failures"},
		{"no timeout", func(c *Config) { c.FrameTimeout = 0 }, "frame timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCaptureErrorKinds(t *testing.T) {
	base := errors.New("boom")

	transient := Transient(base)
	if !IsTransient(transient) {
		t.Error("IsTransient(Transient(err)) = false")
	}
	if !errors.Is(transient, base) {
		t.Error("Transient error does not unwrap to cause")
	}

	fatal := fmt.Errorf("loop: %w", Fatal(base))
	if IsTransient(fatal) {
		t.Error("IsTransient(Fatal(err)) = true")
	}
	var ce *CaptureError
	if !errors.As(fatal, &ce) || ce.Kind != DeviceFatal {
		t.Errorf("errors.As() kind = %v, want DeviceFatal", ce)
	}

	if IsTransient(base) {
		t.Error("plain error reported as transient")
	}
}

func TestErrDeviceUnavailableIsErrOpen(t *testing.T) {
	err := fmt.Errorf("%w: /dev/video9: no such file", ErrDeviceUnavailable)
	if !errors.Is(err, ErrOpen) {
		t.Error("ErrDeviceUnavailable does not match ErrOpen")
	}
}

type fakeProber struct {
	picamera string
	v4l2     bool
}

func (p fakeProber) PicameraCommand() (string, bool) { return p.picamera, p.picamera != "" }
func (p fakeProber) V4L2Available() bool             { return p.v4l2 }

type stubSource struct{ backend Backend }

func (s *stubSource) CaptureNext() (RawFrame, error) { return RawFrame{}, nil }
func (s *stubSource) Close() error                   { return nil }
func (s *stubSource) Backend() Backend               { return s.backend }

// newTestSelector records which opener ran instead of touching hardware.
func newTestSelector(backend Backend, prober Prober, opened *[]string) *Selector {
	cfg := DefaultConfig()
	cfg.Backend = backend
	s := NewSelector(cfg, prober, testLogger())
	s.openPicamera = func(_ Config, command string, _ logging.Logger) (FrameSource, error) {
		*opened = append(*opened, "picamera:"+command)
		return &stubSource{backend: BackendPicamera}, nil
	}
	s.openV4L2 = func(Config, logging.Logger) (FrameSource, error) {
		*opened = append(*opened, "v4l2")
		return &stubSource{backend: BackendV4L2}, nil
	}
	return s
}

func TestSelectorOpen(t *testing.T) {
	tests := []struct {
		name       string
		backend    Backend
		prober     fakeProber
		wantOpened []string
		wantErr    error
	}{
		{
			name:       "auto prefers picamera",
			backend:    BackendAuto,
			prober:     fakeProber{picamera: "/usr/bin/rpicam-vid", v4l2: true},
			wantOpened: []string{"picamera:/usr/bin/rpicam-vid"},
		},
		{
			name:       "auto falls back to v4l2",
			backend:    BackendAuto,
			prober:     fakeProber{v4l2: true},
			wantOpened: []string{"v4l2"},
		},
		{
			name:    "auto with nothing available",
			backend: BackendAuto,
			prober:  fakeProber{},
			wantErr: ErrBackendUnavailable,
		},
		{
			name:    "explicit picamera unavailable",
			backend: BackendPicamera,
			prober:  fakeProber{v4l2: true},
			wantErr: ErrBackendUnavailable,
		},
		{
			name:       "explicit v4l2 ignores picamera",
			backend:    BackendV4L2,
			prober:     fakeProber{picamera: "/usr/bin/rpicam-vid", v4l2: true},
			wantOpened: []string{"v4l2"},
		},
		{
			name:    "explicit v4l2 unsupported",
			backend: BackendV4L2,
			prober:  fakeProber{picamera: "/usr/bin/rpicam-vid"},
			wantErr: ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opened []string
			s := newTestSelector(tt.backend, tt.prober, &opened)

			src, err := s.Open()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				if len(opened) != 0 {
					t.Errorf("device opened despite error: %v", opened)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if strings.Join(opened, ",") != strings.Join(tt.wantOpened, ",") {
				t.Errorf("opened = %v, want %v", opened, tt.wantOpened)
			}
			if src == nil {
				t.Fatal("Open() returned nil source")
			}
		})
	}
}

func TestSelectorResolveAndHavePicamera(t *testing.T) {
	var opened []string
	s := newTestSelector(BackendAuto, fakeProber{v4l2: true}, &opened)

	if s.HavePicamera() {
		t.Error("HavePicamera() = true without helper")
	}
	backend, err := s.Resolve()
	if err != nil || backend != BackendV4L2 {
		t.Errorf("Resolve() = %q, %v; want v4l2", backend, err)
	}
	if len(opened) != 0 {
		t.Errorf("Resolve opened a device: %v", opened)
	}
}

func TestParseLibcameraLine(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[0:00:00.123456789] [4242]  INFO Camera camera_manager.cpp:327 libcamera v0.3.0", "info", "Camera camera_manager.cpp:327 libcamera v0.3.0"},
		{"[0:00:00.2] [4242]  WARN RPI vc4.cpp:393 Mismatch between Unicam and CamHelper", "warning", "RPI vc4.cpp:393 Mismatch between Unicam and CamHelper"},
		{"[0:00:01.0] [4242] ERROR V4L2 v4l2_device.cpp:390 Failed to open", "error", "V4L2 v4l2_device.cpp:390 Failed to open"},
		{"ERROR: *** no cameras available ***", "error", "no cameras available"},
		{"#12 (30.00 fps) exp 33251.00 ag 8.00 dg 1.00", "debug", "#12 (30.00 fps) exp 33251.00 ag 8.00 dg 1.00"},
		{"Preview window unavailable", "info", "Preview window unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.wantLevel, func(t *testing.T) {
			level, msg := ParseLibcameraLine(tt.line)
			if level != tt.wantLevel || msg != tt.wantMsg {
				t.Errorf("ParseLibcameraLine(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
			}
		})
	}
}

func TestPicameraArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height, cfg.FPS = 1280, 720, 25

	got := strings.Join(picameraArgs(cfg), " ")
	want := "--codec yuv420 --output - --timeout 0 --nopreview --width 1280 --height 720 --framerate 25"
	if got != want {
		t.Errorf("picameraArgs() = %q, want %q", got, want)
	}
}

// startFakeHelper runs a shell snippet in place of rpicam-vid.
func startFakeHelper(t *testing.T, script string, cfg Config) *PicameraSource {
	t.Helper()
	proc := process.New("sh", []string{"-c", script}, testLogger())
	proc.SetTimeouts(100*time.Millisecond, 100*time.Millisecond)
	if err := proc.Start(); err != nil {
		t.Fatalf("start fake helper: %v", err)
	}
	src := newPicameraSource(proc, cfg)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestPicameraSourceReadsWholeFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 16, 8
	frameSize := 16 * 8 * 3 / 2

	// Two frames, then EOF.
	src := startFakeHelper(t, fmt.Sprintf("head -c %d /dev/zero", 2*frameSize), cfg)

	for i := range 2 {
		frame, err := src.CaptureNext()
		if err != nil {
			t.Fatalf("frame %d: CaptureNext() error = %v", i, err)
		}
		if len(frame.Data) != frameSize || frame.Format != FormatYUV420 || frame.Width != 16 {
			t.Errorf("frame %d = %d bytes %s %dx%d", i, len(frame.Data), frame.Format, frame.Width, frame.Height)
		}
	}

	_, err := src.CaptureNext()
	if err == nil || IsTransient(err) {
		t.Fatalf("CaptureNext() after EOF = %v, want fatal error", err)
	}
}

func TestPicameraSourceShortFrameIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 16, 8

	src := startFakeHelper(t, "printf abc", cfg)

	_, err := src.CaptureNext()
	var ce *CaptureError
	if !errors.As(err, &ce) || ce.Kind != DeviceFatal {
		t.Fatalf("CaptureNext() = %v, want DeviceFatal", err)
	}
}

func TestPicameraSourceTimeoutIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 16, 8
	cfg.FrameTimeout = 50 * time.Millisecond

	src := startFakeHelper(t, "sleep 5", cfg)

	start := time.Now()
	_, err := src.CaptureNext()
	if err == nil || IsTransient(err) {
		t.Fatalf("CaptureNext() = %v, want fatal timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("CaptureNext() took %v, want about the frame timeout", elapsed)
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestOpenPicameraMissingBinary(t *testing.T) {
	_, err := OpenPicamera(DefaultConfig(), "/nonexistent/rpicam-vid", testLogger())
	if !errors.Is(err, ErrOpen) {
		t.Errorf("OpenPicamera() error = %v, want ErrOpen", err)
	}
}

// helperScript writes an executable stand-in for rpicam-vid that ignores
// its arguments.
func helperScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpicam-vid")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenPicameraHelperExitsAtOnce(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}

	src, err := OpenPicamera(DefaultConfig(), falseBin, testLogger())
	if err == nil {
		src.Close()
		t.Fatal("OpenPicamera() succeeded for a helper that exited")
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("OpenPicamera() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestOpenPicameraSilentHelper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 16, 8
	cfg.FrameTimeout = 100 * time.Millisecond

	_, err := OpenPicamera(cfg, helperScript(t, "exec sleep 5"), testLogger())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("OpenPicamera() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestOpenPicameraReturnsFirstFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 16, 8
	frameSize := 16 * 8 * 3 / 2

	// Frame 0 is zeros, frame 1 is 0x01 bytes.
	script := fmt.Sprintf("head -c %d /dev/zero; head -c %d /dev/zero | tr '\\000' '\\001'", frameSize, frameSize)
	src, err := OpenPicamera(cfg, helperScript(t, script), testLogger())
	if err != nil {
		t.Fatalf("OpenPicamera() error = %v", err)
	}
	defer src.Close()

	for i, want := range []byte{0, 1} {
		frame, err := src.CaptureNext()
		if err != nil {
			t.Fatalf("frame %d: CaptureNext() error = %v", i, err)
		}
		if len(frame.Data) != frameSize || frame.Data[0] != want || frame.Data[frameSize-1] != want {
			t.Errorf("frame %d: %d bytes starting %#x, want %d bytes of %#x", i, len(frame.Data), frame.Data[0], frameSize, want)
		}
	}

	if _, err := src.CaptureNext(); err == nil || IsTransient(err) {
		t.Errorf("CaptureNext() after EOF = %v, want fatal error", err)
	}
}
