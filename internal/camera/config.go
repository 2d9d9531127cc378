package camera

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend names a frame source implementation.
type Backend string

// Supported backends. BackendAuto is only valid in configuration.
const (
	BackendAuto     Backend = "auto"
	BackendPicamera Backend = "picamera"
	BackendV4L2     Backend = "v4l2"
)

// ParseBackend parses a CAM_BACKEND value, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendAuto, BackendPicamera, BackendV4L2:
		return b, nil
	case "":
		return BackendAuto, nil
	default:
		return "", fmt.Errorf("unknown camera backend %q (want auto, picamera or v4l2)", s)
	}
}

// Defaults applied by DefaultConfig.
const (
	DefaultWidth           = 640
	DefaultHeight          = 480
	DefaultFPS             = 30
	DefaultQuality         = 80
	DefaultDevice          = "/dev/video0"
	DefaultMaxReadFailures = 30
	DefaultFrameTimeout    = 5 * time.Second
)

// Config is the camera configuration. It does not change after startup.
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int
	Backend Backend

	// Device is the V4L2 node used by the v4l2 backend.
	Device string
	// MaxReadFailures is the number of consecutive failed capture
	// iterations after which the source is treated as dead.
	MaxReadFailures int
	// FrameTimeout bounds a single CaptureNext call.
	FrameTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		FPS:             DefaultFPS,
		Quality:         DefaultQuality,
		Backend:         BackendAuto,
		Device:          DefaultDevice,
		MaxReadFailures: DefaultMaxReadFailures,
		FrameTimeout:    DefaultFrameTimeout,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("frame size %dx%d must be positive", c.Width, c.Height))
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("frame size %dx%d must be even", c.Width, c.Height))
	}
	if c.FPS < 1 || c.FPS > 120 {
		errs = append(errs, fmt.Errorf("fps %d out of range 1..120", c.FPS))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of range 1..100", c.Quality))
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		errs = append(errs, err)
	}
	if c.MaxReadFailures < 1 {
		errs = append(errs, fmt.Errorf("max read failures %d must be at least 1", c.MaxReadFailures))
	}
	if c.FrameTimeout <= 0 {
		errs = append(errs, fmt.Errorf("frame timeout %s must be positive", c.FrameTimeout))
	}
	return errors.Join(errs...)
}
