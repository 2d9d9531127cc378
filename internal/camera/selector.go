package camera

import (
	"fmt"
	"os/exec"

	"github.com/smazurov/camfeed/internal/logging"
)

// picameraCommands are the CSI helper binaries, newest name first.
var picameraCommands = []string{"rpicam-vid", "libcamera-vid"}

// Prober reports which backends can run on this host.
type Prober interface {
	// PicameraCommand returns the path of the CSI helper binary.
	PicameraCommand() (string, bool)
	// V4L2Available reports whether the V4L2 backend is compiled in.
	V4L2Available() bool
}

// SystemProber probes the real host.
type SystemProber struct{}

// PicameraCommand implements Prober.
func (SystemProber) PicameraCommand() (string, bool) {
	for _, name := range picameraCommands {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// V4L2Available implements Prober.
func (SystemProber) V4L2Available() bool {
	return v4l2Supported
}

// Selector resolves the configured backend and opens sources.
type Selector struct {
	cfg    Config
	prober Prober
	logger logging.Logger

	openPicamera func(cfg Config, command string, logger logging.Logger) (FrameSource, error)
	openV4L2     func(cfg Config, logger logging.Logger) (FrameSource, error)
}

// NewSelector creates a selector for cfg.
func NewSelector(cfg Config, prober Prober, logger logging.Logger) *Selector {
	return &Selector{
		cfg:          cfg,
		prober:       prober,
		logger:       logger,
		openPicamera: OpenPicamera,
		openV4L2:     OpenV4L2,
	}
}

// Config returns the camera configuration.
func (s *Selector) Config() Config {
	return s.cfg
}

// HavePicamera reports whether the CSI helper was found.
func (s *Selector) HavePicamera() bool {
	_, ok := s.prober.PicameraCommand()
	return ok
}

// Resolve probes the host and returns the backend Open would use.
// An explicit backend is never substituted.
func (s *Selector) Resolve() (Backend, error) {
	backend, _, err := s.resolve()
	return backend, err
}

func (s *Selector) resolve() (Backend, string, error) {
	command, havePicamera := s.prober.PicameraCommand()
	haveV4L2 := s.prober.V4L2Available()

	switch s.cfg.Backend {
	case BackendPicamera:
		if !havePicamera {
			return "", "", fmt.Errorf("%w: picamera requested but neither %v was found in PATH",
				ErrBackendUnavailable, picameraCommands)
		}
		return BackendPicamera, command, nil
	case BackendV4L2:
		if !haveV4L2 {
			return "", "", fmt.Errorf("%w: v4l2 requested but not supported on this platform", ErrBackendUnavailable)
		}
		return BackendV4L2, "", nil
	case BackendAuto, "":
		if havePicamera {
			return BackendPicamera, command, nil
		}
		if haveV4L2 {
			return BackendV4L2, "", nil
		}
		return "", "", fmt.Errorf("%w: no CSI helper and no V4L2 support", ErrBackendUnavailable)
	default:
		return "", "", fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, s.cfg.Backend)
	}
}

// Open probes the host, picks a backend and opens it. Probe failures wrap
// ErrBackendUnavailable and open no device; open failures wrap ErrOpen.
func (s *Selector) Open() (FrameSource, error) {
	backend, command, err := s.resolve()
	if err != nil {
		return nil, err
	}

	s.logger.Info("Opening camera", "backend", backend, "configured", s.cfg.Backend,
		"width", s.cfg.Width, "height", s.cfg.Height, "fps", s.cfg.FPS)

	switch backend {
	case BackendPicamera:
		return s.openPicamera(s.cfg, command, s.logger)
	default:
		return s.openV4L2(s.cfg, s.logger)
	}
}
