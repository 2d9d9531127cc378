package camera

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/camfeed/internal/logging"
	"github.com/smazurov/camfeed/internal/process"
)

// PicameraSource reads raw I420 frames from rpicam-vid's stdout.
type PicameraSource struct {
	proc    *process.Process
	stdout  *os.File
	width   int
	height  int
	timeout time.Duration
	buf     []byte
	// primed holds the frame read by OpenPicamera until the first
	// CaptureNext.
	primed bool

	closeOnce sync.Once
}

// picameraStartTimeout bounds the wait for the first frame when no frame
// timeout is configured.
const picameraStartTimeout = 10 * time.Second

// picameraArgs builds the helper command line for cfg.
func picameraArgs(cfg Config) []string {
	return []string{
		"--codec", "yuv420",
		"--output", "-",
		"--timeout", "0",
		"--nopreview",
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--framerate", strconv.Itoa(cfg.FPS),
	}
}

// OpenPicamera starts the CSI helper at command and waits for its first
// frame. A helper that exits or stays silent (camera absent or busy) is
// reported as ErrDeviceUnavailable.
func OpenPicamera(cfg Config, command string, logger logging.Logger) (FrameSource, error) {
	proc := process.New(command, picameraArgs(cfg), logger)
	proc.SetLogParser(logger, ParseLibcameraLine)

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	src := newPicameraSource(proc, cfg)
	timeout := cfg.FrameTimeout
	if timeout <= 0 {
		timeout = picameraStartTimeout
	}
	if err := src.readFrame(timeout); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, command, err)
	}
	src.primed = true
	return src, nil
}

func newPicameraSource(proc *process.Process, cfg Config) *PicameraSource {
	return &PicameraSource{
		proc:    proc,
		stdout:  proc.Stdout(),
		width:   cfg.Width,
		height:  cfg.Height,
		timeout: cfg.FrameTimeout,
		buf:     make([]byte, cfg.Width*cfg.Height*3/2),
	}
}

// CaptureNext reads exactly one frame. Every failure is fatal: a partial
// read leaves the pipe misaligned and the helper cannot be resynchronised.
func (s *PicameraSource) CaptureNext() (RawFrame, error) {
	if s.primed {
		s.primed = false
	} else if err := s.readFrame(s.timeout); err != nil {
		return RawFrame{}, Fatal(err)
	}

	return RawFrame{
		Data:   s.buf,
		Width:  s.width,
		Height: s.height,
		Format: FormatYUV420,
	}, nil
}

// readFrame fills buf with one frame. A zero timeout waits forever.
func (s *PicameraSource) readFrame(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := s.stdout.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("no frame from helper within %s", timeout)
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("helper output ended: %w", err)
		}
		return err
	}
	return nil
}

// Close stops the helper.
func (s *PicameraSource) Close() error {
	s.closeOnce.Do(func() {
		s.proc.Stop()
	})
	return nil
}

// Backend implements FrameSource.
func (s *PicameraSource) Backend() Backend {
	return BackendPicamera
}

// libcamera log lines look like
// "[0:00:01.123456789] [1234]  WARN RPI vc4.cpp:123 message".
var libcameraLogLine = regexp.MustCompile(`^\[[^\]]*\]\s+\[\d+\]\s+(DEBUG|INFO|WARN|ERROR|FATAL)\s+(.*)$`)

// ParseLibcameraLine extracts the level from a libcamera or rpicam-apps
// stderr line.
func ParseLibcameraLine(line string) (level, msg string) {
	if m := libcameraLogLine.FindStringSubmatch(line); m != nil {
		switch m[1] {
		case "DEBUG":
			return "debug", m[2]
		case "WARN":
			return "warning", m[2]
		case "ERROR":
			return "error", m[2]
		case "FATAL":
			return "fatal", m[2]
		default:
			return "info", m[2]
		}
	}

	// rpicam-apps reports its own failures as "ERROR: *** ... ***".
	if rest, ok := strings.CutPrefix(line, "ERROR:"); ok {
		return "error", strings.Trim(strings.TrimSpace(rest), "* ")
	}
	// Per-frame progress lines are noise at info level.
	if strings.HasPrefix(line, "#") {
		return "debug", line
	}
	return "info", line
}
