//go:build linux

package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camfeed/internal/logging"
	"github.com/smazurov/camfeed/pkg/linuxav/v4l2"
)

const (
	v4l2Supported = true
	v4l2Buffers   = 4
)

// V4L2Source captures from a /dev/videoN node with mmap streaming.
type V4L2Source struct {
	dev     *v4l2.Device
	width   int
	height  int
	format  PixelFormat
	timeout time.Duration
	buf     []byte

	closeOnce sync.Once
	closeErr  error
}

// OpenV4L2 opens cfg.Device and starts streaming.
func OpenV4L2(cfg Config, logger logging.Logger) (FrameSource, error) {
	dev, err := v4l2.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, cfg.Device, err)
	}

	pix, format, err := negotiateFormat(dev, cfg, logger)
	if err != nil {
		dev.Close()
		return nil, err
	}

	// Frame interval is advisory; many UVC cameras reject it.
	if err := dev.SetFramerate(uint32(cfg.FPS)); err != nil {
		logger.Debug("Frame rate not applied", "device", cfg.Device, "fps", cfg.FPS, "error", err)
	}

	if err := dev.StartStreaming(v4l2Buffers); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, cfg.Device, err)
	}

	info := dev.Info()
	logger.Info("V4L2 device streaming",
		"device", cfg.Device,
		"name", info.DeviceName,
		"driver", info.Driver,
		"format", v4l2.FormatFourCC(pix.PixelFormat),
		"width", pix.Width,
		"height", pix.Height)

	return &V4L2Source{
		dev:     dev,
		width:   int(pix.Width),
		height:  int(pix.Height),
		format:  format,
		timeout: cfg.FrameTimeout,
	}, nil
}

// negotiateFormat asks for YUYV and falls back to MJPEG. The driver may
// substitute a different size, which is used as-is.
func negotiateFormat(dev *v4l2.Device, cfg Config, logger logging.Logger) (v4l2.PixFormat, PixelFormat, error) {
	var lastErr error
	for _, want := range []uint32{v4l2.PixFmtYUYV, v4l2.PixFmtMJPEG} {
		pix, err := dev.SetFormat(uint32(cfg.Width), uint32(cfg.Height), want)
		if err != nil {
			lastErr = err
			continue
		}

		format, ok := pixelFormatFromV4L2(pix.PixelFormat)
		if !ok {
			lastErr = fmt.Errorf("driver offered unsupported format %s", v4l2.FormatFourCC(pix.PixelFormat))
			continue
		}

		if int(pix.Width) != cfg.Width || int(pix.Height) != cfg.Height {
			logger.Warn("Driver substituted frame size",
				"requested", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
				"actual", fmt.Sprintf("%dx%d", pix.Width, pix.Height))
		}
		return pix, format, nil
	}
	return v4l2.PixFormat{}, 0, fmt.Errorf("%w: %s: no usable pixel format: %w", ErrDeviceUnavailable, cfg.Device, lastErr)
}

func pixelFormatFromV4L2(pixfmt uint32) (PixelFormat, bool) {
	switch pixfmt {
	case v4l2.PixFmtYUYV:
		return FormatYUYV, true
	case v4l2.PixFmtMJPEG, v4l2.PixFmtJPEG:
		return FormatMJPEG, true
	case v4l2.PixFmtRGB24:
		return FormatRGB24, true
	case v4l2.PixFmtYUV420:
		return FormatYUV420, true
	default:
		return 0, false
	}
}

// CaptureNext dequeues one buffer.
func (s *V4L2Source) CaptureNext() (RawFrame, error) {
	data, err := s.dev.ReadFrame(s.timeout, s.buf)
	if err != nil {
		return RawFrame{}, classifyV4L2Error(err)
	}
	s.buf = data

	return RawFrame{
		Data:   data,
		Width:  s.width,
		Height: s.height,
		Format: s.format,
	}, nil
}

// classifyV4L2Error maps driver errors onto capture error kinds. Unknown
// errors are fatal.
func classifyV4L2Error(err error) error {
	switch {
	case errors.Is(err, v4l2.ErrTimeout),
		errors.Is(err, v4l2.ErrCorruptFrame),
		errors.Is(err, unix.EAGAIN),
		errors.Is(err, unix.EIO),
		errors.Is(err, unix.EINTR):
		return Transient(err)
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return Fatal(fmt.Errorf("device unplugged: %w", err))
	default:
		return Fatal(err)
	}
}

// Close stops streaming and closes the device.
func (s *V4L2Source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}

// Backend implements FrameSource.
func (s *V4L2Source) Backend() Backend {
	return BackendV4L2
}
