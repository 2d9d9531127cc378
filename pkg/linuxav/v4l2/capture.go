//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 capture node using memory-mapped streaming I/O.
// It is not safe for concurrent use.
type Device struct {
	fd        int
	info      DeviceInfo
	format    PixFormat
	buffers   [][]byte
	streaming bool
}

// Open opens a capture device and verifies it supports streaming capture.
func Open(devicePath string) (*Device, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}

	caps, err := queryCapability(fd)
	if err != nil {
		_ = closeFd(fd)
		return nil, fmt.Errorf("%s: %w", devicePath, err)
	}

	effective := effectiveCaps(caps)
	if effective&capVideoCapture == 0 || effective&capStreaming == 0 {
		_ = closeFd(fd)
		return nil, fmt.Errorf("%s: %w", devicePath, ErrNotCaptureDevice)
	}

	return &Device{
		fd:   fd,
		info: DeviceInfo{
			DevicePath: devicePath,
			DeviceName: cstr(caps.card[:]),
			Driver:     cstr(caps.driver[:]),
			BusInfo:    cstr(caps.busInfo[:]),
			Caps:       effective,
		},
	}, nil
}

// Info returns the capabilities read at open time.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// Format returns the last negotiated format.
func (d *Device) Format() PixFormat {
	return d.format
}

// SetFormat requests a capture size and pixel format. The driver adjusts
// unsupported values and the returned PixFormat is what it selected.
func (d *Device) SetFormat(width, height, pixelFormat uint32) (PixFormat, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixelFormat
	f.pix.field = fieldAny

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}

	d.format = PixFormat{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}
	return d.format, nil
}

// SetFramerate requests a frame interval of 1/fps. Devices without
// frame interval control return an error wrapping ENOTTY or EINVAL.
func (d *Device) SetFramerate(fps uint32) error {
	if fps == 0 {
		return fmt.Errorf("invalid framerate %d", fps)
	}

	parm := v4l2Streamparm{typ: bufTypeVideoCapture}
	parm.capture.timeperframe = v4l2Fract{numerator: 1, denominator: fps}

	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("VIDIOC_S_PARM: %w", err)
	}
	if parm.capture.capability&capTimePerFrame == 0 {
		return fmt.Errorf("VIDIOC_S_PARM: %w", unix.ENOTTY)
	}
	return nil
}

// StartStreaming allocates count kernel buffers, maps them and starts capture.
func (d *Device) StartStreaming(count uint32) error {
	if d.streaming {
		return nil
	}

	req := v4l2Requestbuffers{count: count, typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	if req.count == 0 {
		return fmt.Errorf("VIDIOC_REQBUFS: driver granted no buffers")
	}

	for i := uint32(0); i < req.count; i++ {
		buf := v4l2Buffer{index: i, typ: bufTypeVideoCapture, memory: memoryMmap}
		if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			d.unmap()
			return fmt.Errorf("VIDIOC_QUERYBUF %d: %w", i, err)
		}

		mem, err := unix.Mmap(d.fd, buf.mmapOffset(), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.unmap()
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		d.buffers = append(d.buffers, mem)

		if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
			d.unmap()
			return fmt.Errorf("VIDIOC_QBUF %d: %w", i, err)
		}
	}

	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		d.unmap()
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}

	d.streaming = true
	return nil
}

// ReadFrame waits up to timeout for the next filled buffer, copies it into
// dst (grown as needed) and hands the buffer back to the driver.
func (d *Device) ReadFrame(timeout time.Duration, dst []byte) ([]byte, error) {
	if !d.streaming {
		return nil, ErrNotStreaming
	}

	ready, err := waitReadable(d.fd, int(timeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if !ready {
		return nil, ErrTimeout
	}

	buf := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}

	var frameErr error
	switch {
	case int(buf.index) >= len(d.buffers):
		frameErr = fmt.Errorf("driver returned unknown buffer %d", buf.index)
	case buf.flags&bufFlagError != 0:
		frameErr = ErrCorruptFrame
	default:
		n := min(int(buf.bytesused), len(d.buffers[buf.index]))
		dst = append(dst[:0], d.buffers[buf.index][:n]...)
	}

	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QBUF: %w", err)
	}
	if frameErr != nil {
		return nil, frameErr
	}
	return dst, nil
}

// Close stops streaming, unmaps buffers and closes the device node.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}

	var errs []error
	if d.streaming {
		typ := uint32(bufTypeVideoCapture)
		if err := ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil && !errors.Is(err, unix.ENODEV) {
			errs = append(errs, fmt.Errorf("VIDIOC_STREAMOFF: %w", err))
		}
		d.streaming = false
	}
	d.unmap()

	if err := closeFd(d.fd); err != nil {
		errs = append(errs, err)
	}
	d.fd = -1
	return errors.Join(errs...)
}

func (d *Device) unmap() {
	for _, mem := range d.buffers {
		_ = unix.Munmap(mem)
	}
	d.buffers = nil
}
