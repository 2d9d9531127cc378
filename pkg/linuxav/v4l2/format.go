//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GetFormats returns all supported capture pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	var formats []FormatInfo
	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{index: i, typ: bufTypeVideoCapture}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, err)
		}
		formats = append(formats, FormatInfo{
			PixelFormat: desc.pixelformat,
			FormatName:  cstr(desc.description[:]),
			Emulated:    desc.flags&fmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// GetFrameSizes returns the capture sizes a device offers for a pixel format.
func GetFrameSizes(devicePath string, pixelFormat uint32) ([]FrameSize, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	var sizes []FrameSize
	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{index: i, pixelFormat: pixelFormat}
		if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(err, unix.ENOTTY) {
				return []FrameSize{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, err)
		}

		if frmsize.typ == frmsizeTypeDiscrete {
			// Discrete sizes overlay the first two union fields
			sizes = append(sizes, FrameSize{Width: frmsize.union.minWidth, Height: frmsize.union.maxWidth})
			continue
		}

		step := frmsize.union
		return append(sizes,
			FrameSize{Width: step.minWidth, Height: step.minHeight, Stepwise: true},
			FrameSize{Width: step.maxWidth, Height: step.maxHeight, Stepwise: true},
		), nil
	}

	return sizes, nil
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	return string([]byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	})
}
