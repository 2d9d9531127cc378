//go:build linux

package v4l2

import "errors"

var (
	// ErrNotCaptureDevice is returned by Open when the node cannot stream video capture.
	ErrNotCaptureDevice = errors.New("not a streaming video capture device")
	// ErrTimeout is returned by ReadFrame when no frame arrives in time.
	ErrTimeout = errors.New("timed out waiting for frame")
	// ErrCorruptFrame is returned by ReadFrame when the driver flags a buffer as damaged.
	ErrCorruptFrame = errors.New("driver reported corrupt frame")
	// ErrNotStreaming is returned by ReadFrame before StartStreaming.
	ErrNotStreaming = errors.New("device is not streaming")
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	BusInfo    string
	Caps       uint32
}

// CanStream reports whether the device supports streaming I/O.
func (d DeviceInfo) CanStream() bool {
	return d.Caps&capStreaming != 0
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// FrameSize is a supported capture size. Stepwise devices report their
// minimum and maximum as two entries with Stepwise set.
type FrameSize struct {
	Width    uint32
	Height   uint32
	Stepwise bool
}

// PixFormat is the negotiated single-planar capture format.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Pixel formats understood by the capture path.
const (
	PixFmtYUYV   uint32 = 0x56595559 // 'YUYV'
	PixFmtMJPEG  uint32 = 0x47504A4D // 'MJPG'
	PixFmtJPEG   uint32 = 0x4745504A // 'JPEG'
	PixFmtRGB24  uint32 = 0x33424752 // 'RGB3'
	PixFmtYUV420 uint32 = 0x32315559 // 'YU12'
	PixFmtNV12   uint32 = 0x3231564E // 'NV12'
	PixFmtH264   uint32 = 0x34363248 // 'H264'
)

// Capability flags.
const (
	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000
)

// Capture parameter flags.
const (
	capTimePerFrame = 0x1000
)

// Format flags.
const (
	fmtFlagEmulated = 0x0002
)

// Frame size types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3
)

// Buffer handling.
const (
	bufTypeVideoCapture = 1
	memoryMmap          = 1
	fieldAny            = 0
	bufFlagError        = 0x00000040
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

// v4l2FrmsizeStepwise has size 24 bytes.
type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

// v4l2Frmsizeenum has size 44 bytes. The union holds either a discrete
// size (first 8 bytes) or a stepwise range.
type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	union       v4l2FrmsizeStepwise
	reserved    [2]uint32
}

// v4l2Fract has size 8 bytes.
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Captureparm has size 40 bytes.
type v4l2Captureparm struct {
	capability   uint32
	capturemode  uint32
	timeperframe v4l2Fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

// v4l2Streamparm has size 204 bytes (type plus a 200 byte union).
type v4l2Streamparm struct {
	typ     uint32
	capture v4l2Captureparm
	_       [160]byte
}

// v4l2Requestbuffers has size 20 bytes.
type v4l2Requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

// v4l2Timecode has size 16 bytes.
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}
