package camera

// PixelFormat is the layout of RawFrame.Data.
type PixelFormat int

// Pixel formats produced by the backends.
const (
	FormatYUV420 PixelFormat = iota // planar I420, W*H*3/2 bytes
	FormatYUYV                      // packed 4:2:2, W*H*2 bytes
	FormatRGB24                     // packed RGB, W*H*3 bytes
	FormatMJPEG                     // complete JPEG image
)

func (f PixelFormat) String() string {
	switch f {
	case FormatYUV420:
		return "YUV420"
	case FormatYUYV:
		return "YUYV"
	case FormatRGB24:
		return "RGB24"
	case FormatMJPEG:
		return "MJPEG"
	default:
		return "unknown"
	}
}

// RawFrame is one captured image. Data may alias a buffer owned by the
// source and is only valid until the next CaptureNext call.
type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
}

// FrameSource produces raw frames from one opened camera.
// It is not safe for concurrent use.
type FrameSource interface {
	// CaptureNext blocks until a frame is available. Errors are
	// *CaptureError values.
	CaptureNext() (RawFrame, error)
	// Close releases the device. Calling it more than once is allowed.
	Close() error
	// Backend reports which implementation is running.
	Backend() Backend
}
