// Package encoder turns raw camera frames into JPEG images.
package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/smazurov/camfeed/internal/camera"
)

// ErrEncode is wrapped by every encoding failure.
var ErrEncode = errors.New("jpeg encode failed")

// JPEG encodes frames at a fixed quality. It is safe for concurrent use.
type JPEG struct {
	quality int
	pool    sync.Pool
}

// New creates an encoder. Quality is clamped to 1..100.
func New(quality int) *JPEG {
	return &JPEG{
		quality: min(max(quality, 1), 100),
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Quality returns the effective JPEG quality.
func (e *JPEG) Quality() int {
	return e.quality
}

// Encode converts frame to JPEG. The returned slice is owned by the caller.
func (e *JPEG) Encode(frame camera.RawFrame) ([]byte, error) {
	if frame.Format == camera.FormatMJPEG {
		data, err := trimJPEG(frame.Data)
		if err != nil {
			return nil, err
		}
		return bytes.Clone(data), nil
	}

	img, err := toImage(frame)
	if err != nil {
		return nil, err
	}

	buf := e.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.pool.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func toImage(frame camera.RawFrame) (image.Image, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size %dx%d", ErrEncode, w, h)
	}

	switch frame.Format {
	case camera.FormatYUV420:
		return yuv420Image(frame.Data, w, h)
	case camera.FormatYUYV:
		return yuyvImage(frame.Data, w, h)
	case camera.FormatRGB24:
		return rgb24Image(frame.Data, w, h)
	default:
		return nil, fmt.Errorf("%w: unsupported pixel format %s", ErrEncode, frame.Format)
	}
}

func checkLength(data []byte, want int, format camera.PixelFormat) error {
	if len(data) < want {
		return fmt.Errorf("%w: %s frame is %d bytes, want %d", ErrEncode, format, len(data), want)
	}
	return nil
}

// yuv420Image wraps planar I420 data without copying.
func yuv420Image(data []byte, w, h int) (image.Image, error) {
	cw, ch := (w+1)/2, (h+1)/2
	ySize, cSize := w*h, cw*ch
	if err := checkLength(data, ySize+2*cSize, camera.FormatYUV420); err != nil {
		return nil, err
	}

	return &image.YCbCr{
		Y:              data[:ySize],
		Cb:             data[ySize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}

// yuyvImage de-interleaves packed Y0 U Y1 V into a 4:2:2 YCbCr image.
func yuyvImage(data []byte, w, h int) (image.Image, error) {
	if w%2 != 0 {
		return nil, fmt.Errorf("%w: YUYV width %d is odd", ErrEncode, w)
	}
	if err := checkLength(data, w*h*2, camera.FormatYUYV); err != nil {
		return nil, err
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := range h {
		row := data[y*w*2 : (y+1)*w*2]
		yRow := img.Y[y*img.YStride:]
		cbRow := img.Cb[y*img.CStride:]
		crRow := img.Cr[y*img.CStride:]
		for x := 0; x < w/2; x++ {
			p := row[x*4 : x*4+4]
			yRow[2*x] = p[0]
			cbRow[x] = p[1]
			yRow[2*x+1] = p[2]
			crRow[x] = p[3]
		}
	}
	return img, nil
}

func rgb24Image(data []byte, w, h int) (image.Image, error) {
	if err := checkLength(data, w*h*3, camera.FormatRGB24); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < w*h*3; i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// trimJPEG validates SOI and EOI markers and drops the zero padding some
// UVC cameras leave after EOI.
func trimJPEG(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("%w: MJPEG frame missing SOI marker", ErrEncode)
	}
	end := len(data)
	for end > 2 && data[end-1] == 0 {
		end--
	}
	if end < 4 || data[end-2] != 0xFF || data[end-1] != 0xD9 {
		return nil, fmt.Errorf("%w: MJPEG frame truncated (no EOI marker)", ErrEncode)
	}
	return data[:end], nil
}
