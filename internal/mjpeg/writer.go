// Package mjpeg writes JPEG frames as a multipart/x-mixed-replace body.
package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/smazurov/camfeed/internal/streaming"
)

// Boundary separates parts in the stream body.
const Boundary = "frame"

// ContentType is the response media type of a stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// DefaultWriteTimeout bounds the write of a single part.
const DefaultWriteTimeout = 10 * time.Second

// ErrWrite wraps socket errors, which usually mean the client went away.
var ErrWrite = errors.New("write part")

var (
	partHeader  = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// SetStreamHeaders sets the content type and the no-cache and CORS headers
// of a stream response.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Access-Control-Allow-Origin", "*")
}

// Writer serialises frames onto one HTTP response.
type Writer struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
	started bool
	parts   uint64
}

// NewWriter wraps w. A zero timeout disables per-part deadlines.
func NewWriter(w http.ResponseWriter, timeout time.Duration) *Writer {
	return &Writer{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: timeout,
	}
}

// WriteHeader sends the 200 status and stream headers. Only the first call
// has an effect.
func (w *Writer) WriteHeader() {
	if w.started {
		return
	}
	w.started = true
	SetStreamHeaders(w.w.Header())
	w.w.WriteHeader(http.StatusOK)
	_ = w.rc.Flush()
}

// Started reports whether the response headers were sent.
func (w *Writer) Started() bool {
	return w.started
}

// Parts returns the number of parts written.
func (w *Writer) Parts() uint64 {
	return w.parts
}

// WritePart writes one JPEG as a part and flushes it to the client.
func (w *Writer) WritePart(jpeg []byte) error {
	w.WriteHeader()

	if w.timeout > 0 {
		err := w.rc.SetWriteDeadline(time.Now().Add(w.timeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
	}

	for _, b := range [][]byte{partHeader, jpeg, partTrailer} {
		if _, err := w.w.Write(b); err != nil {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
	}
	if err := w.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w.parts++
	return nil
}

// Hub is the subscription side of streaming.Hub.
type Hub interface {
	Subscribe(id string) (*streaming.Subscriber, error)
	Unsubscribe(id string)
}

// Serve subscribes id to hub and streams frames to w until ctx ends, the
// subscriber is terminated or a write fails. The subscription is always
// released. If Subscribe fails nothing is written and the error is
// returned, so the caller can still choose the status code. Only a
// Subscribe error can become an error status: the 200 headers are sent
// before the first frame, so a later capture failure ends the stream.
// Serve returns nil when ctx ends.
func Serve(ctx context.Context, hub Hub, id string, w *Writer) error {
	sub, err := hub.Subscribe(id)
	if err != nil {
		return err
	}
	defer hub.Unsubscribe(id)

	w.WriteHeader()
	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := w.WritePart(frame.Data); err != nil {
			return err
		}
	}
}
