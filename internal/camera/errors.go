package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrOpen is wrapped by every error returned while opening a source.
	ErrOpen = errors.New("camera open failed")
	// ErrDeviceUnavailable means the device is missing, busy or not a camera.
	ErrDeviceUnavailable = fmt.Errorf("%w: device unavailable", ErrOpen)
	// ErrBackendUnavailable means the configured backend cannot run on this host.
	ErrBackendUnavailable = errors.New("camera backend unavailable")
)

// ErrorKind separates failures the capture loop can ride out from ones
// that end the run.
type ErrorKind int

// Capture error kinds.
const (
	TransientReadFailure ErrorKind = iota
	DeviceFatal
)

func (k ErrorKind) String() string {
	switch k {
	case TransientReadFailure:
		return "transient"
	case DeviceFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// CaptureError is returned by FrameSource.CaptureNext.
type CaptureError struct {
	Kind ErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture (%s): %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientReadFailure.
func Transient(err error) error {
	return &CaptureError{Kind: TransientReadFailure, Err: err}
}

// Fatal wraps err as a DeviceFatal failure.
func Fatal(err error) error {
	return &CaptureError{Kind: DeviceFatal, Err: err}
}

// IsTransient reports whether err is a transient capture failure.
// Errors that are not CaptureErrors are treated as fatal.
func IsTransient(err error) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Kind == TransientReadFailure
}
