//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format queries and memory-mapped frame capture.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Capture
//
// Open a device, negotiate a format and read frames:
//
//	dev, err := v4l2.Open("/dev/video0")
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	format, _ := dev.SetFormat(640, 480, v4l2.PixFmtYUYV)
//	_ = dev.SetFramerate(30)
//	if err := dev.StartStreaming(4); err != nil {
//	    return err
//	}
//	frame, err := dev.ReadFrame(2*time.Second, nil)
//
// SetFormat and SetFramerate are requests: the driver may substitute the
// closest mode it supports, and the returned PixFormat reflects what it chose.
package v4l2
