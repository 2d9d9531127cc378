//go:build !linux

package cmd

import (
	"fmt"
	"io"
)

func listDevices(_ io.Writer, _ bool) error {
	return fmt.Errorf("V4L2 device listing: %w", errUnsupported)
}
