//go:build !linux

package camera

import (
	"fmt"

	"github.com/smazurov/camfeed/internal/logging"
)

const v4l2Supported = false

// OpenV4L2 is not available on this platform.
func OpenV4L2(_ Config, _ logging.Logger) (FrameSource, error) {
	return nil, fmt.Errorf("%w: v4l2 requires linux", ErrBackendUnavailable)
}
