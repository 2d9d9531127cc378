package led

import (
	"os"
	"strings"

	"github.com/smazurov/camfeed/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boardLEDs maps device tree model substrings to the LED that should show
// camera activity.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"Raspberry Pi", "ACT"},
	{"NanoPC-T6", "usr_led"},
	{"Orange Pi", "green_led"},
}

// New returns a controller for the named LED, or for the board's activity
// LED when name is empty. It falls back to a no-op controller.
func New(name string, logger logging.Logger) Controller {
	if name == "" {
		model := detectBoard()
		for _, b := range boardLEDs {
			if strings.Contains(model, b.model) {
				name = b.led
				break
			}
		}
		logger.Info("Detecting board for LED control", "board_model", model, "led", name)
	}
	if name == "" {
		return newNoop(logger)
	}

	ctrl, err := NewSysfs(sysfsLEDPath, name)
	if err != nil {
		logger.Warn("LED unavailable, using no-op controller", "error", err)
		return newNoop(logger)
	}
	return ctrl
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}

	// Device tree model contains null bytes, trim them
	return strings.TrimRight(string(data), "\x00")
}
