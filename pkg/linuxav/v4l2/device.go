//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"
)

const sysfsVideoDir = "/sys/class/video4linux"

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsVideoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		devicePath := "/dev/" + entry.Name()

		info, err := QueryDevice(devicePath)
		if err != nil {
			slog.With("component", "linuxav").Debug("skipping video node", "path", devicePath, "error", err)
			continue
		}

		// Metadata and output nodes share the sysfs class with capture nodes
		if info.Caps&capVideoCapture == 0 {
			continue
		}

		index := readSysfsInt(filepath.Join(sysfsVideoDir, entry.Name(), "index"))
		info.DeviceID = findStableID(entry.Name(), index)
		if info.DeviceID == "" {
			if strings.HasPrefix(info.BusInfo, "usb-") {
				info.DeviceID = fmt.Sprintf("%s-video-index%d", info.BusInfo, index)
			} else {
				info.DeviceID = fmt.Sprintf("platform-%s-video-index%d", info.BusInfo, index)
			}
		}

		devices = append(devices, info)
	}

	return devices, nil
}

// QueryDevice opens a device node and reads its capabilities.
func QueryDevice(devicePath string) (DeviceInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer closeFd(fd)

	caps, err := queryCapability(fd)
	if err != nil {
		return DeviceInfo{}, err
	}

	return DeviceInfo{
		DevicePath: devicePath,
		DeviceName: cstr(caps.card[:]),
		Driver:     cstr(caps.driver[:]),
		BusInfo:    cstr(caps.busInfo[:]),
		Caps:       effectiveCaps(caps),
	}, nil
}

func queryCapability(fd int) (*v4l2Capability, error) {
	caps := &v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(caps)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	return caps, nil
}

// effectiveCaps returns the capabilities of the opened node rather than
// the whole physical device when the driver reports both.
func effectiveCaps(caps *v4l2Capability) uint32 {
	if caps.capabilities&capDeviceCaps != 0 {
		return caps.deviceCaps
	}
	return caps.capabilities
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/
func findStableID(deviceName string, index int) string {
	const byIDDir = "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	suffix := fmt.Sprintf("-video-index%d", index)
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == deviceName {
			return entry.Name()
		}
	}
	return ""
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
