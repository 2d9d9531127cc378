package led

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const sysfsLEDPath = "/sys/class/leds"

// Sysfs implements Controller using the Linux sysfs LED interface.
type Sysfs struct {
	dir string

	mu       sync.Mutex
	original string // trigger active before the first Set
}

// NewSysfs controls the LED named name under root (normally /sys/class/leds).
func NewSysfs(root, name string) (*Sysfs, error) {
	dir := filepath.Join(root, name)
	if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
		return nil, fmt.Errorf("LED %q not found: %w", name, err)
	}
	return &Sysfs{dir: dir}, nil
}

// Set implements Controller.
func (s *Sysfs) Set(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.original == "" {
		current, err := s.currentTrigger()
		if err != nil {
			return err
		}
		s.original = current
	}

	switch state {
	case Off:
		return s.apply("none", "0")
	case Idle:
		return s.apply("heartbeat", "")
	case Streaming:
		return s.apply("none", "1")
	case Fault:
		if err := s.write("trigger", "timer"); err != nil {
			return err
		}
		// delay_on/delay_off only appear once the timer trigger is active.
		_ = s.write("delay_on", "100")
		_ = s.write("delay_off", "100")
		return nil
	default:
		return fmt.Errorf("unknown LED state %d", state)
	}
}

// Restore implements Controller.
func (s *Sysfs) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.original == "" {
		return nil
	}
	return s.write("trigger", s.original)
}

func (s *Sysfs) apply(trigger, brightness string) error {
	if err := s.write("trigger", trigger); err != nil {
		return err
	}
	if brightness == "" {
		return nil
	}
	return s.write("brightness", brightness)
}

func (s *Sysfs) write(file, value string) error {
	if err := os.WriteFile(filepath.Join(s.dir, file), []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to set LED %s: %w", file, err)
	}
	return nil
}

// currentTrigger reads the bracketed entry of the trigger list, e.g.
// "none [mmc0] heartbeat".
func (s *Sysfs) currentTrigger() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "trigger"))
	if err != nil {
		return "", fmt.Errorf("failed to read LED trigger: %w", err)
	}
	for _, field := range strings.Fields(string(data)) {
		if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
			return strings.Trim(field, "[]"), nil
		}
	}
	return "", errors.New("no active LED trigger")
}
