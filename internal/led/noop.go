package led

import "github.com/smazurov/camfeed/internal/logging"

// noop implements Controller as a no-op for systems without LED support
type noop struct {
	logger logging.Logger
}

func newNoop(logger logging.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(state State) error {
	n.logger.Debug("LED control not available (no-op)", "state", state)
	return nil
}

func (n *noop) Restore() error {
	return nil
}
