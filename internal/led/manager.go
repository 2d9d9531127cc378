package led

import (
	"sync"

	"github.com/smazurov/camfeed/internal/events"
	"github.com/smazurov/camfeed/internal/logging"
)

// Manager follows capture lifecycle events and sets the LED accordingly.
type Manager struct {
	controller Controller
	eventBus   *events.Bus
	logger     logging.Logger

	order events.RunOrder

	mu     sync.Mutex
	state  State
	unsubs []func()
}

// NewManager creates a manager; call Start to begin.
func NewManager(controller Controller, eventBus *events.Bus, logger logging.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
		state:      Off,
	}
}

// Start shows Idle and subscribes to capture events.
func (m *Manager) Start() {
	m.set(Idle)

	m.mu.Lock()
	m.unsubs = []func(){
		m.eventBus.Subscribe(func(e events.CaptureStartedEvent) {
			m.order.Apply(e.Run, false, func() { m.set(Streaming) })
		}),
		m.eventBus.Subscribe(func(e events.CaptureStoppedEvent) {
			m.order.Apply(e.Run, true, func() { m.set(Idle) })
		}),
		m.eventBus.Subscribe(func(e events.CaptureFailedEvent) {
			m.order.Apply(e.Run, true, func() { m.set(Fault) })
		}),
	}
	m.mu.Unlock()

	m.logger.Info("LED manager started")
}

// Stop unsubscribes and hands the LED back to the system.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if err := m.controller.Restore(); err != nil {
		m.logger.Warn("Failed to restore LED", "error", err)
	}
	m.logger.Info("LED manager stopped")
}

// State returns the last state set.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) set(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.controller.Set(state); err != nil {
		m.logger.Warn("Failed to set LED", "state", state, "error", err)
		return
	}
	m.state = state
	m.logger.Debug("LED state changed", "state", state)
}
