package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// DispatcherFactory builds the protocol dispatcher for a newly connected
// device. It decides the command registry and sizing for that connection.
type DispatcherFactory func(info DeviceInfo) (*hidio.Dispatcher, error)

// Manager handles the lifecycle of every connected HID-IO device.
type Manager struct {
	nodes      map[string]*Node // serial -> node
	mu         sync.RWMutex
	enumerator Enumerator
	opener     EndpointOpener
	factory    DispatcherFactory
}

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*Manager)

// WithEnumerator sets a custom device enumerator for testing.
func WithEnumerator(fn Enumerator) ManagerOption {
	return func(m *Manager) {
		m.enumerator = fn
	}
}

// WithOpener sets a custom endpoint opener for testing.
func WithOpener(fn EndpointOpener) ManagerOption {
	return func(m *Manager) {
		m.opener = fn
	}
}

// NewManager creates a device manager; factory builds the dispatcher for
// each device that appears.
func NewManager(factory DispatcherFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		nodes:      make(map[string]*Node),
		enumerator: Enumerate,
		opener:     defaultOpener,
		factory:    factory,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// defaultOpener wraps Open to match the expected signature.
func defaultOpener(serial string) (Endpoint, error) {
	return Open(serial)
}

// ListDevices returns information about all connected devices.
func (m *Manager) ListDevices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(m.nodes))
	for _, n := range m.nodes {
		infos = append(infos, n.Info())
	}
	return infos
}

// GetNode returns a device connection by serial number.
func (m *Manager) GetNode(serial string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[serial]
	if !ok {
		return nil, fmt.Errorf("device with serial %s not found", serial)
	}
	return node, nil
}

// RefreshDevices re-enumerates connected devices and updates the internal
// state. It opens pipelines for new devices and tears down vanished ones.
func (m *Manager) RefreshDevices() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.enumerator()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}

	currentSerials := make(map[string]DeviceInfo)
	for _, info := range current {
		currentSerials[info.Serial] = info
	}

	// Tear down disconnected devices
	for serial, node := range m.nodes {
		if _, exists := currentSerials[serial]; !exists {
			log.Info().Str("serial", serial).Msg("Device disconnected")
			if err := node.Close(); err != nil {
				log.Warn().Err(err).Str("serial", serial).Msg("Failed to close disconnected device")
			}
			delete(m.nodes, serial)
		}
	}

	// Open pipelines for new devices
	for serial, info := range currentSerials {
		if _, exists := m.nodes[serial]; !exists {
			ep, err := m.opener(serial)
			if err != nil {
				log.Error().Err(err).Str("serial", serial).Msg("Failed to open device")
				continue
			}
			disp, err := m.factory(ep.Info())
			if err != nil {
				log.Error().Err(err).Str("serial", serial).Msg("Failed to build dispatcher")
				_ = ep.Close()
				continue
			}
			node := NewNode(ep, disp)
			node.Start(context.Background())
			m.nodes[serial] = node
			log.Info().Str("serial", serial).Str("product", info.Product).Msg("Device connected")
		}
	}

	return nil
}

// Close tears down all device pipelines.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for serial, node := range m.nodes {
		if err := node.Close(); err != nil {
			log.Error().Err(err).Str("serial", serial).Msg("Failed to close device")
		}
		delete(m.nodes, serial)
	}
	return nil
}

// Count returns the number of connected devices.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
