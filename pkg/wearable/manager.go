package wearable

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/session"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/pkg/config"
	"github.com/srg/wearlink/scanner"
)

// Manager is the explicit context object of the stack: it owns the device
// type table, the discovery engine, and the live sessions for one transport.
// There is no package-level singleton; construct as many managers as there
// are radios.
type Manager struct {
	cfg    *config.Config
	tr     transport.Transport
	queue  *transport.SerialQueue
	logger *logrus.Logger

	types    *registry.Registry
	scanner  *scanner.Scanner
	sessions *session.Registry
}

// NewManager wires a manager onto a transport and its serial queue. It
// installs the transport callbacks; nothing else may call SetCallbacks on the
// same transport.
func NewManager(cfg *config.Config, tr transport.Transport, queue *transport.SerialQueue, logger *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	types := registry.New(logger)
	m := &Manager{
		cfg:      cfg,
		tr:       tr,
		queue:    queue,
		logger:   logger,
		types:    types,
		scanner:  scanner.New(tr, queue, types, logger),
		sessions: session.NewRegistry(tr, queue, types, logger),
	}
	tr.SetCallbacks(m.sessions.Callbacks(m.scanner.HandleAdvertisement))
	return m
}

// RegisterDeviceType adds a device type to the identification table. Register
// everything before discovery starts.
func (m *Manager) RegisterDeviceType(desc registry.Descriptor) error {
	return m.types.Register(desc)
}

// RegisterWearableType registers the standard wearable sensor device type.
func (m *Manager) RegisterWearableType() error {
	return m.RegisterDeviceType(Descriptor(m.cfg.EventBuffer, m.logger))
}

// StartDiscovery begins scanning with the configured cutoff and removal
// timeout.
func (m *Manager) StartDiscovery() error {
	return m.scanner.Start(&scanner.Options{
		RSSICutoff:     m.cfg.RSSICutoff,
		RemovalTimeout: m.cfg.RemovalTimeout,
		EventBuffer:    m.cfg.EventBuffer,
	})
}

// StopDiscovery ends the scan session.
func (m *Manager) StopDiscovery() error {
	return m.scanner.Stop()
}

// DiscoveryEvents returns the event stream of the current discovery session.
func (m *Manager) DiscoveryEvents() <-chan scanner.DeviceEvent {
	return m.scanner.Events()
}

// DiscoveredDevices returns a snapshot of the currently visible devices.
func (m *Manager) DiscoveredDevices() []scanner.DiscoveredDevice {
	return m.scanner.Devices()
}

// OpenSession connects to a peripheral and drives it to an instantiated
// device. When the peripheral is in the discovery registry, identification is
// restricted to the kinds its advertisement matched.
func (m *Manager) OpenSession(peripheral transport.PeripheralID, listener session.Listener) (session.ID, error) {
	opts := session.Options{ConnectTimeout: m.cfg.ConnectTimeout}
	if dev, ok := m.scanner.Device(peripheral); ok {
		opts.Kinds = dev.MatchedKinds
	}
	return m.sessions.Open(peripheral, listener, opts)
}

// Session resolves a session handle. Disposed handles return false.
func (m *Manager) Session(id session.ID) (*session.Session, bool) {
	return m.sessions.Get(id)
}

// CloseSession ends a session. A disposed handle is a logged no-op.
func (m *Manager) CloseSession(id session.ID) {
	m.sessions.Close(id)
}

// Close shuts the manager down: discovery stops, every session closes, and
// the serial queue drains. The transport itself belongs to the caller.
func (m *Manager) Close() {
	if err := m.scanner.Stop(); err != nil {
		m.logger.WithError(err).Warn("Stopping discovery during shutdown")
	}
	m.sessions.CloseAll()
	m.queue.Close()
}
