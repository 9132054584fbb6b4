// Package session implements the connection lifecycle of one peripheral: the
// state machine from Connecting through GATT discovery to an instantiated
// device, the exactly-once terminal notification, and the write-pending guard
// on top of the transport's characteristic-matched acknowledgements.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/uuids"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateInstantiatingDevice
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering-services"
	case StateDiscoveringCharacteristics:
		return "discovering-characteristics"
	case StateInstantiatingDevice:
		return "instantiating-device"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether the state machine can no longer move.
func (s State) terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Listener observes a session's lifecycle. OnOpen fires at most once, when
// the device is instantiated. OnTerminated fires exactly once per session
// that left Idle, with ErrClosedByUser for a clean user close; no events of
// any kind follow it.
type Listener struct {
	OnOpen       func(s *Session, dev registry.Device)
	OnTerminated func(s *Session, err error)
}

// Options configures a session.
type Options struct {
	// Kinds restricts device identification to the types that matched the
	// peripheral's advertisement. Nil considers every registered type.
	Kinds []registry.DeviceKind
	// ConnectTimeout bounds the time from Start to Open; zero disables it.
	ConnectTimeout time.Duration
}

// Session drives one peripheral from Connecting to an Open device. Transport
// callbacks arrive serialized on the transport queue; GATT operations may be
// issued from any goroutine, so shared state sits behind a mutex.
type Session struct {
	id         ID
	peripheral transport.PeripheralID
	tr         transport.Transport
	queue      *transport.SerialQueue
	registry   *registry.Registry
	listener   Listener
	opts       Options
	log        *logrus.Entry

	mu            sync.Mutex
	state         State
	serviceSet    registry.ServiceSet
	pendingChars  map[string]bool // service UUIDs awaiting characteristic discovery
	device        registry.Device
	pendingWrites map[string]bool
	connectTimer  *transport.QueueTimer
}

func newSession(id ID, peripheral transport.PeripheralID, tr transport.Transport, queue *transport.SerialQueue, reg *registry.Registry, listener Listener, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		id:         id,
		peripheral: peripheral,
		tr:         tr,
		queue:      queue,
		registry:   reg,
		listener:   listener,
		opts:       opts,
		log: logger.WithFields(logrus.Fields{
			"session": id,
			"device":  peripheral,
		}),
		state:         StateIdle,
		serviceSet:    make(registry.ServiceSet),
		pendingChars:  make(map[string]bool),
		pendingWrites: make(map[string]bool),
	}
}

// ID returns the session's handle.
func (s *Session) ID() ID { return s.id }

// Peripheral returns the peripheral this session is bound to.
func (s *Session) Peripheral() transport.PeripheralID { return s.peripheral }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the instantiated device once the session is Open.
func (s *Session) Device() registry.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Start initiates the connection. Valid only from Idle.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	if s.opts.ConnectTimeout > 0 {
		s.connectTimer = s.queue.AfterFunc(s.opts.ConnectTimeout, s.connectTimedOut)
	}
	s.mu.Unlock()

	s.log.Info("Connecting")
	if err := s.tr.Connect(s.peripheral); err != nil {
		s.terminate(StateFailed, fmt.Errorf("connect: %w", err))
		return err
	}
	return nil
}

// connectTimedOut fires on the transport queue. The timer is stopped on every
// terminal transition and on reaching Open, but a fire can already be in
// flight, so the state is re-checked here.
func (s *Session) connectTimedOut() {
	s.mu.Lock()
	late := s.state.terminal() || s.state == StateOpen || s.state == StateIdle
	s.mu.Unlock()
	if late {
		return
	}
	s.log.Warn("Session timed out before opening")
	s.terminate(StateFailed, ErrConnectTimeout)
}

// Close ends the session from the application side. Closing a session that
// already terminated is a logged no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		s.log.Debug("Close on terminated session ignored")
		return
	}
	s.mu.Unlock()
	s.terminate(StateClosed, ErrClosedByUser)
}

// HandleConnected advances to service discovery. Runs on the transport queue.
func (s *Session) HandleConnected() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		s.log.WithField("state", s.State()).Debug("Ignoring connect event in current state")
		return
	}
	s.state = StateDiscoveringServices
	s.mu.Unlock()

	s.log.Debug("Connected, discovering services")
	if err := s.tr.DiscoverServices(s.peripheral); err != nil {
		s.terminate(StateFailed, fmt.Errorf("discover services: %w", err))
	}
}

// HandleConnectFailed terminates the session. Runs on the transport queue.
func (s *Session) HandleConnectFailed(err error) {
	s.terminate(StateFailed, fmt.Errorf("connect failed: %w", err))
}

// HandleDisconnected terminates the session: Closed when the link dropped
// after Open, Failed when it dropped during startup. Runs on the transport
// queue.
func (s *Session) HandleDisconnected(err error) {
	s.mu.Lock()
	wasOpen := s.state == StateOpen
	s.mu.Unlock()

	if err == nil {
		err = fmt.Errorf("peripheral disconnected")
	} else {
		err = fmt.Errorf("peripheral disconnected: %w", err)
	}
	if wasOpen {
		s.terminate(StateClosed, err)
	} else {
		s.terminate(StateFailed, err)
	}
}

// HandleServicesDiscovered starts characteristic discovery for every
// discovered service. Runs on the transport queue.
func (s *Session) HandleServicesDiscovered(services []transport.Service, err error) {
	if err != nil {
		s.terminate(StateFailed, fmt.Errorf("service discovery: %w", err))
		return
	}

	s.mu.Lock()
	if s.state != StateDiscoveringServices {
		s.mu.Unlock()
		return
	}
	if len(services) == 0 {
		s.mu.Unlock()
		s.terminate(StateFailed, fmt.Errorf("peripheral exposes no services: %w", registry.ErrNoMatchingDeviceType))
		return
	}
	s.state = StateDiscoveringCharacteristics
	for _, svc := range services {
		s.pendingChars[uuids.Normalize(svc.UUID)] = true
	}
	s.mu.Unlock()

	s.log.WithField("count", len(services)).Debug("Services discovered")
	for _, svc := range services {
		if derr := s.tr.DiscoverCharacteristics(s.peripheral, svc.UUID); derr != nil {
			s.terminate(StateFailed, fmt.Errorf("discover characteristics %s: %w", svc.UUID, derr))
			return
		}
	}
}

// HandleCharacteristicsDiscovered records one service's characteristics.
// Device instantiation happens exactly once, after the last outstanding
// service reports. Runs on the transport queue.
func (s *Session) HandleCharacteristicsDiscovered(serviceUUID string, chars []transport.Characteristic, err error) {
	if err != nil {
		s.terminate(StateFailed, fmt.Errorf("characteristic discovery %s: %w", serviceUUID, err))
		return
	}

	normalized := uuids.Normalize(serviceUUID)
	s.mu.Lock()
	if s.state != StateDiscoveringCharacteristics || !s.pendingChars[normalized] {
		s.mu.Unlock()
		return
	}
	delete(s.pendingChars, normalized)
	s.serviceSet[normalized] = chars
	done := len(s.pendingChars) == 0
	if done {
		s.state = StateInstantiatingDevice
	}
	s.mu.Unlock()

	if !done {
		return
	}
	s.instantiate()
}

func (s *Session) instantiate() {
	s.mu.Lock()
	services := s.serviceSet
	kinds := s.opts.Kinds
	s.mu.Unlock()

	dev, err := s.registry.Instantiate(kinds, services, sessionPort{s})
	if err != nil {
		s.terminate(StateFailed, fmt.Errorf("device instantiation: %w", err))
		return
	}

	s.mu.Lock()
	if s.state != StateInstantiatingDevice {
		// Terminated while instantiating; release the device.
		s.mu.Unlock()
		dev.Close()
		return
	}
	s.device = dev
	s.state = StateOpen
	timer := s.connectTimer
	s.connectTimer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.log.WithField("kind", dev.Kind()).Info("Session open")
	if s.listener.OnOpen != nil {
		s.listener.OnOpen(s, dev)
	}
}

// HandleValueUpdated forwards a read response or notification to the device.
// Runs on the transport queue.
func (s *Session) HandleValueUpdated(charUUID string, value []byte, err error) {
	s.mu.Lock()
	dev := s.device
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || dev == nil {
		s.log.WithField("char", uuids.Shorten(charUUID)).Debug("Dropping value update outside open session")
		return
	}
	dev.HandleValueUpdate(uuids.Normalize(charUUID), value, err)
}

// HandleValueWritten clears the write-pending guard and forwards the
// acknowledgement. Runs on the transport queue.
func (s *Session) HandleValueWritten(charUUID string, err error) {
	normalized := uuids.Normalize(charUUID)
	s.mu.Lock()
	delete(s.pendingWrites, normalized)
	dev := s.device
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || dev == nil {
		return
	}
	dev.HandleWriteResult(normalized, err)
}

// HandleNotificationStateChanged logs notification state outcomes; failures
// surface to the device as value-update errors on the characteristic.
func (s *Session) HandleNotificationStateChanged(charUUID string, enabled bool, err error) {
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"char":    uuids.Shorten(charUUID),
			"enabled": enabled,
		}).WithError(err).Warn("Notification state change failed")
		s.HandleValueUpdated(charUUID, nil, err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"char":    uuids.Shorten(charUUID),
		"enabled": enabled,
	}).Debug("Notification state changed")
}

// terminate moves the session to a terminal state, releases its resources,
// and delivers the exactly-once terminal notification.
func (s *Session) terminate(state State, err error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	wasStarted := s.state != StateIdle
	s.state = state
	dev := s.device
	s.device = nil
	timer := s.connectTimer
	s.connectTimer = nil
	s.pendingWrites = make(map[string]bool)
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancelErr := s.tr.CancelConnection(s.peripheral); cancelErr != nil {
		s.log.WithError(cancelErr).Debug("Cancel connection failed")
	}
	if dev != nil {
		dev.Close()
	}

	entry := s.log.WithField("state", state)
	if state == StateFailed {
		entry.WithError(err).Warn("Session failed")
	} else {
		entry.Info("Session closed")
	}

	if wasStarted && s.listener.OnTerminated != nil {
		s.listener.OnTerminated(s, err)
	}
}

// sessionPort adapts a session into the registry.Port its device writes
// through.
type sessionPort struct {
	s *Session
}

func (p sessionPort) Read(charUUID string) error {
	if err := p.s.requireOpen(); err != nil {
		return err
	}
	return p.s.tr.ReadValue(p.s.peripheral, charUUID)
}

func (p sessionPort) Write(charUUID string, value []byte, mode transport.WriteMode) error {
	normalized := uuids.Normalize(charUUID)
	p.s.mu.Lock()
	if p.s.state != StateOpen && p.s.state != StateInstantiatingDevice {
		p.s.mu.Unlock()
		return ErrSessionNotOpen
	}
	if mode == transport.WriteWithResponse {
		if p.s.pendingWrites[normalized] {
			p.s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrWritePending, uuids.Shorten(charUUID))
		}
		p.s.pendingWrites[normalized] = true
	}
	p.s.mu.Unlock()

	err := p.s.tr.WriteValue(p.s.peripheral, charUUID, value, mode)
	if err != nil && mode == transport.WriteWithResponse {
		p.s.mu.Lock()
		delete(p.s.pendingWrites, normalized)
		p.s.mu.Unlock()
	}
	return err
}

func (p sessionPort) SetNotify(charUUID string, enabled bool) error {
	if err := p.s.requireOpen(); err != nil {
		return err
	}
	return p.s.tr.SetNotify(p.s.peripheral, charUUID, enabled)
}

// requireOpen admits operations during Open and during device instantiation,
// where factories subscribe to their characteristics.
func (s *Session) requireOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen && s.state != StateInstantiatingDevice {
		return ErrSessionNotOpen
	}
	return nil
}
