package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/transport"
)

// ID is an opaque session handle. Handles are never reused, so an operation
// against a disposed session resolves to nothing instead of hitting a
// successor session by accident.
type ID uint64

// Registry owns the live sessions. Handles are handed to the application;
// transport callbacks are routed back by peripheral identity. Sessions remove
// themselves on termination, so a stale handle is a logged no-op, never a
// dangling pointer.
type Registry struct {
	tr     transport.Transport
	queue  *transport.SerialQueue
	types  *registry.Registry
	logger *logrus.Logger

	mu           sync.RWMutex
	next         ID
	sessions     map[ID]*Session
	byPeripheral map[transport.PeripheralID]ID
}

// NewRegistry creates an empty session registry.
func NewRegistry(tr transport.Transport, queue *transport.SerialQueue, types *registry.Registry, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		tr:           tr,
		queue:        queue,
		types:        types,
		logger:       logger,
		sessions:     make(map[ID]*Session),
		byPeripheral: make(map[transport.PeripheralID]ID),
	}
}

// Open creates and starts a session for a peripheral. Only one session per
// peripheral may be live; a second Open for the same peripheral returns the
// transport's connect error path instead of silently joining.
func (r *Registry) Open(peripheral transport.PeripheralID, listener Listener, opts Options) (ID, error) {
	r.mu.Lock()
	if existing, ok := r.byPeripheral[peripheral]; ok {
		r.mu.Unlock()
		r.logger.WithFields(logrus.Fields{
			"device":  peripheral,
			"session": existing,
		}).Warn("Session already live for peripheral")
		return 0, ErrAlreadyStarted
	}
	r.next++
	id := r.next

	wrapped := Listener{
		OnOpen: listener.OnOpen,
		OnTerminated: func(s *Session, err error) {
			r.drop(s.ID())
			if listener.OnTerminated != nil {
				listener.OnTerminated(s, err)
			}
		},
	}

	s := newSession(id, peripheral, r.tr, r.queue, r.types, wrapped, opts, r.logger)
	r.sessions[id] = s
	r.byPeripheral[peripheral] = id
	r.mu.Unlock()

	if err := s.Start(); err != nil {
		return 0, err
	}
	return id, nil
}

// Get resolves a handle. A disposed handle returns false.
func (r *Registry) Get(id ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ByPeripheral resolves the live session for a peripheral.
func (r *Registry) ByPeripheral(peripheral transport.PeripheralID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPeripheral[peripheral]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// Close ends a session by handle. A disposed handle is a logged no-op.
func (r *Registry) Close(id ID) {
	s, ok := r.Get(id)
	if !ok {
		r.logger.WithField("session", id).Debug("Close on disposed session ignored")
		return
	}
	s.Close()
}

// CloseAll ends every live session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		s.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) drop(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	if r.byPeripheral[s.Peripheral()] == id {
		delete(r.byPeripheral, s.Peripheral())
	}
}

// Callbacks builds the transport callback set that routes connection events
// to their sessions. The discovery callback is the scanner's; it is passed in
// so the application wires one callback set for the whole stack.
func (r *Registry) Callbacks(onDiscovered func(transport.PeripheralID, transport.Advertisement, int)) transport.Callbacks {
	route := func(id transport.PeripheralID) (*Session, bool) {
		s, ok := r.ByPeripheral(id)
		if !ok {
			r.logger.WithField("device", id).Debug("Transport event for unknown peripheral dropped")
		}
		return s, ok
	}

	return transport.Callbacks{
		OnDiscovered: onDiscovered,
		OnConnected: func(id transport.PeripheralID) {
			if s, ok := route(id); ok {
				s.HandleConnected()
			}
		},
		OnConnectFailed: func(id transport.PeripheralID, err error) {
			if s, ok := route(id); ok {
				s.HandleConnectFailed(err)
			}
		},
		OnDisconnected: func(id transport.PeripheralID, err error) {
			if s, ok := route(id); ok {
				s.HandleDisconnected(err)
			}
		},
		OnServicesDiscovered: func(id transport.PeripheralID, services []transport.Service, err error) {
			if s, ok := route(id); ok {
				s.HandleServicesDiscovered(services, err)
			}
		},
		OnCharacteristicsDiscovered: func(id transport.PeripheralID, serviceUUID string, chars []transport.Characteristic, err error) {
			if s, ok := route(id); ok {
				s.HandleCharacteristicsDiscovered(serviceUUID, chars, err)
			}
		},
		OnValueUpdated: func(id transport.PeripheralID, charUUID string, value []byte, err error) {
			if s, ok := route(id); ok {
				s.HandleValueUpdated(charUUID, value, err)
			}
		},
		OnNotificationStateChanged: func(id transport.PeripheralID, charUUID string, enabled bool, err error) {
			if s, ok := route(id); ok {
				s.HandleNotificationStateChanged(charUUID, enabled, err)
			}
		},
		OnValueWritten: func(id transport.PeripheralID, charUUID string, err error) {
			if s, ok := route(id); ok {
				s.HandleValueWritten(charUUID, err)
			}
		},
	}
}
