// Package scanner implements BLE device discovery: advertisement filtering by
// signal strength and device-type identification rules, a liveness-timeout
// registry of currently visible devices, and an Added/Updated/Removed event
// stream.
package scanner

import (
	"errors"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/ringchan"
	"github.com/srg/wearlink/internal/transport"
)

// ErrScanInProgress is returned by Start while a discovery session is already
// active. Concurrent sessions are never merged silently.
var ErrScanInProgress = errors.New("scan already in progress")

// DeviceEventType marks how a device's registry entry changed.
type DeviceEventType int

const (
	EventAdded DeviceEventType = iota
	EventUpdated
	EventRemoved
)

func (t DeviceEventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DiscoveredDevice is one currently-visible peripheral: its transport
// identity, the latest advertisement snapshot, signal strength, and the
// device kinds whose advertisement rules matched it. Entries are keyed by
// peripheral identity, never by advertisement content.
type DiscoveredDevice struct {
	ID            transport.PeripheralID
	Advertisement transport.Advertisement
	RSSI          int
	MatchedKinds  []registry.DeviceKind
	LastSeen      time.Time
}

// DeviceEvent is one discovery registry change. Device is a snapshot taken at
// emission; later advertisements do not mutate it.
type DeviceEvent struct {
	Type   DeviceEventType
	Device DiscoveredDevice
}

// Options configures a discovery session.
type Options struct {
	// RSSICutoff rejects advertisements at or below this signal strength.
	RSSICutoff int
	// RemovalTimeout removes a device that has not advertised for this long.
	RemovalTimeout time.Duration
	// ServiceUUIDs optionally narrows the transport-level scan filter. The
	// registry's identification rules still apply on top.
	ServiceUUIDs []string
	// EventBuffer sizes the event ring; oldest events are dropped on overflow.
	EventBuffer int
}

// DefaultOptions returns the discovery defaults.
func DefaultOptions() *Options {
	return &Options{
		RSSICutoff:     -90,
		RemovalTimeout: 10 * time.Second,
		EventBuffer:    100,
	}
}

// Scanner is the discovery engine. All state mutation happens on the
// transport serial queue: Start and Stop marshal onto it, removal timers fire
// on it, and HandleAdvertisement must be invoked from it (the manager wires
// it up as the transport's OnDiscovered callback).
type Scanner struct {
	tr       transport.Transport
	queue    *transport.SerialQueue
	registry *registry.Registry
	logger   *logrus.Logger

	devices *hashmap.Map[transport.PeripheralID, *DiscoveredDevice]
	timers  map[transport.PeripheralID]*transport.QueueTimer
	events  *ringchan.Ring[DeviceEvent]

	opts     *Options
	scanning bool
}

// New creates a scanner bound to a transport and its serial queue.
func New(tr transport.Transport, queue *transport.SerialQueue, reg *registry.Registry, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		tr:       tr,
		queue:    queue,
		registry: reg,
		logger:   logger,
		devices:  hashmap.New[transport.PeripheralID, *DiscoveredDevice](),
		timers:   make(map[transport.PeripheralID]*transport.QueueTimer),
	}
}

// Start begins a discovery session with a fresh device registry and event
// stream. Only one session may be active at a time.
func (s *Scanner) Start(opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}

	var err error
	ok := s.queue.DispatchSync(func() {
		if s.scanning {
			err = ErrScanInProgress
			return
		}
		s.scanning = true
		s.opts = opts
		s.devices = hashmap.New[transport.PeripheralID, *DiscoveredDevice]()
		s.timers = make(map[transport.PeripheralID]*transport.QueueTimer)
		s.events = ringchan.New[DeviceEvent](opts.EventBuffer)
	})
	if !ok {
		return errors.New("transport queue closed")
	}
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"rssi_cutoff":     opts.RSSICutoff,
		"removal_timeout": opts.RemovalTimeout,
	}).Info("Starting BLE discovery")

	if scanErr := s.tr.ScanForPeripherals(opts.ServiceUUIDs); scanErr != nil {
		s.queue.DispatchSync(func() { s.scanning = false })
		return scanErr
	}
	return nil
}

// Stop ends the discovery session. Stopping an inactive scanner is a no-op.
// The device registry survives Stop so callers can still inspect what was
// found; the next Start replaces it.
func (s *Scanner) Stop() error {
	var (
		wasScanning bool
		deviceCount int
	)
	s.queue.DispatchSync(func() {
		wasScanning = s.scanning
		s.scanning = false
		deviceCount = s.devices.Len()
		for id, timer := range s.timers {
			timer.Stop()
			delete(s.timers, id)
		}
	})
	if !wasScanning {
		return nil
	}

	s.logger.WithField("device_count", deviceCount).Info("BLE discovery stopped")
	return s.tr.StopScan()
}

// HandleAdvertisement processes one received advertisement. Must run on the
// serial queue.
func (s *Scanner) HandleAdvertisement(id transport.PeripheralID, adv transport.Advertisement, rssi int) {
	if !s.scanning {
		return
	}
	if rssi <= s.opts.RSSICutoff || rssi == transport.RSSIUnknown {
		return
	}

	kinds := s.registry.MatchAdvertisement(adv)
	if len(kinds) == 0 {
		return
	}

	now := time.Now()
	dev, existing := s.devices.Get(id)
	if existing {
		dev.Advertisement = adv
		dev.RSSI = rssi
		dev.MatchedKinds = kinds
		dev.LastSeen = now
	} else {
		dev = &DiscoveredDevice{
			ID:            id,
			Advertisement: adv,
			RSSI:          rssi,
			MatchedKinds:  kinds,
			LastSeen:      now,
		}
		s.devices.Set(id, dev)
		s.logger.WithFields(logrus.Fields{
			"device": id,
			"name":   adv.LocalName,
			"rssi":   rssi,
			"kinds":  kinds,
		}).Info("Discovered new device")
	}

	s.resetRemovalTimer(id)

	event := DeviceEvent{Type: EventUpdated, Device: *dev}
	if !existing {
		event.Type = EventAdded
	}
	s.events.Send(event)
}

// resetRemovalTimer re-arms the liveness timer for a device. Runs on the
// serial queue.
func (s *Scanner) resetRemovalTimer(id transport.PeripheralID) {
	if timer, ok := s.timers[id]; ok {
		timer.Reset(s.opts.RemovalTimeout)
		return
	}
	s.timers[id] = s.queue.AfterFunc(s.opts.RemovalTimeout, func() {
		s.expire(id)
	})
}

// expire removes a device whose liveness timeout elapsed. Runs on the serial
// queue. Re-validates expiry against LastSeen: a stopped timer's fire can
// already be in flight when an advertisement re-arms it.
func (s *Scanner) expire(id transport.PeripheralID) {
	if !s.scanning {
		return
	}
	dev, ok := s.devices.Get(id)
	if !ok {
		return
	}
	if time.Since(dev.LastSeen) < s.opts.RemovalTimeout {
		return // advertisement raced the timer
	}

	s.devices.Del(id)
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}

	s.logger.WithField("device", id).Info("Device removed after liveness timeout")
	s.events.Send(DeviceEvent{Type: EventRemoved, Device: *dev})
}

// Devices returns a snapshot of the currently visible devices. The copy is
// taken on the serial queue, so it is consistent even during an active scan.
// Must not be called from the queue itself.
func (s *Scanner) Devices() []DiscoveredDevice {
	var out []DiscoveredDevice
	s.queue.DispatchSync(func() {
		out = make([]DiscoveredDevice, 0, s.devices.Len())
		s.devices.Range(func(_ transport.PeripheralID, dev *DiscoveredDevice) bool {
			out = append(out, *dev)
			return true
		})
	})
	return out
}

// Device returns the registry entry for a peripheral, if visible. Snapshots
// on the serial queue like Devices.
func (s *Scanner) Device(id transport.PeripheralID) (DiscoveredDevice, bool) {
	var (
		out   DiscoveredDevice
		found bool
	)
	s.queue.DispatchSync(func() {
		if dev, ok := s.devices.Get(id); ok {
			out = *dev
			found = true
		}
	})
	return out, found
}

// Events returns the discovery event stream for the current session, or nil
// before the first Start. A new session replaces the stream.
func (s *Scanner) Events() <-chan DeviceEvent {
	var ch <-chan DeviceEvent
	s.queue.DispatchSync(func() {
		if s.events != nil {
			ch = s.events.C()
		}
	})
	return ch
}
