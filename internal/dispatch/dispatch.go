// Package dispatch fans decoded sensor and gesture events out to application
// listeners. Publishing never blocks the transport queue: events land in a
// drop-oldest ring and a dedicated worker goroutine delivers them, so a slow
// listener costs stale events, not connection stalls.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/protocol"
	"github.com/srg/wearlink/internal/ringchan"
)

// Listener receives delivered events. Nil members are skipped. The aggregate
// OnSensorData sees every record; the per-shape members additionally fire for
// each sample of their shape, and the per-sensor members for each sample of
// their sensor.
type Listener struct {
	OnSensorData func(protocol.SensorData)
	OnVector     func(id protocol.SensorID, ts protocol.SensorTimestamp, v protocol.Vector)
	OnQuaternion func(id protocol.SensorID, ts protocol.SensorTimestamp, q protocol.Quaternion)
	OnRaw        func(id protocol.SensorID, ts protocol.SensorTimestamp, payload []byte)

	OnAccelerometer func(ts protocol.SensorTimestamp, v protocol.Vector)
	OnMagnetometer  func(ts protocol.SensorTimestamp, v protocol.Vector)
	OnGyroscope     func(ts protocol.SensorTimestamp, v protocol.Vector)
	OnOrientation   func(ts protocol.SensorTimestamp, v protocol.Vector)

	OnRotation     func(ts protocol.SensorTimestamp, q protocol.Quaternion)
	OnGameRotation func(ts protocol.SensorTimestamp, q protocol.Quaternion)

	OnUncalibratedMagnetometer func(ts protocol.SensorTimestamp, v, bias protocol.Vector)

	OnGesture func(ev protocol.GestureEvent)
	OnError   func(err error)
}

// Subscription is a cancellable listener registration.
type Subscription struct {
	d  *Dispatcher
	id uint64
}

// Cancel removes the listener. Events already in flight may still be
// delivered to it.
func (s *Subscription) Cancel() {
	s.d.listeners.Del(s.id)
}

type event struct {
	sensor  *protocol.SensorData
	gesture *protocol.GestureEvent
	err     error
}

// Dispatcher owns one delivery worker and its event ring.
type Dispatcher struct {
	listeners *hashmap.Map[uint64, *Listener]
	nextID    atomic.Uint64
	ring      *ringchan.Ring[event]
	logger    *logrus.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a dispatcher and starts its worker. buffer sizes the event
// ring.
func New(buffer int, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Dispatcher{
		listeners: hashmap.New[uint64, *Listener](),
		ring:      ringchan.New[event](buffer),
		logger:    logger,
		done:      make(chan struct{}),
	}
	groutine.Go(context.Background(), "event-dispatch", d.run)
	return d
}

// Subscribe registers a listener for all subsequent events.
func (d *Dispatcher) Subscribe(l Listener) *Subscription {
	id := d.nextID.Add(1)
	d.listeners.Set(id, &l)
	return &Subscription{d: d, id: id}
}

// PublishSensorData enqueues a decoded sensor record for delivery. Safe to
// call from the transport queue; never blocks.
func (d *Dispatcher) PublishSensorData(data protocol.SensorData) {
	if dropped := d.publish(event{sensor: &data}); dropped {
		d.logger.Warn("Event ring full, dropped oldest sensor event")
	}
}

// PublishGesture enqueues a gesture event for delivery.
func (d *Dispatcher) PublishGesture(ev protocol.GestureEvent) {
	if dropped := d.publish(event{gesture: &ev}); dropped {
		d.logger.Warn("Event ring full, dropped oldest gesture event")
	}
}

// PublishError enqueues a stream error for delivery.
func (d *Dispatcher) PublishError(err error) {
	if err == nil {
		return
	}
	d.publish(event{err: err})
}

// publish guards the ring against concurrent Close: a transport callback can
// still fire while the owner tears the dispatcher down, and those late events
// are dropped rather than sent on a closed channel.
func (d *Dispatcher) publish(ev event) (dropped bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Debug("Dispatcher closed, event discarded")
		return false
	}
	return d.ring.Send(ev)
}

// Close stops the worker after draining what is already queued. Publishing
// after Close is a logged no-op. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.ring.Close()
	<-d.done
}

func (d *Dispatcher) run(_ context.Context) {
	defer close(d.done)
	for ev := range d.ring.C() {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.listeners.Range(func(_ uint64, l *Listener) bool {
		switch {
		case ev.sensor != nil:
			d.deliverSensor(l, *ev.sensor)
		case ev.gesture != nil:
			if l.OnGesture != nil {
				l.OnGesture(*ev.gesture)
			}
		case ev.err != nil:
			if l.OnError != nil {
				l.OnError(ev.err)
			}
		}
		return true
	})
}

func (d *Dispatcher) deliverSensor(l *Listener, data protocol.SensorData) {
	if l.OnSensorData != nil {
		l.OnSensorData(data)
	}
	for _, sample := range data.Samples {
		switch sample.Kind {
		case protocol.SampleVector, protocol.SampleVectorBias:
			if l.OnVector != nil {
				l.OnVector(sample.ID, sample.Timestamp, sample.Vector)
			}
		case protocol.SampleQuaternion:
			if l.OnQuaternion != nil {
				l.OnQuaternion(sample.ID, sample.Timestamp, sample.Quaternion)
			}
		case protocol.SampleRaw:
			if l.OnRaw != nil {
				l.OnRaw(sample.ID, sample.Timestamp, sample.Raw)
			}
		}
		deliverSample(l, sample)
	}
}

// deliverSample routes one sample to its per-sensor callback. The shape guard
// keeps a malformed record from reaching a callback with zeroed fields.
func deliverSample(l *Listener, sample protocol.SensorSample) {
	switch sample.ID {
	case protocol.SensorAccelerometer:
		if l.OnAccelerometer != nil && sample.Kind == protocol.SampleVector {
			l.OnAccelerometer(sample.Timestamp, sample.Vector)
		}
	case protocol.SensorMagnetometer:
		if l.OnMagnetometer != nil && sample.Kind == protocol.SampleVector {
			l.OnMagnetometer(sample.Timestamp, sample.Vector)
		}
	case protocol.SensorGyroscope:
		if l.OnGyroscope != nil && sample.Kind == protocol.SampleVector {
			l.OnGyroscope(sample.Timestamp, sample.Vector)
		}
	case protocol.SensorOrientation:
		if l.OnOrientation != nil && sample.Kind == protocol.SampleVector {
			l.OnOrientation(sample.Timestamp, sample.Vector)
		}
	case protocol.SensorRotation:
		if l.OnRotation != nil && sample.Kind == protocol.SampleQuaternion {
			l.OnRotation(sample.Timestamp, sample.Quaternion)
		}
	case protocol.SensorGameRotation:
		if l.OnGameRotation != nil && sample.Kind == protocol.SampleQuaternion {
			l.OnGameRotation(sample.Timestamp, sample.Quaternion)
		}
	case protocol.SensorUncalibratedMagnetometer:
		if l.OnUncalibratedMagnetometer != nil && sample.Kind == protocol.SampleVectorBias {
			l.OnUncalibratedMagnetometer(sample.Timestamp, sample.Vector, sample.Bias)
		}
	}
}
