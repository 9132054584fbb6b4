// Package goble is the reference transport adapter over github.com/go-ble/ble.
//
// go-ble's Client API is synchronous, while transport.Transport is
// asynchronous: every operation here only enqueues work onto a per-peripheral
// worker goroutine, and the outcome is delivered through the callbacks on the
// shared serial queue. The worker serializes the blocking GATT calls per
// peripheral, so request order is preserved end to end.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/uuids"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// opsDepth bounds queued per-peripheral operations before the issuing call
// blocks.
const opsDepth = 32

// Transport adapts a go-ble device to the transport.Transport interface.
type Transport struct {
	queue  *transport.SerialQueue
	logger *logrus.Logger
	cb     transport.Callbacks

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	conns      map[transport.PeripheralID]*connection
}

// New creates the adapter. The radio itself is opened lazily on the first
// scan or connect, so constructing a Transport never touches the platform.
func New(queue *transport.SerialQueue, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		queue:  queue,
		logger: logger,
		conns:  make(map[transport.PeripheralID]*connection),
	}
}

// SetCallbacks installs the event sinks. Must precede any operation.
func (t *Transport) SetCallbacks(cb transport.Callbacks) {
	t.cb = cb
}

// device lazily opens the platform radio.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("open BLE device: %w", normalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// dispatch hands an event to the serial queue. Events racing a queue shutdown
// are dropped, which is the expected outcome during teardown.
func (t *Transport) dispatch(fn func()) {
	if !t.queue.Dispatch(fn) && t.logger != nil {
		t.logger.Debug("Transport event dropped after queue close")
	}
}

// ScanForPeripherals starts advertisement delivery. When serviceUUIDs is
// non-empty, only advertisements carrying at least one of them are reported.
func (t *Transport) ScanForPeripherals(serviceUUIDs []string) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.scanCancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("scan already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.scanCancel = cancel
	t.mu.Unlock()

	filter := uuids.NormalizeAll(serviceUUIDs)

	groutine.Go(ctx, "goble-scan", func(scanCtx context.Context) {
		err := dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
			t.handleAdvertisement(adv, filter)
		})
		if err != nil && !errors.Is(err, context.Canceled) && t.logger != nil {
			t.logger.WithError(normalizeError(err)).Warn("BLE scan terminated")
		}
	})
	return nil
}

func (t *Transport) handleAdvertisement(adv ble.Advertisement, filter []string) {
	a := convertAdvertisement(adv)
	if len(filter) > 0 && !advertisesAny(a.ServiceUUIDs, filter) {
		return
	}
	id := transport.PeripheralID(adv.Addr().String())
	rssi := adv.RSSI()
	t.dispatch(func() {
		if t.cb.OnDiscovered != nil {
			t.cb.OnDiscovered(id, a, rssi)
		}
	})
}

func advertisesAny(advertised, filter []string) bool {
	for _, want := range filter {
		for _, have := range advertised {
			if have == want {
				return true
			}
		}
	}
	return false
}

func convertAdvertisement(adv ble.Advertisement) transport.Advertisement {
	a := transport.Advertisement{
		LocalName:        adv.LocalName(),
		ManufacturerData: adv.ManufacturerData(),
		Connectable:      adv.Connectable(),
	}
	for _, svc := range adv.Services() {
		a.ServiceUUIDs = append(a.ServiceUUIDs, uuids.Normalize(svc.String()))
	}
	if sd := adv.ServiceData(); len(sd) > 0 {
		a.ServiceData = make(map[string][]byte, len(sd))
		for _, entry := range sd {
			a.ServiceData[uuids.Normalize(entry.UUID.String())] = entry.Data
		}
	}
	// go-ble reports 127 when the advertisement carries no TX power field.
	if tx := adv.TxPowerLevel(); tx != 127 {
		a.TxPower = &tx
	}
	return a
}

// StopScan ends advertisement delivery. Stopping an idle transport is a
// no-op.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	cancel := t.scanCancel
	t.scanCancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Connect starts dialing the peripheral. The outcome arrives as OnConnected
// or OnConnectFailed.
func (t *Transport) Connect(id transport.PeripheralID) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if _, exists := t.conns[id]; exists {
		t.mu.Unlock()
		return fmt.Errorf("connection to %s already exists", id)
	}
	c := newConnection(t, id)
	t.conns[id] = c
	t.mu.Unlock()

	groutine.Go(context.Background(), "goble-peripheral-ops", c.run)
	c.enqueue(func() { c.dial(dev) })
	return nil
}

// CancelConnection tears the connection down. An in-flight dial is aborted;
// a live link is closed and OnDisconnected follows from the monitor.
func (t *Transport) CancelConnection(id transport.PeripheralID) error {
	c := t.conn(id)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	cancel := c.dialCancel
	client := c.client
	c.mu.Unlock()

	if client != nil {
		return normalizeError(client.CancelConnection())
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// DiscoverServices requests the peripheral's GATT service list.
func (t *Transport) DiscoverServices(id transport.PeripheralID) error {
	return t.op(id, func(c *connection) { c.discoverServices() })
}

// DiscoverCharacteristics requests the characteristics of one service.
func (t *Transport) DiscoverCharacteristics(id transport.PeripheralID, serviceUUID string) error {
	return t.op(id, func(c *connection) { c.discoverCharacteristics(serviceUUID) })
}

// ReadValue requests a characteristic read; the value arrives via
// OnValueUpdated.
func (t *Transport) ReadValue(id transport.PeripheralID, charUUID string) error {
	return t.op(id, func(c *connection) { c.read(charUUID) })
}

// WriteValue writes a characteristic. With-response writes always produce an
// OnValueWritten acknowledgement; without-response writes report only
// failures.
func (t *Transport) WriteValue(id transport.PeripheralID, charUUID string, value []byte, mode transport.WriteMode) error {
	return t.op(id, func(c *connection) { c.write(charUUID, value, mode) })
}

// SetNotify subscribes to or unsubscribes from characteristic notifications.
func (t *Transport) SetNotify(id transport.PeripheralID, charUUID string, enabled bool) error {
	return t.op(id, func(c *connection) { c.setNotify(charUUID, enabled) })
}

// Close stops scanning, tears down every connection, and releases the radio.
func (t *Transport) Close() error {
	_ = t.StopScan()

	t.mu.Lock()
	conns := make([]*connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	for _, c := range conns {
		_ = t.CancelConnection(c.id)
	}
	if dev != nil {
		return normalizeError(dev.Stop())
	}
	return nil
}

func (t *Transport) conn(id transport.PeripheralID) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[id]
}

func (t *Transport) dropConn(c *connection) {
	t.mu.Lock()
	if t.conns[c.id] == c {
		delete(t.conns, c.id)
	}
	t.mu.Unlock()
	c.shutdown()
}

// op enqueues a GATT operation on the peripheral's worker. Returns
// ErrNotConnected synchronously when there is no connection to run it on.
func (t *Transport) op(id transport.PeripheralID, fn func(*connection)) error {
	c := t.conn(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	if !c.enqueue(func() { fn(c) }) {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return nil
}

// connection holds the live go-ble client for one peripheral plus the
// discovered attribute handles, and owns the worker that serializes the
// blocking calls against it.
type connection struct {
	t  *Transport
	id transport.PeripheralID

	ops chan func()

	mu         sync.Mutex
	closed     bool
	dialCancel context.CancelFunc
	client     ble.Client
	services   map[string]*ble.Service
	chars      map[string]*ble.Characteristic
}

func newConnection(t *Transport, id transport.PeripheralID) *connection {
	return &connection{
		t:        t,
		id:       id,
		ops:      make(chan func(), opsDepth),
		services: make(map[string]*ble.Service),
		chars:    make(map[string]*ble.Characteristic),
	}
}

func (c *connection) run(_ context.Context) {
	for fn := range c.ops {
		fn()
	}
}

func (c *connection) enqueue(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ops <- fn
	return true
}

func (c *connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ops)
}

func (c *connection) log() *logrus.Entry {
	return c.t.logger.WithField("peripheral", c.id)
}

// dial runs as the first worker op; every later op is behind it in the
// channel, so nothing touches the client before the dial resolves.
func (c *connection) dial(dev ble.Device) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.dialCancel = cancel
	c.mu.Unlock()

	client, err := dev.Dial(ctx, ble.NewAddr(string(c.id)))

	c.mu.Lock()
	c.dialCancel = nil
	c.mu.Unlock()
	cancel()

	if err != nil {
		err = normalizeError(err)
		c.log().WithError(err).Debug("Dial failed")
		c.t.dropConn(c)
		c.t.dispatch(func() {
			if c.t.cb.OnConnectFailed != nil {
				c.t.cb.OnConnectFailed(c.id, err)
			}
		})
		return
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	groutine.Go(context.Background(), "goble-disconnect-monitor", func(_ context.Context) {
		<-client.Disconnected()
		c.log().Debug("Link reported disconnected")
		c.t.dropConn(c)
		c.t.dispatch(func() {
			if c.t.cb.OnDisconnected != nil {
				c.t.cb.OnDisconnected(c.id, nil)
			}
		})
	})

	c.log().Debug("Connected")
	c.t.dispatch(func() {
		if c.t.cb.OnConnected != nil {
			c.t.cb.OnConnected(c.id)
		}
	})
}

func (c *connection) discoverServices() {
	// Ops queued behind a failed dial can still reach the worker.
	if c.client == nil {
		c.t.dispatch(func() {
			if c.t.cb.OnServicesDiscovered != nil {
				c.t.cb.OnServicesDiscovered(c.id, nil, fmt.Errorf("%w: %s", ErrNotConnected, c.id))
			}
		})
		return
	}

	svcs, err := c.client.DiscoverServices(nil)
	err = normalizeError(err)

	var out []transport.Service
	if err == nil {
		for _, svc := range svcs {
			uuid := uuids.Normalize(svc.UUID.String())
			c.services[uuid] = svc
			out = append(out, transport.Service{UUID: uuid})
		}
	}
	c.t.dispatch(func() {
		if c.t.cb.OnServicesDiscovered != nil {
			c.t.cb.OnServicesDiscovered(c.id, out, err)
		}
	})
}

func (c *connection) discoverCharacteristics(serviceUUID string) {
	uuid := uuids.Normalize(serviceUUID)
	svc := c.services[uuid]

	var out []transport.Characteristic
	var err error
	if svc == nil {
		err = fmt.Errorf("%w: %s", ErrUnknownService, serviceUUID)
	} else {
		var chars []*ble.Characteristic
		chars, err = c.client.DiscoverCharacteristics(nil, svc)
		err = normalizeError(err)
		if err == nil {
			for _, ch := range chars {
				charUUID := uuids.Normalize(ch.UUID.String())
				// Descriptor discovery locates the CCCD; without it a later
				// Subscribe has nothing to write. Best-effort.
				if _, derr := c.client.DiscoverDescriptors(nil, ch); derr != nil {
					c.log().WithFields(logrus.Fields{
						"char":  uuids.Shorten(charUUID),
						"error": derr,
					}).Warn("Descriptor discovery failed")
				}
				c.chars[charUUID] = ch
				out = append(out, transport.Characteristic{UUID: charUUID, ServiceUUID: uuid})
			}
		}
	}

	c.t.dispatch(func() {
		if c.t.cb.OnCharacteristicsDiscovered != nil {
			c.t.cb.OnCharacteristicsDiscovered(c.id, uuid, out, err)
		}
	})
}

func (c *connection) characteristic(charUUID string) (*ble.Characteristic, string, error) {
	uuid := uuids.Normalize(charUUID)
	ch := c.chars[uuid]
	if ch == nil {
		return nil, uuid, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charUUID)
	}
	return ch, uuid, nil
}

func (c *connection) read(charUUID string) {
	ch, uuid, err := c.characteristic(charUUID)
	var value []byte
	if err == nil {
		value, err = c.client.ReadCharacteristic(ch)
		err = normalizeError(err)
	}
	c.t.dispatch(func() {
		if c.t.cb.OnValueUpdated != nil {
			c.t.cb.OnValueUpdated(c.id, uuid, value, err)
		}
	})
}

func (c *connection) write(charUUID string, value []byte, mode transport.WriteMode) {
	ch, uuid, err := c.characteristic(charUUID)
	if err == nil {
		noRsp := mode == transport.WriteWithoutResponse
		err = normalizeError(c.client.WriteCharacteristic(ch, value, noRsp))
	}
	if mode == transport.WriteWithoutResponse && err == nil {
		return
	}
	c.t.dispatch(func() {
		if c.t.cb.OnValueWritten != nil {
			c.t.cb.OnValueWritten(c.id, uuid, err)
		}
	})
}

func (c *connection) setNotify(charUUID string, enabled bool) {
	ch, uuid, err := c.characteristic(charUUID)
	if err == nil {
		if enabled {
			err = normalizeError(c.client.Subscribe(ch, false, func(data []byte) {
				// go-ble may reuse the notification buffer; copy before
				// leaving the callback.
				value := make([]byte, len(data))
				copy(value, data)
				c.t.dispatch(func() {
					if c.t.cb.OnValueUpdated != nil {
						c.t.cb.OnValueUpdated(c.id, uuid, value, nil)
					}
				})
			}))
		} else {
			err = c.unsubscribe(ch, uuid)
		}
	}
	c.t.dispatch(func() {
		if c.t.cb.OnNotificationStateChanged != nil {
			c.t.cb.OnNotificationStateChanged(c.id, uuid, enabled, err)
		}
	})
}

// unsubscribe tries both notify and indicate modes; it fails only when both
// do.
func (c *connection) unsubscribe(ch *ble.Characteristic, uuid string) error {
	err1 := normalizeError(c.client.Unsubscribe(ch, false))
	err2 := normalizeError(c.client.Unsubscribe(ch, true))
	if err1 != nil && err2 != nil {
		return fmt.Errorf("unsubscribe %s: notify=%v, indicate=%v", uuids.Shorten(uuid), err1, err2)
	}
	return nil
}
