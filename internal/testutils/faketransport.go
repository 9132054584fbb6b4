// Package testutils provides the shared test doubles and asserters: a
// scripted in-memory transport, an advertisement builder, and JSON/text diff
// asserters.
package testutils

import (
	"sync"

	"github.com/srg/wearlink/internal/transport"
)

// Op records one operation issued against the fake transport.
type Op struct {
	Name string // "scan", "stop-scan", "connect", "cancel", "discover-services", "discover-chars", "read", "write", "set-notify"
	ID   transport.PeripheralID
	Char string
	Data []byte
	Mode transport.WriteMode
}

// FakeTransport is a scripted transport.Transport. Tests issue operations
// through the production code, then drive outcomes with the Emit/Complete
// helpers, which deliver callbacks on the serial queue exactly like a real
// adapter. The zero value is not usable; use NewFakeTransport.
type FakeTransport struct {
	Queue *transport.SerialQueue

	mu  sync.Mutex
	cb  transport.Callbacks
	ops []Op

	// Errs maps an op name to the error its next invocation returns
	// synchronously.
	Errs map[string]error
}

// NewFakeTransport creates a fake transport with its own serial queue.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Queue: transport.NewSerialQueue(nil),
		Errs:  make(map[string]error),
	}
}

// Close shuts down the fake's serial queue.
func (f *FakeTransport) Close() {
	f.Queue.Close()
}

// Ops returns a snapshot of the recorded operations.
func (f *FakeTransport) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Op, len(f.ops))
	copy(out, f.ops)
	return out
}

// OpNames returns just the operation names, in issue order.
func (f *FakeTransport) OpNames() []string {
	ops := f.Ops()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return names
}

// LastWrite returns the most recent write op, if any.
func (f *FakeTransport) LastWrite() (Op, bool) {
	ops := f.Ops()
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Name == "write" {
			return ops[i], true
		}
	}
	return Op{}, false
}

func (f *FakeTransport) record(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	if err, ok := f.Errs[op.Name]; ok && err != nil {
		return err
	}
	return nil
}

func (f *FakeTransport) callbacks() transport.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeTransport) SetCallbacks(cb transport.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *FakeTransport) ScanForPeripherals(serviceUUIDs []string) error {
	return f.record(Op{Name: "scan"})
}

func (f *FakeTransport) StopScan() error {
	return f.record(Op{Name: "stop-scan"})
}

func (f *FakeTransport) Connect(id transport.PeripheralID) error {
	return f.record(Op{Name: "connect", ID: id})
}

func (f *FakeTransport) CancelConnection(id transport.PeripheralID) error {
	return f.record(Op{Name: "cancel", ID: id})
}

func (f *FakeTransport) DiscoverServices(id transport.PeripheralID) error {
	return f.record(Op{Name: "discover-services", ID: id})
}

func (f *FakeTransport) DiscoverCharacteristics(id transport.PeripheralID, serviceUUID string) error {
	return f.record(Op{Name: "discover-chars", ID: id, Char: serviceUUID})
}

func (f *FakeTransport) ReadValue(id transport.PeripheralID, charUUID string) error {
	return f.record(Op{Name: "read", ID: id, Char: charUUID})
}

func (f *FakeTransport) WriteValue(id transport.PeripheralID, charUUID string, value []byte, mode transport.WriteMode) error {
	data := make([]byte, len(value))
	copy(data, value)
	return f.record(Op{Name: "write", ID: id, Char: charUUID, Data: data, Mode: mode})
}

func (f *FakeTransport) SetNotify(id transport.PeripheralID, charUUID string, enabled bool) error {
	op := Op{Name: "set-notify", ID: id, Char: charUUID}
	if enabled {
		op.Data = []byte{1}
	} else {
		op.Data = []byte{0}
	}
	return f.record(op)
}

// deliver runs fn on the serial queue and waits for it, panicking if the
// queue is closed; tests that race shutdown should not use the helpers.
func (f *FakeTransport) deliver(fn func()) {
	if !f.Queue.DispatchSync(fn) {
		panic("testutils: delivery on closed queue")
	}
}

// EmitAdvertisement delivers one advertisement callback.
func (f *FakeTransport) EmitAdvertisement(id transport.PeripheralID, adv transport.Advertisement, rssi int) {
	cb := f.callbacks()
	if cb.OnDiscovered == nil {
		return
	}
	f.deliver(func() { cb.OnDiscovered(id, adv, rssi) })
}

// CompleteConnect delivers a connection outcome.
func (f *FakeTransport) CompleteConnect(id transport.PeripheralID, err error) {
	cb := f.callbacks()
	if err != nil {
		if cb.OnConnectFailed != nil {
			f.deliver(func() { cb.OnConnectFailed(id, err) })
		}
		return
	}
	if cb.OnConnected != nil {
		f.deliver(func() { cb.OnConnected(id) })
	}
}

// EmitDisconnect delivers a disconnection.
func (f *FakeTransport) EmitDisconnect(id transport.PeripheralID, err error) {
	cb := f.callbacks()
	if cb.OnDisconnected != nil {
		f.deliver(func() { cb.OnDisconnected(id, err) })
	}
}

// CompleteServiceDiscovery delivers the service discovery outcome.
func (f *FakeTransport) CompleteServiceDiscovery(id transport.PeripheralID, services []transport.Service, err error) {
	cb := f.callbacks()
	if cb.OnServicesDiscovered != nil {
		f.deliver(func() { cb.OnServicesDiscovered(id, services, err) })
	}
}

// CompleteCharacteristicDiscovery delivers one service's characteristic
// discovery outcome.
func (f *FakeTransport) CompleteCharacteristicDiscovery(id transport.PeripheralID, serviceUUID string, chars []transport.Characteristic, err error) {
	cb := f.callbacks()
	if cb.OnCharacteristicsDiscovered != nil {
		f.deliver(func() { cb.OnCharacteristicsDiscovered(id, serviceUUID, chars, err) })
	}
}

// EmitValue delivers a read response or notification.
func (f *FakeTransport) EmitValue(id transport.PeripheralID, charUUID string, value []byte, err error) {
	cb := f.callbacks()
	if cb.OnValueUpdated != nil {
		f.deliver(func() { cb.OnValueUpdated(id, charUUID, value, err) })
	}
}

// EmitWriteResult delivers a write-with-response acknowledgement.
func (f *FakeTransport) EmitWriteResult(id transport.PeripheralID, charUUID string, err error) {
	cb := f.callbacks()
	if cb.OnValueWritten != nil {
		f.deliver(func() { cb.OnValueWritten(id, charUUID, err) })
	}
}

// EmitNotificationState delivers a notification state change.
func (f *FakeTransport) EmitNotificationState(id transport.PeripheralID, charUUID string, enabled bool, err error) {
	cb := f.callbacks()
	if cb.OnNotificationStateChanged != nil {
		f.deliver(func() { cb.OnNotificationStateChanged(id, charUUID, enabled, err) })
	}
}
