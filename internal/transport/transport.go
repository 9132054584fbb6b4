// Package transport defines the peripheral transport the stack is built on:
// the asynchronous connect/discover/read/write/notify surface of the
// platform's BLE implementation, plus the serial queue all of its callbacks
// are delivered on.
//
// The core never talks to a radio; everything below this interface belongs to
// an adapter (see the goble subpackage for the reference one).
package transport

// PeripheralID is the opaque identity of a remote peripheral, owned by the
// transport. Discovered devices and sessions are keyed by it, never by
// advertisement content.
type PeripheralID string

// RSSIUnknown is the sentinel the platform reports when it has no signal
// strength reading for an advertisement. Discovery treats it as unusable.
const RSSIUnknown = 127

// Advertisement is a snapshot of one received advertisement.
type Advertisement struct {
	LocalName        string
	ServiceUUIDs     []string
	ManufacturerData []byte
	ServiceData      map[string][]byte
	TxPower          *int
	Connectable      bool
}

// Service identifies a GATT service discovered on a connected peripheral.
type Service struct {
	UUID string
}

// Characteristic identifies a GATT characteristic within a service.
type Characteristic struct {
	UUID        string
	ServiceUUID string
}

// WriteMode selects write-with-response or write-without-response.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

// Callbacks receives every transport event. All callbacks are invoked on the
// transport's serial queue: no two callbacks for the same peripheral are ever
// concurrent, and delivery order matches the order the transport received the
// events. Nil members are skipped.
type Callbacks struct {
	OnDiscovered func(id PeripheralID, adv Advertisement, rssi int)

	OnConnected     func(id PeripheralID)
	OnConnectFailed func(id PeripheralID, err error)
	OnDisconnected  func(id PeripheralID, err error)

	OnServicesDiscovered        func(id PeripheralID, services []Service, err error)
	OnCharacteristicsDiscovered func(id PeripheralID, serviceUUID string, chars []Characteristic, err error)

	OnValueUpdated             func(id PeripheralID, charUUID string, value []byte, err error)
	OnNotificationStateChanged func(id PeripheralID, charUUID string, enabled bool, err error)
	OnValueWritten             func(id PeripheralID, charUUID string, err error)
}

// Transport is the platform BLE collaborator. All operations are asynchronous:
// the call only issues the request, the outcome arrives through Callbacks.
//
// Write acknowledgements are matched to the characteristic, not to a specific
// outstanding write; the session layer enforces one outstanding
// write-with-response per characteristic on top of this.
type Transport interface {
	// SetCallbacks installs the event sinks. Must be called before any other
	// operation; replacing callbacks while operations are in flight is a
	// caller error.
	SetCallbacks(cb Callbacks)

	ScanForPeripherals(serviceUUIDs []string) error
	StopScan() error

	Connect(id PeripheralID) error
	CancelConnection(id PeripheralID) error

	DiscoverServices(id PeripheralID) error
	DiscoverCharacteristics(id PeripheralID, serviceUUID string) error

	ReadValue(id PeripheralID, charUUID string) error
	WriteValue(id PeripheralID, charUUID string, value []byte, mode WriteMode) error
	SetNotify(id PeripheralID, charUUID string, enabled bool) error
}
