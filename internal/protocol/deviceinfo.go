package protocol

import (
	"fmt"

	"github.com/srg/wearlink/internal/wire"
)

// DeviceStatus is the device-status bitmask of the wearable device
// information record.
type DeviceStatus uint8

const (
	StatusPairingMode DeviceStatus = 1 << iota
	StatusSecurePairingRequired
	StatusAlreadyPaired
	StatusServiceSuspended
)

func (s DeviceStatus) PairingMode() bool           { return s&StatusPairingMode != 0 }
func (s DeviceStatus) SecurePairingRequired() bool { return s&StatusSecurePairingRequired != 0 }
func (s DeviceStatus) AlreadyPaired() bool         { return s&StatusAlreadyPaired != 0 }
func (s DeviceStatus) ServiceSuspended() bool      { return s&StatusServiceSuspended != 0 }

// wearableDeviceInformationLength is the fixed record size; firmware never
// sends a shorter record, and trailing bytes from newer firmware are ignored.
const wearableDeviceInformationLength = 19

// WearableDeviceInformation is the fixed 19-byte record the device reports
// once per connection: protocol version, product identity, the bitmask sets of
// available sensors and gestures, transmission timing limits, and the device
// status bitmask.
type WearableDeviceInformation struct {
	Version                uint8
	ProductID              uint16
	Variant                uint8
	AvailableSensors       uint32
	AvailableGestures      uint32
	MaxTransmissionPeriod  uint16
	MinTransmissionPeriod  uint16
	TransmissionBufferSize uint16
	Status                 DeviceStatus
}

// ParseWearableDeviceInformation decodes the fixed 19-byte record.
func ParseWearableDeviceInformation(buf []byte) (*WearableDeviceInformation, error) {
	if len(buf) < wearableDeviceInformationLength {
		return nil, fmt.Errorf("%w: wearable device information needs %d bytes, have %d",
			ErrTruncatedPayload, wearableDeviceInformationLength, len(buf))
	}

	info := &WearableDeviceInformation{}
	var err error
	if info.Version, err = wire.ReadUint8(buf, 0); err != nil {
		return nil, err
	}
	if info.ProductID, err = wire.ReadUint16(buf, 1); err != nil {
		return nil, err
	}
	if info.Variant, err = wire.ReadUint8(buf, 3); err != nil {
		return nil, err
	}
	if info.AvailableSensors, err = wire.ReadUint32(buf, 4); err != nil {
		return nil, err
	}
	if info.AvailableGestures, err = wire.ReadUint32(buf, 8); err != nil {
		return nil, err
	}
	if info.MaxTransmissionPeriod, err = wire.ReadUint16(buf, 12); err != nil {
		return nil, err
	}
	if info.MinTransmissionPeriod, err = wire.ReadUint16(buf, 14); err != nil {
		return nil, err
	}
	if info.TransmissionBufferSize, err = wire.ReadUint16(buf, 16); err != nil {
		return nil, err
	}
	status, err := wire.ReadUint8(buf, 18)
	if err != nil {
		return nil, err
	}
	info.Status = DeviceStatus(status)
	return info, nil
}

// Bytes serializes the record back to its 19-byte wire form.
func (i *WearableDeviceInformation) Bytes() []byte {
	b := make([]byte, 0, wearableDeviceInformationLength)
	b = wire.AppendUint8(b, i.Version)
	b = wire.AppendUint16(b, i.ProductID)
	b = wire.AppendUint8(b, i.Variant)
	b = wire.AppendUint32(b, i.AvailableSensors)
	b = wire.AppendUint32(b, i.AvailableGestures)
	b = wire.AppendUint16(b, i.MaxTransmissionPeriod)
	b = wire.AppendUint16(b, i.MinTransmissionPeriod)
	b = wire.AppendUint16(b, i.TransmissionBufferSize)
	b = wire.AppendUint8(b, uint8(i.Status))
	return b
}

// HasSensor reports whether the availability bitmask lists the sensor.
func (i *WearableDeviceInformation) HasSensor(id SensorID) bool {
	if id == 0 || uint(id) > 31 {
		return false
	}
	return i.AvailableSensors&(1<<uint(id)) != 0
}

// HasGesture reports whether the availability bitmask lists the gesture.
func (i *WearableDeviceInformation) HasGesture(id GestureID) bool {
	if id == 0 || uint(id) > 31 {
		return false
	}
	return i.AvailableGestures&(1<<uint(id)) != 0
}
