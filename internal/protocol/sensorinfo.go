package protocol

import (
	"fmt"

	"github.com/srg/wearlink/internal/wire"
)

// SensorInformationEntry describes one sensor: the raw and scaled value
// ranges its samples map between, the length of one sample payload in a
// sensor data record, and the sample periods the firmware accepts.
//
// The ranges are half-open on the wire ([rawMin, rawMax)); the derived scale
// function is the linear map between them.
type SensorInformationEntry struct {
	ID               SensorID
	SampleLength     uint8
	RawMin           int16
	RawMax           int16
	ScaledMin        int16
	ScaledMax        int16
	AvailablePeriods []uint16
}

// Scale converts a raw signed 16-bit sample to its scaled floating-point
// value: scaled = (raw-rawMin)*(scaledMax-scaledMin)/(rawMax-rawMin)+scaledMin.
func (e *SensorInformationEntry) Scale(raw int16) float64 {
	rawSpan := float64(e.RawMax) - float64(e.RawMin)
	if rawSpan == 0 {
		return float64(e.ScaledMin)
	}
	scaledSpan := float64(e.ScaledMax) - float64(e.ScaledMin)
	return (float64(raw)-float64(e.RawMin))*scaledSpan/rawSpan + float64(e.ScaledMin)
}

// SensorInformation is the device-reported sensor metadata table. It must be
// received before sensor data or configuration payloads can be decoded.
type SensorInformation struct {
	entries map[SensorID]*SensorInformationEntry
	order   []SensorID
}

// Entry layout on the wire:
//
//	ID(1) sampleLength(1) rawMin(2) rawMax(2) scaledMin(2) scaledMax(2)
//	periodCount(1) period(2)*periodCount
const sensorInfoFixedLength = 11

// ParseSensorInformation decodes the sensor metadata payload. A truncated
// trailing entry is dropped; everything decoded before it is kept.
func ParseSensorInformation(buf []byte) (*SensorInformation, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty sensor information", ErrTruncatedPayload)
	}

	info := &SensorInformation{entries: make(map[SensorID]*SensorInformationEntry)}
	offset := 0
	for offset < len(buf) {
		if offset+sensorInfoFixedLength > len(buf) {
			break // truncated trailing entry
		}
		e := &SensorInformationEntry{}
		id, _ := wire.ReadUint8(buf, offset)
		e.ID = SensorID(id)
		e.SampleLength, _ = wire.ReadUint8(buf, offset+1)
		e.RawMin, _ = wire.ReadInt16(buf, offset+2)
		e.RawMax, _ = wire.ReadInt16(buf, offset+4)
		e.ScaledMin, _ = wire.ReadInt16(buf, offset+6)
		e.ScaledMax, _ = wire.ReadInt16(buf, offset+8)
		periodCount, _ := wire.ReadUint8(buf, offset+10)

		periodBytes := int(periodCount) * 2
		if offset+sensorInfoFixedLength+periodBytes > len(buf) {
			break
		}
		e.AvailablePeriods = make([]uint16, 0, periodCount)
		for i := 0; i < int(periodCount); i++ {
			p, _ := wire.ReadUint16(buf, offset+sensorInfoFixedLength+i*2)
			e.AvailablePeriods = append(e.AvailablePeriods, p)
		}

		if _, dup := info.entries[e.ID]; !dup {
			info.order = append(info.order, e.ID)
		}
		info.entries[e.ID] = e
		offset += sensorInfoFixedLength + periodBytes
	}
	return info, nil
}

// Bytes serializes the table back to wire form, in device order.
func (s *SensorInformation) Bytes() []byte {
	var b []byte
	for _, id := range s.order {
		e := s.entries[id]
		b = wire.AppendUint8(b, uint8(e.ID))
		b = wire.AppendUint8(b, e.SampleLength)
		b = wire.AppendInt16(b, e.RawMin)
		b = wire.AppendInt16(b, e.RawMax)
		b = wire.AppendInt16(b, e.ScaledMin)
		b = wire.AppendInt16(b, e.ScaledMax)
		b = wire.AppendUint8(b, uint8(len(e.AvailablePeriods)))
		for _, p := range e.AvailablePeriods {
			b = wire.AppendUint16(b, p)
		}
	}
	return b
}

// Entry returns the metadata entry for a sensor, or nil if the device did not
// report one.
func (s *SensorInformation) Entry(id SensorID) *SensorInformationEntry {
	return s.entries[id]
}

// SampleLength returns the data-record payload length for a sensor. The
// second result is false when the sensor is unknown to the metadata.
func (s *SensorInformation) SampleLength(id SensorID) (int, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return int(e.SampleLength), true
}

// Sensors returns the sensor IDs in device order.
func (s *SensorInformation) Sensors() []SensorID {
	out := make([]SensorID, len(s.order))
	copy(out, s.order)
	return out
}
