package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/protocol"
	"github.com/srg/wearlink/internal/wire"
)

// buildSensorInfoEntry assembles one wire entry for tests.
func buildSensorInfoEntry(id protocol.SensorID, sampleLen uint8, rawMin, rawMax, scaledMin, scaledMax int16, periods ...uint16) []byte {
	var b []byte
	b = wire.AppendUint8(b, uint8(id))
	b = wire.AppendUint8(b, sampleLen)
	b = wire.AppendInt16(b, rawMin)
	b = wire.AppendInt16(b, rawMax)
	b = wire.AppendInt16(b, scaledMin)
	b = wire.AppendInt16(b, scaledMax)
	b = wire.AppendUint8(b, uint8(len(periods)))
	for _, p := range periods {
		b = wire.AppendUint16(b, p)
	}
	return b
}

func TestParseSensorInformation(t *testing.T) {
	buf := buildSensorInfoEntry(protocol.SensorAccelerometer, 7, -32768, 32767, -8, 8, 10, 20, 40)
	buf = append(buf, buildSensorInfoEntry(protocol.SensorRotation, 10, -32768, 32767, -1, 1)...)

	info, err := protocol.ParseSensorInformation(buf)
	require.NoError(t, err)

	assert.Equal(t, []protocol.SensorID{protocol.SensorAccelerometer, protocol.SensorRotation}, info.Sensors())

	acc := info.Entry(protocol.SensorAccelerometer)
	require.NotNil(t, acc)
	assert.Equal(t, []uint16{10, 20, 40}, acc.AvailablePeriods)

	length, ok := info.SampleLength(protocol.SensorRotation)
	require.True(t, ok)
	assert.Equal(t, 10, length)

	_, ok = info.SampleLength(protocol.SensorGyroscope)
	assert.False(t, ok)
}

func TestSensorInformationRoundTrip(t *testing.T) {
	buf := buildSensorInfoEntry(protocol.SensorGyroscope, 7, -32768, 32767, -2000, 2000, 10)

	info, err := protocol.ParseSensorInformation(buf)
	require.NoError(t, err)
	assert.Equal(t, buf, info.Bytes())
}

func TestSensorInformationTruncatedTrailingEntry(t *testing.T) {
	buf := buildSensorInfoEntry(protocol.SensorAccelerometer, 7, -100, 100, -1, 1)
	buf = append(buf, 0x03, 0x07) // half an entry

	info, err := protocol.ParseSensorInformation(buf)
	require.NoError(t, err)
	assert.Len(t, info.Sensors(), 1)
}

func TestScale(t *testing.T) {
	e := &protocol.SensorInformationEntry{
		RawMin: -32768, RawMax: 32767,
		ScaledMin: -1, ScaledMax: 1,
	}

	// Spec property: raw 0 scales to ~0, raw 32767 scales to ~1.
	assert.InDelta(t, 0.0, e.Scale(0), 1e-4)
	assert.InDelta(t, 1.0, e.Scale(32767), 1e-9)
	assert.InDelta(t, -1.0, e.Scale(-32768), 1e-9)
}

func TestScaleDegenerateRange(t *testing.T) {
	e := &protocol.SensorInformationEntry{RawMin: 5, RawMax: 5, ScaledMin: -3, ScaledMax: 3}
	assert.Equal(t, -3.0, e.Scale(42))
}
