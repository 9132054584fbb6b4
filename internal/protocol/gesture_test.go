package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/protocol"
)

// testGestureInfo: tap with 2-byte config and no data payload, shake with
// 3-byte config, plus an unknown gesture 200 with 4-byte config and 1-byte
// data payload.
func testGestureInfo(t *testing.T) *protocol.GestureInformation {
	t.Helper()
	info, err := protocol.ParseGestureInformation([]byte{
		uint8(protocol.GestureTap), 2, 0,
		uint8(protocol.GestureShake), 3, 0,
		200, 4, 1,
	})
	require.NoError(t, err)
	return info
}

func TestGestureInformationRoundTrip(t *testing.T) {
	buf := []byte{
		uint8(protocol.GestureTap), 2, 0,
		200, 4, 1,
	}
	info, err := protocol.ParseGestureInformation(buf)
	require.NoError(t, err)
	assert.Equal(t, buf, info.Bytes())
	assert.Equal(t, []protocol.GestureID{protocol.GestureTap, 200}, info.Gestures())
}

func TestGestureConfigurationUnknownVerbatimRoundTrip(t *testing.T) {
	info := testGestureInfo(t)

	buf := []byte{
		uint8(protocol.GestureTap), 1, 5, // enabled, sensitivity 5
		200, 0xCA, 0xFE, 0xBA, 0xBE, // unknown gesture, opaque 4-byte config
	}

	cfg, err := protocol.ParseGestureConfiguration(buf, info, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Entries(), 2)

	// Spec property: serialization reproduces the original bytes exactly,
	// including the payload of the gesture the stack does not understand.
	assert.Equal(t, buf, cfg.Bytes())

	unknown := cfg.Entry(200)
	require.NotNil(t, unknown)
	assert.Equal(t, []byte{0xCA, 0xFE, 0xBA, 0xBE}, unknown.Payload)
}

func TestGestureConfigurationTypedAccessors(t *testing.T) {
	info := testGestureInfo(t)

	cfg, err := protocol.ParseGestureConfiguration([]byte{uint8(protocol.GestureTap), 0, 7}, info, nil)
	require.NoError(t, err)

	tap := cfg.Entry(protocol.GestureTap)
	require.NotNil(t, tap)
	assert.False(t, tap.Enabled())
	sens, ok := tap.Sensitivity()
	require.True(t, ok)
	assert.Equal(t, uint8(7), sens)

	tap.SetEnabled(true)
	assert.True(t, cfg.Entry(protocol.GestureTap).Enabled())
	assert.Equal(t, []byte{uint8(protocol.GestureTap), 1, 7}, cfg.Bytes())
}

func TestGestureConfigurationMissingMetadata(t *testing.T) {
	info := testGestureInfo(t)

	// Gesture 99 has no metadata entry: remainder dropped, error surfaced.
	buf := []byte{
		uint8(protocol.GestureTap), 1, 5,
		99, 1, 2, 3,
	}
	cfg, err := protocol.ParseGestureConfiguration(buf, info, nil)
	assert.ErrorIs(t, err, protocol.ErrMissingMetadata)
	assert.Len(t, cfg.Entries(), 1)

	_, err = protocol.ParseGestureConfiguration(buf, nil, nil)
	assert.ErrorIs(t, err, protocol.ErrMissingMetadata)
}

func TestParseGestureData(t *testing.T) {
	info := testGestureInfo(t)

	buf := []byte{
		uint8(protocol.GestureTap), 0x01, 0x00, // tap @ 256ms, no payload
		200, 0x02, 0x00, 0x7F, // unknown gesture, 1-byte payload
	}

	data, err := protocol.ParseGestureData(buf, info, nil)
	require.NoError(t, err)
	require.Len(t, data.Events, 2)

	assert.Equal(t, protocol.GestureTap, data.Events[0].ID)
	assert.Equal(t, protocol.SensorTimestamp(256), data.Events[0].Timestamp)
	assert.Empty(t, data.Events[0].Payload)

	assert.Equal(t, protocol.GestureID(200), data.Events[1].ID)
	assert.Equal(t, []byte{0x7F}, data.Events[1].Payload)
}

func TestParseGestureDataTruncated(t *testing.T) {
	info := testGestureInfo(t)

	_, err := protocol.ParseGestureData([]byte{0x01}, info, nil)
	assert.ErrorIs(t, err, protocol.ErrTruncatedPayload)

	// Unknown gesture stops framing.
	data, err := protocol.ParseGestureData([]byte{99, 0x00, 0x01}, info, nil)
	assert.ErrorIs(t, err, protocol.ErrMissingMetadata)
	assert.Empty(t, data.Events)
}
