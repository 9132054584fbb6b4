package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/protocol"
)

func TestSensorConfigurationRoundTrip(t *testing.T) {
	// ID + big-endian period, three entries.
	buf := []byte{
		0x01, 0x00, 0x14, // accelerometer @ 20ms
		0x03, 0x00, 0x28, // gyroscope @ 40ms
		0x05, 0x00, 0x00, // rotation disabled
	}

	cfg, err := protocol.ParseSensorConfiguration(buf)
	require.NoError(t, err)
	assert.Equal(t, buf, cfg.Bytes())

	reparsed, err := protocol.ParseSensorConfiguration(cfg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, cfg.Entries(), reparsed.Entries())
}

func TestSensorConfigurationTruncatesStrayBytes(t *testing.T) {
	buf := []byte{
		0x01, 0x00, 0x14,
		0x03, 0x00, // stray trailing bytes, not a full entry
	}

	cfg, err := protocol.ParseSensorConfiguration(buf)
	require.NoError(t, err)
	require.Len(t, cfg.Entries(), 1)
	assert.Equal(t, protocol.SensorAccelerometer, cfg.Entries()[0].ID)
}

func TestSensorConfigurationEmptyRejected(t *testing.T) {
	_, err := protocol.ParseSensorConfiguration(nil)
	assert.ErrorIs(t, err, protocol.ErrTruncatedPayload)
}

func TestEnableForcesSharedPeriod(t *testing.T) {
	cfg, err := protocol.ParseSensorConfiguration([]byte{
		0x01, 0x00, 0x00, // accelerometer disabled
		0x03, 0x00, 0x28, // gyroscope @ 40ms
	})
	require.NoError(t, err)

	// Enabling the accelerometer at 20ms must drag the gyroscope to 20ms too.
	require.NoError(t, cfg.Enable(protocol.SensorAccelerometer, 20))

	p, ok := cfg.Period(protocol.SensorAccelerometer)
	require.True(t, ok)
	assert.Equal(t, uint16(20), p)

	p, ok = cfg.Period(protocol.SensorGyroscope)
	require.True(t, ok)
	assert.Equal(t, uint16(20), p)
}

func TestEnableLeavesDisabledSensorsAlone(t *testing.T) {
	cfg, err := protocol.ParseSensorConfiguration([]byte{
		0x01, 0x00, 0x00,
		0x02, 0x00, 0x00,
	})
	require.NoError(t, err)

	require.NoError(t, cfg.Enable(protocol.SensorAccelerometer, 10))

	assert.True(t, cfg.Enabled(protocol.SensorAccelerometer))
	assert.False(t, cfg.Enabled(protocol.SensorMagnetometer))
}

func TestEnableUnknownSensorAppends(t *testing.T) {
	cfg, err := protocol.ParseSensorConfiguration([]byte{0x01, 0x00, 0x14})
	require.NoError(t, err)

	require.NoError(t, cfg.Enable(protocol.SensorGyroscope, 20))
	require.Len(t, cfg.Entries(), 2)
	assert.True(t, cfg.Enabled(protocol.SensorGyroscope))
}

func TestEnableZeroPeriodRejected(t *testing.T) {
	cfg, err := protocol.ParseSensorConfiguration([]byte{0x01, 0x00, 0x14})
	require.NoError(t, err)
	assert.Error(t, cfg.Enable(protocol.SensorAccelerometer, 0))
}

func TestDisable(t *testing.T) {
	cfg, err := protocol.ParseSensorConfiguration([]byte{0x01, 0x00, 0x14})
	require.NoError(t, err)

	cfg.Disable(protocol.SensorAccelerometer)
	assert.False(t, cfg.Enabled(protocol.SensorAccelerometer))

	// Unknown sensor is a no-op.
	cfg.Disable(protocol.SensorGyroscope)
	assert.Len(t, cfg.Entries(), 1)
}
