package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/protocol"
)

func TestParseSensor(t *testing.T) {
	tests := []struct {
		in   string
		want protocol.SensorID
	}{
		{"accelerometer", protocol.SensorAccelerometer},
		{"gyroscope", protocol.SensorGyroscope},
		{"uncalibrated-magnetometer", protocol.SensorUncalibratedMagnetometer},
		{"7", protocol.SensorUncalibratedMagnetometer},
		{"42", protocol.SensorID(42)}, // unknown IDs pass through numerically
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := parseSensor(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}

	_, err := parseSensor("thermometer")
	assert.Error(t, err)
	_, err = parseSensor("0")
	assert.Error(t, err)
}

func TestParsePeriod(t *testing.T) {
	p, disable, err := parsePeriod("20")
	require.NoError(t, err)
	assert.Equal(t, uint16(20), p)
	assert.False(t, disable)

	p, disable, err = parsePeriod("20ms")
	require.NoError(t, err)
	assert.Equal(t, uint16(20), p)
	assert.False(t, disable)

	p, disable, err = parsePeriod("off")
	require.NoError(t, err)
	assert.Equal(t, uint16(0), p)
	assert.True(t, disable)

	_, _, err = parsePeriod("never")
	assert.Error(t, err)

	_, err = periodMillis(2 * time.Minute)
	assert.Error(t, err)
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
