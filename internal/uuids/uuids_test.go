package uuids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/wearlink/internal/uuids"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short form untouched", "180a", "180a"},
		{"uppercase lowered", "180A", "180a"},
		{"0x prefix stripped", "0x2A19", "2a19"},
		{"dashes removed", "00007500-a2cc-434f-bac8-63f5e384ce2e", "00007500a2cc434fbac863f5e384ce2e"},
		{"sig base collapsed", "0000180a-0000-1000-8000-00805f9b34fb", "180a"},
		{"proprietary 128-bit kept long", "00007504a2cc434fbac863f5e384ce2e", "00007504a2cc434fbac863f5e384ce2e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uuids.Normalize(tt.in))
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, uuids.Equal("180A", "0000180a-0000-1000-8000-00805f9b34fb"))
	assert.True(t, uuids.Equal("00007500-A2CC-434F-BAC8-63F5E384CE2E", uuids.WearableService))
	assert.False(t, uuids.Equal("180a", "180f"))
}

func TestKnownName(t *testing.T) {
	assert.Equal(t, "Wearable Service", uuids.KnownName("00007500-a2cc-434f-bac8-63f5e384ce2e"))
	assert.Equal(t, "Battery Level", uuids.KnownName("2A19"))
	assert.Empty(t, uuids.KnownName("ffff"))
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "00007504", uuids.Shorten(uuids.SensorDataChar))
	assert.Equal(t, "180a", uuids.Shorten("180a"))
}
