package protocol

import (
	"fmt"

	"github.com/srg/wearlink/internal/wire"
)

// sensorConfigEntryLength is the fixed 3-byte entry: sensor ID + sample
// period in milliseconds. Period 0 means the sensor is disabled.
const sensorConfigEntryLength = 3

// SensorConfigurationEntry is one sensor's configured sample period.
type SensorConfigurationEntry struct {
	ID           SensorID
	SamplePeriod uint16
}

// Enabled reports whether the sensor is streaming.
func (e SensorConfigurationEntry) Enabled() bool { return e.SamplePeriod != 0 }

// SensorConfiguration is the device's per-sensor sample period table.
//
// The hardware runs all enabled sensors off one timer: enabling any sensor at
// period P rewrites the period of every already-enabled sensor to P. Enable
// preserves that constraint; writing a configuration that violates it is
// rejected by the firmware with DeviceErrInvalidSensorConfiguration.
type SensorConfiguration struct {
	entries []SensorConfigurationEntry
}

// ParseSensorConfiguration decodes the 3-byte-per-entry payload. Stray
// trailing bytes (a buffer whose length is not a multiple of three) are
// truncated, not rejected.
func ParseSensorConfiguration(buf []byte) (*SensorConfiguration, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty sensor configuration", ErrTruncatedPayload)
	}

	cfg := &SensorConfiguration{}
	for offset := 0; offset+sensorConfigEntryLength <= len(buf); offset += sensorConfigEntryLength {
		id, _ := wire.ReadUint8(buf, offset)
		period, _ := wire.ReadUint16(buf, offset+1)
		cfg.entries = append(cfg.entries, SensorConfigurationEntry{
			ID:           SensorID(id),
			SamplePeriod: period,
		})
	}
	return cfg, nil
}

// Bytes serializes the configuration in entry order.
func (c *SensorConfiguration) Bytes() []byte {
	b := make([]byte, 0, len(c.entries)*sensorConfigEntryLength)
	for _, e := range c.entries {
		b = wire.AppendUint8(b, uint8(e.ID))
		b = wire.AppendUint16(b, e.SamplePeriod)
	}
	return b
}

// Entries returns a copy of the configuration entries in device order.
func (c *SensorConfiguration) Entries() []SensorConfigurationEntry {
	out := make([]SensorConfigurationEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Period returns the configured sample period for a sensor. The second result
// is false when the configuration has no entry for it.
func (c *SensorConfiguration) Period(id SensorID) (uint16, bool) {
	for _, e := range c.entries {
		if e.ID == id {
			return e.SamplePeriod, true
		}
	}
	return 0, false
}

// Enabled reports whether a sensor is present and streaming.
func (c *SensorConfiguration) Enabled(id SensorID) bool {
	p, ok := c.Period(id)
	return ok && p != 0
}

// Enable turns a sensor on at the given period. Because all enabled sensors
// share one hardware sample timer, every other enabled sensor's period is
// rewritten to the same value. A zero period is an error; use Disable.
func (c *SensorConfiguration) Enable(id SensorID, period uint16) error {
	if period == 0 {
		return fmt.Errorf("sample period 0 disables a sensor; use Disable for sensor %s", id)
	}

	found := false
	for i := range c.entries {
		if c.entries[i].ID == id {
			c.entries[i].SamplePeriod = period
			found = true
		} else if c.entries[i].SamplePeriod != 0 {
			c.entries[i].SamplePeriod = period
		}
	}
	if !found {
		c.entries = append(c.entries, SensorConfigurationEntry{ID: id, SamplePeriod: period})
	}
	return nil
}

// Disable turns a sensor off. Disabling a sensor the configuration does not
// list is a no-op.
func (c *SensorConfiguration) Disable(id SensorID) {
	for i := range c.entries {
		if c.entries[i].ID == id {
			c.entries[i].SamplePeriod = 0
			return
		}
	}
}
