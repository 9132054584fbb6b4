package protocol

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/wire"
)

// GestureInformationEntry describes one gesture kind: the lengths of its
// configuration entry body and of the extra payload attached to its data
// records (both may be zero for simple event-only gestures).
type GestureInformationEntry struct {
	ID           GestureID
	ConfigLength uint8
	DataLength   uint8
}

// GestureInformation is the device-reported gesture metadata table. Like
// sensor information, it must arrive before gesture configuration or data
// payloads can be framed.
type GestureInformation struct {
	entries map[GestureID]*GestureInformationEntry
	order   []GestureID
}

// gestureInfoEntryLength is the fixed 3-byte entry: ID + config length +
// data length.
const gestureInfoEntryLength = 3

// ParseGestureInformation decodes the gesture metadata payload. Stray
// trailing bytes are truncated.
func ParseGestureInformation(buf []byte) (*GestureInformation, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty gesture information", ErrTruncatedPayload)
	}

	info := &GestureInformation{entries: make(map[GestureID]*GestureInformationEntry)}
	for offset := 0; offset+gestureInfoEntryLength <= len(buf); offset += gestureInfoEntryLength {
		id, _ := wire.ReadUint8(buf, offset)
		cfgLen, _ := wire.ReadUint8(buf, offset+1)
		dataLen, _ := wire.ReadUint8(buf, offset+2)
		e := &GestureInformationEntry{ID: GestureID(id), ConfigLength: cfgLen, DataLength: dataLen}
		if _, dup := info.entries[e.ID]; !dup {
			info.order = append(info.order, e.ID)
		}
		info.entries[e.ID] = e
	}
	return info, nil
}

// Bytes serializes the table back to wire form, in device order.
func (g *GestureInformation) Bytes() []byte {
	b := make([]byte, 0, len(g.order)*gestureInfoEntryLength)
	for _, id := range g.order {
		e := g.entries[id]
		b = wire.AppendUint8(b, uint8(e.ID))
		b = wire.AppendUint8(b, e.ConfigLength)
		b = wire.AppendUint8(b, e.DataLength)
	}
	return b
}

// Entry returns the metadata entry for a gesture, or nil if unknown.
func (g *GestureInformation) Entry(id GestureID) *GestureInformationEntry {
	return g.entries[id]
}

// Gestures returns the gesture IDs in device order.
func (g *GestureInformation) Gestures() []GestureID {
	out := make([]GestureID, len(g.order))
	copy(out, g.order)
	return out
}

// GestureConfigurationEntry is one gesture's configuration. The payload is
// kept verbatim for every gesture kind, understood or not, so that writing a
// configuration back reproduces exactly what was read. Typed accessors
// interpret the payload for the kinds this stack knows.
type GestureConfigurationEntry struct {
	ID      GestureID
	Payload []byte
}

// Enabled interprets the first payload byte as the enable flag, the layout
// shared by all known gesture kinds. Returns false for an empty payload.
func (e *GestureConfigurationEntry) Enabled() bool {
	return len(e.Payload) > 0 && e.Payload[0] != 0
}

// Sensitivity interprets the second payload byte as the sensitivity level of
// the known gesture kinds. The second result is false when the payload has no
// such byte.
func (e *GestureConfigurationEntry) Sensitivity() (uint8, bool) {
	if len(e.Payload) < 2 {
		return 0, false
	}
	return e.Payload[1], true
}

// SetEnabled rewrites the enable flag in place. No-op on an empty payload.
func (e *GestureConfigurationEntry) SetEnabled(enabled bool) {
	if len(e.Payload) == 0 {
		return
	}
	if enabled {
		e.Payload[0] = 1
	} else {
		e.Payload[0] = 0
	}
}

// GestureConfiguration is the device's gesture configuration table.
type GestureConfiguration struct {
	entries []GestureConfigurationEntry
}

// ParseGestureConfiguration decodes the configuration payload using the
// gesture metadata to frame each entry. An entry whose gesture ID is absent
// from the metadata cannot be framed; the remainder is dropped and
// ErrMissingMetadata returned.
func ParseGestureConfiguration(buf []byte, info *GestureInformation, logger *logrus.Logger) (*GestureConfiguration, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty gesture configuration", ErrTruncatedPayload)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: gesture information not yet received", ErrMissingMetadata)
	}

	cfg := &GestureConfiguration{}
	offset := 0
	for offset < len(buf) {
		id, err := wire.ReadUint8(buf, offset)
		if err != nil {
			break
		}
		gestureID := GestureID(id)
		entry := info.Entry(gestureID)
		if entry == nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"gesture": gestureID,
					"offset":  offset,
				}).Debug("Gesture absent from metadata, dropping remainder of configuration")
			}
			return cfg, fmt.Errorf("%w: gesture %s", ErrMissingMetadata, gestureID)
		}

		payload, err := wire.Slice(buf, offset+1, int(entry.ConfigLength))
		if err != nil {
			if logger != nil {
				logger.WithField("gesture", gestureID).Debug("Truncated trailing gesture configuration entry dropped")
			}
			break
		}
		cfg.entries = append(cfg.entries, GestureConfigurationEntry{
			ID:      gestureID,
			Payload: append([]byte(nil), payload...),
		})
		offset += 1 + int(entry.ConfigLength)
	}
	return cfg, nil
}

// Bytes serializes the configuration, reproducing unknown gesture payloads
// byte for byte.
func (c *GestureConfiguration) Bytes() []byte {
	var b []byte
	for _, e := range c.entries {
		b = wire.AppendUint8(b, uint8(e.ID))
		b = append(b, e.Payload...)
	}
	return b
}

// Entries returns the configuration entries in device order. The returned
// entries share payload storage with the configuration; use SetEnabled and
// friends to mutate through Entry instead.
func (c *GestureConfiguration) Entries() []GestureConfigurationEntry {
	out := make([]GestureConfigurationEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Entry returns a mutable reference to a gesture's configuration entry, or
// nil if the table has none.
func (c *GestureConfiguration) Entry(id GestureID) *GestureConfigurationEntry {
	for i := range c.entries {
		if c.entries[i].ID == id {
			return &c.entries[i]
		}
	}
	return nil
}

// GestureEvent is one decoded record from a gesture data payload.
type GestureEvent struct {
	ID        GestureID
	Timestamp SensorTimestamp
	Payload   []byte // extra event payload, verbatim; empty for most kinds
}

// GestureData is a decoded gesture data payload.
type GestureData struct {
	Events []GestureEvent
}

// gestureDataHeaderLength is the per-record header: gesture ID + timestamp.
const gestureDataHeaderLength = 3

// ParseGestureData decodes a gesture data payload using the gesture metadata
// to frame each record, with the same framing rules as sensor data.
func ParseGestureData(buf []byte, info *GestureInformation, logger *logrus.Logger) (*GestureData, error) {
	if len(buf) < gestureDataHeaderLength {
		return nil, fmt.Errorf("%w: gesture data needs at least %d bytes, have %d",
			ErrTruncatedPayload, gestureDataHeaderLength, len(buf))
	}
	if info == nil {
		return nil, fmt.Errorf("%w: gesture information not yet received", ErrMissingMetadata)
	}

	data := &GestureData{}
	offset := 0
	for offset+gestureDataHeaderLength <= len(buf) {
		id, _ := wire.ReadUint8(buf, offset)
		ts, _ := wire.ReadUint16(buf, offset+1)
		gestureID := GestureID(id)

		entry := info.Entry(gestureID)
		if entry == nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"gesture": gestureID,
					"offset":  offset,
				}).Debug("Gesture absent from metadata, dropping remainder of payload")
			}
			return data, fmt.Errorf("%w: gesture %s", ErrMissingMetadata, gestureID)
		}

		payload, err := wire.Slice(buf, offset+gestureDataHeaderLength, int(entry.DataLength))
		if err != nil {
			if logger != nil {
				logger.WithField("gesture", gestureID).Debug("Truncated trailing gesture record dropped")
			}
			break
		}
		data.Events = append(data.Events, GestureEvent{
			ID:        gestureID,
			Timestamp: SensorTimestamp(ts),
			Payload:   append([]byte(nil), payload...),
		})
		offset += gestureDataHeaderLength + int(entry.DataLength)
	}
	return data, nil
}
