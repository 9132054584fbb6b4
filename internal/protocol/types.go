// Package protocol implements the wearable firmware's binary telemetry
// protocol: sensor and gesture information/configuration/data payloads and the
// wearable device information record.
//
// Every payload follows the same two-phase layout: a small fixed header of
// one-byte IDs and lengths frames a variable-length record, and device-reported
// metadata (sensor/gesture information) supplies the record body length and
// scaling. Parsers skip records they do not understand instead of aborting;
// future firmware may add IDs and the stack must keep decoding the rest.
package protocol

// SensorID identifies a sensor on the device. Firmware may report IDs this
// stack has no semantic decoding for; such records are skipped (their length
// still comes from the metadata table) and configuration entries for them
// round-trip untouched.
type SensorID uint8

const (
	SensorAccelerometer            SensorID = 1
	SensorMagnetometer             SensorID = 2
	SensorGyroscope                SensorID = 3
	SensorOrientation              SensorID = 4
	SensorRotation                 SensorID = 5
	SensorGameRotation             SensorID = 6
	SensorUncalibratedMagnetometer SensorID = 7
)

func (id SensorID) String() string {
	switch id {
	case SensorAccelerometer:
		return "accelerometer"
	case SensorMagnetometer:
		return "magnetometer"
	case SensorGyroscope:
		return "gyroscope"
	case SensorOrientation:
		return "orientation"
	case SensorRotation:
		return "rotation"
	case SensorGameRotation:
		return "game-rotation"
	case SensorUncalibratedMagnetometer:
		return "uncalibrated-magnetometer"
	default:
		return "sensor-" + itoa(uint8(id))
	}
}

// GestureID identifies a gesture kind on the device.
type GestureID uint8

const (
	GestureTap       GestureID = 1
	GestureDoubleTap GestureID = 2
	GestureShake     GestureID = 3
	GestureFlick     GestureID = 4
	GestureTwist     GestureID = 5
)

func (id GestureID) String() string {
	switch id {
	case GestureTap:
		return "tap"
	case GestureDoubleTap:
		return "double-tap"
	case GestureShake:
		return "shake"
	case GestureFlick:
		return "flick"
	case GestureTwist:
		return "twist"
	default:
		return "gesture-" + itoa(uint8(id))
	}
}

// SensorTimestamp is the device-relative timestamp attached to every sensor
// and gesture record: milliseconds since an arbitrary device epoch, wrapping
// every 65.536 s. The stack makes no attempt to correlate it with wall time.
type SensorTimestamp uint16

// Millis returns the timestamp value in milliseconds.
func (t SensorTimestamp) Millis() uint16 { return uint16(t) }

// itoa is a tiny decimal formatter so String() methods avoid fmt in the hot
// decode path.
func itoa(v uint8) string {
	if v == 0 {
		return "0"
	}
	var b [3]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = '0' + v%10
		v /= 10
	}
	return string(b[i:])
}
