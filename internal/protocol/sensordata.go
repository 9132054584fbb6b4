package protocol

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/wire"
)

// SampleKind is the decoded payload shape of a sensor data record. The shape
// is derived from the metadata-reported sample length, not from the sensor ID,
// so firmware can move a sensor between shapes without breaking old hosts.
type SampleKind int

const (
	// SampleVector is 3 signed 16-bit axes plus a one-byte accuracy.
	SampleVector SampleKind = iota
	// SampleQuaternion is 4 signed 16-bit components plus a one- or two-byte
	// accuracy depending on variant.
	SampleQuaternion
	// SampleVectorBias is two 3-axis vectors (value and bias), no accuracy.
	SampleVectorBias
	// SampleRaw is a payload shape this stack does not decode; the bytes are
	// preserved verbatim.
	SampleRaw
)

// Payload lengths for the known sample shapes.
const (
	vectorSampleLength      = 7  // 3*int16 + accuracy(1)
	quatSampleLength        = 9  // 4*int16 + accuracy(1)
	quatWideAccSampleLength = 10 // 4*int16 + accuracy(2)
	vectorBiasSampleLength  = 12 // 2 * 3*int16
)

// sensorDataHeaderLength is the per-record header: sensor ID + timestamp.
const sensorDataHeaderLength = 3

// Vector is a scaled three-axis sample.
type Vector struct {
	X, Y, Z float64
}

// Quaternion is a scaled rotation sample.
type Quaternion struct {
	W, X, Y, Z float64
}

// EulerAngles are pitch/roll/yaw in radians, normalized to [-pi, pi].
type EulerAngles struct {
	Pitch, Roll, Yaw float64
}

// SensorSample is one decoded record from a sensor data payload.
type SensorSample struct {
	ID        SensorID
	Timestamp SensorTimestamp
	Kind      SampleKind

	Vector     Vector     // SampleVector, SampleVectorBias
	Bias       Vector     // SampleVectorBias
	Quaternion Quaternion // SampleQuaternion
	Euler      EulerAngles
	Accuracy   uint16 // SampleVector (one byte), SampleQuaternion (one or two)
	Raw        []byte // SampleRaw
}

// SensorData is a decoded sensor data payload: zero or more samples in wire
// order.
type SensorData struct {
	Samples []SensorSample
}

// ParseSensorData decodes a sensor data payload using the device's sensor
// information table to frame each record.
//
// Records for sensors present in the metadata but with an undecodable payload
// shape are kept as SampleRaw. A record whose sensor ID is absent from the
// metadata cannot be framed at all; the remainder of the buffer is dropped and
// ErrMissingMetadata returned so the caller can decide whether a refresh is
// needed. A nil info always fails that way.
func ParseSensorData(buf []byte, info *SensorInformation, logger *logrus.Logger) (*SensorData, error) {
	if len(buf) < sensorDataHeaderLength {
		return nil, fmt.Errorf("%w: sensor data needs at least %d bytes, have %d",
			ErrTruncatedPayload, sensorDataHeaderLength, len(buf))
	}
	if info == nil {
		return nil, fmt.Errorf("%w: sensor information not yet received", ErrMissingMetadata)
	}

	data := &SensorData{}
	offset := 0
	for offset+sensorDataHeaderLength <= len(buf) {
		id, _ := wire.ReadUint8(buf, offset)
		ts, _ := wire.ReadUint16(buf, offset+1)
		sensorID := SensorID(id)

		length, ok := info.SampleLength(sensorID)
		if !ok {
			// Without a length the rest of the buffer cannot be framed.
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"sensor":    sensorID,
					"offset":    offset,
					"remaining": len(buf) - offset,
				}).Debug("Sensor absent from metadata, dropping remainder of payload")
			}
			return data, fmt.Errorf("%w: sensor %s", ErrMissingMetadata, sensorID)
		}

		payload, err := wire.Slice(buf, offset+sensorDataHeaderLength, length)
		if err != nil {
			// Truncated trailing record; keep what was decoded.
			if logger != nil {
				logger.WithField("sensor", sensorID).Debug("Truncated trailing sensor record dropped")
			}
			break
		}

		sample := decodeSample(sensorID, SensorTimestamp(ts), payload, info.Entry(sensorID))
		data.Samples = append(data.Samples, sample)
		offset += sensorDataHeaderLength + length
	}
	return data, nil
}

func decodeSample(id SensorID, ts SensorTimestamp, payload []byte, entry *SensorInformationEntry) SensorSample {
	sample := SensorSample{ID: id, Timestamp: ts}

	switch len(payload) {
	case vectorSampleLength:
		sample.Kind = SampleVector
		sample.Vector = decodeVector(payload, entry)
		acc, _ := wire.ReadUint8(payload, 6)
		sample.Accuracy = uint16(acc)
	case quatSampleLength, quatWideAccSampleLength:
		sample.Kind = SampleQuaternion
		sample.Quaternion = decodeQuaternion(payload, entry)
		sample.Euler = sample.Quaternion.Euler()
		if len(payload) == quatWideAccSampleLength {
			acc, _ := wire.ReadUint16(payload, 8)
			sample.Accuracy = acc
		} else {
			acc, _ := wire.ReadUint8(payload, 8)
			sample.Accuracy = uint16(acc)
		}
	case vectorBiasSampleLength:
		sample.Kind = SampleVectorBias
		sample.Vector = decodeVector(payload, entry)
		sample.Bias = decodeVectorAt(payload, 6, entry)
	default:
		sample.Kind = SampleRaw
		sample.Raw = append([]byte(nil), payload...)
	}
	return sample
}

func decodeVector(payload []byte, entry *SensorInformationEntry) Vector {
	return decodeVectorAt(payload, 0, entry)
}

func decodeVectorAt(payload []byte, offset int, entry *SensorInformationEntry) Vector {
	x, _ := wire.ReadInt16(payload, offset)
	y, _ := wire.ReadInt16(payload, offset+2)
	z, _ := wire.ReadInt16(payload, offset+4)
	return Vector{X: entry.Scale(x), Y: entry.Scale(y), Z: entry.Scale(z)}
}

func decodeQuaternion(payload []byte, entry *SensorInformationEntry) Quaternion {
	w, _ := wire.ReadInt16(payload, 0)
	x, _ := wire.ReadInt16(payload, 2)
	y, _ := wire.ReadInt16(payload, 4)
	z, _ := wire.ReadInt16(payload, 6)
	q := Quaternion{W: entry.Scale(w), X: entry.Scale(x), Y: entry.Scale(y), Z: entry.Scale(z)}
	return q.normalized()
}

func (q Quaternion) normalized() Quaternion {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 {
		return Quaternion{W: 1}
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Euler converts a unit quaternion to pitch/roll/yaw.
//
// Pitch is computed through atan2 with the cut shifted by pi: the firmware's
// device orientation puts the asin discontinuity exactly at the horizon, where
// the wearable spends most of its time, so the angle is rotated away from it
// and renormalized to [-pi, pi] afterwards.
func (q Quaternion) Euler() EulerAngles {
	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	// Clamp against float drift before the sqrt.
	if sinp > 1 {
		sinp = 1
	} else if sinp < -1 {
		sinp = -1
	}
	cosp := math.Sqrt(1 - sinp*sinp)
	pitch := normalizeAngle(math.Atan2(-sinp, -cosp) + math.Pi)

	roll := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	yaw := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))

	return EulerAngles{
		Pitch: pitch,
		Roll:  normalizeAngle(roll),
		Yaw:   normalizeAngle(yaw),
	}
}

// normalizeAngle wraps an angle to [-pi, pi].
func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
