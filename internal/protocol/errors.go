package protocol

import (
	"errors"
	"fmt"
)

// Parse errors. A truncated payload drops the offending record (or the whole
// update when the header itself is missing); these errors stay inside the
// decode layer and are logged, not surfaced to the application.
var (
	// ErrTruncatedPayload indicates a payload too short for its fixed header.
	ErrTruncatedPayload = errors.New("truncated payload")
	// ErrMissingMetadata indicates a data or configuration payload arrived
	// before the information payload that describes its record lengths.
	ErrMissingMetadata = errors.New("metadata not available")
)

// DeviceErrorCode is the closed enumeration of semantic error codes the
// firmware reports through GATT attribute error responses.
type DeviceErrorCode uint8

const (
	DeviceErrInvalidRequestLength DeviceErrorCode = iota + 1
	DeviceErrInvalidSamplePeriod
	DeviceErrInvalidSensorConfiguration
	DeviceErrThroughputExceeded
	DeviceErrServiceUnavailable
	DeviceErrInvalidSensor
	DeviceErrTimeout
)

func (c DeviceErrorCode) String() string {
	switch c {
	case DeviceErrInvalidRequestLength:
		return "invalid request length"
	case DeviceErrInvalidSamplePeriod:
		return "invalid sample period"
	case DeviceErrInvalidSensorConfiguration:
		return "invalid sensor configuration"
	case DeviceErrThroughputExceeded:
		return "throughput exceeded"
	case DeviceErrServiceUnavailable:
		return "service unavailable"
	case DeviceErrInvalidSensor:
		return "invalid sensor"
	case DeviceErrTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("device error %#x", uint8(c))
	}
}

// DeviceError is a firmware-reported error translated into its semantic code.
// AttCode keeps the raw attribute error byte for debugging.
type DeviceError struct {
	Code    DeviceErrorCode
	AttCode byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: %s (att %#x)", e.Code, e.AttCode)
}

// Is lets errors.Is compare DeviceError values by semantic code.
func (e *DeviceError) Is(target error) bool {
	t, ok := target.(*DeviceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Application error codes on the wearable's attribute protocol. The 0x80-0x9f
// range is reserved for application errors by the attribute protocol; the
// firmware uses the low end of it.
const (
	attInvalidRequestLength       = 0x80
	attInvalidSamplePeriod        = 0x81
	attInvalidSensorConfiguration = 0x82
	attThroughputExceeded         = 0x83
	attServiceUnavailable         = 0x84
	attInvalidSensor              = 0x85
	attTimeout                    = 0x86
)

var attErrorCodes = map[byte]DeviceErrorCode{
	attInvalidRequestLength:       DeviceErrInvalidRequestLength,
	attInvalidSamplePeriod:        DeviceErrInvalidSamplePeriod,
	attInvalidSensorConfiguration: DeviceErrInvalidSensorConfiguration,
	attThroughputExceeded:         DeviceErrThroughputExceeded,
	attServiceUnavailable:         DeviceErrServiceUnavailable,
	attInvalidSensor:              DeviceErrInvalidSensor,
	attTimeout:                    DeviceErrTimeout,
}

// TranslateAttError maps a firmware attribute error code to a DeviceError.
// Unrecognized codes return (nil, false); the caller passes the underlying
// transport error through opaquely.
func TranslateAttError(att byte) (*DeviceError, bool) {
	code, ok := attErrorCodes[att]
	if !ok {
		return nil, false
	}
	return &DeviceError{Code: code, AttCode: att}, true
}
