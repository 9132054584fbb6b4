package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/wearlink/internal/protocol"
	"github.com/srg/wearlink/internal/session"
	"github.com/srg/wearlink/internal/transport/goble"
	"github.com/srg/wearlink/pkg/wearable"
)

// Command-level errors
var (
	// ErrDeviceNotReady indicates the session opened but the device never
	// finished its startup reads within the wait deadline.
	ErrDeviceNotReady = errors.New("device did not become ready")
)

// FormatUserError turns a stack error into a message fit for stderr,
// stripping the wrap chains that only matter in logs.
func FormatUserError(err error) string {
	var devErr *protocol.DeviceError
	switch {
	case errors.As(err, &devErr):
		return fmt.Sprintf("device rejected the request: %s", devErr.Code)
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off - enable it and try again"
	case errors.Is(err, session.ErrConnectTimeout):
		return "connection timed out - is the device in range and powered on?"
	case errors.Is(err, session.ErrWritePending):
		return "a configuration write is still awaiting acknowledgement - try again"
	case errors.Is(err, wearable.ErrNotReady):
		return "the device has not finished reading its startup values yet"
	case errors.Is(err, ErrDeviceNotReady):
		return "the device connected but never reported its startup values"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	default:
		return err.Error()
	}
}
