package goble

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Adapter-level sentinel errors, matched by errors.Is.
var (
	// ErrBluetoothOff indicates the platform radio is powered off.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	// ErrNotConnected indicates an operation on a peripheral with no live
	// connection.
	ErrNotConnected = errors.New("peripheral not connected")
	// ErrUnknownCharacteristic indicates the characteristic was never
	// discovered on this connection.
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
	// ErrUnknownService indicates the service was never discovered on this
	// connection.
	ErrUnknownService = errors.New("unknown service")
)

// AttError carries the ATT application error code a peripheral returned for a
// GATT request. Higher layers recover the code through the AttCode method.
type AttError struct {
	Code byte
	Err  error
}

func (e *AttError) Error() string {
	return fmt.Sprintf("att error 0x%02x: %v", e.Code, e.Err)
}

// AttCode returns the raw ATT error code.
func (e *AttError) AttCode() byte { return e.Code }

func (e *AttError) Unwrap() error { return e.Err }

// normalizeError maps known go-ble error strings to structured errors. The
// upstream library reports most failures as bare strings, so matching on
// message content is the only handle available; wrapping preserves the
// original text.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	if code, ok := parseAttCode(msg); ok {
		return &AttError{Code: code, Err: err}
	}
	return err
}

// parseAttCode extracts an ATT error code from a go-ble error message.
// Darwin reports CoreBluetooth's "CBATTErrorDomain Code=N"; the Linux HCI
// stack formats the raw code as "ATT error: 0xNN".
func parseAttCode(msg string) (byte, bool) {
	if i := strings.Index(msg, "CBATTErrorDomain Code="); i >= 0 {
		rest := msg[i+len("CBATTErrorDomain Code="):]
		if n := leadingInt(rest); n >= 0 && n <= 0xff {
			return byte(n), true
		}
	}
	if i := strings.Index(strings.ToLower(msg), "att error: 0x"); i >= 0 {
		rest := msg[i+len("att error: 0x"):]
		if len(rest) >= 2 {
			if n, err := strconv.ParseUint(rest[:2], 16, 8); err == nil {
				return byte(n), true
			}
		}
	}
	return 0, false
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return -1
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return -1
	}
	return n
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
