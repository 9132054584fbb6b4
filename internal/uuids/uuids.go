// Package uuids holds the GATT identifiers of the wearable firmware contract
// and the normalization helpers the rest of the stack uses to compare them.
//
// All UUIDs are stored and compared in normalized form: lowercase, no dashes,
// with Bluetooth SIG base UUIDs collapsed to their 16-bit short form.
package uuids

import "strings"

// Standard 16-bit services/characteristics used during session startup.
const (
	DeviceInformationService = "180a"
	FirmwareRevision         = "2a26"
	HardwareRevision         = "2a27"
	ManufacturerName         = "2a29"
	BatteryService           = "180f"
	BatteryLevel             = "2a19"
)

// Proprietary wearable service and its characteristics (128-bit).
const (
	WearableService = "00007500a2cc434fbac863f5e384ce2e"

	WearableDeviceInformationChar = "00007501a2cc434fbac863f5e384ce2e"
	SensorInformationChar         = "00007502a2cc434fbac863f5e384ce2e"
	SensorConfigurationChar       = "00007503a2cc434fbac863f5e384ce2e"
	SensorDataChar                = "00007504a2cc434fbac863f5e384ce2e"
	GestureInformationChar        = "00007505a2cc434fbac863f5e384ce2e"
	GestureConfigurationChar      = "00007506a2cc434fbac863f5e384ce2e"
	GestureDataChar               = "00007507a2cc434fbac863f5e384ce2e"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// Normalize converts a UUID string to the stack's canonical form: lowercase,
// no dashes, "0x" prefix stripped. Full 128-bit UUIDs on the Bluetooth SIG
// base (0000xxxx-0000-1000-8000-00805f9b34fb) collapse to the 16-bit short
// form so "180A", "0x180a" and the full base-UUID spelling all compare equal.
func Normalize(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeAll normalizes a slice of UUID strings.
func NormalizeAll(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = Normalize(u)
	}
	return out
}

// Equal reports whether two UUID strings identify the same attribute,
// regardless of spelling.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Shorten truncates a normalized UUID for log output. Short UUIDs are
// returned as-is.
func Shorten(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

var knownNames = map[string]string{
	DeviceInformationService:      "Device Information",
	FirmwareRevision:              "Firmware Revision String",
	HardwareRevision:              "Hardware Revision String",
	ManufacturerName:              "Manufacturer Name String",
	BatteryService:                "Battery Service",
	BatteryLevel:                  "Battery Level",
	WearableService:               "Wearable Service",
	WearableDeviceInformationChar: "Wearable Device Information",
	SensorInformationChar:         "Sensor Information",
	SensorConfigurationChar:       "Sensor Configuration",
	SensorDataChar:                "Sensor Data",
	GestureInformationChar:        "Gesture Information",
	GestureConfigurationChar:      "Gesture Configuration",
	GestureDataChar:               "Gesture Data",
}

// KnownName returns a human-readable name for a UUID, or "" if the stack does
// not know it. Used for logging only; never for matching.
func KnownName(uuid string) string {
	return knownNames[Normalize(uuid)]
}
