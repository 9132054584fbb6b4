// Package wearable is the application-facing API of the stack: the Manager
// that owns discovery and sessions, and the Device that a session
// instantiates for a connected wearable peripheral.
package wearable

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/dispatch"
	"github.com/srg/wearlink/internal/protocol"
	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/uuids"
)

// Kind is the registered device type tag for the wearable sensor device.
const Kind = registry.DeviceKind("wearable")

// ErrNotReady rejects operations that need a startup value the device has not
// received yet.
var ErrNotReady = errors.New("startup value not yet received")

// StartupValue names one of the values read at session startup. The device is
// ready once every applicable startup value has arrived.
type StartupValue int

const (
	StartupDeviceInformation StartupValue = iota
	StartupWearableDeviceInformation
	StartupSensorInformation
	StartupSensorConfiguration
	StartupGestureInformation
	StartupGestureConfiguration
)

func (v StartupValue) String() string {
	switch v {
	case StartupDeviceInformation:
		return "device-information"
	case StartupWearableDeviceInformation:
		return "wearable-device-information"
	case StartupSensorInformation:
		return "sensor-information"
	case StartupSensorConfiguration:
		return "sensor-configuration"
	case StartupGestureInformation:
		return "gesture-information"
	case StartupGestureConfiguration:
		return "gesture-configuration"
	default:
		return "unknown"
	}
}

// DeviceInformation holds the standard GATT device information strings, for
// the fields the peripheral exposes.
type DeviceInformation struct {
	FirmwareRevision string
	HardwareRevision string
	ManufacturerName string
}

// Device is an instantiated wearable peripheral. It gates readiness on the
// startup values, decodes telemetry with the device-reported metadata, and
// fans decoded events out through its dispatcher.
//
// Payloads whose metadata has not arrived yet are dropped and readiness
// stalls; there are no automatic retries. Refresh re-issues a startup read
// when the application decides to recover.
type Device struct {
	port   registry.Port
	logger *logrus.Entry
	events *dispatch.Dispatcher

	deviceInfoChars []string // present 180a characteristics, normalized

	mu      sync.Mutex
	pending map[string]StartupValue
	ready   bool
	readyCh chan struct{}

	info        DeviceInformation
	wearInfo    *protocol.WearableDeviceInformation
	sensorInfo  *protocol.SensorInformation
	sensorCfg   *protocol.SensorConfiguration
	gestureInfo *protocol.GestureInformation
	gestureCfg  *protocol.GestureConfiguration

	// Read-modify-write state: the mutated copy is committed only when the
	// write acknowledgement arrives.
	inflightSensorCfg  *protocol.SensorConfiguration
	inflightGestureCfg *protocol.GestureConfiguration

	closeOnce sync.Once
}

// Descriptor returns the wearable device-type descriptor for registration.
// eventBuffer sizes each device's event ring.
func Descriptor(eventBuffer int, logger *logrus.Logger) registry.Descriptor {
	return registry.Descriptor{
		Kind:                       Kind,
		RequiredAdvertisedServices: []string{uuids.WearableService},
		Services: []registry.ServiceDescriptor{{
			UUID: uuids.WearableService,
			Required: []string{
				uuids.WearableDeviceInformationChar,
				uuids.SensorInformationChar,
				uuids.SensorConfigurationChar,
				uuids.SensorDataChar,
				uuids.GestureInformationChar,
				uuids.GestureConfigurationChar,
				uuids.GestureDataChar,
			},
		}},
		New: func(port registry.Port, services registry.ServiceSet) (registry.Device, error) {
			return newDevice(port, services, eventBuffer, logger)
		},
	}
}

func newDevice(port registry.Port, services registry.ServiceSet, eventBuffer int, logger *logrus.Logger) (*Device, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if eventBuffer <= 0 {
		eventBuffer = 100
	}
	d := &Device{
		port:    port,
		logger:  logger.WithField("kind", Kind),
		events:  dispatch.New(eventBuffer, logger),
		pending: make(map[string]StartupValue),
		readyCh: make(chan struct{}),
	}

	startup := map[string]StartupValue{
		uuids.WearableDeviceInformationChar: StartupWearableDeviceInformation,
		uuids.SensorInformationChar:         StartupSensorInformation,
		uuids.SensorConfigurationChar:       StartupSensorConfiguration,
		uuids.GestureInformationChar:        StartupGestureInformation,
		uuids.GestureConfigurationChar:      StartupGestureConfiguration,
	}
	// The standard device information service is optional; gate only on the
	// string characteristics the peripheral actually exposes.
	for _, char := range []string{uuids.FirmwareRevision, uuids.HardwareRevision, uuids.ManufacturerName} {
		if services.Has(uuids.DeviceInformationService, char) {
			startup[char] = StartupDeviceInformation
			d.deviceInfoChars = append(d.deviceInfoChars, char)
		}
	}

	for char, value := range startup {
		d.pending[char] = value
		if err := port.Read(char); err != nil {
			d.events.Close()
			return nil, fmt.Errorf("startup read %s: %w", value, err)
		}
	}
	for _, char := range []string{uuids.SensorDataChar, uuids.GestureDataChar} {
		if err := port.SetNotify(char, true); err != nil {
			d.events.Close()
			return nil, fmt.Errorf("subscribe %s: %w", uuids.Shorten(char), err)
		}
	}
	return d, nil
}

// Kind implements registry.Device.
func (d *Device) Kind() registry.DeviceKind { return Kind }

// Ready returns a channel closed once all startup values have arrived.
func (d *Device) Ready() <-chan struct{} { return d.readyCh }

// IsReady reports whether the startup gate has opened.
func (d *Device) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// PendingStartupValues returns the startup values still awaited, for
// diagnosing a stalled gate.
func (d *Device) PendingStartupValues() []StartupValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[StartupValue]bool)
	var out []StartupValue
	for _, v := range d.pending {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Subscribe registers an event listener with the device's dispatcher.
func (d *Device) Subscribe(l dispatch.Listener) *dispatch.Subscription {
	return d.events.Subscribe(l)
}

// DeviceInformation returns the standard GATT information strings.
func (d *Device) DeviceInformation() DeviceInformation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// WearableDeviceInformation returns the wearable information record, if
// received.
func (d *Device) WearableDeviceInformation() (protocol.WearableDeviceInformation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.wearInfo == nil {
		return protocol.WearableDeviceInformation{}, false
	}
	return *d.wearInfo, true
}

// SensorInformation returns the sensor metadata table, if received. The
// returned value is shared; treat it as read-only.
func (d *Device) SensorInformation() (*protocol.SensorInformation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensorInfo, d.sensorInfo != nil
}

// SensorConfiguration returns a copy of the current sensor configuration, if
// received.
func (d *Device) SensorConfiguration() (*protocol.SensorConfiguration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sensorCfg == nil {
		return nil, false
	}
	return cloneSensorConfig(d.sensorCfg), true
}

// GestureInformation returns the gesture metadata table, if received. Shared;
// treat as read-only.
func (d *Device) GestureInformation() (*protocol.GestureInformation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gestureInfo, d.gestureInfo != nil
}

// GestureConfiguration returns a copy of the current gesture configuration,
// if received.
func (d *Device) GestureConfiguration() (*protocol.GestureConfiguration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gestureCfg == nil || d.gestureInfo == nil {
		return nil, false
	}
	cfg, err := protocol.ParseGestureConfiguration(d.gestureCfg.Bytes(), d.gestureInfo, nil)
	if err != nil {
		return nil, false
	}
	return cfg, true
}

// Refresh re-issues the startup read(s) for one value. The application calls
// it after a stall, typically when PendingStartupValues shows a config value
// that raced ahead of its metadata.
func (d *Device) Refresh(v StartupValue) error {
	chars, err := d.startupChars(v)
	if err != nil {
		return err
	}
	for _, char := range chars {
		if err := d.port.Read(char); err != nil {
			return fmt.Errorf("refresh %s: %w", v, err)
		}
	}
	return nil
}

func (d *Device) startupChars(v StartupValue) ([]string, error) {
	switch v {
	case StartupDeviceInformation:
		return d.deviceInfoChars, nil
	case StartupWearableDeviceInformation:
		return []string{uuids.WearableDeviceInformationChar}, nil
	case StartupSensorInformation:
		return []string{uuids.SensorInformationChar}, nil
	case StartupSensorConfiguration:
		return []string{uuids.SensorConfigurationChar}, nil
	case StartupGestureInformation:
		return []string{uuids.GestureInformationChar}, nil
	case StartupGestureConfiguration:
		return []string{uuids.GestureConfigurationChar}, nil
	default:
		return nil, fmt.Errorf("unknown startup value %d", v)
	}
}

// ChangeSensorConfiguration applies a read-modify-write cycle on the sensor
// configuration: mutate receives a copy of the current configuration, and the
// result is written with response. The local configuration is committed when
// the acknowledgement arrives; a failed write keeps the old one.
func (d *Device) ChangeSensorConfiguration(mutate func(*protocol.SensorConfiguration) error) error {
	d.mu.Lock()
	if d.sensorCfg == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, StartupSensorConfiguration)
	}
	clone := cloneSensorConfig(d.sensorCfg)
	d.mu.Unlock()

	if err := mutate(clone); err != nil {
		return err
	}

	d.mu.Lock()
	d.inflightSensorCfg = clone
	d.mu.Unlock()

	if err := d.port.Write(uuids.SensorConfigurationChar, clone.Bytes(), transport.WriteWithResponse); err != nil {
		d.mu.Lock()
		d.inflightSensorCfg = nil
		d.mu.Unlock()
		return err
	}
	return nil
}

// ChangeGestureConfiguration is the gesture counterpart of
// ChangeSensorConfiguration.
func (d *Device) ChangeGestureConfiguration(mutate func(*protocol.GestureConfiguration) error) error {
	d.mu.Lock()
	if d.gestureCfg == nil || d.gestureInfo == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, StartupGestureConfiguration)
	}
	clone, err := protocol.ParseGestureConfiguration(d.gestureCfg.Bytes(), d.gestureInfo, nil)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if err := mutate(clone); err != nil {
		return err
	}

	d.mu.Lock()
	d.inflightGestureCfg = clone
	d.mu.Unlock()

	if err := d.port.Write(uuids.GestureConfigurationChar, clone.Bytes(), transport.WriteWithResponse); err != nil {
		d.mu.Lock()
		d.inflightGestureCfg = nil
		d.mu.Unlock()
		return err
	}
	return nil
}

// HandleValueUpdate implements registry.Device. Invoked on the transport
// queue with every read response and notification, in arrival order.
func (d *Device) HandleValueUpdate(charUUID string, value []byte, err error) {
	if err != nil {
		d.handleValueError(charUUID, err)
		return
	}

	switch charUUID {
	case uuids.WearableDeviceInformationChar:
		d.acceptWearableInfo(value)
	case uuids.SensorInformationChar:
		d.acceptSensorInfo(value)
	case uuids.SensorConfigurationChar:
		d.acceptSensorConfig(value)
	case uuids.GestureInformationChar:
		d.acceptGestureInfo(value)
	case uuids.GestureConfigurationChar:
		d.acceptGestureConfig(value)
	case uuids.SensorDataChar:
		d.acceptSensorData(value)
	case uuids.GestureDataChar:
		d.acceptGestureData(value)
	case uuids.FirmwareRevision, uuids.HardwareRevision, uuids.ManufacturerName:
		d.acceptDeviceInfoString(charUUID, value)
	default:
		d.logger.WithField("char", uuids.Shorten(charUUID)).Debug("Value for unhandled characteristic")
	}
}

func (d *Device) handleValueError(charUUID string, err error) {
	entry := d.logger.WithField("char", uuids.Shorten(charUUID)).WithError(err)
	if devErr, ok := protocol.TranslateAttError(attCode(err)); ok {
		err = devErr
		entry = entry.WithField("code", devErr.Code)
	}
	entry.Warn("Characteristic value error")
	d.events.PublishError(fmt.Errorf("characteristic %s: %w", uuids.Shorten(charUUID), err))
}

// attCode extracts a firmware application error code when the transport
// surfaces one.
func attCode(err error) byte {
	var coded interface{ AttCode() byte }
	if errors.As(err, &coded) {
		return coded.AttCode()
	}
	return 0
}

func (d *Device) acceptWearableInfo(value []byte) {
	info, err := protocol.ParseWearableDeviceInformation(value)
	if err != nil {
		d.logger.WithError(err).Warn("Bad wearable device information payload")
		return
	}
	d.mu.Lock()
	d.wearInfo = info
	d.mu.Unlock()
	d.resolve(uuids.WearableDeviceInformationChar)
}

func (d *Device) acceptSensorInfo(value []byte) {
	info, err := protocol.ParseSensorInformation(value)
	if err != nil {
		d.logger.WithError(err).Warn("Bad sensor information payload")
		return
	}
	d.mu.Lock()
	d.sensorInfo = info
	d.mu.Unlock()
	d.resolve(uuids.SensorInformationChar)
}

func (d *Device) acceptSensorConfig(value []byte) {
	cfg, err := protocol.ParseSensorConfiguration(value)
	if err != nil {
		d.logger.WithError(err).Warn("Bad sensor configuration payload")
		return
	}
	d.mu.Lock()
	d.sensorCfg = cfg
	d.mu.Unlock()
	d.resolve(uuids.SensorConfigurationChar)
}

func (d *Device) acceptGestureInfo(value []byte) {
	info, err := protocol.ParseGestureInformation(value)
	if err != nil {
		d.logger.WithError(err).Warn("Bad gesture information payload")
		return
	}
	d.mu.Lock()
	d.gestureInfo = info
	d.mu.Unlock()
	d.resolve(uuids.GestureInformationChar)
}

func (d *Device) acceptGestureConfig(value []byte) {
	d.mu.Lock()
	info := d.gestureInfo
	d.mu.Unlock()
	if info == nil {
		// Metadata has not arrived; without it the entries cannot be framed.
		// The startup value stays pending until Refresh.
		d.logger.Debug("Gesture configuration before gesture information, dropped")
		return
	}
	cfg, err := protocol.ParseGestureConfiguration(value, info, d.logger.Logger)
	if err != nil {
		d.logger.WithError(err).Warn("Bad gesture configuration payload")
		return
	}
	d.mu.Lock()
	d.gestureCfg = cfg
	d.mu.Unlock()
	d.resolve(uuids.GestureConfigurationChar)
}

func (d *Device) acceptSensorData(value []byte) {
	d.mu.Lock()
	info := d.sensorInfo
	d.mu.Unlock()
	if info == nil {
		d.logger.Debug("Sensor data before sensor information, dropped")
		return
	}
	data, err := protocol.ParseSensorData(value, info, d.logger.Logger)
	if err != nil {
		// Malformed stream payloads are dropped, not surfaced to the
		// application error stream.
		d.logger.WithError(err).Debug("Bad sensor data payload, dropped")
	}
	if data != nil && len(data.Samples) > 0 {
		d.events.PublishSensorData(*data)
	}
}

func (d *Device) acceptGestureData(value []byte) {
	d.mu.Lock()
	info := d.gestureInfo
	d.mu.Unlock()
	if info == nil {
		d.logger.Debug("Gesture data before gesture information, dropped")
		return
	}
	data, err := protocol.ParseGestureData(value, info, d.logger.Logger)
	if err != nil {
		d.logger.WithError(err).Debug("Bad gesture data payload, dropped")
	}
	if data != nil {
		for _, ev := range data.Events {
			d.events.PublishGesture(ev)
		}
	}
}

func (d *Device) acceptDeviceInfoString(charUUID string, value []byte) {
	d.mu.Lock()
	switch charUUID {
	case uuids.FirmwareRevision:
		d.info.FirmwareRevision = string(value)
	case uuids.HardwareRevision:
		d.info.HardwareRevision = string(value)
	case uuids.ManufacturerName:
		d.info.ManufacturerName = string(value)
	}
	d.mu.Unlock()
	d.resolve(charUUID)
}

// resolve clears one startup characteristic and opens the gate when it was
// the last.
func (d *Device) resolve(charUUID string) {
	d.mu.Lock()
	_, wasPending := d.pending[charUUID]
	delete(d.pending, charUUID)
	opened := wasPending && !d.ready && len(d.pending) == 0
	if opened {
		d.ready = true
	}
	d.mu.Unlock()

	if opened {
		d.logger.Info("Device ready")
		close(d.readyCh)
	}
}

// HandleWriteResult implements registry.Device: commits or discards an
// in-flight configuration on its acknowledgement.
func (d *Device) HandleWriteResult(charUUID string, err error) {
	switch charUUID {
	case uuids.SensorConfigurationChar:
		d.mu.Lock()
		inflight := d.inflightSensorCfg
		d.inflightSensorCfg = nil
		if err == nil && inflight != nil {
			d.sensorCfg = inflight
		}
		d.mu.Unlock()
	case uuids.GestureConfigurationChar:
		d.mu.Lock()
		inflight := d.inflightGestureCfg
		d.inflightGestureCfg = nil
		if err == nil && inflight != nil {
			d.gestureCfg = inflight
		}
		d.mu.Unlock()
	}
	if err != nil {
		d.handleValueError(charUUID, fmt.Errorf("write rejected: %w", err))
	}
}

// Close implements registry.Device.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		d.events.Close()
	})
}

// cloneSensorConfig copies a configuration through its wire form; parse and
// Bytes are exact inverses.
func cloneSensorConfig(cfg *protocol.SensorConfiguration) *protocol.SensorConfiguration {
	clone, err := protocol.ParseSensorConfiguration(cfg.Bytes())
	if err != nil {
		// A stored configuration always round-trips.
		panic(fmt.Sprintf("wearable: sensor configuration round-trip failed: %v", err))
	}
	return clone
}
