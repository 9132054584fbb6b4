package scanner_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/testutils"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/uuids"
	"github.com/srg/wearlink/scanner"
)

type nopDevice struct{}

func (nopDevice) Kind() registry.DeviceKind               { return "wearable" }
func (nopDevice) HandleValueUpdate(string, []byte, error) {}
func (nopDevice) HandleWriteResult(string, error)         {}
func (nopDevice) Close()                                  {}

type scanEnv struct {
	tr      *testutils.FakeTransport
	scanner *scanner.Scanner
}

func newScanEnv(t *testing.T) *scanEnv {
	h := testutils.NewTestHelper(t)

	reg := registry.New(h.Logger)
	require.NoError(t, reg.Register(registry.Descriptor{
		Kind:                       "wearable",
		RequiredAdvertisedServices: []string{uuids.WearableService},
		New: func(registry.Port, registry.ServiceSet) (registry.Device, error) {
			return nopDevice{}, nil
		},
	}))

	tr := testutils.NewFakeTransport()
	t.Cleanup(tr.Close)

	s := scanner.New(tr, tr.Queue, reg, h.Logger)
	tr.SetCallbacks(transport.Callbacks{OnDiscovered: s.HandleAdvertisement})
	return &scanEnv{tr: tr, scanner: s}
}

func wearableAdv(name string) transport.Advertisement {
	return testutils.NewAdvertisement().
		WithName(name).
		WithServices(uuids.WearableService).
		Build()
}

func waitEvent(t *testing.T, events <-chan scanner.DeviceEvent) scanner.DeviceEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no discovery event")
		return scanner.DeviceEvent{}
	}
}

func TestScannerAddsMatchingDevice(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Start(nil))

	env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -40)

	ev := waitEvent(t, env.scanner.Events())
	assert.Equal(t, scanner.EventAdded, ev.Type)
	assert.Equal(t, transport.PeripheralID("AA:BB"), ev.Device.ID)
	assert.Equal(t, -40, ev.Device.RSSI)
	assert.Equal(t, []registry.DeviceKind{"wearable"}, ev.Device.MatchedKinds)

	require.Len(t, env.scanner.Devices(), 1)
}

func TestScannerSecondAdvertisementIsUpdate(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Start(nil))

	env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -40)
	env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -55)

	assert.Equal(t, scanner.EventAdded, waitEvent(t, env.scanner.Events()).Type)
	ev := waitEvent(t, env.scanner.Events())
	assert.Equal(t, scanner.EventUpdated, ev.Type)
	assert.Equal(t, -55, ev.Device.RSSI)
	assert.Len(t, env.scanner.Devices(), 1, "same peripheral, one entry")
}

func TestScannerRejectsWeakOrUnknownSignal(t *testing.T) {
	env := newScanEnv(t)
	opts := scanner.DefaultOptions()
	opts.RSSICutoff = -50
	require.NoError(t, env.scanner.Start(opts))

	env.tr.EmitAdvertisement("AA:01", wearableAdv("far"), -60)
	env.tr.EmitAdvertisement("AA:02", wearableAdv("edge"), -50) // at the cutoff: rejected
	env.tr.EmitAdvertisement("AA:03", wearableAdv("ghost"), transport.RSSIUnknown)
	env.tr.EmitAdvertisement("AA:04", wearableAdv("near"), -49)

	ev := waitEvent(t, env.scanner.Events())
	assert.Equal(t, transport.PeripheralID("AA:04"), ev.Device.ID)
	assert.Len(t, env.scanner.Devices(), 1)
}

func TestScannerIgnoresUnmatchedAdvertisement(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Start(nil))

	heartRate := testutils.NewAdvertisement().WithServices("180d").Build()
	env.tr.EmitAdvertisement("AA:BB", heartRate, -40)
	env.tr.EmitAdvertisement("CC:DD", wearableAdv("tracker"), -40)

	ev := waitEvent(t, env.scanner.Events())
	assert.Equal(t, transport.PeripheralID("CC:DD"), ev.Device.ID)
	assert.Len(t, env.scanner.Devices(), 1)
}

func TestScannerRemovesSilentDevice(t *testing.T) {
	env := newScanEnv(t)
	opts := scanner.DefaultOptions()
	opts.RemovalTimeout = 50 * time.Millisecond
	require.NoError(t, env.scanner.Start(opts))

	env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -40)
	assert.Equal(t, scanner.EventAdded, waitEvent(t, env.scanner.Events()).Type)

	ev := waitEvent(t, env.scanner.Events())
	assert.Equal(t, scanner.EventRemoved, ev.Type)
	assert.Equal(t, transport.PeripheralID("AA:BB"), ev.Device.ID)
	assert.Empty(t, env.scanner.Devices())
}

func TestScannerAdvertisementRefreshesLiveness(t *testing.T) {
	env := newScanEnv(t)
	opts := scanner.DefaultOptions()
	opts.RemovalTimeout = 120 * time.Millisecond
	require.NoError(t, env.scanner.Start(opts))

	// Keep advertising well inside the timeout; the device must stay.
	for i := 0; i < 5; i++ {
		env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -40)
		time.Sleep(40 * time.Millisecond)
	}
	_, visible := env.scanner.Device("AA:BB")
	assert.True(t, visible, "device advertised recently, must not be removed")

	// Then go silent.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.scanner.Events():
			if ev.Type == scanner.EventRemoved {
				return
			}
		case <-deadline:
			t.Fatal("device was not removed after going silent")
		}
	}
}

func TestScannerSingleActiveScan(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Start(nil))

	assert.ErrorIs(t, env.scanner.Start(nil), scanner.ErrScanInProgress)

	require.NoError(t, env.scanner.Stop())
	assert.NoError(t, env.scanner.Start(nil), "scan allowed again after stop")
}

func TestScannerStopWithoutStart(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Stop())
	assert.Empty(t, env.tr.OpNames(), "no transport calls for a no-op stop")
}

func TestScannerSnapshotsDuringActiveScan(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Start(nil))

	// Snapshot accessors run on the serial queue, so polling them while
	// advertisements rewrite the same entry must yield consistent copies.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			for _, dev := range env.scanner.Devices() {
				assert.Equal(t, transport.PeripheralID("AA:BB"), dev.ID)
				assert.Equal(t, []registry.DeviceKind{"wearable"}, dev.MatchedKinds)
			}
			if dev, ok := env.scanner.Device("AA:BB"); ok {
				assert.Equal(t, "tracker", dev.Advertisement.LocalName)
			}
			env.scanner.Events()
		}
	}()

	for i := 0; i < 200; i++ {
		env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -40-(i%20))
	}
	<-done

	dev, ok := env.scanner.Device("AA:BB")
	require.True(t, ok)
	assert.Equal(t, []registry.DeviceKind{"wearable"}, dev.MatchedKinds)
}

func TestScannerFreshSessionClearsDevices(t *testing.T) {
	env := newScanEnv(t)
	require.NoError(t, env.scanner.Start(nil))
	env.tr.EmitAdvertisement("AA:BB", wearableAdv("tracker"), -40)
	waitEvent(t, env.scanner.Events())
	require.NoError(t, env.scanner.Stop())

	require.NoError(t, env.scanner.Start(nil))
	assert.Empty(t, env.scanner.Devices())
}
