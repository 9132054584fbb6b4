package registry_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/transport"
)

type nopDevice struct {
	kind registry.DeviceKind
}

func (d *nopDevice) Kind() registry.DeviceKind               { return d.kind }
func (d *nopDevice) HandleValueUpdate(string, []byte, error) {}
func (d *nopDevice) HandleWriteResult(string, error)         {}
func (d *nopDevice) Close()                                  {}

func nopFactory(kind registry.DeviceKind) registry.Factory {
	return func(registry.Port, registry.ServiceSet) (registry.Device, error) {
		return &nopDevice{kind: kind}, nil
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRegisterValidation(t *testing.T) {
	r := registry.New(newTestLogger())

	assert.Error(t, r.Register(registry.Descriptor{Kind: "", New: nopFactory("")}))
	assert.Error(t, r.Register(registry.Descriptor{Kind: "a"}))

	require.NoError(t, r.Register(registry.Descriptor{Kind: "a", New: nopFactory("a")}))
	assert.Error(t, r.Register(registry.Descriptor{Kind: "a", New: nopFactory("a")}), "duplicate kind")
	assert.Equal(t, 1, r.Len())
}

func TestMatchAdvertisementRequiredAndForbidden(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:                        "wearable",
		RequiredAdvertisedServices:  []string{"AAAA"},
		ForbiddenAdvertisedServices: []string{"BBBB"},
		New:                         nopFactory("wearable"),
	}))

	// Advertises both the required and the forbidden service: no match.
	adv := transport.Advertisement{ServiceUUIDs: []string{"aaaa", "bbbb"}}
	assert.Empty(t, r.MatchAdvertisement(adv))

	// Forbidden service gone: match.
	adv = transport.Advertisement{ServiceUUIDs: []string{"aaaa"}}
	assert.Equal(t, []registry.DeviceKind{"wearable"}, r.MatchAdvertisement(adv))

	// Required service missing: no match.
	adv = transport.Advertisement{ServiceUUIDs: []string{"cccc"}}
	assert.Empty(t, r.MatchAdvertisement(adv))
}

func TestMatchAdvertisementPredicate(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind: "picky",
		Predicate: func(adv transport.Advertisement) bool {
			return len(adv.ManufacturerData) >= 2 && adv.ManufacturerData[0] == 0x42
		},
		New: nopFactory("picky"),
	}))

	assert.Empty(t, r.MatchAdvertisement(transport.Advertisement{ManufacturerData: []byte{0x00, 0x01}}))
	assert.Len(t, r.MatchAdvertisement(transport.Advertisement{ManufacturerData: []byte{0x42, 0x01}}), 1)
}

func TestMatchAdvertisementNormalizesUUIDs(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:                       "std",
		RequiredAdvertisedServices: []string{"180A"},
		New:                        nopFactory("std"),
	}))

	adv := transport.Advertisement{ServiceUUIDs: []string{"0000180a-0000-1000-8000-00805f9b34fb"}}
	assert.Len(t, r.MatchAdvertisement(adv), 1)
}

func serviceSet() registry.ServiceSet {
	return registry.ServiceSet{
		"aaaa": {
			{UUID: "c001", ServiceUUID: "aaaa"},
			{UUID: "c002", ServiceUUID: "aaaa"},
		},
		"180a": {
			{UUID: "2a26", ServiceUUID: "180a"},
		},
	}
}

func TestInstantiateFirstRegisteredWins(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:     "first",
		Services: []registry.ServiceDescriptor{{UUID: "aaaa", Required: []string{"c001"}}},
		New:      nopFactory("first"),
	}))
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:     "second",
		Services: []registry.ServiceDescriptor{{UUID: "aaaa", Required: []string{"c001"}}},
		New:      nopFactory("second"),
	}))

	dev, err := r.Instantiate(nil, serviceSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, registry.DeviceKind("first"), dev.Kind())
}

func TestInstantiateRestrictedToAdvertisementMatches(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:     "first",
		Services: []registry.ServiceDescriptor{{UUID: "aaaa", Required: []string{"c001"}}},
		New:      nopFactory("first"),
	}))
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:     "second",
		Services: []registry.ServiceDescriptor{{UUID: "aaaa"}},
		New:      nopFactory("second"),
	}))

	dev, err := r.Instantiate([]registry.DeviceKind{"second"}, serviceSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, registry.DeviceKind("second"), dev.Kind())
}

func TestInstantiateMissingService(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:     "w",
		Services: []registry.ServiceDescriptor{{UUID: "dddd"}},
		New:      nopFactory("w"),
	}))

	_, err := r.Instantiate(nil, serviceSet(), nil)
	require.ErrorIs(t, err, registry.ErrNoMatchingDeviceType)
	assert.Contains(t, err.Error(), `service "dddd" not found`)
}

func TestInstantiateMissingCharacteristic(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind:     "w",
		Services: []registry.ServiceDescriptor{{UUID: "aaaa", Required: []string{"c009"}}},
		New:      nopFactory("w"),
	}))

	_, err := r.Instantiate(nil, serviceSet(), nil)
	require.ErrorIs(t, err, registry.ErrNoMatchingDeviceType)
	assert.Contains(t, err.Error(), `characteristic "c009" not found in service "aaaa"`)
}

func TestInstantiateOptionalCharacteristicsIgnored(t *testing.T) {
	r := registry.New(newTestLogger())
	require.NoError(t, r.Register(registry.Descriptor{
		Kind: "w",
		Services: []registry.ServiceDescriptor{{
			UUID:     "aaaa",
			Required: []string{"c001"},
			Optional: []string{"ffff"}, // absent, but optional
		}},
		New: nopFactory("w"),
	}))

	_, err := r.Instantiate(nil, serviceSet(), nil)
	assert.NoError(t, err)
}

func TestInstantiateEmptyRegistry(t *testing.T) {
	r := registry.New(newTestLogger())
	_, err := r.Instantiate(nil, serviceSet(), nil)
	assert.ErrorIs(t, err, registry.ErrNoMatchingDeviceType)
}

func TestServiceSetLookups(t *testing.T) {
	s := serviceSet()
	assert.True(t, s.HasService("AAAA"))
	assert.True(t, s.Has("aaaa", "C001"))
	assert.False(t, s.Has("aaaa", "c003"))
	assert.False(t, s.Has("eeee", "c001"))
	assert.True(t, s.HasService("0000180a-0000-1000-8000-00805f9b34fb"))
}
