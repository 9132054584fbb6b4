// Package registry holds the device-type registration table and the
// identification logic that classifies a peripheral into a concrete device
// type.
//
// Device types form a closed set: each is a DeviceKind tag plus a descriptor
// of identification rules and a factory. Matching is a linear scan in
// registration order; the first full match wins, and additional full matches
// are logged, not resolved.
package registry

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/uuids"
)

// ErrNoMatchingDeviceType is the terminal identification failure: no
// registered device type's required services are all present on the connected
// peripheral.
var ErrNoMatchingDeviceType = errors.New("no matching device type")

// NotFoundError reports a required GATT resource absent during service
// matching, distinguishing a missing service from a missing characteristic
// inside a present service.
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch {
	case len(e.UUIDs) == 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case len(e.UUIDs) == 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// DeviceKind tags a registered device type.
type DeviceKind string

// ServiceSet is the immutable-after-construction mapping from normalized GATT
// service UUID to the characteristics discovered under it, built once after
// characteristic discovery completes.
type ServiceSet map[string][]transport.Characteristic

// Has reports whether the set contains a characteristic, by service and
// characteristic UUID (any spelling).
func (s ServiceSet) Has(serviceUUID, charUUID string) bool {
	chars, ok := s[uuids.Normalize(serviceUUID)]
	if !ok {
		return false
	}
	for _, c := range chars {
		if uuids.Equal(c.UUID, charUUID) {
			return true
		}
	}
	return false
}

// HasService reports whether the set contains a service.
func (s ServiceSet) HasService(serviceUUID string) bool {
	_, ok := s[uuids.Normalize(serviceUUID)]
	return ok
}

// Port is the write side a device instance gets: asynchronous GATT operations
// routed through its owning session. Outcomes arrive via the Device callbacks.
type Port interface {
	Read(charUUID string) error
	Write(charUUID string, value []byte, mode transport.WriteMode) error
	SetNotify(charUUID string, enabled bool) error
}

// Device is an instantiated device-type decoder bound to an open session.
type Device interface {
	Kind() DeviceKind
	// HandleValueUpdate receives every characteristic read response and
	// notification for the peripheral, in transport arrival order.
	HandleValueUpdate(charUUID string, value []byte, err error)
	// HandleWriteResult receives write-with-response acknowledgements, matched
	// by characteristic.
	HandleWriteResult(charUUID string, err error)
	// Close releases the device when its session closes.
	Close()
}

// Factory builds the concrete device for a matched kind.
type Factory func(port Port, services ServiceSet) (Device, error)

// ServiceDescriptor names one GATT service a device type requires, with the
// characteristics that must and may appear under it.
type ServiceDescriptor struct {
	UUID     string
	Required []string
	Optional []string
}

// Descriptor is one registered device type.
type Descriptor struct {
	Kind DeviceKind

	// Advertisement-level rules, evaluated during scanning before connecting.
	RequiredAdvertisedServices  []string
	ForbiddenAdvertisedServices []string
	// Predicate is an optional extra advertisement check; nil accepts.
	Predicate func(adv transport.Advertisement) bool

	// Services are checked against the peripheral's actual GATT database
	// after characteristic discovery.
	Services []ServiceDescriptor

	New Factory
}

// Registry is the ordered device-type registration table. Register all types
// before scanning; the registry itself is not synchronized.
type Registry struct {
	types  *orderedmap.OrderedMap[DeviceKind, *Descriptor]
	logger *logrus.Logger
}

// New creates an empty registry.
func New(logger *logrus.Logger) *Registry {
	return &Registry{
		types:  orderedmap.New[DeviceKind, *Descriptor](),
		logger: logger,
	}
}

// Register appends a device type to the table. Kinds are unique; matching
// priority is registration order.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Kind == "" {
		return fmt.Errorf("device type kind must not be empty")
	}
	if desc.New == nil {
		return fmt.Errorf("device type %q has no factory", desc.Kind)
	}
	if _, exists := r.types.Get(desc.Kind); exists {
		return fmt.Errorf("device type %q already registered", desc.Kind)
	}
	r.types.Set(desc.Kind, &desc)
	return nil
}

// Len returns the number of registered device types.
func (r *Registry) Len() int {
	return r.types.Len()
}

// MatchAdvertisement returns the kinds whose advertisement-level rules accept
// the advertisement, in registration order. An empty result means the
// discovery engine should ignore the peripheral.
func (r *Registry) MatchAdvertisement(adv transport.Advertisement) []DeviceKind {
	advertised := uuids.NormalizeAll(adv.ServiceUUIDs)

	var kinds []DeviceKind
	for pair := r.types.Oldest(); pair != nil; pair = pair.Next() {
		if matchesAdvertisement(pair.Value, advertised, adv) {
			kinds = append(kinds, pair.Key)
		}
	}
	return kinds
}

func matchesAdvertisement(desc *Descriptor, advertised []string, adv transport.Advertisement) bool {
	for _, required := range desc.RequiredAdvertisedServices {
		if !containsUUID(advertised, required) {
			return false
		}
	}
	for _, forbidden := range desc.ForbiddenAdvertisedServices {
		if containsUUID(advertised, forbidden) {
			return false
		}
	}
	if desc.Predicate != nil && !desc.Predicate(adv) {
		return false
	}
	return true
}

func containsUUID(normalized []string, uuid string) bool {
	n := uuids.Normalize(uuid)
	for _, u := range normalized {
		if u == n {
			return true
		}
	}
	return false
}

// Instantiate picks the device type for a connected peripheral and builds its
// device. kinds restricts the scan to the types that already matched the
// peripheral's advertisement; a nil kinds considers every registered type.
// The first registered type whose full GATT requirements are present wins;
// further full matches are logged at warn. No full match returns
// ErrNoMatchingDeviceType wrapping the closest type's missing resource.
func (r *Registry) Instantiate(kinds []DeviceKind, services ServiceSet, port Port) (Device, error) {
	allowed := func(k DeviceKind) bool {
		if kinds == nil {
			return true
		}
		for _, a := range kinds {
			if a == k {
				return true
			}
		}
		return false
	}

	var winner *Descriptor
	var firstMiss error
	for pair := r.types.Oldest(); pair != nil; pair = pair.Next() {
		if !allowed(pair.Key) {
			continue
		}
		if miss := matchServices(pair.Value, services); miss != nil {
			if firstMiss == nil {
				firstMiss = fmt.Errorf("type %q: %w", pair.Key, miss)
			}
			continue
		}
		if winner == nil {
			winner = pair.Value
			continue
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"selected": winner.Kind,
				"also":     pair.Key,
			}).Warn("Multiple device types match peripheral services; keeping first registered")
		}
	}

	if winner == nil {
		if firstMiss != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoMatchingDeviceType, firstMiss)
		}
		return nil, ErrNoMatchingDeviceType
	}

	if r.logger != nil {
		r.logger.WithField("kind", winner.Kind).Debug("Device type identified")
	}
	return winner.New(port, services)
}

// matchServices returns nil when every required service and characteristic of
// the descriptor is present, or the first miss otherwise.
func matchServices(desc *Descriptor, services ServiceSet) error {
	for _, svc := range desc.Services {
		if !services.HasService(svc.UUID) {
			return &NotFoundError{Resource: "service", UUIDs: []string{svc.UUID}}
		}
		for _, char := range svc.Required {
			if !services.Has(svc.UUID, char) {
				return &NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID, char}}
			}
		}
	}
	return nil
}
