package testutils

import "github.com/srg/wearlink/internal/transport"

// AdvertisementBuilder is a fluent builder for transport.Advertisement
// snapshots used in discovery tests.
type AdvertisementBuilder struct {
	adv transport.Advertisement
}

// NewAdvertisement starts a connectable advertisement.
func NewAdvertisement() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: transport.Advertisement{Connectable: true}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.LocalName = name
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufacturerData = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	if b.adv.ServiceData == nil {
		b.adv.ServiceData = make(map[string][]byte)
	}
	b.adv.ServiceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.adv.TxPower = &power
	return b
}

func (b *AdvertisementBuilder) NotConnectable() *AdvertisementBuilder {
	b.adv.Connectable = false
	return b
}

// Build returns the advertisement snapshot.
func (b *AdvertisementBuilder) Build() transport.Advertisement {
	return b.adv
}
