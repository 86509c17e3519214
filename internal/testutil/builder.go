package testutil

import (
	"time"

	"github.com/blinkscan/blinkscan/internal/device"
)

// RecordBuilder assembles device records for tests.
type RecordBuilder struct {
	rec device.Record
}

// NewRecord starts a builder for the given address.
func NewRecord(id string) *RecordBuilder {
	return &RecordBuilder{rec: device.Record{
		ID:       id,
		LastSeen: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}
}

func (b *RecordBuilder) WithName(name string) *RecordBuilder {
	b.rec.Name = name
	return b
}

func (b *RecordBuilder) WithRSSI(rssi int) *RecordBuilder {
	b.rec.RSSI = &rssi
	return b
}

func (b *RecordBuilder) WithConnectable(c bool) *RecordBuilder {
	b.rec.Connectable = c
	return b
}

func (b *RecordBuilder) WithManufacturerData(data []byte) *RecordBuilder {
	b.rec.ManufacturerData = data
	return b
}

func (b *RecordBuilder) WithServices(uuids ...string) *RecordBuilder {
	b.rec.ServiceUUIDs = device.NormalizeUUIDs(uuids)
	return b
}

func (b *RecordBuilder) WithLastSeen(t time.Time) *RecordBuilder {
	b.rec.LastSeen = t
	return b
}

func (b *RecordBuilder) Build() device.Record {
	return b.rec
}

// BuildAdvertisement converts the same fixture into the radio-facing shape.
func (b *RecordBuilder) BuildAdvertisement() device.Advertisement {
	return device.Advertisement{
		Addr:             b.rec.ID,
		Name:             b.rec.Name,
		RSSI:             b.rec.RSSI,
		Connectable:      b.rec.Connectable,
		ManufacturerData: b.rec.ManufacturerData,
		ServiceUUIDs:     b.rec.ServiceUUIDs,
	}
}
