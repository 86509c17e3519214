package device

import (
	"encoding/binary"
	"sort"
	"time"
)

// Advertisement is one received BLE advertisement event, already decoded by
// the radio layer. It is a plain value so it can travel through channels as a
// discrete message; a nil RSSI means the source did not report a signal level
// for this event.
type Advertisement struct {
	Addr             string
	Name             string
	RSSI             *int
	Connectable      bool
	ManufacturerData []byte
	ServiceUUIDs     []string
}

// Record is the registry entry for one physically distinct radio identity.
// The ID (the advertised address) is the primary key. A Record is treated as
// an immutable value: every advertisement produces a fresh Record that
// replaces the previous one wholesale, so held snapshots stay consistent.
type Record struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	RSSI             *int      `json:"rssi,omitempty"`
	Connectable      bool      `json:"connectable"`
	ManufacturerData []byte    `json:"manufacturerData,omitempty"`
	ServiceUUIDs     []string  `json:"serviceUUIDs,omitempty"`
	LastSeen         time.Time `json:"lastSeen"`
}

// FromAdvertisement converts a radio advertisement into a Record stamped with
// the observation time. Service UUIDs are normalized and sorted so records
// compare deterministically regardless of advertisement ordering.
func FromAdvertisement(adv Advertisement, seen time.Time) Record {
	rec := Record{
		ID:               adv.Addr,
		Name:             adv.Name,
		RSSI:             adv.RSSI,
		Connectable:      adv.Connectable,
		ManufacturerData: adv.ManufacturerData,
		LastSeen:         seen,
	}
	if len(adv.ServiceUUIDs) > 0 {
		rec.ServiceUUIDs = NormalizeUUIDs(adv.ServiceUUIDs)
		sort.Strings(rec.ServiceUUIDs)
	}
	return rec
}

// DisplayName returns the advertised name, falling back to the address for
// devices that do not advertise one.
func (r Record) DisplayName() string {
	if r.Name == "" {
		return r.ID
	}
	return r.Name
}

// CompanyID extracts the Bluetooth SIG company identifier from the first two
// bytes of the manufacturer data (little-endian, per BLE convention). The
// second result is false when no manufacturer data is present or it is too
// short to carry an identifier.
func (r Record) CompanyID() (uint16, bool) {
	if len(r.ManufacturerData) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(r.ManufacturerData[0:2]), true
}

// AdvertisesService reports whether the record advertises the given service
// UUID. The argument is normalized before comparison, so short and full SIG
// forms match each other.
func (r Record) AdvertisesService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, s := range r.ServiceUUIDs {
		if s == want {
			return true
		}
	}
	return false
}

// AdvertisesAnyService reports whether the record advertises at least one of
// the given service UUIDs.
func (r Record) AdvertisesAnyService(uuids []string) bool {
	for _, u := range uuids {
		if r.AdvertisesService(u) {
			return true
		}
	}
	return false
}
