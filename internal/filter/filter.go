// Package filter narrows device snapshots to the records a caller cares
// about. Criteria are pure predicates over immutable records, applied by the
// reader on its own copy of a snapshot, so filtering never touches registry
// state.
package filter

import (
	"regexp"

	"github.com/samber/lo"

	"github.com/blinkscan/blinkscan/internal/device"
)

// Criteria is an AND-composed set of predicates. Nil fields are not applied.
type Criteria struct {
	// Name matches against the advertised device name.
	Name *regexp.Regexp

	// MinRSSI excludes records whose signal is weaker than this threshold.
	// Records that never reported a signal level are retained.
	MinRSSI *int

	// ServiceUUIDs keeps records advertising at least one of these services.
	// UUIDs are normalized during Normalize.
	ServiceUUIDs []string
}

// Normalize canonicalizes the service UUID list so comparisons against
// normalized records work regardless of how the caller spelled them.
func (c *Criteria) Normalize() {
	if c == nil {
		return
	}
	c.ServiceUUIDs = device.NormalizeUUIDs(c.ServiceUUIDs)
}

// IsEmpty reports whether no predicate is set.
func (c *Criteria) IsEmpty() bool {
	return c == nil || (c.Name == nil && c.MinRSSI == nil && len(c.ServiceUUIDs) == 0)
}

// Matches reports whether rec passes every set predicate.
func (c *Criteria) Matches(rec device.Record) bool {
	if c == nil {
		return true
	}

	if c.Name != nil && !c.Name.MatchString(rec.Name) {
		return false
	}

	if c.MinRSSI != nil && rec.RSSI != nil && *rec.RSSI < *c.MinRSSI {
		return false
	}

	if len(c.ServiceUUIDs) > 0 && !rec.AdvertisesAnyService(c.ServiceUUIDs) {
		return false
	}

	return true
}

// Apply returns the records matching c in their original order. Empty
// criteria return the input slice unchanged.
func Apply(records []device.Record, c *Criteria) []device.Record {
	if c.IsEmpty() {
		return records
	}

	return lo.Filter(records, func(rec device.Record, _ int) bool {
		return c.Matches(rec)
	})
}
