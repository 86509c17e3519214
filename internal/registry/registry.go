package registry

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/sirupsen/logrus"
)

// DefaultMaxDevices caps the registry when no explicit limit is configured.
const DefaultMaxDevices = 50

// UpsertOutcome describes what an Upsert call did with the record.
type UpsertOutcome int

const (
	// UpsertAdded means the id was unseen and the record was appended.
	UpsertAdded UpsertOutcome = iota
	// UpsertUpdated means the id existed and its record was replaced in place.
	UpsertUpdated
	// UpsertDropped means the registry was full and the new id was discarded.
	UpsertDropped
)

// Registry is a bounded, deduplicated store of device records that preserves
// first-seen insertion order across updates. Once the configured cap is
// reached, advertisements from unseen ids are dropped rather than evicting
// older entries, so early discoveries stay stable for the lifetime of a scan.
//
// Records are treated as immutable values: Upsert replaces the stored record
// wholesale and Snapshot hands out copies of the ordered sequence, so readers
// on other goroutines always observe a consistent point-in-time view.
type Registry struct {
	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, device.Record]
	max     int
	dropped uint64
	warned  bool
	logger  *logrus.Logger
}

// New creates a Registry capped at maxDevices entries. A non-positive cap
// falls back to DefaultMaxDevices.
func New(maxDevices int, logger *logrus.Logger) *Registry {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Registry{
		records: orderedmap.New[string, device.Record](),
		max:     maxDevices,
		logger:  logger,
	}
}

// Upsert stores the record under its ID. Existing ids are replaced in place
// without changing their position; new ids are appended while capacity
// remains, and silently dropped once the registry is full. The first drop is
// logged so operators know new devices have stopped appearing.
func (r *Registry) Upsert(rec device.Record) UpsertOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records.Get(rec.ID); exists {
		r.records.Set(rec.ID, rec)
		return UpsertUpdated
	}

	if r.records.Len() >= r.max {
		r.dropped++
		if !r.warned {
			r.warned = true
			r.logger.WithFields(logrus.Fields{
				"max_devices": r.max,
				"id":          rec.ID,
			}).Warn("Device registry is full; newly discovered devices will not appear")
		}
		return UpsertDropped
	}

	r.records.Set(rec.ID, rec)
	return UpsertAdded
}

// Get returns the record stored under id.
func (r *Registry) Get(id string) (device.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records.Get(id)
}

// Len returns the number of stored records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records.Len()
}

// Dropped returns how many advertisements for unseen ids were discarded
// because the registry was full.
func (r *Registry) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Cap returns the configured maximum number of records.
func (r *Registry) Cap() int {
	return r.max
}

// Clear empties the registry and resets the drop counter. Idempotent.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = orderedmap.New[string, device.Record]()
	r.dropped = 0
	r.warned = false
}

// Snapshot returns the stored records in first-seen order. The returned slice
// is owned by the caller and unaffected by later mutations.
func (r *Registry) Snapshot() []device.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]device.Record, 0, r.records.Len())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
