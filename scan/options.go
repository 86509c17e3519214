package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/blinkscan/blinkscan/internal/classify"
	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/internal/registry"
)

// State is the lifecycle phase of a Session. The zero value is StateIdle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateError
	StatePermissionDenied
)

func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateError:
		return "error"
	case StatePermissionDenied:
		return "permission_denied"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// MarshalText makes states render as their names in JSON output.
func (st State) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

const (
	// DefaultScanTimeout bounds a scan that is never stopped explicitly.
	DefaultScanTimeout = 10 * time.Second

	// DefaultMinRSSI admits everything a radio can physically report.
	DefaultMinRSSI = -100
)

// Options configures a Session. The zero value is usable: no allow or block
// patterns, registry capacity and RSSI floor at their defaults, and a
// ScanTimeout of zero meaning scans run until stopped.
type Options struct {
	// ScanTimeout ends a scan that is not stopped explicitly. Zero disables
	// the timeout.
	ScanTimeout time.Duration

	// MaxDevices caps the registry. Zero or negative selects the default.
	MaxDevices int

	// MinRSSI drops advertisements whose reported signal level is below the
	// threshold. Advertisements without a level always pass. Zero means
	// unset and selects DefaultMinRSSI.
	MinRSSI int

	// AllowPatterns and BlockPatterns are glob patterns matched against the
	// advertised address. A block match always wins; a non-empty allow list
	// admits only matching addresses.
	AllowPatterns []string
	BlockPatterns []string

	// Classifier tunes hardware classification of discovered devices.
	Classifier classify.Config
}

// DefaultOptions returns the options a Session uses when the caller has no
// overrides.
func DefaultOptions() Options {
	return Options{
		ScanTimeout: DefaultScanTimeout,
		MaxDevices:  registry.DefaultMaxDevices,
		MinRSSI:     DefaultMinRSSI,
	}
}

func (o Options) normalized() Options {
	if o.ScanTimeout < 0 {
		o.ScanTimeout = 0
	}
	if o.MinRSSI == 0 {
		o.MinRSSI = DefaultMinRSSI
	}
	o.AllowPatterns = normalizePatterns(o.AllowPatterns)
	o.BlockPatterns = normalizePatterns(o.BlockPatterns)
	return o
}

// Addresses are reported lowercase, so patterns fold to match.
func normalizePatterns(patterns []string) []string {
	return lo.FilterMap(patterns, func(p string, _ int) (string, bool) {
		p = strings.ToLower(strings.TrimSpace(p))
		return p, p != ""
	})
}

// DeviceView is a registry record together with its hardware classification.
// The type is computed when the view is built, so snapshots taken after a
// classifier change reflect the new rules.
type DeviceView struct {
	device.Record
	Type device.Type `json:"type"`
}

// Snapshot is one consistent, detached view of a Session. Devices preserve
// discovery order.
type Snapshot struct {
	ScanID  string       `json:"scanId,omitempty"`
	State   State        `json:"state"`
	Err     string       `json:"error,omitempty"`
	Devices []DeviceView `json:"devices"`
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent reports one registry change during a scan.
type DeviceEvent struct {
	Type      DeviceEventType
	Device    DeviceView
	Timestamp time.Time
}
