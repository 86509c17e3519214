// Package radio abstracts the host Bluetooth adapter behind a small
// subscription surface. The scan session consumes this interface only, so
// tests and alternative backends slot in without touching session logic.
package radio

import (
	"errors"

	"github.com/blinkscan/blinkscan/internal/device"
)

// PowerState is the adapter's last known power condition.
type PowerState int

const (
	// PowerUnknown means the backend cannot tell; callers should proceed and
	// let a real failure surface.
	PowerUnknown PowerState = iota
	PowerOn
	PowerOff
)

func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// SubscriptionID identifies one registered callback for Unsubscribe.
type SubscriptionID uint64

// Sentinel errors. Backends wrap these with the underlying detail so
// errors.Is classification works across platforms.
var (
	// ErrRadioOff reports an adapter that is present but powered down.
	// Non-fatal: a power-state change resolves it.
	ErrRadioOff = errors.New("bluetooth is turned off")

	// ErrAdapterUnavailable reports that no usable adapter could be opened
	// at all. Fatal for the whole feature, not just one scan.
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")

	// ErrScanFailed reports an adapter error mid-scan.
	ErrScanFailed = errors.New("scan failed")
)

// Radio delivers advertisement events and power-state changes to registered
// callbacks. Callbacks are invoked from backend goroutines and must not
// block; implementations never call back into the subscriber synchronously
// from Subscribe or Unsubscribe.
type Radio interface {
	// Subscribe starts delivering advertisements to onAdv and asynchronous
	// scan failures to onErr. It returns an error only when scanning cannot
	// start at all.
	Subscribe(onAdv func(device.Advertisement), onErr func(error)) (SubscriptionID, error)

	// Unsubscribe stops a subscription. Unknown or already removed ids are
	// ignored.
	Unsubscribe(id SubscriptionID)

	// OnPowerStateChange registers cb for power transitions. Remove with
	// Unsubscribe.
	OnPowerStateChange(cb func(PowerState)) SubscriptionID

	// PowerState returns the last known adapter power condition.
	PowerState() PowerState

	// Close tears down every subscription and releases the adapter.
	Close() error
}
