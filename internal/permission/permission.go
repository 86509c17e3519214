// Package permission gates scan startup on the host's ability to open the
// radio. Scanning never reaches the adapter until a Gate grants it, which
// keeps the denied path free of radio subscriptions and half-open handles.
package permission

import (
	"context"
)

// Decision is the outcome of a permission request. The zero value is Denied
// so an unset decision never accidentally grants access.
type Decision int

const (
	Denied Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "denied"
}

// Gate answers whether scanning may start. Request is idempotent and may
// block while the platform prompts; implementations honor ctx so a caller
// abandoning the request does not leak the wait. A non-nil error means the
// gate itself could not run, which is distinct from a clean Denied.
type Gate interface {
	Request(ctx context.Context) (Decision, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context) (Decision, error)

func (f GateFunc) Request(ctx context.Context) (Decision, error) {
	return f(ctx)
}

// AllowAll returns a gate that always grants, for platforms where opening
// the adapter needs no privilege.
func AllowAll() Gate {
	return Static(Granted)
}

// Static returns a gate that always answers d.
func Static(d Decision) Gate {
	return GateFunc(func(ctx context.Context) (Decision, error) {
		if err := ctx.Err(); err != nil {
			return Denied, err
		}
		return d, nil
	})
}
