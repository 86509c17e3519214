package goble

import (
	"fmt"
	"strings"

	"github.com/blinkscan/blinkscan/internal/radio"
)

// NormalizeError maps known go-ble error strings to the radio sentinel
// errors. It keeps classification stable even if the upstream library changes
// messages slightly, and wraps so the original context survives.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", radio.ErrRadioOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", radio.ErrRadioOff, err)
	case containsIgnoreCase(msg, "network is down"):
		// Linux HCI raw sockets fail with ENETDOWN when the adapter powers off.
		return fmt.Errorf("%w: %v", radio.ErrRadioOff, err)
	case containsIgnoreCase(msg, "no devices available"):
		return fmt.Errorf("%w: %v", radio.ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", radio.ErrAdapterUnavailable, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
