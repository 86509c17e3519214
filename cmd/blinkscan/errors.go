package main

import (
	"errors"
	"strings"

	"github.com/blinkscan/blinkscan/internal/radio"
)

// errPermissionDenied reports a scan refused by the permission gate.
var errPermissionDenied = errors.New("bluetooth permission denied")

// FormatUserError turns the error taxonomy into actionable advice. Session
// failures surface as plain strings in snapshots, so matching falls back to
// substrings when the sentinel is gone.
func FormatUserError(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, radio.ErrRadioOff) || containsIgnoreCase(msg, "turned off"):
		return "Bluetooth is turned off. Turn it on and run the scan again."
	case errors.Is(err, errPermissionDenied) || containsIgnoreCase(msg, "permission denied"):
		return "Bluetooth permission is missing. Run as root or grant the binary CAP_NET_ADMIN and CAP_NET_RAW."
	case errors.Is(err, radio.ErrAdapterUnavailable) || containsIgnoreCase(msg, "adapter unavailable"):
		return "No usable Bluetooth adapter was found. Check that one is present and not claimed by another process."
	default:
		return msg
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
