// Package ledproto describes the wire protocol of the blink peripheral: one
// GATT service with a single read/write/notify characteristic carrying plain
// UTF-8 text. The package covers the contract both sides must agree on so a
// scanner can recognize peripherals and a client can speak to them; it does
// not implement the peripheral itself.
package ledproto

import (
	"github.com/blinkscan/blinkscan/internal/device"
)

const (
	// ServiceUUID identifies the LED control service in advertisements and
	// in the GATT database.
	ServiceUUID = "12345678-1234-1234-1234-123456789abc"

	// CharacteristicUUID identifies the single command characteristic.
	CharacteristicUUID = "87654321-4321-4321-4321-cba987654321"

	// AdvertisedName is the device name the stock firmware advertises.
	AdvertisedName = "ESP32_LED_Controller"
)

// Command is a write payload. Matching is byte-exact: the peripheral ignores
// anything that is not one of the four commands, with no error reply.
type Command string

const (
	CommandOn     Command = "ON"
	CommandOff    Command = "OFF"
	CommandToggle Command = "TOGGLE"
	CommandStatus Command = "STATUS"
)

// ParseCommand validates a raw write payload. ok is false for any payload
// the peripheral would ignore.
func ParseCommand(payload []byte) (Command, bool) {
	switch cmd := Command(payload); cmd {
	case CommandOn, CommandOff, CommandToggle, CommandStatus:
		return cmd, true
	default:
		return "", false
	}
}

// Status is the two-valued characteristic payload emitted in response to
// CommandStatus.
type Status string

const (
	StatusOn  Status = "LED_ON"
	StatusOff Status = "LED_OFF"
)

// StatusForLED maps an LED state to its wire form.
func StatusForLED(on bool) Status {
	if on {
		return StatusOn
	}
	return StatusOff
}

// ParseStatus decodes a characteristic value or notification payload.
func ParseStatus(payload []byte) (Status, bool) {
	switch st := Status(payload); st {
	case StatusOn, StatusOff:
		return st, true
	default:
		return "", false
	}
}

// LEDOn reports the LED state a status encodes.
func (s Status) LEDOn() bool {
	return s == StatusOn
}

// Apply computes the effect of a command on an LED: the resulting state and
// whether the peripheral emits a status notification. Only CommandStatus
// notifies; an unrecognized command changes nothing.
func Apply(cmd Command, ledOn bool) (newState bool, notify bool) {
	switch cmd {
	case CommandOn:
		return true, false
	case CommandOff:
		return false, false
	case CommandToggle:
		return !ledOn, false
	case CommandStatus:
		return ledOn, true
	default:
		return ledOn, false
	}
}

// IsBlinkPeripheral reports whether a discovered device looks like the blink
// peripheral: it advertises the LED control service, or carries the stock
// firmware's exact advertised name for setups where the service UUID did not
// fit in the advertisement payload.
func IsBlinkPeripheral(rec device.Record) bool {
	return rec.AdvertisesService(ServiceUUID) || rec.Name == AdvertisedName
}
