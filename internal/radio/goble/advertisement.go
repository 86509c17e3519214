package goble

import (
	"github.com/go-ble/ble"

	"github.com/blinkscan/blinkscan/internal/device"
)

// convertAdvertisement flattens a ble.Advertisement into the value shape the
// rest of the engine consumes. go-ble reports a zero RSSI when the adapter
// did not measure one, so zero maps to an absent reading.
func convertAdvertisement(adv ble.Advertisement) device.Advertisement {
	out := device.Advertisement{
		Addr:             adv.Addr().String(),
		Name:             adv.LocalName(),
		Connectable:      adv.Connectable(),
		ManufacturerData: adv.ManufacturerData(),
	}

	if rssi := adv.RSSI(); rssi != 0 {
		out.RSSI = &rssi
	}

	if services := adv.Services(); len(services) > 0 {
		out.ServiceUUIDs = make([]string, len(services))
		for i, svc := range services {
			out.ServiceUUIDs[i] = svc.String()
		}
	}

	return out
}
