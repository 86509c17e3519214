// Package classify maps discovered devices onto the ESP32 family taxonomy.
//
// Classification is derived, never stored: callers hold plain device records
// and ask the classifier on read, so the answer always reflects the latest
// advertisement data for a device.
package classify

import (
	"strings"

	"github.com/samber/lo"

	"github.com/blinkscan/blinkscan/internal/device"
)

// EspressifCompanyID is the Bluetooth SIG company identifier assigned to
// Espressif Systems, as carried in advertisement manufacturer data.
const EspressifCompanyID uint16 = 0x02E5

// DefaultNamePatterns match the advertised names Espressif dev boards and the
// blink firmware use out of the box.
var DefaultNamePatterns = []string{"esp32", "espressif"}

// DefaultManufacturerIDs recognize Espressif manufacturer data.
var DefaultManufacturerIDs = []uint16{EspressifCompanyID}

// Config selects which devices the classifier treats as ESP32 family.
type Config struct {
	// NamePatterns are case-insensitive substrings matched against the
	// advertised device name.
	NamePatterns []string `yaml:"name_patterns"`

	// ManufacturerIDs are Bluetooth SIG company identifiers matched against
	// the manufacturer data prefix.
	ManufacturerIDs []uint16 `yaml:"manufacturer_ids"`
}

// Classifier decides the device type for a record. It is pure and safe for
// concurrent use.
type Classifier struct {
	patterns []string
	vendors  map[uint16]struct{}
}

// New builds a Classifier from cfg. Empty pattern or vendor sets fall back to
// the Espressif defaults, so a zero Config classifies stock dev boards.
func New(cfg Config) *Classifier {
	patterns := lo.FilterMap(cfg.NamePatterns, func(p string, _ int) (string, bool) {
		p = strings.ToLower(strings.TrimSpace(p))
		return p, p != ""
	})
	if len(patterns) == 0 {
		patterns = DefaultNamePatterns
	}

	ids := cfg.ManufacturerIDs
	if len(ids) == 0 {
		ids = DefaultManufacturerIDs
	}
	vendors := make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		vendors[id] = struct{}{}
	}

	return &Classifier{patterns: patterns, vendors: vendors}
}

// Classify maps a record to a device type. First match wins:
//
//  1. no name and no manufacturer data: Unknown
//  2. name contains a configured pattern: base type, refined to S2, S3 or C3
//     when the name carries a variant token
//  3. manufacturer data starts with a configured company id: base type
//  4. otherwise Unknown
func (c *Classifier) Classify(rec device.Record) device.Type {
	if rec.Name == "" && len(rec.ManufacturerData) == 0 {
		return device.TypeUnknown
	}

	if name := strings.ToLower(rec.Name); name != "" {
		for _, pattern := range c.patterns {
			if strings.Contains(name, pattern) {
				return refineVariant(name)
			}
		}
	}

	if id, ok := rec.CompanyID(); ok {
		if _, known := c.vendors[id]; known {
			return device.TypeESP32
		}
	}

	return device.TypeUnknown
}

// refineVariant narrows a matched name to a chip variant. Checked in fixed
// order so a name carrying several tokens resolves deterministically.
func refineVariant(lowerName string) device.Type {
	switch {
	case strings.Contains(lowerName, "s2"):
		return device.TypeESP32S2
	case strings.Contains(lowerName, "s3"):
		return device.TypeESP32S3
	case strings.Contains(lowerName, "c3"):
		return device.TypeESP32C3
	default:
		return device.TypeESP32
	}
}
