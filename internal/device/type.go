package device

// Type is the device-family taxonomy derived from a Record. It is never
// stored: callers recompute it from the latest record so the classification
// can not drift out of sync with the advertisement data.
type Type int

const (
	TypeUnknown Type = iota
	TypeESP32
	TypeESP32S2
	TypeESP32S3
	TypeESP32C3
)

// String returns the human-readable family name.
func (t Type) String() string {
	switch t {
	case TypeESP32:
		return "ESP32"
	case TypeESP32S2:
		return "ESP32-S2"
	case TypeESP32S3:
		return "ESP32-S3"
	case TypeESP32C3:
		return "ESP32-C3"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so the type serializes as its
// name in JSON output.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
