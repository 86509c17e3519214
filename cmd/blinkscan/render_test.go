package main

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/internal/testutil"
	"github.com/blinkscan/blinkscan/ledproto"
	"github.com/blinkscan/blinkscan/scan"
)

var renderNow = time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

func sampleSnapshot() scan.Snapshot {
	return scan.Snapshot{
		ScanID: "01JWLTES2M0000000000000000",
		State:  scan.StateIdle,
		Devices: []scan.DeviceView{
			{
				Record: testutil.NewRecord("aa:11:22:33:44:55").
					WithName("ESP32-S3-DevKit").
					WithRSSI(-55).
					WithServices("180f").
					Build(),
				Type: device.TypeESP32S3,
			},
			{
				Record: testutil.NewRecord("bb:22:33:44:55:66").
					WithName("ESP32_LED_Controller").
					WithServices(ledproto.ServiceUUID).
					Build(),
				Type: device.TypeESP32,
			},
		},
	}
}

func TestRenderTableRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, sampleSnapshot(), renderNow))
	out := buf.String()

	assert.Regexp(t, regexp.MustCompile(`NAME\s+ADDRESS\s+TYPE\s+RSSI\s+SERVICES\s+LAST SEEN`), out)
	assert.Regexp(t, regexp.MustCompile(`ESP32-S3-DevKit\s+aa:11:22:33:44:55\s+ESP32-S3\s+-55 dBm\s+180f\s+30s ago`), out)
	assert.Regexp(t, regexp.MustCompile(`ESP32_LED_Controller \*\s+bb:22:33:44:55:66\s+ESP32\s+-\s+`), out)
	assert.Contains(t, out, "* advertises the LED control service")
}

func TestRenderTableTruncatesLongValues(t *testing.T) {
	snap := scan.Snapshot{
		State: scan.StateIdle,
		Devices: []scan.DeviceView{
			{
				Record: testutil.NewRecord("cc:33:44:55:66:77").
					WithName("AVeryLongDeviceNameIndeed").
					WithServices(
						"0badc0de-0000-4000-8000-000000000001",
						"0badc0de-0000-4000-8000-000000000002",
						"0badc0de-0000-4000-8000-000000000003",
						"0badc0de-0000-4000-8000-000000000004",
					).
					Build(),
				Type: device.TypeUnknown,
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, snap, renderNow))
	out := buf.String()

	assert.Contains(t, out, "AVeryLongDeviceNa...", "names longer than 20 characters get truncated")
	assert.NotContains(t, out, "AVeryLongDeviceNameIndeed")
	assert.NotContains(t, out, "0badc0de0000", "UUIDs render in their shortened display form")
	assert.Contains(t, out, "0badc0de,0badc0de,0badc0de,...", "shortened service lists still get capped")
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, scan.Snapshot{State: scan.StateIdle}, renderNow))
	assert.Equal(t, "No devices discovered\n", buf.String())
}

func TestRenderJSON(t *testing.T) {
	snap := scan.Snapshot{
		ScanID: "01JWLTES2M0000000000000000",
		State:  scan.StateIdle,
		Devices: []scan.DeviceView{
			{
				Record: testutil.NewRecord("aa:11:22:33:44:55").
					WithName("ESP32-S3-DevKit").
					WithRSSI(-55).
					WithConnectable(true).
					WithServices("180f").
					Build(),
				Type: device.TypeESP32S3,
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderSnapshot(&buf, snap, "json", renderNow))

	expected := `{
  "scanId": "01JWLTES2M0000000000000000",
  "state": "idle",
  "devices": [
    {
      "id": "aa:11:22:33:44:55",
      "name": "ESP32-S3-DevKit",
      "rssi": -55,
      "connectable": true,
      "serviceUUIDs": [
        "180f"
      ],
      "lastSeen": "2025-06-01T12:00:00Z",
      "type": "ESP32-S3"
    }
  ]
}`
	testutil.AssertText(t, expected, buf.String())
}

func TestRenderWatchHeader(t *testing.T) {
	var buf bytes.Buffer
	snap := sampleSnapshot()
	snap.State = scan.StateScanning
	renderWatchHeader(&buf, snap)
	assert.Contains(t, buf.String(), "State: scanning")
	assert.Contains(t, buf.String(), "Scan: 01JWLTES2M0000000000000000")
	assert.Contains(t, buf.String(), "Devices: 2")

	buf.Reset()
	renderWatchHeader(&buf, scan.Snapshot{State: scan.StateError, Err: "bluetooth is turned off"})
	assert.Contains(t, buf.String(), "State: error")
	assert.Contains(t, buf.String(), "Scan: -")
	assert.Contains(t, buf.String(), "Error: bluetooth is turned off")
}
