package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/ledproto"
	"github.com/blinkscan/blinkscan/scan"
)

func renderSnapshot(w io.Writer, snap scan.Snapshot, format string, now time.Time) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return renderTable(w, snap, now)
}

func renderTable(w io.Writer, snap scan.Snapshot, now time.Time) error {
	if len(snap.Devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tTYPE\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	blinkers := false
	for _, d := range snap.Devices {
		name := d.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		if ledproto.IsBlinkPeripheral(d.Record) {
			name += " *"
			blinkers = true
		}

		rssi := "-"
		if d.RSSI != nil {
			rssi = fmt.Sprintf("%d dBm", *d.RSSI)
		}

		shortened := lo.Map(d.ServiceUUIDs, func(u string, _ int) string {
			return device.ShortenUUID(u)
		})
		services := strings.Join(shortened, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		lastSeen := now.Sub(d.LastSeen).Truncate(time.Second)

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s ago\n",
			name, d.ID, d.Type, rssi, services, lastSeen)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if blinkers {
		if _, err := fmt.Fprintln(w, "\n* advertises the LED control service"); err != nil {
			return err
		}
	}
	return nil
}

// renderWatchHeader prints the live status line above the table.
func renderWatchHeader(w io.Writer, snap scan.Snapshot) {
	id := snap.ScanID
	if id == "" {
		id = "-"
	}
	fmt.Fprintf(w, "State: %s  Scan: %s  Devices: %d\n", snap.State, id, len(snap.Devices))
	if snap.Err != "" {
		fmt.Fprintf(w, "Error: %s\n", snap.Err)
	}
	fmt.Fprintln(w)
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}
