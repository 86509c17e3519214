// Package metrics exposes the scan engine to Prometheus. Everything is
// pulled: a Collector reads one point-in-time Stats snapshot per scrape, so
// the hot advertisement path carries no instrumentation of its own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descScanState = prometheus.NewDesc(
		"blinkscan_scan_state",
		"Current scan session state. 0 = idle, 1 = scanning, 2 = error, 3 = permission denied.",
		nil,
		nil,
	)

	descDevices = prometheus.NewDesc(
		"blinkscan_devices",
		"Devices currently held in the registry, by classified type.",
		[]string{"type"},
		nil,
	)

	descRegistryCapacity = prometheus.NewDesc(
		"blinkscan_registry_capacity",
		"Maximum number of devices the registry will hold.",
		nil,
		nil,
	)

	descRecordsDropped = prometheus.NewDesc(
		"blinkscan_registry_dropped_total",
		"Advertisements for unseen devices discarded because the registry was full.",
		nil,
		nil,
	)

	descAdvertisementsSeen = prometheus.NewDesc(
		"blinkscan_advertisements_total",
		"Advertisement events accepted into the session mailbox.",
		nil,
		nil,
	)

	descAdvertisementsLost = prometheus.NewDesc(
		"blinkscan_advertisements_lost_total",
		"Advertisement events overwritten in the mailbox before the session consumed them.",
		nil,
		nil,
	)

	descScansStarted = prometheus.NewDesc(
		"blinkscan_scans_started_total",
		"Scan sessions that reached the scanning state.",
		nil,
		nil,
	)

	descScanFailures = prometheus.NewDesc(
		"blinkscan_scan_failures_total",
		"Scans aborted by a radio error.",
		nil,
		nil,
	)
)

// Stats is one consistent view of the engine, produced by the session.
type Stats struct {
	ScanState          int
	DevicesByType      map[string]int
	RegistryCapacity   int
	RecordsDropped     uint64
	AdvertisementsSeen int64
	AdvertisementsLost int64
	ScansStarted       uint64
	ScanFailures       uint64
}

// StatsFunc supplies the snapshot for one scrape.
type StatsFunc func() Stats

type collector struct {
	StatsFunc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.StatsFunc()

	ch <- prometheus.MustNewConstMetric(descScanState, prometheus.GaugeValue, float64(stats.ScanState))
	ch <- prometheus.MustNewConstMetric(descRegistryCapacity, prometheus.GaugeValue, float64(stats.RegistryCapacity))
	ch <- prometheus.MustNewConstMetric(descRecordsDropped, prometheus.CounterValue, float64(stats.RecordsDropped))
	ch <- prometheus.MustNewConstMetric(descAdvertisementsSeen, prometheus.CounterValue, float64(stats.AdvertisementsSeen))
	ch <- prometheus.MustNewConstMetric(descAdvertisementsLost, prometheus.CounterValue, float64(stats.AdvertisementsLost))
	ch <- prometheus.MustNewConstMetric(descScansStarted, prometheus.CounterValue, float64(stats.ScansStarted))
	ch <- prometheus.MustNewConstMetric(descScanFailures, prometheus.CounterValue, float64(stats.ScanFailures))

	for deviceType, count := range stats.DevicesByType {
		ch <- prometheus.MustNewConstMetric(descDevices, prometheus.GaugeValue, float64(count), deviceType)
	}
}

// RegisterCollector wires a stats source into a Prometheus registry.
func RegisterCollector(f StatsFunc, reg prometheus.Registerer) {
	reg.MustRegister(&collector{f})
}
