package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blinkscan/blinkscan/internal/classify"
	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/internal/filter"
	"github.com/blinkscan/blinkscan/internal/groutine"
	"github.com/blinkscan/blinkscan/internal/metrics"
	"github.com/blinkscan/blinkscan/internal/permission"
	"github.com/blinkscan/blinkscan/internal/radio/goble"
	"github.com/blinkscan/blinkscan/ledproto"
	"github.com/blinkscan/blinkscan/pkg/config"
	"github.com/blinkscan/blinkscan/scan"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for nearby Bluetooth Low Energy devices and classify Espressif
hardware.

Discovered devices are deduplicated by address and keep their discovery
order. Classification recognizes ESP32, ESP32-S2, ESP32-S3 and ESP32-C3
boards from the advertised name and manufacturer data. Blink peripherals
are marked by their advertised LED control service.`,
	RunE: runScan,
}

var (
	scanDuration     time.Duration
	scanFormat       string
	scanMinRSSI      int
	scanMaxDevices   int
	scanNameFilter   string
	scanServices     []string
	scanAllowList    []string
	scanBlockList    []string
	scanBlinkersOnly bool
	scanWatch        bool
	scanMetricsAddr  string
	scanConfigPath   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", scan.DefaultMinRSSI, "Drop advertisements weaker than this dBm")
	scanCmd.Flags().IntVar(&scanMaxDevices, "max-devices", 0, "Device registry capacity (0 uses the configured default)")
	scanCmd.Flags().StringVar(&scanNameFilter, "name", "", "Only show devices whose name matches this regular expression")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only show devices advertising these service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only accept advertisements from these address patterns")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Ignore advertisements from these address patterns")
	scanCmd.Flags().BoolVar(&scanBlinkersOnly, "blinkers", false, "Only show blink peripherals")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
	scanCmd.Flags().StringVar(&scanMetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9100)")
	scanCmd.Flags().StringVarP(&scanConfigPath, "config", "c", "", "Configuration file (YAML)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(scanConfigPath)
	if err != nil {
		return err
	}

	// Explicit flags win over the configuration file.
	flags := cmd.Flags()
	format := cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	timeout := cfg.ScanTimeout()
	if flags.Changed("duration") {
		timeout = scanDuration
	} else if scanWatch {
		// Watch mode defaults to an indefinite scan.
		timeout = 0
	}

	minRSSI := cfg.MinRSSIThreshold
	if flags.Changed("min-rssi") {
		minRSSI = scanMinRSSI
	}
	maxDevices := cfg.MaxDevices
	if flags.Changed("max-devices") {
		maxDevices = scanMaxDevices
	}
	metricsAddr := cfg.MetricsAddr
	if flags.Changed("metrics-addr") {
		metricsAddr = scanMetricsAddr
	}

	crit := filter.Criteria{}
	if scanNameFilter != "" {
		re, err := regexp.Compile(scanNameFilter)
		if err != nil {
			return fmt.Errorf("invalid name filter: %w", err)
		}
		crit.Name = re
	}
	if len(scanServices) > 0 {
		uuids, err := device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
		crit.ServiceUUIDs = uuids
	}
	crit.Normalize()

	logger, err := configureLogger(cmd, cfg, scanConfigPath != "")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	r, err := goble.New(logger)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	sess := scan.NewSession(r, gateFactory(logger), scan.Options{
		ScanTimeout:   timeout,
		MaxDevices:    maxDevices,
		MinRSSI:       minRSSI,
		AllowPatterns: scanAllowList,
		BlockPatterns: scanBlockList,
		Classifier: classify.Config{
			NamePatterns:    cfg.NamePatterns,
			ManufacturerIDs: cfg.ManufacturerIDs,
		},
	}, logger)
	defer func() { _ = sess.Close() }()

	if metricsAddr != "" {
		startMetricsServer(metricsAddr, sess, logger)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	sess.Start()

	if scanWatch {
		return runWatch(ctx, cmd.OutOrStdout(), sess, crit, format)
	}
	return runSingle(ctx, cmd.OutOrStdout(), sess, crit, format, timeout)
}

func runSingle(ctx context.Context, w io.Writer, sess *scan.Session, crit filter.Criteria, format string, timeout time.Duration) error {
	var progress *ProgressPrinter
	if format == "table" && isTerminal() {
		progress = NewProgressPrinter("Scanning for BLE devices", timeout)
		progress.Start()
	}

	snap, interrupted := waitForScanEnd(ctx, sess)
	if progress != nil {
		progress.Stop()
	}

	snap.Devices = applyDisplayFilters(snap.Devices, crit, scanBlinkersOnly)
	if err := renderSnapshot(w, snap, format, time.Now()); err != nil {
		return err
	}
	if interrupted {
		// Ctrl+C still shows the partial results, then exits cleanly.
		return nil
	}
	return scanOutcomeError(snap)
}

func runWatch(ctx context.Context, w io.Writer, sess *scan.Session, crit filter.Criteria, format string) error {
	watch := sess.Watch()
	interactive := format == "table" && isTerminal()

	render := func(snap scan.Snapshot) error {
		snap.Devices = applyDisplayFilters(snap.Devices, crit, scanBlinkersOnly)
		if interactive {
			clearScreen(w)
			renderWatchHeader(w, snap)
		}
		return renderSnapshot(w, snap, format, time.Now())
	}

	// Coalesce bursts of snapshots into periodic redraws.
	redraw := time.NewTicker(500 * time.Millisecond)
	defer redraw.Stop()

	var latest scan.Snapshot
	var dirty bool
	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			if err := render(settleAfterStop(watch, sess)); err != nil {
				return err
			}
			return nil
		case snap, ok := <-watch:
			if !ok {
				return nil
			}
			latest = snap
			dirty = true
			if snap.State != scan.StateScanning {
				if err := render(snap); err != nil {
					return err
				}
				return scanOutcomeError(snap)
			}
		case <-redraw.C:
			if dirty {
				if err := render(latest); err != nil {
					return err
				}
				dirty = false
			}
		}
	}
}

// waitForScanEnd blocks until the session leaves StateScanning or the context
// is canceled. The second result reports an interrupt.
func waitForScanEnd(ctx context.Context, sess *scan.Session) (scan.Snapshot, bool) {
	watch := sess.Watch()
	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			return settleAfterStop(watch, sess), true
		case snap, ok := <-watch:
			if !ok {
				return sess.Snapshot(), false
			}
			if snap.State != scan.StateScanning {
				return snap, false
			}
		}
	}
}

// settleAfterStop drains the watch stream until the stop has taken effect, so
// the rendered snapshot is final.
func settleAfterStop(watch <-chan scan.Snapshot, sess *scan.Session) scan.Snapshot {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-watch:
			if !ok {
				return sess.Snapshot()
			}
			if snap.State != scan.StateScanning {
				return snap
			}
		case <-deadline:
			return sess.Snapshot()
		}
	}
}

func applyDisplayFilters(devices []scan.DeviceView, crit filter.Criteria, blinkersOnly bool) []scan.DeviceView {
	return lo.Filter(devices, func(d scan.DeviceView, _ int) bool {
		if blinkersOnly && !ledproto.IsBlinkPeripheral(d.Record) {
			return false
		}
		return crit.Matches(d.Record)
	})
}

func scanOutcomeError(snap scan.Snapshot) error {
	switch snap.State {
	case scan.StatePermissionDenied:
		return errPermissionDenied
	case scan.StateError:
		return errors.New(snap.Err)
	default:
		return nil
	}
}

// gateFactory is a package variable so tests can substitute the gate.
var gateFactory = platformGate

// platformGate picks the permission check for this host. Linux raw HCI
// sockets need CAP_NET_ADMIN and CAP_NET_RAW; other platforms surface
// permission problems through the radio itself.
func platformGate(logger *logrus.Logger) permission.Gate {
	if runtime.GOOS == "linux" {
		return permission.NewHostCapabilityGate(logger)
	}
	return permission.AllowAll()
}

func startMetricsServer(addr string, sess *scan.Session, logger *logrus.Logger) {
	reg := prometheus.NewRegistry()
	metrics.RegisterCollector(sess.Stats, reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	groutine.Go(context.Background(), "metrics-server", func(ctx context.Context) {
		logger.WithField("addr", addr).Info("Starting Prometheus metrics listener")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics listener failed")
		}
	})
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
