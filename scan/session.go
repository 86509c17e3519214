// Package scan drives the discovery lifecycle: it owns the device registry,
// requests permission, subscribes to the radio, and exposes the results as
// snapshots and event streams. All lifecycle decisions run on a single event
// loop goroutine, so state transitions never race.
package scan

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/ryanuber/go-glob"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/blinkscan/blinkscan/internal/classify"
	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/internal/groutine"
	"github.com/blinkscan/blinkscan/internal/metrics"
	"github.com/blinkscan/blinkscan/internal/permission"
	"github.com/blinkscan/blinkscan/internal/radio"
	"github.com/blinkscan/blinkscan/internal/registry"
	"github.com/blinkscan/blinkscan/internal/ring"
)

const (
	controlBuffer       = 16
	advertisementBuffer = 256
	watchBuffer         = 8
	eventBuffer         = 100
)

type controlKind int

const (
	ctrlStart controlKind = iota
	ctrlStop
	ctrlPermission
	ctrlTimeout
	ctrlRadioError
	ctrlPower
)

// controlMsg carries one lifecycle input into the event loop. gen ties
// asynchronous results (permission, timeout, radio error) to the scan attempt
// that produced them; stale results are discarded.
type controlMsg struct {
	kind     controlKind
	gen      uint64
	decision permission.Decision
	err      error
	power    radio.PowerState
}

// Session is the discovery engine. Start, Stop and Snapshot never return
// errors; failures surface as states in the snapshot.
type Session struct {
	logger     *logrus.Logger
	opts       Options
	radio      radio.Radio
	gate       permission.Gate
	classifier *classify.Classifier
	registry   *registry.Registry

	ctrl   chan controlMsg
	ads    *ring.Channel[device.Advertisement]
	watch  *ring.Channel[Snapshot]
	events *ring.Channel[DeviceEvent]

	loopCtx    context.Context
	loopCancel context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	powerSubID radio.SubscriptionID

	// Everything below is owned by the event loop goroutine.
	state        State
	scanID       string
	lastErr      string
	radioOffErr  bool
	gen          uint64
	permPending  bool
	permCancel   context.CancelFunc
	subID        radio.SubscriptionID
	subscribed   bool
	timeoutTimer *time.Timer

	// Published copies for off-loop readers.
	mu        sync.RWMutex
	pubState  State
	pubScanID string
	pubErr    string

	scansStarted atomic.Uint64
	scanFailures atomic.Uint64
}

// NewSession builds a session and starts its event loop. A nil gate grants
// every request; a nil logger falls back to a default logrus instance.
func NewSession(r radio.Radio, gate permission.Gate, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if gate == nil {
		gate = permission.AllowAll()
	}
	opts = opts.normalized()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		logger:     logger,
		opts:       opts,
		radio:      r,
		gate:       gate,
		classifier: classify.New(opts.Classifier),
		registry:   registry.New(opts.MaxDevices, logger),
		ctrl:       make(chan controlMsg, controlBuffer),
		ads:        ring.NewChannel[device.Advertisement](advertisementBuffer),
		watch:      ring.NewChannel[Snapshot](watchBuffer),
		events:     ring.NewChannel[DeviceEvent](eventBuffer),
		loopCtx:    ctx,
		loopCancel: cancel,
		done:       make(chan struct{}),
	}

	s.powerSubID = r.OnPowerStateChange(func(st radio.PowerState) {
		s.postControl(controlMsg{kind: ctrlPower, power: st})
	})

	groutine.Go(ctx, "scan-session", s.run)
	return s
}

// Start requests a new scan. It is a no-op while a scan is running or a
// permission request is in flight.
func (s *Session) Start() {
	s.postControl(controlMsg{kind: ctrlStart})
}

// Stop ends the current scan, or cancels a pending permission request. It is
// a no-op on an idle session. Discovered devices stay readable until the
// next scan starts.
func (s *Session) Stop() {
	s.postControl(controlMsg{kind: ctrlStop})
}

// Snapshot returns a detached view of the session: lifecycle state, last
// error, and the classified devices in discovery order.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	state, scanID, errMsg := s.pubState, s.pubScanID, s.pubErr
	s.mu.RUnlock()
	return s.buildSnapshot(state, scanID, errMsg)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pubState
}

// Watch returns a channel of snapshots published after every state or
// registry change. Slow consumers see the latest snapshots; intermediate ones
// may be dropped. The channel closes when the session closes.
func (s *Session) Watch() <-chan Snapshot {
	return s.watch.C()
}

// Events returns a read-only channel of device events. The channel closes
// when the session closes.
func (s *Session) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Stats produces one consistent metrics snapshot for a scrape.
func (s *Session) Stats() metrics.Stats {
	snap := s.Snapshot()
	byType := make(map[string]int, 4)
	for _, d := range snap.Devices {
		byType[d.Type.String()]++
	}
	rm := s.ads.GetMetrics()
	return metrics.Stats{
		ScanState:          int(snap.State),
		DevicesByType:      byType,
		RegistryCapacity:   s.registry.Cap(),
		RecordsDropped:     s.registry.Dropped(),
		AdvertisementsSeen: rm.Written,
		AdvertisementsLost: rm.Overwritten,
		ScansStarted:       s.scansStarted.Load(),
		ScanFailures:       s.scanFailures.Load(),
	}
}

// Close stops any running scan, ends the event loop and closes the watch and
// event channels. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.loopCancel()
		<-s.done
		s.radio.Unsubscribe(s.powerSubID)
	})
	return nil
}

// postControl never drops: it blocks until the loop accepts the message or
// the session shuts down. The loop does no blocking work, so the wait is
// short.
func (s *Session) postControl(msg controlMsg) {
	select {
	case s.ctrl <- msg:
	case <-s.loopCtx.Done():
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case msg := <-s.ctrl:
			s.handleControl(msg)
		case adv := <-s.ads.C():
			s.handleAdvertisement(adv)
		}
	}
}

func (s *Session) handleControl(msg controlMsg) {
	switch msg.kind {
	case ctrlStart:
		s.handleStart()
	case ctrlStop:
		s.handleStop()
	case ctrlPermission:
		s.handlePermission(msg)
	case ctrlTimeout:
		s.handleTimeout(msg)
	case ctrlRadioError:
		s.handleRadioError(msg)
	case ctrlPower:
		s.handlePower(msg)
	}
}

func (s *Session) handleStart() {
	if s.state == StateScanning || s.permPending {
		s.logger.Debug("Scan start ignored: a scan or permission request is already in flight")
		return
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.loopCtx)
	s.permPending = true
	s.permCancel = cancel
	groutine.Go(ctx, "scan-permission", func(ctx context.Context) {
		decision, err := s.gate.Request(ctx)
		s.postControl(controlMsg{kind: ctrlPermission, gen: gen, decision: decision, err: err})
	})
}

func (s *Session) handlePermission(msg controlMsg) {
	if !s.permPending || msg.gen != s.gen {
		return
	}
	s.permPending = false
	if s.permCancel != nil {
		s.permCancel()
		s.permCancel = nil
	}

	if msg.err != nil {
		s.toError("permission check failed: "+msg.err.Error(), false)
		return
	}
	if msg.decision != permission.Granted {
		s.state = StatePermissionDenied
		s.lastErr = "bluetooth permission denied"
		s.radioOffErr = false
		s.logger.Warn("Bluetooth permission denied; scan aborted")
		s.publish()
		return
	}
	s.beginScan()
}

func (s *Session) beginScan() {
	if s.radio.PowerState() == radio.PowerOff {
		s.toError(radio.ErrRadioOff.Error(), true)
		return
	}

	s.registry.Clear()
	s.scanID = newScanID()
	gen := s.gen

	subID, err := s.radio.Subscribe(
		func(adv device.Advertisement) { s.ads.ForceSend(adv) },
		func(err error) { s.postControl(controlMsg{kind: ctrlRadioError, gen: gen, err: err}) },
	)
	if err != nil {
		s.scanFailures.Add(1)
		s.toError(err.Error(), errors.Is(err, radio.ErrRadioOff))
		return
	}
	s.subID = subID
	s.subscribed = true

	if s.opts.ScanTimeout > 0 {
		s.timeoutTimer = time.AfterFunc(s.opts.ScanTimeout, func() {
			s.postControl(controlMsg{kind: ctrlTimeout, gen: gen})
		})
	}

	s.state = StateScanning
	s.lastErr = ""
	s.radioOffErr = false
	s.scansStarted.Add(1)
	s.logger.WithFields(logrus.Fields{
		"scan_id": s.scanID,
		"timeout": s.opts.ScanTimeout,
	}).Info("Starting BLE scan...")
	s.publish()
}

func (s *Session) handleStop() {
	switch {
	case s.permPending:
		s.permCancel()
		s.permCancel = nil
		s.permPending = false
		s.gen++
		s.state = StateIdle
		s.lastErr = ""
		s.radioOffErr = false
		s.logger.Debug("Pending permission request canceled")
		s.publish()
	case s.state == StateScanning:
		s.finishScan()
	default:
		// Stop on an idle session is a no-op.
	}
}

func (s *Session) handleTimeout(msg controlMsg) {
	if msg.gen != s.gen || s.state != StateScanning {
		return
	}
	s.finishScan()
}

// finishScan is the orderly end of a scan: explicit stop or timeout. The
// registry keeps its contents so results stay readable.
func (s *Session) finishScan() {
	s.releaseScan()
	s.state = StateIdle
	s.logger.WithFields(logrus.Fields{
		"scan_id":      s.scanID,
		"device_count": s.registry.Len(),
	}).Info("BLE scan completed")
	s.publish()
}

func (s *Session) handleRadioError(msg controlMsg) {
	if msg.gen != s.gen || s.state != StateScanning {
		return
	}
	s.releaseScan()
	s.scanFailures.Add(1)
	s.toError(msg.err.Error(), errors.Is(msg.err, radio.ErrRadioOff))
}

func (s *Session) handlePower(msg controlMsg) {
	switch msg.power {
	case radio.PowerOff:
		if s.state == StateScanning {
			s.releaseScan()
			s.scanFailures.Add(1)
			s.toError(radio.ErrRadioOff.Error(), true)
			return
		}
		if s.state == StateIdle && s.lastErr == "" {
			s.lastErr = radio.ErrRadioOff.Error()
			s.radioOffErr = true
			s.publish()
		}
	case radio.PowerOn:
		// A radio outage heals itself when power returns; other errors
		// stay until the next scan attempt.
		if s.radioOffErr {
			s.radioOffErr = false
			s.lastErr = ""
			if s.state == StateError {
				s.state = StateIdle
			}
			s.logger.Info("Bluetooth powered back on")
			s.publish()
		}
	}
}

func (s *Session) handleAdvertisement(adv device.Advertisement) {
	if s.state != StateScanning {
		return
	}
	if !s.addressAdmitted(adv.Addr) {
		return
	}
	if adv.RSSI != nil && *adv.RSSI < s.opts.MinRSSI {
		return
	}

	rec := device.FromAdvertisement(adv, time.Now())
	outcome := s.registry.Upsert(rec)
	if outcome == registry.UpsertDropped {
		return
	}

	event := DeviceEvent{
		Device:    DeviceView{Record: rec, Type: s.classifier.Classify(rec)},
		Timestamp: rec.LastSeen,
	}
	if outcome == registry.UpsertAdded {
		event.Type = EventNew
		fields := logrus.Fields{
			"device":  rec.DisplayName(),
			"address": rec.ID,
		}
		if rec.RSSI != nil {
			fields["rssi"] = *rec.RSSI
		}
		s.logger.WithFields(fields).Info("Discovered new device")
	} else {
		event.Type = EventUpdated
	}

	s.events.ForceSend(event)
	s.publish()
}

// addressAdmitted applies the allow/block address filters. A block match
// always wins.
func (s *Session) addressAdmitted(addr string) bool {
	for _, pattern := range s.opts.BlockPatterns {
		if glob.Glob(pattern, addr) {
			return false
		}
	}
	if len(s.opts.AllowPatterns) == 0 {
		return true
	}
	for _, pattern := range s.opts.AllowPatterns {
		if glob.Glob(pattern, addr) {
			return true
		}
	}
	return false
}

// releaseScan unsubscribes from the radio and disarms the timeout. Bumping
// gen invalidates any timeout or error still in flight for this attempt.
func (s *Session) releaseScan() {
	if s.subscribed {
		s.radio.Unsubscribe(s.subID)
		s.subscribed = false
	}
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	s.gen++
}

func (s *Session) toError(msg string, radioOff bool) {
	s.state = StateError
	s.lastErr = msg
	s.radioOffErr = radioOff
	s.logger.WithField("reason", msg).Error("BLE scan failed")
	s.publish()
}

// publish refreshes the reader-visible copies and emits a watch snapshot.
func (s *Session) publish() {
	s.mu.Lock()
	s.pubState, s.pubScanID, s.pubErr = s.state, s.scanID, s.lastErr
	s.mu.Unlock()
	s.watch.ForceSend(s.buildSnapshot(s.state, s.scanID, s.lastErr))
}

func (s *Session) buildSnapshot(state State, scanID, errMsg string) Snapshot {
	records := s.registry.Snapshot()
	return Snapshot{
		ScanID: scanID,
		State:  state,
		Err:    errMsg,
		Devices: lo.Map(records, func(rec device.Record, _ int) DeviceView {
			return DeviceView{Record: rec, Type: s.classifier.Classify(rec)}
		}),
	}
}

func (s *Session) shutdown() {
	if s.permPending && s.permCancel != nil {
		s.permCancel()
		s.permCancel = nil
		s.permPending = false
	}
	if s.subscribed {
		s.radio.Unsubscribe(s.subID)
		s.subscribed = false
	}
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
	s.watch.Close()
	s.events.Close()
}

func newScanID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
