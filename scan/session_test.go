package scan_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/internal/permission"
	"github.com/blinkscan/blinkscan/internal/radio"
	"github.com/blinkscan/blinkscan/scan"
)

// fakeRadio is a scriptable radio.Radio. Tests drive it by emitting
// advertisements, failures and power transitions.
type fakeRadio struct {
	mu           sync.Mutex
	nextID       uint64
	subs         map[radio.SubscriptionID]fakeSub
	powerSubs    map[radio.SubscriptionID]func(radio.PowerState)
	power        radio.PowerState
	subscribeErr error

	subscribes   int
	unsubscribes int
}

type fakeSub struct {
	onAdv func(device.Advertisement)
	onErr func(error)
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		subs:      make(map[radio.SubscriptionID]fakeSub),
		powerSubs: make(map[radio.SubscriptionID]func(radio.PowerState)),
		power:     radio.PowerOn,
	}
}

func (f *fakeRadio) Subscribe(onAdv func(device.Advertisement), onErr func(error)) (radio.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return 0, f.subscribeErr
	}
	f.nextID++
	id := radio.SubscriptionID(f.nextID)
	f.subs[id] = fakeSub{onAdv: onAdv, onErr: onErr}
	f.subscribes++
	return id, nil
}

func (f *fakeRadio) Unsubscribe(id radio.SubscriptionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; ok {
		delete(f.subs, id)
		f.unsubscribes++
	}
	delete(f.powerSubs, id)
}

func (f *fakeRadio) OnPowerStateChange(cb func(radio.PowerState)) radio.SubscriptionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := radio.SubscriptionID(f.nextID)
	f.powerSubs[id] = cb
	return id
}

func (f *fakeRadio) PowerState() radio.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.power
}

func (f *fakeRadio) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = make(map[radio.SubscriptionID]fakeSub)
	f.powerSubs = make(map[radio.SubscriptionID]func(radio.PowerState))
	return nil
}

func (f *fakeRadio) emit(adv device.Advertisement) {
	f.mu.Lock()
	subs := make([]fakeSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.onAdv(adv)
	}
}

func (f *fakeRadio) fail(err error) {
	f.mu.Lock()
	subs := make([]fakeSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.onErr(err)
	}
}

func (f *fakeRadio) setPower(st radio.PowerState) {
	f.mu.Lock()
	f.power = st
	cbs := make([]func(radio.PowerState), 0, len(f.powerSubs))
	for _, cb := range f.powerSubs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(st)
	}
}

func (f *fakeRadio) counts() (subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

func (f *fakeRadio) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// manualGate ignores context cancellation on purpose: it resolves only when
// the test releases it, so results can arrive after a stop.
type manualGate struct {
	started chan struct{}
	release chan permission.Decision
}

func newManualGate() *manualGate {
	return &manualGate{
		started: make(chan struct{}, 4),
		release: make(chan permission.Decision),
	}
}

func (g *manualGate) Request(context.Context) (permission.Decision, error) {
	g.started <- struct{}{}
	return <-g.release, nil
}

type SessionSuite struct {
	suite.Suite
	logger *logrus.Logger
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
}

func (s *SessionSuite) newSession(r radio.Radio, gate permission.Gate, opts scan.Options) *scan.Session {
	sess := scan.NewSession(r, gate, opts, s.logger)
	s.T().Cleanup(func() { _ = sess.Close() })
	return sess
}

func (s *SessionSuite) waitState(sess *scan.Session, want scan.State) {
	s.Require().Eventually(func() bool { return sess.State() == want },
		2*time.Second, 5*time.Millisecond, "session MUST reach state %s, is %s", want, sess.State())
}

func (s *SessionSuite) waitDevices(sess *scan.Session, want int) scan.Snapshot {
	var snap scan.Snapshot
	s.Require().Eventually(func() bool {
		snap = sess.Snapshot()
		return len(snap.Devices) == want
	}, 2*time.Second, 5*time.Millisecond, "session MUST report %d devices, has %d", want, len(snap.Devices))
	return snap
}

func advertisement(addr, name string, rssi int) device.Advertisement {
	r := rssi
	return device.Advertisement{Addr: addr, Name: name, RSSI: &r}
}

func (s *SessionSuite) TestScanDiscoversAndClassifiesDevices() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})
	events := sess.Events()

	sess.Start()
	s.waitState(sess, scan.StateScanning)

	subscribes, _ := r.counts()
	s.Require().Equal(1, subscribes, "starting a scan MUST subscribe to the radio exactly once")

	r.emit(advertisement("aa:11:22:33:44:55", "ESP32-S3-DevKit", -55))
	r.emit(advertisement("bb:11:22:33:44:55", "RandomGadget", -80))
	r.emit(advertisement("aa:11:22:33:44:55", "ESP32-S3-DevKit", -42))

	snap := s.waitDevices(sess, 2)
	s.Require().Equal(scan.StateScanning, snap.State)
	s.Require().NotEmpty(snap.ScanID, "a running scan MUST carry a scan id")

	s.Require().Equal("aa:11:22:33:44:55", snap.Devices[0].ID, "discovery order MUST be preserved")
	s.Require().Equal("bb:11:22:33:44:55", snap.Devices[1].ID)
	s.Require().Equal(device.TypeESP32S3, snap.Devices[0].Type)
	s.Require().Equal(device.TypeUnknown, snap.Devices[1].Type)
	s.Require().NotNil(snap.Devices[0].RSSI)
	s.Require().Equal(-42, *snap.Devices[0].RSSI, "a re-advertisement MUST refresh the stored signal level")

	kinds := make([]scan.DeviceEventType, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Type)
		case <-time.After(time.Second):
			s.Require().FailNow("expected a device event")
		}
	}
	s.Require().Equal([]scan.DeviceEventType{scan.EventNew, scan.EventNew, scan.EventUpdated}, kinds)

	sess.Stop()
	s.waitState(sess, scan.StateIdle)

	_, unsubscribes := r.counts()
	s.Require().Equal(1, unsubscribes, "stopping MUST unsubscribe exactly once")
	s.Require().Len(sess.Snapshot().Devices, 2, "results MUST stay readable after the scan ends")
}

func (s *SessionSuite) TestStopWhileIdleIsNoOp() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})

	sess.Stop()
	sess.Stop()
	time.Sleep(50 * time.Millisecond)

	s.Require().Equal(scan.StateIdle, sess.State())
	subscribes, unsubscribes := r.counts()
	s.Require().Zero(subscribes, "stop without start MUST NOT touch the radio")
	s.Require().Zero(unsubscribes)
}

func (s *SessionSuite) TestScanTimeoutReturnsToIdle() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{ScanTimeout: 100 * time.Millisecond})

	sess.Start()
	s.waitState(sess, scan.StateScanning)
	s.waitState(sess, scan.StateIdle)

	subscribes, unsubscribes := r.counts()
	s.Require().Equal(1, subscribes)
	s.Require().Equal(1, unsubscribes, "a timed out scan MUST unsubscribe exactly once")

	// The timer must not fire again for a finished attempt.
	time.Sleep(150 * time.Millisecond)
	_, unsubscribes = r.counts()
	s.Require().Equal(1, unsubscribes)
}

func (s *SessionSuite) TestPermissionDeniedNeverTouchesRadio() {
	r := newFakeRadio()
	sess := s.newSession(r, permission.Static(permission.Denied), scan.Options{})

	sess.Start()
	s.waitState(sess, scan.StatePermissionDenied)

	snap := sess.Snapshot()
	s.Require().Contains(snap.Err, "permission denied")
	subscribes, _ := r.counts()
	s.Require().Zero(subscribes, "a denied session MUST NOT subscribe to the radio")

	// A later attempt is allowed and is denied again.
	sess.Start()
	time.Sleep(50 * time.Millisecond)
	s.Require().Equal(scan.StatePermissionDenied, sess.State())
	subscribes, _ = r.counts()
	s.Require().Zero(subscribes)
}

func (s *SessionSuite) TestRadioFailureEntersErrorState() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})

	sess.Start()
	s.waitState(sess, scan.StateScanning)
	r.emit(advertisement("aa:11:22:33:44:55", "ESP32_LED_Controller", -60))
	s.waitDevices(sess, 1)

	r.fail(fmt.Errorf("%w: hci read: connection reset", radio.ErrScanFailed))
	s.waitState(sess, scan.StateError)

	snap := sess.Snapshot()
	s.Require().Contains(snap.Err, "scan failed")
	s.Require().Len(snap.Devices, 1, "devices found before the failure MUST stay readable")

	_, unsubscribes := r.counts()
	s.Require().Equal(1, unsubscribes, "a failed scan MUST release its subscription")
}

func (s *SessionSuite) TestPowerOffDuringScanEntersErrorState() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})

	sess.Start()
	s.waitState(sess, scan.StateScanning)

	r.setPower(radio.PowerOff)
	s.waitState(sess, scan.StateError)
	s.Require().Equal("bluetooth is turned off", sess.Snapshot().Err)

	_, unsubscribes := r.counts()
	s.Require().Equal(1, unsubscribes)

	// Power returning clears the outage without a new scan.
	r.setPower(radio.PowerOn)
	s.waitState(sess, scan.StateIdle)
	s.Require().Empty(sess.Snapshot().Err)
}

func (s *SessionSuite) TestStartWhileScanningIsNoOp() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})

	sess.Start()
	s.waitState(sess, scan.StateScanning)
	first := sess.Snapshot().ScanID

	sess.Start()
	time.Sleep(50 * time.Millisecond)

	s.Require().Equal(scan.StateScanning, sess.State())
	s.Require().Equal(first, sess.Snapshot().ScanID, "a redundant start MUST NOT begin a new scan")
	subscribes, _ := r.counts()
	s.Require().Equal(1, subscribes, "a redundant start MUST NOT subscribe again")
}

func (s *SessionSuite) TestStopDiscardsPendingPermission() {
	r := newFakeRadio()
	gate := newManualGate()
	sess := s.newSession(r, gate, scan.Options{})

	sess.Start()
	select {
	case <-gate.started:
	case <-time.After(time.Second):
		s.Require().FailNow("permission request MUST start")
	}

	sess.Stop()
	time.Sleep(50 * time.Millisecond)
	s.Require().Equal(scan.StateIdle, sess.State())

	// The grant arrives after the stop and must be discarded.
	gate.release <- permission.Granted
	time.Sleep(50 * time.Millisecond)
	s.Require().Equal(scan.StateIdle, sess.State(), "a permission result arriving after stop MUST be discarded")
	subscribes, _ := r.counts()
	s.Require().Zero(subscribes)

	// A fresh attempt still works.
	sess.Start()
	select {
	case <-gate.started:
	case <-time.After(time.Second):
		s.Require().FailNow("second permission request MUST start")
	}
	gate.release <- permission.Granted
	s.waitState(sess, scan.StateScanning)
}

func (s *SessionSuite) TestEachScanStartsWithFreshRegistry() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})

	sess.Start()
	s.waitState(sess, scan.StateScanning)
	firstID := sess.Snapshot().ScanID
	r.emit(advertisement("aa:11:22:33:44:55", "ESP32-C3", -50))
	s.waitDevices(sess, 1)

	sess.Stop()
	s.waitState(sess, scan.StateIdle)
	s.Require().Len(sess.Snapshot().Devices, 1)

	sess.Start()
	s.waitState(sess, scan.StateScanning)
	snap := sess.Snapshot()
	s.Require().Empty(snap.Devices, "a new scan MUST start from an empty registry")
	s.Require().NotEqual(firstID, snap.ScanID, "each scan MUST get its own id")

	r.emit(advertisement("bb:11:22:33:44:55", "ESP32-S2-Saola", -65))
	snap = s.waitDevices(sess, 1)
	s.Require().Equal("bb:11:22:33:44:55", snap.Devices[0].ID)
}

func (s *SessionSuite) TestAddressFiltersAndRssiFloor() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{
		AllowPatterns: []string{"aa:*", "ff:*"},
		BlockPatterns: []string{"ff:*"},
		MinRSSI:       -70,
	})

	sess.Start()
	s.waitState(sess, scan.StateScanning)

	// Admitted; below the floor; not on the allow list; blocked even
	// though allowed, block wins; no reported level so the floor does
	// not apply.
	r.emit(advertisement("aa:11:22:33:44:55", "ESP32", -60))
	r.emit(advertisement("aa:11:22:33:44:66", "ESP32", -90))
	r.emit(advertisement("bb:11:22:33:44:55", "ESP32", -50))
	r.emit(advertisement("ff:11:22:33:44:55", "ESP32", -40))
	r.emit(device.Advertisement{Addr: "aa:11:22:33:44:77", Name: "ESP32"})

	snap := s.waitDevices(sess, 2)
	s.Require().Equal("aa:11:22:33:44:55", snap.Devices[0].ID)
	s.Require().Equal("aa:11:22:33:44:77", snap.Devices[1].ID)
}

func (s *SessionSuite) TestRegistryCapHoldsDuringScan() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{MaxDevices: 2})

	sess.Start()
	s.waitState(sess, scan.StateScanning)

	r.emit(advertisement("aa:11:22:33:44:55", "ESP32", -50))
	r.emit(advertisement("bb:11:22:33:44:55", "ESP32", -55))
	r.emit(advertisement("cc:11:22:33:44:55", "ESP32", -60))
	s.waitDevices(sess, 2)

	// The newcomer stays out even after more sightings.
	r.emit(advertisement("cc:11:22:33:44:55", "ESP32", -58))
	time.Sleep(50 * time.Millisecond)
	snap := sess.Snapshot()
	s.Require().Len(snap.Devices, 2)
	s.Require().Equal("aa:11:22:33:44:55", snap.Devices[0].ID)
	s.Require().Equal("bb:11:22:33:44:55", snap.Devices[1].ID)
}

func (s *SessionSuite) TestWatchPublishesSnapshots() {
	r := newFakeRadio()
	sess := s.newSession(r, nil, scan.Options{})
	watch := sess.Watch()

	sess.Start()
	s.awaitSnapshot(watch, func(snap scan.Snapshot) bool {
		return snap.State == scan.StateScanning
	})

	r.emit(advertisement("aa:11:22:33:44:55", "ESP32-S3-DevKit", -55))
	s.awaitSnapshot(watch, func(snap scan.Snapshot) bool {
		return len(snap.Devices) == 1
	})

	sess.Stop()
	snap := s.awaitSnapshot(watch, func(snap scan.Snapshot) bool {
		return snap.State == scan.StateIdle
	})
	s.Require().Len(snap.Devices, 1, "the final snapshot MUST carry the scan results")
}

func (s *SessionSuite) TestCloseEndsStreams() {
	r := newFakeRadio()
	sess := scan.NewSession(r, nil, scan.Options{}, s.logger)

	sess.Start()
	s.waitState(sess, scan.StateScanning)

	s.Require().NoError(sess.Close())
	s.Require().NoError(sess.Close(), "Close MUST be idempotent")

	select {
	case _, ok := <-sess.Watch():
		s.Require().False(ok, "the watch channel MUST close with the session")
	case <-time.After(time.Second):
		s.Require().FailNow("the watch channel MUST close with the session")
	}
	s.Require().Zero(r.activeSubs(), "Close MUST release every radio subscription")
}

func (s *SessionSuite) awaitSnapshot(watch <-chan scan.Snapshot, pred func(scan.Snapshot) bool) scan.Snapshot {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-watch:
			s.Require().True(ok, "the watch channel closed early")
			if pred(snap) {
				return snap
			}
		case <-deadline:
			s.Require().FailNow("expected a matching watch snapshot")
			return scan.Snapshot{}
		}
	}
}
