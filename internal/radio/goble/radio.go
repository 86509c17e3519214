// Package goble implements the radio interface on top of go-ble, driving one
// HCI adapter and fanning advertisement events out to subscribers.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/blinkscan/blinkscan/internal/device"
	"github.com/blinkscan/blinkscan/internal/groutine"
	"github.com/blinkscan/blinkscan/internal/radio"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

type subscriber struct {
	onAdv func(device.Advertisement)
	onErr func(error)
}

// Radio owns one ble.Device and multiplexes a single hardware scan across
// any number of subscribers. The scan runs while at least one advertisement
// subscriber is registered and stops when the last one leaves.
//
// go-ble offers no power-state query, so the power state is inferred: a
// device that constructs successfully starts as PowerOn, observed
// bluetooth-off errors flip it to PowerOff, and a delivered advertisement
// flips it back.
type Radio struct {
	logger *logrus.Logger
	dev    ble.Device

	nextID    atomic.Uint64
	advSubs   *hashmap.Map[uint64, subscriber]
	powerSubs *hashmap.Map[uint64, func(radio.PowerState)]

	power atomic.Int32

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	closed     bool
}

var _ radio.Radio = (*Radio)(nil)

// New opens the platform adapter through DeviceFactory. Construction
// failures are normalized: a powered-off adapter surfaces as ErrRadioOff,
// anything else as ErrAdapterUnavailable.
func New(logger *logrus.Logger) (*Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		if errors.Is(err, radio.ErrRadioOff) || errors.Is(err, radio.ErrAdapterUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", radio.ErrAdapterUnavailable, err)
	}

	r := &Radio{
		logger:    logger,
		dev:       dev,
		advSubs:   hashmap.New[uint64, subscriber](),
		powerSubs: hashmap.New[uint64, func(radio.PowerState)](),
	}
	r.power.Store(int32(radio.PowerOn))
	return r, nil
}

// Subscribe registers the callbacks and starts the hardware scan if it is
// not already running.
func (r *Radio) Subscribe(onAdv func(device.Advertisement), onErr func(error)) (radio.SubscriptionID, error) {
	id := radio.SubscriptionID(r.nextID.Add(1))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: radio is closed", radio.ErrAdapterUnavailable)
	}
	r.advSubs.Set(uint64(id), subscriber{onAdv: onAdv, onErr: onErr})
	r.mu.Unlock()

	r.ensureScanning()
	return id, nil
}

// Unsubscribe removes a subscription of either kind. The hardware scan stops
// once no advertisement subscribers remain.
func (r *Radio) Unsubscribe(id radio.SubscriptionID) {
	key := uint64(id)

	if _, ok := r.advSubs.Get(key); ok {
		r.advSubs.Del(key)

		r.mu.Lock()
		if r.advSubs.Len() == 0 && r.scanCancel != nil {
			r.scanCancel()
			r.scanCancel = nil
		}
		r.mu.Unlock()
		return
	}

	r.powerSubs.Del(key)
}

// OnPowerStateChange registers cb for power transitions.
func (r *Radio) OnPowerStateChange(cb func(radio.PowerState)) radio.SubscriptionID {
	id := radio.SubscriptionID(r.nextID.Add(1))
	r.powerSubs.Set(uint64(id), cb)
	return id
}

// PowerState returns the last observed adapter power condition.
func (r *Radio) PowerState() radio.PowerState {
	return radio.PowerState(r.power.Load())
}

// Close stops the scan, drops all subscriptions and releases the adapter.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.scanCancel
	done := r.scanDone
	r.scanCancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	r.advSubs.Range(func(key uint64, _ subscriber) bool {
		r.advSubs.Del(key)
		return true
	})
	r.powerSubs.Range(func(key uint64, _ func(radio.PowerState)) bool {
		r.powerSubs.Del(key)
		return true
	})

	return r.dev.Stop()
}

// ensureScanning starts the shared scan loop unless one is active. A restart
// waits for the previous loop to retire first, so only one dev.Scan ever
// runs against the adapter.
func (r *Radio) ensureScanning() {
	r.mu.Lock()
	if r.closed || r.scanCancel != nil || r.advSubs.Len() == 0 {
		r.mu.Unlock()
		return
	}

	prevDone := r.scanDone
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.scanCancel = cancel
	r.scanDone = done
	r.mu.Unlock()

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer close(done)
		if prevDone != nil {
			<-prevDone
		}
		r.runScan(ctx, done)
	})
}

// runScan blocks in dev.Scan until cancellation or an adapter error. Errors
// are normalized and fanned out; a bluetooth-off error additionally flips
// the cached power state.
func (r *Radio) runScan(ctx context.Context, token chan struct{}) {
	err := r.dev.Scan(ctx, true, r.handleAdvertisement)

	r.mu.Lock()
	if r.scanDone == token {
		r.scanCancel = nil
	}
	r.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	err = NormalizeError(err)
	if errors.Is(err, radio.ErrRadioOff) {
		r.setPower(radio.PowerOff)
	} else {
		err = fmt.Errorf("%w: %v", radio.ErrScanFailed, err)
	}

	r.logger.WithError(err).Warn("Advertisement scan terminated")
	r.advSubs.Range(func(_ uint64, sub subscriber) bool {
		if sub.onErr != nil {
			sub.onErr(err)
		}
		return true
	})

	// Power observations stop when the loop dies; a cached Off decays to
	// Unknown so the next scan attempt probes the adapter.
	r.power.CompareAndSwap(int32(radio.PowerOff), int32(radio.PowerUnknown))
}

func (r *Radio) handleAdvertisement(adv ble.Advertisement) {
	// Receiving an event proves the adapter is up.
	r.setPower(radio.PowerOn)

	converted := convertAdvertisement(adv)
	r.advSubs.Range(func(_ uint64, sub subscriber) bool {
		sub.onAdv(converted)
		return true
	})
}

func (r *Radio) setPower(state radio.PowerState) {
	if old := radio.PowerState(r.power.Swap(int32(state))); old == state {
		return
	}

	r.logger.WithField("state", state.String()).Debug("Adapter power state changed")
	r.powerSubs.Range(func(_ uint64, cb func(radio.PowerState)) bool {
		cb(state)
		return true
	})
}
