package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a single-line scan countdown on the terminal. With a
// zero duration it counts elapsed time up instead.
//
// A ProgressPrinter is single-use: Start may be called at most once and Stop
// must be called exactly once to release the internal goroutine.
type ProgressPrinter struct {
	prefix    string
	duration  time.Duration
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

func NewProgressPrinter(prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{prefix: prefix, duration: duration}
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s...   ", p.prefix)

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.printProgress()
			}
		}
	}()
}

func (p *ProgressPrinter) printProgress() {
	elapsed := time.Since(p.startTime)
	if p.duration <= 0 {
		fmt.Printf("\r%s (%ds)   ", p.prefix, int(elapsed.Seconds()))
		return
	}
	remaining := p.duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	// Round to the nearest second so 3.7s shows as 4s.
	fmt.Printf("\r%s (%ds left)   ", p.prefix, int(remaining.Seconds()+0.5))
}

// Stop stops the progress display and clears the line. Safe to call multiple
// times and from multiple goroutines; only the first call does the work.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Print(clearLineSequence)
}
