// Package runloop implements the single cooperative scheduler tick
// that drains the parallel receiver into the storage router and
// surfaces status, overflow, and low-memory events to an observer.
package runloop

import (
	"fmt"
	"time"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
	"github.com/tamzrod/scope-bridge/internal/observer"
	"github.com/tamzrod/scope-bridge/internal/parallel"
	"github.com/tamzrod/scope-bridge/internal/router"
)

// chunkSize bounds how many bytes one tick drains from the receiver
// into a single router.write call; a stack-sized buffer, not a heap
// allocation, per the no-dynamic-allocation rule.
const chunkSize = 256

// Config carries the run loop's fixed timing thresholds, broken out
// so tests can shrink them to something a test process can observe in
// well under a second.
type Config struct {
	StatusInterval     time.Duration
	OverflowInterval   time.Duration
	LowMemInterval     time.Duration
	LowMemWatermark    uint32
	ErrorThreshold     int
}

func DefaultConfig() Config {
	return Config{
		StatusInterval:   5 * time.Second,
		OverflowInterval: 5 * time.Second,
		LowMemInterval:   10 * time.Second,
		LowMemWatermark:  512,
		ErrorThreshold:   8,
	}
}

// FreeMemFunc reports current free memory; injected so hosted tests
// can simulate a low-memory condition deterministically.
type FreeMemFunc func() uint32

// RunLoop is the composition root's single scheduling object. It owns
// no goroutines: Tick is called repeatedly by cmd/bridge's main loop.
type RunLoop struct {
	receiver *parallel.Receiver
	router   *router.Router
	obs      observer.Observer
	cfg      Config
	freeMem  FreeMemFunc

	nowFunc func() time.Time

	lastStatus   time.Time
	lastOverflow time.Time
	lastLowMem   time.Time

	consecutiveErrors int
	errorLatched      bool

	nameCounter uint16
}

func New(receiver *parallel.Receiver, r *router.Router, obs observer.Observer, cfg Config, freeMem FreeMemFunc) *RunLoop {
	now := time.Now()
	return &RunLoop{
		receiver:     receiver,
		router:       r,
		obs:          obs,
		cfg:          cfg,
		freeMem:      freeMem,
		nowFunc:      time.Now,
		lastStatus:   now,
		lastOverflow: now,
		lastLowMem:   now,
	}
}

// ErrorLatched reports whether the loop has entered the error-
// indication mode after a persistent run of component failures.
func (l *RunLoop) ErrorLatched() bool { return l.errorLatched }

// Tick runs one full scheduler step in the fixed order spec.md lays
// out: advance components, drain the receiver, then the periodic
// status/overflow/low-memory checks.
func (l *RunLoop) Tick() {
	l.advanceComponents()
	l.drainReceiver()

	now := l.nowFunc()
	if now.Sub(l.lastStatus) >= l.cfg.StatusInterval {
		l.emitStatus()
		l.lastStatus = now
	}
	if now.Sub(l.lastOverflow) >= l.cfg.OverflowInterval {
		l.checkOverflow()
		l.lastOverflow = now
	}
	if l.freeMem != nil && now.Sub(l.lastLowMem) >= l.cfg.LowMemInterval {
		l.checkLowMemory()
		l.lastLowMem = now
	}
}

func (l *RunLoop) advanceComponents() {
	l.router.Update()
}

// drainReceiver pops up to chunkSize bytes and forges one file per
// tick; a partial write is reported through the observer and not
// retried at this layer, per spec.md §4.8 step 2.
func (l *RunLoop) drainReceiver() {
	if l.receiver.Available() == 0 {
		return
	}

	var buf [chunkSize]byte
	n := l.receiver.Read(buf[:])
	if n == 0 {
		return
	}

	l.nameCounter++
	name := fmt.Sprintf("capture_%04d.bin", l.nameCounter%10000)

	written, err := l.router.Write(name, buf[:n])
	if err != nil {
		l.reportError(err)
		return
	}
	l.resetErrorStreak()
	l.obs.OnFileCaptured(name, written)

	if written < n {
		l.reportError(bridgeerr.New("runloop.drain", bridgeerr.IoError))
	}
}

func (l *RunLoop) emitStatus() {
	stats := l.receiver.Stats()
	snap := observer.Snapshot{
		BytesWritten:     uint64(stats.BytesTotal),
		Overflows:        stats.Overflows,
		QueueUtilization: float64(l.receiver.Available()),
		FreeMemory:       l.currentFreeMem(),
	}
	l.obs.OnStatusTick(snap)
}

func (l *RunLoop) checkOverflow() {
	if l.receiver.HadOverflow() {
		l.receiver.ClearOverflow()
		l.obs.OnError(bridgeerr.BufferTooSmall, "parallel receiver overflow")
	}
}

func (l *RunLoop) checkLowMemory() {
	if l.currentFreeMem() < l.cfg.LowMemWatermark {
		l.obs.OnError(bridgeerr.NoSpace, "free memory below watermark")
	}
}

func (l *RunLoop) currentFreeMem() uint32 {
	if l.freeMem == nil {
		return 0
	}
	return l.freeMem()
}

func (l *RunLoop) reportError(err error) {
	l.consecutiveErrors++
	kind := bridgeerr.IoError
	var be *bridgeerr.Error
	if e, ok := err.(*bridgeerr.Error); ok {
		be = e
		kind = be.Kind
	}
	l.obs.OnError(kind, err.Error())

	if l.consecutiveErrors >= l.cfg.ErrorThreshold {
		l.errorLatched = true
	}
}

func (l *RunLoop) resetErrorStreak() {
	l.consecutiveErrors = 0
}
