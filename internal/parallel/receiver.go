// Package parallel implements the IEEE-1284 SPP ingress: the strobe
// handler that drives the BUSY/nACK handshake and feeds the shared
// byte queue, plus the run-loop-facing read/stats/self-test surface.
//
// The strobe handler (HandleStrobe) is written to be called from a
// real edge interrupt (periph.io's WaitForEdge loop, or a hardware
// ISR on a cross-compiled target); every other method is task-only.
package parallel

import (
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/tamzrod/scope-bridge/internal/queue"
)

// Pins is the fixed set of Centronics signals the receiver drives or
// reads. Each is injected so the same receiver runs against real
// periph.io hardware or the hosted fakes in internal/hal.
type Pins struct {
	Strobe gpio.PinIn
	Data   [8]gpio.PinIn

	Busy     gpio.PinOut
	NAck     gpio.PinOut
	NError   gpio.PinOut
	Select   gpio.PinOut
	PaperOut gpio.PinOut

	NAutoFeed gpio.PinIn
	NInit     gpio.PinIn
	NSelectIn gpio.PinIn
}

// Timing is the handshake's fixed delays, broken out so tests can
// shrink them; production wiring uses the spec's reference values.
type Timing struct {
	AckPulse time.Duration // nACK low-pulse width, spec default 20us
}

func DefaultTiming() Timing {
	return Timing{AckPulse: 20 * time.Microsecond}
}

// Receiver implements the state machine in spec.md §4.2: IDLE ->
// LATCH -> READ_DATA -> ACK_LOW -> ACK_HIGH, one cycle per strobe.
type Receiver struct {
	pins   Pins
	timing Timing
	queue  *queue.ByteQueue
	stats  liveStats

	enabled bool

	// nowFunc is overridable in tests to make ISR-duration accounting
	// deterministic without sleeping.
	nowFunc func() time.Time
}

// New wires a receiver to its pins and shared queue. Fixed outputs
// (nERROR high, SELECT high, PAPER_OUT low) are driven once here so a
// peer probing the bus before the first byte sees a sane idle state.
func New(pins Pins, q *queue.ByteQueue, timing Timing) *Receiver {
	r := &Receiver{
		pins:    pins,
		timing:  timing,
		queue:   q,
		enabled: true,
		nowFunc: time.Now,
	}
	if pins.NError != nil {
		pins.NError.Out(gpio.High)
	}
	if pins.Select != nil {
		pins.Select.Out(gpio.High)
	}
	if pins.PaperOut != nil {
		pins.PaperOut.Out(gpio.Low)
	}
	if pins.Busy != nil {
		pins.Busy.Out(gpio.Low)
	}
	if pins.NAck != nil {
		pins.NAck.Out(gpio.High)
	}
	return r
}

// Enable toggles whether HandleStrobe does any work; a disabled
// receiver still completes the handshake (the peer must never stall)
// but drops the byte without enqueuing it.
func (r *Receiver) Enable(on bool) { r.enabled = on }
func (r *Receiver) IsEnabled() bool { return r.enabled }

// readDataPins samples D0..D7, assumed stable because the caller only
// invokes this after the falling edge has been observed.
func (r *Receiver) readDataPins() byte {
	var b byte
	for i := 7; i >= 0; i-- {
		b <<= 1
		if r.pins.Data[i] != nil && r.pins.Data[i].Read() == gpio.High {
			b |= 1
		}
	}
	return b
}

// WatchStrobe waits for each nSTROBE edge and drives one HandleStrobe
// cycle per falling edge. This is the production ISR stand-in:
// cmd/bridge runs it in its own goroutine before the run loop starts,
// so the statically-addressable Receiver is already wired to the
// hardware edge the instant interrupts would be enabled on a real
// target. It returns once stop is closed; stop is checked only between
// edges, so a WaitForEdge already in progress is not interrupted. With
// a nil stop channel (as cmd/bridge passes) it never returns.
func (r *Receiver) WatchStrobe(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if r.pins.Strobe == nil || !r.pins.Strobe.WaitForEdge(-1) {
			continue
		}
		if r.pins.Strobe.Read() != gpio.Low {
			continue
		}
		r.HandleStrobe(r.readDataPins())
	}
}

// HandleStrobe runs one full byte-acceptance cycle. It is the method a
// falling-edge interrupt (or its hosted WaitForEdge stand-in) invokes.
// When reading directly from hardware, data is read via readDataPins
// instead of being passed in; the explicit parameter lets tests and
// the hosted fake path inject a byte without wiring eight pins.
func (r *Receiver) HandleStrobe(data byte) {
	start := r.nowFunc()

	if r.pins.Busy != nil {
		r.pins.Busy.Out(gpio.High)
	}

	pushed := false
	overflowed := false
	if r.enabled {
		pushed = r.queue.TryPush(data)
		overflowed = !pushed && r.queue.Overflowed()
	}

	if r.pins.NAck != nil {
		r.pins.NAck.Out(gpio.Low)
	}
	if r.timing.AckPulse > 0 {
		time.Sleep(r.timing.AckPulse)
	}
	if r.pins.NAck != nil {
		r.pins.NAck.Out(gpio.High)
	}

	if r.pins.Busy != nil {
		r.pins.Busy.Out(gpio.Low)
	}

	elapsed := r.nowFunc().Sub(start) - r.timing.AckPulse
	if elapsed < 0 {
		elapsed = 0
	}
	r.stats.recordInterrupt(uint32(elapsed.Microseconds()), pushed, overflowed)
}

// Available reports how many bytes the consumer can currently drain.
func (r *Receiver) Available() int { return r.queue.Len() }

// Read drains up to len(dst) bytes in arrival order.
func (r *Receiver) Read(dst []byte) int { return r.queue.Drain(dst) }

// Peek returns the next byte without consuming it, or false if empty.
func (r *Receiver) Peek() (byte, bool) {
	return r.queue.Peek()
}

func (r *Receiver) Clear() { r.queue.Clear() }

func (r *Receiver) HadOverflow() bool   { return r.queue.Overflowed() }
func (r *Receiver) ClearOverflow()      { r.queue.ClearOverflow() }

func (r *Receiver) Stats() ReceiverStats { return r.stats.snapshot() }

// SelfTestSignals drives each handshake and status output (BUSY, nACK,
// nERROR, SELECT, PAPER_OUT) high and then low, and returns false if
// any of them is unwired or reports an error. The output levels are
// not read back, and the data pins are not exercised.
func (r *Receiver) SelfTestSignals() bool {
	outs := []gpio.PinOut{r.pins.Busy, r.pins.NAck, r.pins.NError, r.pins.Select, r.pins.PaperOut}
	for _, p := range outs {
		if p == nil {
			return false
		}
		if err := p.Out(gpio.High); err != nil {
			return false
		}
		if err := p.Out(gpio.Low); err != nil {
			return false
		}
	}
	return true
}

// TestCapture counts strobe-triggered interrupts arriving over the
// given window by sampling InterruptsTotal before and after.
func (r *Receiver) TestCapture(d time.Duration) uint32 {
	before := r.stats.interruptsTotal.Load()
	time.Sleep(d)
	after := r.stats.interruptsTotal.Load()
	return after - before
}
