// Package hal supplies hosted substitutes for the periph.io pin and SPI
// abstractions used by the parallel receiver, the NOR flash driver and
// the SD backend. Production wiring plugs in real periph.io/x/host
// drivers at the composition root (cmd/bridge); tests and simulation
// plug in the types here instead, following the hardware/software
// driver split other SPI HALs in this space use.
package hal

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// FakePin is an in-memory gpio.PinIO-shaped pin for tests. It is safe
// for the producer (edge injection) and consumer (Read/WaitForEdge) to
// use from different goroutines, mirroring the real ISR/task split.
type FakePin struct {
	name string

	mu    sync.Mutex
	level gpio.Level
	edges chan gpio.Level
}

// NewFakePin builds an idle-low fake pin with the given diagnostic name.
func NewFakePin(name string) *FakePin {
	return &FakePin{name: name, edges: make(chan gpio.Level, 64)}
}

func (p *FakePin) Name() string         { return p.name }
func (p *FakePin) String() string       { return p.name }
func (p *FakePin) Number() int          { return -1 }
func (p *FakePin) Function() string     { return "" }
func (p *FakePin) Halt() error          { return nil }
func (p *FakePin) In(gpio.Pull, gpio.Edge) error { return nil }
func (p *FakePin) Pull() gpio.Pull              { return gpio.PullNoChange }
func (p *FakePin) DefaultPull() gpio.Pull       { return gpio.PullNoChange }

func (p *FakePin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// WaitForEdge blocks until a transition queued by Drive arrives or the
// timeout expires; a non-positive timeout waits forever.
func (p *FakePin) WaitForEdge(timeout time.Duration) bool {
	if timeout <= 0 {
		<-p.edges
		return true
	}
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *FakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
	return nil
}

// PWM is unsupported on a fake digital pin.
func (p *FakePin) PWM(gpio.Duty, time.Duration) error { return gpio.ErrNotImplemented }

// Drive sets the pin level from the test's "peer" side and wakes a
// pending WaitForEdge.
func (p *FakePin) Drive(l gpio.Level) {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
	select {
	case p.edges <- l:
	default:
	}
}

// FakeSPI is an in-memory byte-addressed buffer standing in for a NOR
// chip's storage array during tests. It does not decode SPI command
// frames; FakeNorConn does that.
type FakeSPI struct {
	mu  sync.Mutex
	mem []byte
}

// NewFakeSPI allocates a memory of size filled with 0xFF (erased-NOR-like).
func NewFakeSPI(size int) *FakeSPI {
	m := make([]byte, size)
	for i := range m {
		m[i] = 0xFF
	}
	return &FakeSPI{mem: m}
}

// ReadAt, ProgramAt, EraseSector and EraseAll act on the memory
// directly, with NOR semantics: programming can only clear bits, and
// erasing sets bytes back to 0xFF.
func (f *FakeSPI) ReadAt(addr uint32, dst []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.mem[addr:])
}

func (f *FakeSPI) ProgramAt(addr uint32, src []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range src {
		f.mem[int(addr)+i] &= b
	}
}

func (f *FakeSPI) EraseSector(sectorAddr uint32, sectorSize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < sectorSize; i++ {
		f.mem[int(sectorAddr)+i] = 0xFF
	}
}

func (f *FakeSPI) EraseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
}

func (f *FakeSPI) Len() int { return len(f.mem) }
