package runloop

import (
	"testing"
	"time"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
	"github.com/tamzrod/scope-bridge/internal/hal"
	"github.com/tamzrod/scope-bridge/internal/observer"
	"github.com/tamzrod/scope-bridge/internal/parallel"
	"github.com/tamzrod/scope-bridge/internal/queue"
	"github.com/tamzrod/scope-bridge/internal/router"
)

// recordingObserver captures every event the loop emits so tests can
// assert on call counts and payloads without a real observer.
type recordingObserver struct {
	captured []string
	errors   []bridgeerr.Kind
	ticks    int
}

func (o *recordingObserver) OnFileCaptured(name string, bytes int) {
	o.captured = append(o.captured, name)
}
func (o *recordingObserver) OnError(kind bridgeerr.Kind, detail string) {
	o.errors = append(o.errors, kind)
}
func (o *recordingObserver) OnStatusTick(observer.Snapshot) { o.ticks++ }

func testReceiver(capacity int) *parallel.Receiver {
	pins := parallel.Pins{
		Strobe:   hal.NewFakePin("nSTROBE"),
		Busy:     hal.NewFakePin("BUSY"),
		NAck:     hal.NewFakePin("nACK"),
		NError:   hal.NewFakePin("nERROR"),
		Select:   hal.NewFakePin("SELECT"),
		PaperOut: hal.NewFakePin("PAPER_OUT"),
	}
	return parallel.New(pins, queue.New(capacity), parallel.Timing{AckPulse: 0})
}

type fakeBackend struct {
	ready bool
	files map[string][]byte
}

func newFakeBackend(ready bool) *fakeBackend {
	return &fakeBackend{ready: ready, files: map[string][]byte{}}
}

func (f *fakeBackend) Update()       {}
func (f *fakeBackend) IsReady() bool { return f.ready }
func (f *fakeBackend) Write(name string, data []byte) (int, error) {
	f.files[name] = append([]byte{}, data...)
	return len(data), nil
}
func (f *fakeBackend) Read(name string, dst []byte) (int, error) {
	return copy(dst, f.files[name]), nil
}
func (f *fakeBackend) Exists(name string) bool { _, ok := f.files[name]; return ok }
func (f *fakeBackend) Size(name string) (uint32, bool) {
	d, ok := f.files[name]
	return uint32(len(d)), ok
}
func (f *fakeBackend) List(buf []string) int { return 0 }
func (f *fakeBackend) Delete(name string) error { delete(f.files, name); return nil }
func (f *fakeBackend) Format() error            { return nil }
func (f *fakeBackend) Space() (uint64, uint64)  { return 0, 0 }

func TestTick_DrainsReceiverAndWritesThroughRouter(t *testing.T) {
	recv := testReceiver(64)
	recv.HandleStrobe('A')
	recv.HandleStrobe('B')

	sd := newFakeBackend(true)
	r := router.New(sd, nil, nil)
	r.Update()

	obs := &recordingObserver{}
	l := New(recv, r, obs, DefaultConfig(), nil)
	l.Tick()

	if len(obs.captured) != 1 {
		t.Fatalf("expected one captured file, got %d", len(obs.captured))
	}
	if recv.Available() != 0 {
		t.Fatalf("expected receiver drained, %d bytes remain", recv.Available())
	}
}

func TestTick_EmitsStatusOnlyAfterInterval(t *testing.T) {
	recv := testReceiver(16)
	sd := newFakeBackend(true)
	r := router.New(sd, nil, nil)
	r.Update()

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.StatusInterval = 10 * time.Millisecond
	l := New(recv, r, obs, cfg, nil)

	l.Tick()
	if obs.ticks != 0 {
		t.Fatalf("expected no status tick immediately, got %d", obs.ticks)
	}

	time.Sleep(15 * time.Millisecond)
	l.Tick()
	if obs.ticks != 1 {
		t.Fatalf("expected exactly one status tick after interval, got %d", obs.ticks)
	}
}

func TestTick_SurfacesOverflowOnce(t *testing.T) {
	recv := testReceiver(2)
	recv.HandleStrobe('A')
	recv.HandleStrobe('B')
	recv.HandleStrobe('C') // overflow: capacity 2

	sd := newFakeBackend(true)
	r := router.New(sd, nil, nil)
	r.Update()

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.OverflowInterval = 0
	l := New(recv, r, obs, cfg, nil)
	l.Tick()

	found := false
	for _, k := range obs.errors {
		if k == bridgeerr.BufferTooSmall {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an overflow error to be surfaced")
	}
	if recv.HadOverflow() {
		t.Fatal("expected overflow flag cleared after surfacing")
	}
}

func TestTick_LatchesErrorModeAfterPersistentFailures(t *testing.T) {
	recv := testReceiver(16)
	sd := newFakeBackend(false) // never ready: every write fails
	r := router.New(sd, nil, nil)
	r.Update()

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.ErrorThreshold = 3
	l := New(recv, r, obs, cfg, nil)

	for i := 0; i < cfg.ErrorThreshold; i++ {
		recv.HandleStrobe(byte(i))
		l.Tick()
	}

	if !l.ErrorLatched() {
		t.Fatal("expected error mode latched after persistent failures")
	}
}

func TestTick_LowMemoryRaisesError(t *testing.T) {
	recv := testReceiver(16)
	sd := newFakeBackend(true)
	r := router.New(sd, nil, nil)
	r.Update()

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.LowMemInterval = 0
	cfg.LowMemWatermark = 1024
	l := New(recv, r, obs, cfg, func() uint32 { return 10 })
	l.Tick()

	found := false
	for _, k := range obs.errors {
		if k == bridgeerr.NoSpace {
			found = true
		}
	}
	if !found {
		t.Fatal("expected low-memory error to be surfaced")
	}
}
