package router

import "testing"

// fakeBackend is a minimal in-memory Backend used to exercise router
// dispatch and fail-over logic without any real storage medium.
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
	cp := append([]byte{}, data...)
	f.files[name] = cp
	return len(cp), nil
}

func (f *fakeBackend) Read(name string, dst []byte) (int, error) {
	data, ok := f.files[name]
	if !ok {
		return 0, errNotFound
	}
	n := copy(dst, data)
	return n, nil
}

func (f *fakeBackend) Exists(name string) bool { _, ok := f.files[name]; return ok }

func (f *fakeBackend) Size(name string) (uint32, bool) {
	d, ok := f.files[name]
	return uint32(len(d)), ok
}

func (f *fakeBackend) List(buf []string) int {
	n := 0
	for name := range f.files {
		if n >= len(buf) {
			break
		}
		buf[n] = name
		n++
	}
	return n
}

func (f *fakeBackend) Delete(name string) error {
	if _, ok := f.files[name]; !ok {
		return errNotFound
	}
	delete(f.files, name)
	return nil
}

func (f *fakeBackend) Format() error { f.files = map[string][]byte{}; return nil }

func (f *fakeBackend) Space() (available, total uint64) {
	return 1 << 20, 1 << 20
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func TestAuto_PrefersSdThenNorThenHex(t *testing.T) {
	sd := newFakeBackend(false)
	nor := newFakeBackend(true)
	hex := newFakeBackend(true)
	r := New(sd, nor, hex)

	r.Update()
	if got := r.Selected(); got != Nor {
		t.Fatalf("selected = %v, want Nor", got)
	}
}

func TestAuto_FailsOverWhenSelectedGoesNotReady(t *testing.T) {
	sd := newFakeBackend(true)
	nor := newFakeBackend(true)
	hex := newFakeBackend(true)
	r := New(sd, nor, hex)
	r.Update()
	if r.Selected() != Sd {
		t.Fatalf("selected = %v, want Sd", r.Selected())
	}

	sd.ready = false
	r.Update()
	if r.Selected() != Nor {
		t.Fatalf("after sd failure, selected = %v, want Nor", r.Selected())
	}
}

func TestSelect_IsIdempotent(t *testing.T) {
	sd := newFakeBackend(true)
	nor := newFakeBackend(true)
	r := New(sd, nor, nil)
	r.Update()

	r.Select(Nor)
	afterOnce := r.Selected()
	manualOnce := r.manual

	r.Select(Nor)
	if r.Selected() != afterOnce || r.manual != manualOnce {
		t.Fatal("select(k); select(k) changed state beyond a single select(k)")
	}
}

func TestManualSelectionOverridesAutoUntilNotReady(t *testing.T) {
	sd := newFakeBackend(true)
	nor := newFakeBackend(true)
	r := New(sd, nor, nil)
	r.Update()

	r.Select(Nor)
	r.Update() // Sd is ready, but manual pin to Nor should hold
	if r.Selected() != Nor {
		t.Fatalf("manual selection not honored: got %v", r.Selected())
	}

	nor.ready = false
	r.Update()
	if r.Selected() != Sd {
		t.Fatalf("expected fallback to Sd once manual pick went not-ready, got %v", r.Selected())
	}
}

func TestWrite_RejectsInvalidNames(t *testing.T) {
	r := New(newFakeBackend(true), nil, nil)
	r.Update()

	cases := []string{"", "has/slash", "has:colon", "ctrl\x01char"}
	for _, name := range cases {
		if _, err := r.Write(name, []byte{1}); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestCopy_RoundTripsBetweenBackends(t *testing.T) {
	sd := newFakeBackend(true)
	nor := newFakeBackend(true)
	r := New(sd, nor, nil)
	r.Update()

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := r.Write("trace_0001", want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := r.Copy("trace_0001", Sd, Nor); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	got, ok := nor.files["trace_0001"]
	if !ok {
		t.Fatal("copy destination missing file")
	}
	if string(got) != string(want) {
		t.Fatalf("copied content = %x, want %x", got, want)
	}
}

func TestCopy_RejectsOversizeSource(t *testing.T) {
	sd := newFakeBackend(true)
	nor := newFakeBackend(true)
	r := New(sd, nor, nil)
	r.Update()

	big := make([]byte, TransferBufSize+1)
	sd.files["huge"] = big

	if err := r.Copy("huge", Sd, Nor); err == nil {
		t.Fatal("expected oversize copy to be rejected")
	}
}

func TestDelete_SecondCallReturnsNotFound(t *testing.T) {
	sd := newFakeBackend(true)
	r := New(sd, nil, nil)
	r.Update()

	r.Write("once", []byte{1})
	if err := r.Delete("once"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := r.Delete("once"); err == nil {
		t.Fatal("expected second delete to fail")
	}
}

func TestTestWrite_RoundTripsCannedPattern(t *testing.T) {
	r := New(newFakeBackend(true), nil, nil)
	r.Update()

	if !r.TestWrite() {
		t.Fatal("expected test_write to succeed against a ready backend")
	}
	if r.Exists("test.dat") {
		t.Fatal("expected test.dat to be deleted after test_write")
	}
}

func TestWriteAuto_GeneratesIncrementingNames(t *testing.T) {
	r := New(newFakeBackend(true), nil, nil)
	r.Update()

	var n1, n2 string
	r.WriteAuto("data", ".bin", []byte{1}, &n1)
	r.WriteAuto("data", ".bin", []byte{2}, &n2)
	if n1 == n2 {
		t.Fatalf("expected distinct generated names, got %q twice", n1)
	}
}
