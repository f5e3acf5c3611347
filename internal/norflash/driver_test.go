package norflash

import (
	"testing"

	"github.com/tamzrod/scope-bridge/internal/hal"
)

func TestProbe_IdentifiesChip(t *testing.T) {
	conn := hal.NewFakeNorConn(TotalSize, [3]byte{0xEF, 0x40, 0x18})
	cs := hal.NewFakePin("CS")
	d := New(conn, cs)

	id, err := d.Probe()
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if id.Raw() != w25q128ID.Raw() {
		t.Fatalf("id = %06x, want %06x", id.Raw(), w25q128ID.Raw())
	}
}

func TestProbe_AbsentChip(t *testing.T) {
	conn := hal.NewFakeNorConn(TotalSize, [3]byte{0xEF, 0x40, 0x18})
	conn.SetAbsent(true)
	d := New(conn, hal.NewFakePin("CS"))

	if _, err := d.Probe(); err == nil {
		t.Fatal("expected error probing absent chip")
	}
}

func TestWritePageThenRead_RoundTrips(t *testing.T) {
	conn := hal.NewFakeNorConn(TotalSize, [3]byte{0xEF, 0x40, 0x18})
	d := New(conn, hal.NewFakePin("CS"))

	if err := d.EraseSector(0); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}

	payload := []byte("hello nor flash")
	if err := d.WritePage(0, payload); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	out := make([]byte, len(payload))
	if err := d.Read(0, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out) != string(payload) {
		t.Fatalf("read = %q, want %q", out, payload)
	}
}

func TestWritePage_RejectsPageCrossing(t *testing.T) {
	conn := hal.NewFakeNorConn(TotalSize, [3]byte{0xEF, 0x40, 0x18})
	d := New(conn, hal.NewFakePin("CS"))

	buf := make([]byte, 10)
	if err := d.WritePage(PageSize-5, buf); err == nil {
		t.Fatal("expected page-crossing write to be rejected")
	}
}

func TestEraseSector_ClearsToFF(t *testing.T) {
	conn := hal.NewFakeNorConn(TotalSize, [3]byte{0xEF, 0x40, 0x18})
	d := New(conn, hal.NewFakePin("CS"))

	if err := d.WritePage(0, []byte{0x00, 0x01, 0x02}); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := d.EraseSector(0); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}
	out := make([]byte, 3)
	d.Read(0, out)
	for i, b := range out {
		if b != 0xFF {
			t.Fatalf("byte %d = %x, want 0xFF after erase", i, b)
		}
	}
}
