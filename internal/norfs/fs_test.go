package norfs

import (
	"testing"

	"github.com/tamzrod/scope-bridge/internal/hal"
	"github.com/tamzrod/scope-bridge/internal/norflash"
)

func newMountedFs(t *testing.T) *FlatFs {
	t.Helper()
	conn := hal.NewFakeNorConn(norflash.TotalSize, [3]byte{0xEF, 0x40, 0x18})
	drv := norflash.New(conn, hal.NewFakePin("CS"))
	fs := New(drv)
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs
}

func TestCreateWriteThenRead_RoundTrips(t *testing.T) {
	fs := newMountedFs(t)

	payload := []byte{0x48, 0x69, 0x0A}
	n, err := fs.CreateWrite("data_0001", payload)
	if err != nil {
		t.Fatalf("CreateWrite: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d, want %d", n, len(payload))
	}

	dst := make([]byte, 64)
	read, err := fs.Read("data_0001", dst)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(dst[:read]) != string(payload) {
		t.Fatalf("read = %x, want %x", dst[:read], payload)
	}

	names := make([]string, 4)
	if got := fs.List(names); got != 1 || names[0] != "data_0001" {
		t.Fatalf("List = %v (%d), want [data_0001] (1)", names[:got], got)
	}
}

func TestCreateWrite_OverwritesSameName(t *testing.T) {
	fs := newMountedFs(t)

	if _, err := fs.CreateWrite("A", []byte{1, 2, 3}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := fs.CreateWrite("a", []byte{9, 9}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if fs.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", fs.ActiveCount())
	}

	dst := make([]byte, 8)
	n, _ := fs.Read("A", dst)
	if string(dst[:n]) != "\x09\x09" {
		t.Fatalf("read %x, want overwritten content", dst[:n])
	}
}

func TestDelete_IsIdempotentlyRejected(t *testing.T) {
	fs := newMountedFs(t)
	fs.CreateWrite("A", []byte{1})

	if err := fs.Delete("A"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := fs.Delete("A"); err == nil {
		t.Fatal("expected second delete to fail with NotFound")
	}
	if fs.ActiveCount() != 0 {
		t.Fatalf("active count = %d, want 0 (never negative)", fs.ActiveCount())
	}
}

func TestMount_DemotesCorruptEntry(t *testing.T) {
	conn := hal.NewFakeNorConn(norflash.TotalSize, [3]byte{0xEF, 0x40, 0x18})
	drv := norflash.New(conn, hal.NewFakePin("CS"))
	fs := New(drv)
	fs.Format()
	fs.CreateWrite("A", []byte{0x10, 0x20, 0x30})

	// Corrupt the complement of the one ACTIVE slot directly on medium.
	raw := make([]byte, norflash.SectorSize)
	drv.Read(0, raw)
	raw[NameLen+4+4] ^= 0xFF // flip a byte of size_complement
	drv.EraseSector(0)
	for off := 0; off < len(raw); off += norflash.PageSize {
		drv.WritePage(uint32(off), raw[off:off+norflash.PageSize])
	}

	fs2 := New(drv)
	if err := fs2.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if fs2.ActiveCount() != 0 || fs2.DeletedCount() != 1 {
		t.Fatalf("active=%d deleted=%d, want 0/1", fs2.ActiveCount(), fs2.DeletedCount())
	}

	names := make([]string, 4)
	if n := fs2.List(names); n != 0 {
		t.Fatalf("List returned %d entries, want 0", n)
	}
}

func TestFsck_DetectsLiveCorruption(t *testing.T) {
	fs := newMountedFs(t)
	fs.CreateWrite("A", []byte{1, 2, 3})
	fs.dir[0].SizeComplement ^= 0xFF

	if changed := fs.Fsck(); !changed {
		t.Fatal("expected fsck to detect corruption")
	}
	if fs.ActiveCount() != 0 {
		t.Fatalf("active = %d, want 0", fs.ActiveCount())
	}
}

func TestDefragment_CompactsAfterDeletes(t *testing.T) {
	fs := newMountedFs(t)
	fs.CreateWrite("A", make([]byte, norflash.SectorSize))
	fs.CreateWrite("B", make([]byte, norflash.SectorSize))
	fs.Delete("A")

	before := fs.nextFreeSector
	fs.Defragment()

	idx, ok := fs.findActive("B")
	if !ok {
		t.Fatal("B missing after defragment")
	}
	if fs.dir[idx].StartSector != DataStart {
		t.Fatalf("B start = %d, want %d after compaction", fs.dir[idx].StartSector, DataStart)
	}
	if fs.nextFreeSector >= before {
		t.Fatalf("nextFreeSector = %d, expected it to shrink from %d", fs.nextFreeSector, before)
	}
}
