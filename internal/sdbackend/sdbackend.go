// Package sdbackend adapts an SD card's FAT16/FAT32 volume to the
// storage backend contract the router dispatches to. FAT directory
// and cluster-chain bookkeeping is owned entirely by github.com/
// soypat/fat; this package only senses card presence/write-protect
// and translates its errors into the bridge's taxonomy.
package sdbackend

import (
	"io"
	"io/fs"

	"github.com/soypat/fat"
	"periph.io/x/conn/v3/gpio"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
)

// BlockDevice is the raw block interface soypat/fat drives; an SD
// card over SPI (internal/sdspi) satisfies it. Tests replace the
// mount step with a fake volume instead of supplying a block device.
type BlockDevice = fat.BlockDevice

// volume is the narrow subset of *fat.FS this backend calls, kept as
// an interface so tests can substitute a fake filesystem without
// needing a real FAT image.
type volume interface {
	Create(name string) (fat.File, error)
	Open(name string) (fat.File, error)
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Remove(name string) error
}

// mountFunc is overridden in tests to avoid mounting a real card.
var mountFunc = func(dev BlockDevice) (volume, error) {
	return fat.Mount(dev)
}

// Sense reports the two hardware signals the backend polls between
// operations: card presence (active low) and write protect
// (deasserted means writable).
type Sense struct {
	CardDetect   gpio.PinIn
	WriteProtect gpio.PinIn
}

// Backend wraps a mounted FAT volume. It re-probes Sense on every
// Update tick rather than during an in-flight operation, per
// spec.md §4.5.
type Backend struct {
	dev   BlockDevice
	sense Sense

	fsys    volume
	mounted bool
	ready   bool

	writesOK, readsOK     uint32
	bytesWritten, bytesRead uint64
}

func New(dev BlockDevice, sense Sense) *Backend {
	return &Backend{dev: dev, sense: sense}
}

// Update re-probes readiness: library mounted, card-detect asserted,
// write-protect deasserted. A transition from absent to present
// triggers a fresh mount attempt.
func (b *Backend) Update() {
	present := b.sense.CardDetect == nil || b.sense.CardDetect.Read() == gpio.Low
	if !present {
		b.mounted = false
		b.ready = false
		return
	}
	if !b.mounted {
		fsys, err := mountFunc(b.dev)
		if err == nil {
			b.fsys = fsys
			b.mounted = true
		}
	}
	writable := b.sense.WriteProtect == nil || b.sense.WriteProtect.Read() == gpio.Low
	b.ready = b.mounted && present && writable
}

func (b *Backend) IsReady() bool { return b.ready }

func (b *Backend) Write(name string, data []byte) (int, error) {
	if !b.ready {
		return 0, bridgeerr.New("sdbackend.write", bridgeerr.NotReady)
	}
	f, err := b.fsys.Create(name)
	if err != nil {
		return 0, bridgeerr.Wrap("sdbackend.write", bridgeerr.IoError, err)
	}
	defer f.Close()

	n, err := f.Write(data)
	if err != nil {
		return n, bridgeerr.Wrap("sdbackend.write", bridgeerr.IoError, err)
	}
	b.writesOK++
	b.bytesWritten += uint64(n)
	return n, nil
}

func (b *Backend) Read(name string, dst []byte) (int, error) {
	if !b.ready {
		return 0, bridgeerr.New("sdbackend.read", bridgeerr.NotReady)
	}
	f, err := b.fsys.Open(name)
	if err != nil {
		return 0, bridgeerr.Wrap("sdbackend.read", bridgeerr.NotFound, err)
	}
	defer f.Close()

	n, err := io.ReadFull(f, dst)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, bridgeerr.Wrap("sdbackend.read", bridgeerr.IoError, err)
	}
	b.readsOK++
	b.bytesRead += uint64(n)
	return n, nil
}

func (b *Backend) Exists(name string) bool {
	if !b.ready {
		return false
	}
	f, err := b.fsys.Open(name)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (b *Backend) Size(name string) (uint32, bool) {
	if !b.ready {
		return 0, false
	}
	info, err := b.fsys.Stat(name)
	if err != nil {
		return 0, false
	}
	return uint32(info.Size()), true
}

// List enumerates the root directory only; subdirectory support is
// not required by the core.
func (b *Backend) List(buf []string) int {
	if !b.ready {
		return 0
	}
	entries, err := b.fsys.ReadDir(".")
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if n >= len(buf) {
			break
		}
		if e.IsDir() {
			continue
		}
		buf[n] = e.Name()
		n++
	}
	return n
}

func (b *Backend) Delete(name string) error {
	if !b.ready {
		return bridgeerr.New("sdbackend.delete", bridgeerr.NotReady)
	}
	if err := b.fsys.Remove(name); err != nil {
		return bridgeerr.Wrap("sdbackend.delete", bridgeerr.NotFound, err)
	}
	return nil
}

// Format is not supported on a FAT card by this backend.
func (b *Backend) Format() error {
	return bridgeerr.New("sdbackend.format", bridgeerr.Unsupported)
}

func (b *Backend) Stats() (writes, reads uint32, bytesWritten, bytesRead uint64) {
	return b.writesOK, b.readsOK, b.bytesWritten, b.bytesRead
}
