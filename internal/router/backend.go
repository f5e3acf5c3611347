package router

import (
	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
	"github.com/tamzrod/scope-bridge/internal/hexstream"
	"github.com/tamzrod/scope-bridge/internal/norflash"
	"github.com/tamzrod/scope-bridge/internal/norfs"
	"github.com/tamzrod/scope-bridge/internal/sdbackend"
)

// Backend is the uniform storage surface the router dispatches
// through. Each of the three concrete media implements it via the
// adapters below, constructed once and held in a fixed array — a
// statically allocated sum type, per spec.md's design note on
// replacing virtual dispatch with one arm per backend.
type Backend interface {
	Update()
	IsReady() bool
	Write(name string, data []byte) (int, error)
	Read(name string, dst []byte) (int, error)
	Exists(name string) bool
	Size(name string) (uint32, bool)
	List(buf []string) int
	Delete(name string) error
	Format() error
	Space() (available, total uint64)
}

// norAdapter gives the NOR flat filesystem the Backend shape. Its
// readiness is driven by probing the chip; mount() is retried lazily
// on the next Update() after a failed probe or a failed mount.
type norAdapter struct {
	drv *norflash.Driver
	fs  *norfs.FlatFs

	ready bool
}

func NewNorAdapter(drv *norflash.Driver) *norAdapter {
	return &norAdapter{drv: drv, fs: norfs.New(drv)}
}

func (a *norAdapter) Update() {
	if _, err := a.drv.Probe(); err != nil {
		a.ready = false
		return
	}
	if !a.ready {
		if err := a.fs.Mount(); err != nil {
			// An unreadable directory is recoverable by an explicit
			// format; the router does not format automatically.
			a.ready = false
			return
		}
	}
	a.ready = true
}

func (a *norAdapter) IsReady() bool { return a.ready }

func (a *norAdapter) Write(name string, data []byte) (int, error) {
	if !a.ready {
		return 0, bridgeerr.New("nor.write", bridgeerr.NotReady)
	}
	return a.fs.CreateWrite(name, data)
}

func (a *norAdapter) Read(name string, dst []byte) (int, error) {
	if !a.ready {
		return 0, bridgeerr.New("nor.read", bridgeerr.NotReady)
	}
	return a.fs.Read(name, dst)
}

func (a *norAdapter) Exists(name string) bool { return a.ready && a.fs.Exists(name) }

func (a *norAdapter) Size(name string) (uint32, bool) {
	if !a.ready {
		return 0, false
	}
	return a.fs.Size(name)
}

func (a *norAdapter) List(buf []string) int {
	if !a.ready {
		return 0
	}
	return a.fs.List(buf)
}

func (a *norAdapter) Delete(name string) error {
	if !a.ready {
		return bridgeerr.New("nor.delete", bridgeerr.NotReady)
	}
	return a.fs.Delete(name)
}

func (a *norAdapter) Format() error {
	if err := a.fs.Format(); err != nil {
		return err
	}
	a.ready = true
	return nil
}

func (a *norAdapter) Space() (available, total uint64) {
	total = uint64(norflash.TotalSectors-norfs.DataStart) * norflash.SectorSize
	used := uint64(0)
	names := make([]string, norfs.Slots)
	n := a.fs.List(names)
	for i := 0; i < n; i++ {
		if sz, ok := a.fs.Size(names[i]); ok {
			used += uint64(sz)
		}
	}
	if used > total {
		used = total
	}
	return total - used, total
}

// sdAdapter wraps internal/sdbackend.Backend, which already matches
// the shape above except for capacity reporting: Space reports zero
// for both available and total (the underlying FAT library does not
// expose free-cluster counts through the narrow interface this
// backend uses).
type sdAdapter struct {
	*sdbackend.Backend
}

func NewSdAdapter(b *sdbackend.Backend) *sdAdapter { return &sdAdapter{b} }

func (a *sdAdapter) Space() (available, total uint64) {
	return 0, 0
}

// hexAdapter gives the hex stream backend the Backend shape. It always
// reports ready. Read ignores the name and proxies to Receive with the
// adapter's fixed timeout. Because the stream's Size always reports
// false, Router.Copy with Hex as the source fails with NotFound.
type hexAdapter struct {
	*hexstream.Backend
	readTimeoutMs int
}

func NewHexAdapter(b *hexstream.Backend, readTimeoutMs int) *hexAdapter {
	return &hexAdapter{Backend: b, readTimeoutMs: readTimeoutMs}
}

func (a *hexAdapter) Update()       {}
func (a *hexAdapter) IsReady() bool { return true }

func (a *hexAdapter) Space() (available, total uint64) { return 0, 0 }

func (a *hexAdapter) Read(name string, dst []byte) (int, error) {
	return a.Backend.Receive(dst, msToDuration(a.readTimeoutMs))
}
