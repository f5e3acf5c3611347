// Package norfs implements the tiny flat filesystem described in
// spec.md §4.4: a fixed directory in sector 0 of a NOR flash chip and
// sector-aligned data extents in the sectors that follow.
package norfs

import (
	"sort"
	"strings"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
	"github.com/tamzrod/scope-bridge/internal/norflash"
)

// DataStart is the first sector available for file data; sector 0 is
// reserved for the directory.
const DataStart = 1

// Slots is the number of directory entries that fit in one sector.
const Slots = norflash.SectorSize / EntrySize

// driver is the subset of norflash.Driver the filesystem needs,
// narrowed so tests can substitute a smaller fake medium.
type driver interface {
	Read(addr uint32, buf []byte) error
	WritePage(addr uint32, buf []byte) error
	EraseSector(sectorIndex uint32) error
}

// FlatFs is the in-RAM mirror of the directory plus the bookkeeping
// spec.md §3 assigns to "NorFlatFs state".
type FlatFs struct {
	dev driver

	dir             [Slots]FileEntry
	nextFreeSector  uint32
	activeCount     int
	deletedCount    int

	xferBuf [norflash.PageSize]byte
}

func New(dev driver) *FlatFs {
	fs := &FlatFs{dev: dev, nextFreeSector: DataStart}
	for i := range fs.dir {
		fs.dir[i].Status = statusEmpty
	}
	return fs
}

// Mount reads the directory into RAM, demoting any ACTIVE slot that
// fails its integrity check to DELETED in the mirror (not yet
// persisted) and recomputing next_free_sector from the valid extents.
func (fs *FlatFs) Mount() error {
	raw := make([]byte, norflash.SectorSize)
	if err := fs.dev.Read(0, raw); err != nil {
		return bridgeerr.Wrap("norfs.mount", bridgeerr.IoError, err)
	}

	fs.activeCount, fs.deletedCount = 0, 0
	fs.nextFreeSector = DataStart

	for i := 0; i < Slots; i++ {
		e := unmarshalEntry(raw[i*EntrySize:])
		if e.Status == statusActive && !fs.entryValid(e) {
			e.Status = statusDeleted
		}
		fs.dir[i] = e

		switch fs.dir[i].Status {
		case statusActive:
			fs.activeCount++
			end := fs.dir[i].StartSector + ceilDiv(fs.dir[i].Size, norflash.SectorSize)
			if end > fs.nextFreeSector {
				fs.nextFreeSector = end
			}
		case statusDeleted:
			fs.deletedCount++
		}
	}
	return nil
}

func (fs *FlatFs) entryValid(e FileEntry) bool {
	if !e.complementValid() {
		return false
	}
	if e.nameString() == "" {
		return false
	}
	if e.StartSector < DataStart {
		return false
	}
	if e.StartSector+ceilDiv(e.Size, norflash.SectorSize) > norflash.TotalSectors {
		return false
	}
	return true
}

// Format erases sector 0 and writes an all-EMPTY directory. Data
// sectors are left untouched; they are erased lazily on the next
// write that needs them.
func (fs *FlatFs) Format() error {
	if err := fs.dev.EraseSector(0); err != nil {
		return bridgeerr.Wrap("norfs.format", bridgeerr.IoError, err)
	}
	for i := range fs.dir {
		fs.dir[i] = FileEntry{Status: statusEmpty}
	}
	fs.activeCount, fs.deletedCount = 0, 0
	fs.nextFreeSector = DataStart
	return nil
}

func (fs *FlatFs) persistDirectory() error {
	if err := fs.dev.EraseSector(0); err != nil {
		return bridgeerr.Wrap("norfs.persist", bridgeerr.IoError, err)
	}
	buf := make([]byte, norflash.SectorSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	for i := range fs.dir {
		fs.dir[i].marshal(buf[i*EntrySize:])
	}
	for off := 0; off < len(buf); off += norflash.PageSize {
		if err := fs.dev.WritePage(uint32(off), buf[off:off+norflash.PageSize]); err != nil {
			return bridgeerr.Wrap("norfs.persist", bridgeerr.IoError, err)
		}
	}
	return nil
}

func sameName(a, b string) bool { return strings.EqualFold(a, b) }

func (fs *FlatFs) findActive(name string) (int, bool) {
	for i := range fs.dir {
		if fs.dir[i].Status == statusActive && sameName(fs.dir[i].nameString(), name) {
			return i, true
		}
	}
	return -1, false
}

func (fs *FlatFs) findFreeSlot() (int, bool) {
	for i := range fs.dir {
		if fs.dir[i].Status == statusEmpty || fs.dir[i].Status == statusDeleted {
			return i, true
		}
	}
	return -1, false
}

// CreateWrite writes bytes under name, replacing any existing file of
// the same name (case-insensitive).
func (fs *FlatFs) CreateWrite(name string, data []byte) (int, error) {
	if len(name) == 0 || len(name) >= NameLen {
		return 0, bridgeerr.New("norfs.create_write", bridgeerr.InvalidName)
	}

	if idx, ok := fs.findActive(name); ok {
		if err := fs.deleteSlot(idx); err != nil {
			return 0, err
		}
	}

	needed := ceilDiv(uint32(len(data)), norflash.SectorSize)
	if needed == 0 {
		needed = 1
	}

	start, ok := fs.reserve(needed)
	if !ok {
		if !fs.Defragment() {
			return 0, bridgeerr.New("norfs.create_write", bridgeerr.NoSpace)
		}
		start, ok = fs.reserve(needed)
		if !ok {
			return 0, bridgeerr.New("norfs.create_write", bridgeerr.NoSpace)
		}
	}

	slotIdx, ok := fs.findFreeSlot()
	if !ok {
		return 0, bridgeerr.New("norfs.create_write", bridgeerr.NoSpace)
	}

	if err := fs.writeExtent(start, needed, data); err != nil {
		return 0, bridgeerr.Wrap("norfs.create_write", bridgeerr.IoError, err)
	}

	e := FileEntry{
		StartSector:    start,
		Size:           uint32(len(data)),
		SizeComplement: makeComplement(uint32(len(data))),
		Status:         statusActive,
	}
	setName(&e, name)
	fs.dir[slotIdx] = e
	fs.activeCount++

	if fs.nextFreeSector < start+needed {
		fs.nextFreeSector = start + needed
	}

	if err := fs.persistDirectory(); err != nil {
		return 0, err
	}
	return len(data), nil
}

// reserve claims `needed` contiguous sectors at the tail
// (next_free_sector). It does not search the holes left by deleted
// files; only Defragment recovers those.
func (fs *FlatFs) reserve(needed uint32) (uint32, bool) {
	if fs.nextFreeSector+needed <= norflash.TotalSectors {
		return fs.nextFreeSector, true
	}
	return 0, false
}

func (fs *FlatFs) writeExtent(start, sectors uint32, data []byte) error {
	for s := uint32(0); s < sectors; s++ {
		if err := fs.dev.EraseSector(start + s); err != nil {
			return err
		}
	}
	addr := start * norflash.SectorSize
	for off := 0; off < len(data); off += norflash.PageSize {
		end := off + norflash.PageSize
		if end > len(data) {
			end = len(data)
		}
		n := copy(fs.xferBuf[:], data[off:end])
		if err := fs.dev.WritePage(addr+uint32(off), fs.xferBuf[:n]); err != nil {
			return err
		}
	}
	return nil
}

// Read reads up to min(size, len(dst)) bytes of name into dst.
func (fs *FlatFs) Read(name string, dst []byte) (int, error) {
	idx, ok := fs.findActive(name)
	if !ok {
		return 0, bridgeerr.New("norfs.read", bridgeerr.NotFound)
	}
	e := fs.dir[idx]
	n := int(e.Size)
	if n > len(dst) {
		n = len(dst)
	}
	addr := e.StartSector * norflash.SectorSize
	if err := fs.dev.Read(addr, dst[:n]); err != nil {
		return 0, bridgeerr.Wrap("norfs.read", bridgeerr.IoError, err)
	}
	return n, nil
}

// Delete marks name's slot DELETED; the second call on an already
// deleted (or never-existing) name returns NotFound.
func (fs *FlatFs) Delete(name string) error {
	idx, ok := fs.findActive(name)
	if !ok {
		return bridgeerr.New("norfs.delete", bridgeerr.NotFound)
	}
	if err := fs.deleteSlot(idx); err != nil {
		return err
	}
	return fs.persistDirectory()
}

func (fs *FlatFs) deleteSlot(idx int) error {
	fs.dir[idx].Status = statusDeleted
	if fs.activeCount > 0 {
		fs.activeCount--
	}
	fs.deletedCount++
	return nil
}

func (fs *FlatFs) Exists(name string) bool {
	_, ok := fs.findActive(name)
	return ok
}

func (fs *FlatFs) Size(name string) (uint32, bool) {
	idx, ok := fs.findActive(name)
	if !ok {
		return 0, false
	}
	return fs.dir[idx].Size, true
}

// List fills buf with ACTIVE file names and returns how many it filled.
func (fs *FlatFs) List(buf []string) int {
	n := 0
	for i := range fs.dir {
		if n >= len(buf) {
			break
		}
		if fs.dir[i].Status == statusActive {
			buf[n] = fs.dir[i].nameString()
			n++
		}
	}
	return n
}

func (fs *FlatFs) ActiveCount() int  { return fs.activeCount }
func (fs *FlatFs) DeletedCount() int { return fs.deletedCount }

// Fsck re-validates the current in-RAM view, demoting any invalid
// ACTIVE slot, and persists the directory only if something changed.
func (fs *FlatFs) Fsck() bool {
	changed := false
	for i := range fs.dir {
		if fs.dir[i].Status == statusActive && !fs.entryValid(fs.dir[i]) {
			fs.dir[i].Status = statusDeleted
			if fs.activeCount > 0 {
				fs.activeCount--
			}
			fs.deletedCount++
			changed = true
		}
	}
	if changed {
		fs.persistDirectory()
	}
	return changed
}

// Defragment moves every ACTIVE extent toward low sector addresses in
// order of current start sector, compacting out DELETED holes, then
// persists the directory once. Returns whether at least one extent was
// moved; an extent whose read or rewrite fails stays where it was.
func (fs *FlatFs) Defragment() bool {
	cursor := uint32(DataStart)
	moved := false

	// Processing extents lowest-first guarantees the destination range
	// never overlaps an extent that has not been moved yet.
	order := make([]int, 0, Slots)
	for i := range fs.dir {
		if fs.dir[i].Status == statusActive {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		return fs.dir[order[a]].StartSector < fs.dir[order[b]].StartSector
	})

	for _, i := range order {
		e := &fs.dir[i]
		sectors := ceilDiv(e.Size, norflash.SectorSize)
		if sectors == 0 {
			sectors = 1
		}

		if e.StartSector != cursor {
			data := make([]byte, e.Size)
			addr := e.StartSector * norflash.SectorSize
			if err := fs.dev.Read(addr, data); err == nil {
				if err := fs.writeExtent(cursor, sectors, data); err == nil {
					e.StartSector = cursor
					moved = true
				}
			}
		}
		cursor += sectors
	}

	fs.nextFreeSector = cursor
	if moved {
		fs.persistDirectory()
	}
	return moved
}
