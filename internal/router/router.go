// Package router implements the StorageRouter: a uniform dispatch
// surface over the SD, NOR-flash and hex-stream backends, plus the
// Auto backend-selection policy and the fixed-buffer copy operation.
package router

import (
	"fmt"
	"time"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
)

// StorageKind identifies a backend slot, or the Auto policy.
type StorageKind uint8

const (
	Sd StorageKind = iota
	Nor
	Hex
	Auto
)

func (k StorageKind) String() string {
	switch k {
	case Sd:
		return "sd"
	case Nor:
		return "nor"
	case Hex:
		return "hex"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// MaxNameLen bounds a router-level file name; well under NOR's
// directory NameLen so the same limit works across every backend.
const MaxNameLen = 23

// TransferBufSize is the router's fixed copy buffer. A source file
// larger than this is rejected outright rather than streamed, per
// spec.md's note that NorFlatFs has no append path to stream into.
const TransferBufSize = 4096

// Stats are the router's running totals, independent of any single
// backend's own counters.
type Stats struct {
	Writes, Reads, Copies, Deletes uint32
	BytesWritten, BytesRead        uint64
}

// Router dispatches storage operations across up to three Backend
// arms, held in a fixed array indexed by StorageKind so no allocation
// or virtual container is needed to hold them.
type Router struct {
	arms [3]Backend

	selected  StorageKind
	manual    bool
	nameSeq   uint16

	xferBuf [TransferBufSize]byte

	stats Stats
}

// New constructs a Router over the three backend adapters. Any of
// them may be nil if that medium is not wired in this build; such an
// arm is always treated as not-ready.
func New(sd, nor, hex Backend) *Router {
	r := &Router{arms: [3]Backend{Sd: sd, Nor: nor, Hex: hex}, selected: Sd}
	return r
}

func (r *Router) arm(k StorageKind) Backend {
	if k == Auto || int(k) >= len(r.arms) {
		return nil
	}
	return r.arms[k]
}

func (r *Router) ready(k StorageKind) bool {
	b := r.arm(k)
	return b != nil && b.IsReady()
}

// Update advances every wired backend, then re-evaluates the fail-over
// policy if the router is not under an active manual pin, or if the
// manually-selected backend itself has gone not-ready.
func (r *Router) Update() {
	for _, b := range r.arms {
		if b != nil {
			b.Update()
		}
	}

	if r.manual && r.ready(r.selected) {
		return
	}
	if r.manual {
		r.manual = false
	}
	r.selected = r.autoPick()
}

// autoPick implements the Sd > Nor > Hex > Sd selection order.
func (r *Router) autoPick() StorageKind {
	switch {
	case r.ready(Sd):
		return Sd
	case r.ready(Nor):
		return Nor
	case r.ready(Hex):
		return Hex
	default:
		return Sd
	}
}

// Select pins the router to kind until that backend goes not-ready.
// select(k); select(k) leaves the same post-state as one call.
func (r *Router) Select(kind StorageKind) bool {
	if kind == Auto {
		r.manual = false
		r.selected = r.autoPick()
		return true
	}
	if int(kind) >= len(r.arms) || r.arms[kind] == nil {
		return false
	}
	r.selected = kind
	r.manual = true
	return true
}

func (r *Router) Selected() StorageKind { return r.selected }

func validateName(name string) error {
	if len(name) == 0 || len(name) >= MaxNameLen {
		return bridgeerr.New("router.validate_name", bridgeerr.InvalidName)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 {
			return bridgeerr.New("router.validate_name", bridgeerr.InvalidName)
		}
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return bridgeerr.New("router.validate_name", bridgeerr.InvalidName)
		}
	}
	return nil
}

func (r *Router) Write(name string, data []byte) (int, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	b := r.arm(r.selected)
	if b == nil || !b.IsReady() {
		return 0, bridgeerr.New("router.write", bridgeerr.NotReady)
	}
	n, err := b.Write(name, data)
	if err == nil {
		r.stats.Writes++
		r.stats.BytesWritten += uint64(n)
	}
	return n, err
}

// WriteAuto synthesizes "{prefix}_{counter:04}{ext}" using the
// router's strictly-increasing 16-bit local counter, then writes
// through the normal path.
func (r *Router) WriteAuto(prefix, ext string, data []byte, outName *string) (int, error) {
	r.nameSeq++
	name := fmt.Sprintf("%s_%04d%s", prefix, r.nameSeq%10000, ext)
	if outName != nil {
		*outName = name
	}
	return r.Write(name, data)
}

func (r *Router) Read(name string, dst []byte) (int, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	b := r.arm(r.selected)
	if b == nil || !b.IsReady() {
		return 0, bridgeerr.New("router.read", bridgeerr.NotReady)
	}
	n, err := b.Read(name, dst)
	if err == nil {
		r.stats.Reads++
		r.stats.BytesRead += uint64(n)
	}
	return n, err
}

func (r *Router) Exists(name string) bool {
	b := r.arm(r.selected)
	return b != nil && b.IsReady() && b.Exists(name)
}

func (r *Router) Size(name string) (uint32, bool) {
	b := r.arm(r.selected)
	if b == nil || !b.IsReady() {
		return 0, false
	}
	return b.Size(name)
}

func (r *Router) List(buf []string) int {
	b := r.arm(r.selected)
	if b == nil || !b.IsReady() {
		return 0
	}
	return b.List(buf)
}

// Delete is idempotent: deleting an already-absent name returns
// NotFound and never drives a backend's active count negative (each
// backend enforces that on its own side).
func (r *Router) Delete(name string) error {
	b := r.arm(r.selected)
	if b == nil || !b.IsReady() {
		return bridgeerr.New("router.delete", bridgeerr.NotReady)
	}
	err := b.Delete(name)
	if err == nil {
		r.stats.Deletes++
	}
	return err
}

func (r *Router) Space() (available, total uint64) {
	b := r.arm(r.selected)
	if b == nil {
		return 0, 0
	}
	return b.Space()
}

// Copy reads name from the `from` backend into the router's fixed
// transfer buffer and writes it to the `to` backend. A source larger
// than TransferBufSize is rejected, not streamed, per spec.md's note
// that NorFlatFs has no append path.
func (r *Router) Copy(name string, from, to StorageKind) error {
	if err := validateName(name); err != nil {
		return err
	}
	src := r.arm(from)
	dst := r.arm(to)
	if src == nil || !src.IsReady() || dst == nil || !dst.IsReady() {
		return bridgeerr.New("router.copy", bridgeerr.NotReady)
	}

	size, ok := src.Size(name)
	if !ok {
		return bridgeerr.New("router.copy", bridgeerr.NotFound)
	}
	if size > TransferBufSize {
		return bridgeerr.New("router.copy", bridgeerr.BufferTooSmall)
	}

	n, err := src.Read(name, r.xferBuf[:size])
	if err != nil {
		return err
	}
	if _, err := dst.Write(name, r.xferBuf[:n]); err != nil {
		return err
	}
	r.stats.Copies++
	return nil
}

// testPattern is the canned payload test_write round-trips.
var testPattern = [32]byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
	0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55,
	0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE,
}

// TestWrite round-trips testPattern to "test.dat" on the currently
// selected backend and deletes it, returning true only on an exact
// byte-for-byte match.
func (r *Router) TestWrite() bool {
	const name = "test.dat"
	if _, err := r.Write(name, testPattern[:]); err != nil {
		return false
	}
	defer r.Delete(name)

	var got [32]byte
	n, err := r.Read(name, got[:])
	if err != nil || n != len(testPattern) {
		return false
	}
	return got == testPattern
}

func (r *Router) Stats() Stats { return r.stats }

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
