// Package queue implements the fixed-capacity single-producer /
// single-consumer byte ring shared between the parallel receiver's
// strobe handler (producer) and the run loop (consumer).
package queue

import "sync/atomic"

// ByteQueue is a statically sized SPSC ring buffer. TryPush is the
// only method the producer role may call; every other method is
// consumer-only. There is no locking: head and tail each have exactly
// one writer, and count is an atomic that the producer increments and
// the consumer decrements; it is the synchronization point read by
// both sides.
type ByteQueue struct {
	buf      []byte
	mask     uint32 // buf length - 1, valid only when pow2 is true
	pow2     bool

	head uint32 // producer-owned
	tail uint32 // consumer-owned

	count     atomic.Uint32
	overflow  atomic.Bool
}

// New constructs a queue of the given capacity. Capacity need not be a
// power of two, but a power of two lets the index wrap use a mask
// instead of a modulo, which is the cheaper operation on the target.
func New(capacity int) *ByteQueue {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	q := &ByteQueue{buf: make([]byte, capacity)}
	if capacity&(capacity-1) == 0 {
		q.mask = uint32(capacity - 1)
		q.pow2 = true
	}
	return q
}

func (q *ByteQueue) index(i uint32) uint32 {
	if q.pow2 {
		return i & q.mask
	}
	return i % uint32(len(q.buf))
}

// TryPush appends b at the head. Producer-only (callable from the
// strobe handler). Returns false and latches the overflow flag if the
// queue is full; the byte is dropped, never blocked on.
func (q *ByteQueue) TryPush(b byte) bool {
	if q.count.Load() >= uint32(len(q.buf)) {
		q.overflow.Store(true)
		return false
	}
	q.buf[q.index(q.head)] = b
	q.head++
	q.count.Add(1)
	return true
}

// TryPop removes and returns the byte at tail. Consumer-only.
func (q *ByteQueue) TryPop() (byte, bool) {
	if q.count.Load() == 0 {
		return 0, false
	}
	b := q.buf[q.index(q.tail)]
	q.tail++
	q.count.Add(^uint32(0)) // -1
	return b, true
}

// Peek returns the byte at tail without consuming it. Consumer-only.
func (q *ByteQueue) Peek() (byte, bool) {
	if q.count.Load() == 0 {
		return 0, false
	}
	return q.buf[q.index(q.tail)], true
}

// Drain pops up to len(dst) bytes, returning the number popped.
// Consumer-only.
func (q *ByteQueue) Drain(dst []byte) int {
	n := 0
	for n < len(dst) {
		b, ok := q.TryPop()
		if !ok {
			break
		}
		dst[n] = b
		n++
	}
	return n
}

func (q *ByteQueue) Len() int      { return int(q.count.Load()) }
func (q *ByteQueue) Capacity() int { return len(q.buf) }

func (q *ByteQueue) IsFull() bool { return q.Len() >= q.Capacity() }

func (q *ByteQueue) UtilizationPct() float64 {
	return 100 * float64(q.Len()) / float64(q.Capacity())
}

func (q *ByteQueue) Overflowed() bool   { return q.overflow.Load() }
func (q *ByteQueue) ClearOverflow()     { q.overflow.Store(false) }

// Clear drops all queued bytes and the overflow flag. Consumer-only;
// callers must ensure the producer is quiesced (interrupts disabled)
// before calling this, same as any other consumer-only operation.
func (q *ByteQueue) Clear() {
	q.head = 0
	q.tail = 0
	q.count.Store(0)
	q.overflow.Store(false)
}

// Snapshot is a point-in-time view of queue occupancy for status
// reporting; it never mutates queue state.
type Snapshot struct {
	Len            int
	Capacity       int
	UtilizationPct float64
	Overflowed     bool
}

func (q *ByteQueue) Snapshot() Snapshot {
	return Snapshot{
		Len:            q.Len(),
		Capacity:       q.Capacity(),
		UtilizationPct: q.UtilizationPct(),
		Overflowed:     q.Overflowed(),
	}
}
