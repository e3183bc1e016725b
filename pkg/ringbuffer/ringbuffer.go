// Package ringbuffer extends github.com/drgolem/ringbuffer's lock-free
// SPSC byte FIFO with the staging primitives the audio pipeline needs:
// a partial-write Put path, a write-side expose/commit pair, Resize,
// and a fill observation.
package ringbuffer

import (
	"github.com/drgolem/ringbuffer"

	"github.com/drgolem/audiosched/pkg/types"
)

// Re-export the underlying errors so callers can match with errors.Is
// without importing two packages.
var (
	ErrInsufficientSpace = ringbuffer.ErrInsufficientSpace
	ErrInsufficientData  = ringbuffer.ErrInsufficientData
)

// RingBuffer wraps a drgolem/ringbuffer SPSC ring. The thread-safety
// contract is inherited unchanged: one producer goroutine on the write
// side (Write, ExposeForWrite, Commit), one consumer goroutine on the
// read side (Read, ReadSlices, PeekContiguous, Consume).
type RingBuffer struct {
	inner *ringbuffer.RingBuffer

	// scratch backs ExposeForWrite. Producer-owned, sized to capacity
	// so an exposed region is always contiguous regardless of where
	// the write position sits.
	scratch []byte
}

// New creates a ring buffer of the given size, rounded up to the next
// power of 2.
func New(size uint64) *RingBuffer {
	inner := ringbuffer.New(size)
	return &RingBuffer{
		inner:   inner,
		scratch: make([]byte, inner.Size()),
	}
}

// Write copies up to len(data) bytes into the buffer and returns how
// many were actually written. A short count means the buffer filled
// up, not a failure; the producer retries with the remainder once the
// consumer has drained. Never blocks, never errors on a full buffer.
func (rb *RingBuffer) Write(data []byte) (int, error) {
	n := uint64(len(data))
	if free := rb.inner.AvailableWrite(); n > free {
		n = free
	}
	if n == 0 {
		return 0, nil
	}
	return rb.inner.Write(data[:n])
}

// Read reads up to len(data) bytes into data, returning the count. An
// empty buffer returns (0, ErrInsufficientData).
func (rb *RingBuffer) Read(data []byte) (int, error) {
	return rb.inner.Read(data)
}

// AvailableWrite returns the number of bytes available for writing.
func (rb *RingBuffer) AvailableWrite() uint64 {
	return rb.inner.AvailableWrite()
}

// AvailableRead returns the number of bytes available for reading.
func (rb *RingBuffer) AvailableRead() uint64 {
	return rb.inner.AvailableRead()
}

// Size returns the total capacity of the ring buffer.
func (rb *RingBuffer) Size() uint64 {
	return rb.inner.Size()
}

// ReadSlices returns one or two slices giving zero-copy access to the
// available data (two when it wraps), plus the total byte count. Call
// Consume to advance the read position afterwards.
func (rb *RingBuffer) ReadSlices() (first, second []byte, total uint64) {
	return rb.inner.ReadSlices()
}

// PeekContiguous returns a zero-copy view of the contiguous portion of
// available data, which may be less than the total if it wraps. Call
// Consume to advance the read position afterwards.
func (rb *RingBuffer) PeekContiguous() []byte {
	return rb.inner.PeekContiguous()
}

// Consume advances the read position by n bytes without copying.
func (rb *RingBuffer) Consume(n uint64) error {
	return rb.inner.Consume(n)
}

// Reset empties the buffer. The producer must be quiesced first —
// Reset does not synchronize with a concurrent Write.
func (rb *RingBuffer) Reset() {
	rb.inner.Reset()
}

// ExposeForWrite returns a staging slice sized to the current free
// space, or nil if the buffer is full. The producer fills a prefix of
// it, then calls Commit with the byte count to publish. The underlying
// ring has no in-place write window, so the staging slice is a
// producer-owned buffer that Commit copies in; it stays contiguous
// regardless of wrap position.
func (rb *RingBuffer) ExposeForWrite() []byte {
	free := rb.inner.AvailableWrite()
	if free == 0 {
		return nil
	}
	return rb.scratch[:free]
}

// Commit publishes the first n bytes of the slice returned by the most
// recent ExposeForWrite. Returns ErrInsufficientSpace if n exceeds the
// space that was exposed.
func (rb *RingBuffer) Commit(n uint64) error {
	if n == 0 {
		return nil
	}
	if n > rb.inner.AvailableWrite() {
		return ErrInsufficientSpace
	}
	_, err := rb.inner.Write(rb.scratch[:n])
	return err
}

// PercentFull reports how full the buffer is. Observation only: nothing
// in this package or its callers may use this value to infer or apply
// backpressure.
func (rb *RingBuffer) PercentFull() float64 {
	return float64(rb.inner.AvailableRead()) / float64(rb.inner.Size()) * 100.0
}

// Resize allocates fresh storage of newCapacity (rounded up to the next
// power of 2). It requires the buffer to be empty; resizing a non-empty
// buffer would either lose data or require a copy the caller didn't ask
// for, so this returns ErrInvalidState instead of guessing.
func (rb *RingBuffer) Resize(newCapacity uint64) error {
	if rb.inner.AvailableRead() != 0 {
		return types.ErrInvalidState
	}

	rb.inner = ringbuffer.New(newCapacity)
	rb.scratch = make([]byte, rb.inner.Size())
	return nil
}
