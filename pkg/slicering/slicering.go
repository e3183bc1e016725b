// Package slicering provides a region-local ring of N fixed-size PCM
// slice buffers with per-slice ownership tokens, handed off between a
// producer (the slice filler) and a consumer (the renderer completion
// path). One sync.Mutex per slice guards its ownership word. Ownership
// moves at the two handoff points (ReleaseAfterFill, ReleaseAfterConsume),
// and also back to the producer side in Reclaim (rejected submission)
// and Clear/ClearAll (dropped region).
package slicering

import (
	"fmt"
	"sync"
)

// Owner identifies which side currently holds a slice.
type Owner int

const (
	OwnerProducer Owner = iota
	OwnerRenderer
)

// Slice is a fixed-capacity PCM buffer plus the bookkeeping the
// scheduler needs to enqueue it to a renderer: a presentation
// timestamp and a valid-frame count. Its mutex is held only across
// the brief span between Acquire and Release, never while the buffer
// is in transit to or from a renderer.
type Slice struct {
	mu          sync.Mutex
	buf         []byte
	validFrames int
	timestamp   int64
	owner       Owner
}

// Buffer returns the slice's backing byte buffer. Must only be
// accessed by the current owner, between Acquire and Release.
func (s *Slice) Buffer() []byte { return s.buf }

// ValidFrames returns the number of frames actually populated.
func (s *Slice) ValidFrames() int { return s.validFrames }

// SetValidFrames records how many frames were populated in this fill.
func (s *Slice) SetValidFrames(n int) { s.validFrames = n }

// Timestamp returns the slice's presentation timestamp.
func (s *Slice) Timestamp() int64 { return s.timestamp }

// SetTimestamp records the slice's presentation timestamp.
func (s *Slice) SetTimestamp(ts int64) { s.timestamp = ts }

// Ring is a region-local ring of N slice buffers.
type Ring struct {
	slices         []*Slice
	framesPerSlice int
	bytesPerFrame  int
}

// Allocate creates n slices of framesPerSlice*bytesPerFrame bytes
// each, all initially producer-owned. Resizing a Ring after
// allocation is not supported; a region that needs a different slice
// count allocates a new Ring.
func Allocate(n, framesPerSlice, bytesPerFrame int) *Ring {
	slices := make([]*Slice, n)
	for i := range slices {
		slices[i] = &Slice{
			buf:   make([]byte, framesPerSlice*bytesPerFrame),
			owner: OwnerProducer,
		}
	}
	return &Ring{
		slices:         slices,
		framesPerSlice: framesPerSlice,
		bytesPerFrame:  bytesPerFrame,
	}
}

// Count returns the number of slices in the ring.
func (r *Ring) Count() int { return len(r.slices) }

// FramesPerSlice returns the fixed per-slice frame capacity.
func (r *Ring) FramesPerSlice() int { return r.framesPerSlice }

// BytesPerFrame returns the fixed frame size slices were allocated with.
func (r *Ring) BytesPerFrame() int { return r.bytesPerFrame }

// IsProducerOwned reports whether slice i is currently producer-owned,
// without acquiring it. The scheduler's producer task uses this to
// decide whether to attempt a fill this round or wait for the
// renderer to release the slice; the only concurrent writer of
// ownership is the renderer's completion path moving it from
// OwnerRenderer to OwnerProducer, so a stale "false" just means
// another wake cycle will pick it up.
func (r *Ring) IsProducerOwned(i int) bool {
	s := r.slices[i]
	s.mu.Lock()
	owned := s.owner == OwnerProducer
	s.mu.Unlock()
	return owned
}

// AcquireForFill locks slice i for producer-side writing. The caller
// must already know, from its own bookkeeping, that i is
// producer-owned; a mismatch is a programming error, not a runtime
// condition to recover from.
func (r *Ring) AcquireForFill(i int) *Slice {
	s := r.slices[i]
	s.mu.Lock()
	if s.owner != OwnerProducer {
		s.mu.Unlock()
		panic(fmt.Sprintf("slicering: slice %d is not producer-owned", i))
	}
	return s
}

// ReleaseAfterFill hands slice i to the renderer side.
func (r *Ring) ReleaseAfterFill(i int) {
	s := r.slices[i]
	s.owner = OwnerRenderer
	s.mu.Unlock()
}

// CancelFill releases slice i back to the caller without transferring
// ownership, for the case where a fill produced nothing to enqueue
// (transient under-run or end of stream). The slice stays
// producer-owned.
func (r *Ring) CancelFill(i int) {
	r.slices[i].mu.Unlock()
}

// Reclaim returns slice i to the producer side without a completion
// having fired, for the case where the handoff to the renderer failed
// after ReleaseAfterFill (the sink rejected the submission, so no
// completion will ever arrive). The slice must be renderer-owned.
func (r *Ring) Reclaim(i int) {
	s := r.slices[i]
	s.mu.Lock()
	if s.owner != OwnerRenderer {
		s.mu.Unlock()
		panic(fmt.Sprintf("slicering: slice %d is not renderer-owned", i))
	}
	s.owner = OwnerProducer
	s.mu.Unlock()
}

// AcquireForConsume locks slice i for renderer-side completion
// handling.
func (r *Ring) AcquireForConsume(i int) *Slice {
	s := r.slices[i]
	s.mu.Lock()
	if s.owner != OwnerRenderer {
		s.mu.Unlock()
		panic(fmt.Sprintf("slicering: slice %d is not renderer-owned", i))
	}
	return s
}

// ReleaseAfterConsume hands slice i back to the producer side.
func (r *Ring) ReleaseAfterConsume(i int) {
	s := r.slices[i]
	s.owner = OwnerProducer
	s.mu.Unlock()
}

// Clear zeroes slice i's buffer and resets its bookkeeping,
// regardless of current ownership, returning it to the producer
// side. Used when a region is dropped mid-flight by Reset or Clear.
func (r *Ring) Clear(i int) {
	s := r.slices[i]
	s.mu.Lock()
	for j := range s.buf {
		s.buf[j] = 0
	}
	s.validFrames = 0
	s.timestamp = 0
	s.owner = OwnerProducer
	s.mu.Unlock()
}

// ClearAll clears every slice in the ring.
func (r *Ring) ClearAll() {
	for i := range r.slices {
		r.Clear(i)
	}
}
