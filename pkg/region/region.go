// Package region binds one decoder to one slice buffer ring and tracks
// the scheduled/rendered frame counts and terminal state the scheduler
// needs to drive playback.
package region

import (
	"sync/atomic"

	"github.com/drgolem/audiosched/pkg/pcmstaging"
	"github.com/drgolem/audiosched/pkg/slicering"
	"github.com/drgolem/audiosched/pkg/types"
)

// StartTimeUnset marks a region whose start timestamp has not been
// assigned yet; the Scheduler resolves it to the prior region's
// end-timestamp (or its own scheduledStartTime) at enqueue time.
const StartTimeUnset int64 = -1

// Region binds a decoder to a ring of slice buffers and tracks
// scheduling progress for it.
type Region struct {
	decoder *pcmstaging.Decoder
	ring    *slicering.Ring

	startTime       atomic.Int64
	framesScheduled atomic.Int64
	framesRendered  atomic.Int64
	atEnd           atomic.Bool

	// nextTimestamp is producer-owned: only the scheduler's single
	// producer task ever calls FillSlice, so no synchronization is
	// needed beyond the happens-before edge the scheduler lock gives
	// SetStartTime relative to producer startup.
	nextTimestamp int64
}

// New creates a region with an explicit start timestamp, sized with
// slicesPerRegion slices of framesPerSlice frames each, and a staging
// ring of ringCapacity bytes.
func New(decoder types.RawDecoder, startTime int64, slicesPerRegion, framesPerSlice int, ringCapacity uint64) *Region {
	r := &Region{
		decoder: pcmstaging.New(decoder, ringCapacity),
		ring:    slicering.Allocate(slicesPerRegion, framesPerSlice, decoder.Format().BytesPerFrame()),
	}
	r.startTime.Store(startTime)
	r.nextTimestamp = startTime
	return r
}

// NewASAP creates a region whose start timestamp is resolved by the
// Scheduler at enqueue time, to play immediately after whatever
// precedes it.
func NewASAP(decoder types.RawDecoder, slicesPerRegion, framesPerSlice int, ringCapacity uint64) *Region {
	return New(decoder, StartTimeUnset, slicesPerRegion, framesPerSlice, ringCapacity)
}

// StartTime returns the region's assigned start timestamp, or
// StartTimeUnset if not yet resolved.
func (r *Region) StartTime() int64 { return r.startTime.Load() }

// SetStartTime resolves the region's start timestamp. Must be called
// before the region is handed to the producer task.
func (r *Region) SetStartTime(ts int64) {
	r.startTime.Store(ts)
	r.nextTimestamp = ts
}

// FramesScheduled returns the number of frames handed to the renderer
// so far.
func (r *Region) FramesScheduled() int64 { return r.framesScheduled.Load() }

// FramesRendered returns the number of frames the renderer has
// confirmed consuming so far.
func (r *Region) FramesRendered() int64 { return r.framesRendered.Load() }

// AtEnd reports whether the decoder has reported exhaustion.
func (r *Region) AtEnd() bool { return r.atEnd.Load() }

// Terminal reports whether the region has finished scheduling and
// rendering every frame it will ever produce, and can be dropped.
func (r *Region) Terminal() bool {
	return r.atEnd.Load() && r.FramesRendered() == r.FramesScheduled()
}

// Abandon marks the region as though its decoder had reported
// exhaustion, without reading anything further from it. Used by the
// scheduler when a region is removed mid-flight: it stops scheduling
// new slices for the region, and lets it become Terminal once its
// already-scheduled slices finish rendering.
func (r *Region) Abandon() {
	r.atEnd.Store(true)
}

// SliceRing exposes the region's slice ring for the scheduler's
// producer task and renderer completion path.
func (r *Region) SliceRing() *slicering.Ring { return r.ring }

// TotalFrames delegates to the staging decoder.
func (r *Region) TotalFrames() int64 { return r.decoder.TotalFrames() }

// Format delegates to the staging decoder.
func (r *Region) Format() types.PcmFormat { return r.decoder.Format() }

// ResetCounters zeroes the scheduling/rendering counters and rewinds
// the next-slice timestamp to the region's start time. Does not touch
// atEnd or the underlying decoder's read position.
func (r *Region) ResetCounters() {
	r.framesScheduled.Store(0)
	r.framesRendered.Store(0)
	r.nextTimestamp = r.startTime.Load()
}

// Close releases the region's decoder.
func (r *Region) Close() error {
	return r.decoder.Close()
}

// FillSlice acquires slice i for producer-side writing, decodes into
// it, and either hands it to the renderer side (valid frames > 0) or
// leaves it producer-owned (nothing to enqueue this round).
//
// Returns the number of frames written, the populated portion of the
// slice's buffer (valid only when frames > 0, and only until the
// caller submits it — after that it belongs to the renderer), and the
// slice's presentation timestamp.
func (r *Region) FillSlice(i int) (frames int, buf []byte, timestamp int64) {
	slice := r.ring.AcquireForFill(i)

	n, err := r.decoder.ReadAudio(slice.Buffer(), r.ring.FramesPerSlice())
	if err != nil {
		n = 0
	}
	eof := r.decoder.EOF()

	if n == 0 {
		slice.SetValidFrames(0)
		if eof {
			r.atEnd.Store(true)
		}
		r.ring.CancelFill(i)
		return 0, nil, 0
	}

	ts := r.nextTimestamp
	slice.SetTimestamp(ts)
	slice.SetValidFrames(n)
	r.nextTimestamp += int64(n)
	r.framesScheduled.Add(int64(n))
	if eof {
		r.atEnd.Store(true)
	}

	bpf := r.ring.BytesPerFrame()
	out := slice.Buffer()[:n*bpf]
	r.ring.ReleaseAfterFill(i)
	return n, out, ts
}

// OnSliceConsumed records frames as rendered and hands slice i back
// to the producer side. Called from the renderer's completion path.
func (r *Region) OnSliceConsumed(i int, frames int) {
	r.ring.AcquireForConsume(i)
	r.framesRendered.Add(int64(frames))
	r.ring.ReleaseAfterConsume(i)
}
