// Package types holds the shared contracts and errors used across the
// audio scheduling subsystem: the PCM format description, the raw decoder
// contract consumed by the staging layer, and the sentinel errors that
// give callers a stable way to tell scheduler-level failures apart.
package types

import (
	"errors"
	"time"
)

// Sentinel errors shared by the byte ring buffer, the decoder factory,
// the renderer sink, and the scheduler. Comparable with errors.Is(). Ring buffer errors live in
// github.com/drgolem/ringbuffer and are re-exported by pkg/ringbuffer.
var (
	// ErrInvalidState is returned for API calls inconsistent with the
	// caller's current state (e.g. Resize on a non-empty ring). A
	// programming error, not a runtime condition to recover from.
	ErrInvalidState = errors.New("invalid state for this operation")

	// ErrDecoderAttachFailed means a region's decoder could not be opened
	// or the format is unrecognized/unsupported. Returned by
	// decoders.NewDecoder for an unsupported or unopenable file, and by
	// Scheduler.EnqueueRegion for a nil decoder; no region is added.
	ErrDecoderAttachFailed = errors.New("decoder attach failed")

	// ErrRendererSubmitFailed means the renderer sink rejected a slice
	// (e.g. the output device went away). The scheduler responds by
	// entering Draining.
	ErrRendererSubmitFailed = errors.New("renderer rejected slice submission")

	// ErrDecoderRuntime wraps a mid-stream decode failure. It never
	// reaches a caller directly: the staging layer treats it as an
	// early EOF and the region ends, so playback continues with the
	// next region.
	ErrDecoderRuntime = errors.New("decoder runtime error")
)

// PcmFormat describes a fixed interleaved PCM layout. Immutable once a
// decoder is constructed.
type PcmFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Interleaved   bool
}

// BytesPerFrame returns the size in bytes of one frame (one sample per
// channel) in this format.
func (f PcmFormat) BytesPerFrame() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// RawDecoder is the contract the staging layer (pkg/pcmstaging) consumes.
// It is deliberately narrow: format parsing, metadata, and file handling
// live in the concrete decoder packages (pkg/decoders/...), not here.
//
// ReadAudio must return exactly min(requested frames, available frames).
// A return of (0, nil) means the decoder is exhausted: the staging layer
// marks end of stream on the first zero-frame read, without comparing
// CurrentFrame() to TotalFrames() (which is 0 for Opus). Telling a
// transient under-run from exhaustion happens one layer up, through
// pcmstaging.Decoder.EOF.
type RawDecoder interface {
	ReadAudio(dst []byte, frameCount int) (framesProduced int, err error)
	TotalFrames() int64
	CurrentFrame() int64
	SeekToFrame(frame int64) error
	Format() PcmFormat
	Close() error
}

// PlaybackStatus holds unified playback information for monitoring a
// scheduler-backed player. BufferedFrames counts frames handed to the
// renderer but not yet confirmed consumed.
type PlaybackStatus struct {
	Format         PcmFormat
	FramesPerSlice int
	PlayedFrames   uint64
	BufferedFrames uint64
	ElapsedTime    time.Duration
}

// PlaybackMonitor is implemented by types that can report playback status.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}
