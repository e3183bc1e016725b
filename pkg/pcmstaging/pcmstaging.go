// Package pcmstaging presents a uniform ReadAudio surface over any
// types.RawDecoder, backed by a byte ring buffer so decode I/O never
// happens on the real-time audio path.
package pcmstaging

import (
	"log/slog"
	"sync/atomic"

	"github.com/drgolem/audiosched/pkg/ringbuffer"
	"github.com/drgolem/audiosched/pkg/types"
)

// Decoder wraps a types.RawDecoder and stages its output through a
// ring buffer, so the producer task can refill in bulk ahead of need
// instead of decoding exactly what the renderer asks for.
type Decoder struct {
	raw    types.RawDecoder
	ring   *ringbuffer.RingBuffer
	format types.PcmFormat
	eof    atomic.Bool
}

// New wraps raw, staging its decoded bytes through a ring buffer of
// ringCapacity bytes (rounded up to a power of 2).
func New(raw types.RawDecoder, ringCapacity uint64) *Decoder {
	return &Decoder{
		raw:    raw,
		ring:   ringbuffer.New(ringCapacity),
		format: raw.Format(),
	}
}

// Format returns the decoder's fixed PCM format.
func (d *Decoder) Format() types.PcmFormat {
	return d.format
}

// EOF reports whether the underlying decoder has been exhausted.
func (d *Decoder) EOF() bool {
	return d.eof.Load()
}

// TotalFrames delegates to the underlying decoder.
func (d *Decoder) TotalFrames() int64 {
	return d.raw.TotalFrames()
}

// Close releases the underlying decoder's resources.
func (d *Decoder) Close() error {
	return d.raw.Close()
}

// ReadAudio returns exactly min(frameCount, availableFrames) frames,
// refilling the staging ring from the underlying decoder as needed.
// Called from the producer task, never from a renderer callback.
func (d *Decoder) ReadAudio(dst []byte, frameCount int) (int, error) {
	bpf := d.format.BytesPerFrame()
	want := frameCount * bpf
	if want > len(dst) {
		want = len(dst) - (len(dst) % bpf)
	}
	if size := int(d.ring.Size()); want > size {
		want = size - (size % bpf)
	}

	for int(d.ring.AvailableRead()) < want && !d.eof.Load() {
		d.refill()
	}

	avail := int(d.ring.AvailableRead())
	toRead := want
	if avail < toRead {
		toRead = avail - (avail % bpf)
	}
	if toRead == 0 {
		return 0, nil
	}

	n, err := d.ring.Read(dst[:toRead])
	if err != nil {
		return 0, err
	}
	return n / bpf, nil
}

// refill pulls one batch of frames from the raw decoder into the free
// space the staging ring currently exposes. A decode error is treated
// as an early EOF: it never propagates past this layer, and playback
// continues with the next region.
func (d *Decoder) refill() {
	bpf := d.format.BytesPerFrame()
	free := d.ring.ExposeForWrite()
	frameCap := len(free) / bpf
	if frameCap == 0 {
		return
	}

	n, err := d.raw.ReadAudio(free[:frameCap*bpf], frameCap)
	if err != nil {
		slog.Warn("decoder runtime error, treating as end of stream", "error", err)
		d.eof.Store(true)
		return
	}
	if commitErr := d.ring.Commit(uint64(n * bpf)); commitErr != nil {
		slog.Warn("staging ring commit failed", "error", commitErr)
		d.eof.Store(true)
		return
	}
	if n == 0 {
		d.eof.Store(true)
	}
}
