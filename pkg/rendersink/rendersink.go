// Package rendersink drives a PortAudio callback-mode stream as the
// scheduler's renderer sink: a dedicated real-time callback thread
// consumes a lock-free SPSC queue fed by the producer side, never
// allocating or blocking on its own.
package rendersink

import (
	"fmt"
	"sync/atomic"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/audiosched/pkg/types"
)

// Sink is the interface the scheduler's producer task consumes.
type Sink interface {
	// Submit hands a slice buffer to the renderer. completion is
	// invoked with the number of frames actually consumed once the
	// slice has been fully played; it must be cheap and non-blocking,
	// since it runs on the renderer's own thread.
	Submit(buf []byte, validFrames int, timestamp int64, completion func(framesConsumed int)) error
	// CurrentTimestamp reports the renderer's running sample clock.
	CurrentTimestamp() int64
	// Flush drops all queued slices without invoking completions.
	Flush()
}

type pendingSlice struct {
	buf         []byte
	validFrames int
	offset      int
	completion  func(int)
}

// submitQueue is a bounded lock-free SPSC ring of pending slices,
// mirroring pkg/ringbuffer's atomic index technique but over pointers
// instead of bytes so the audio callback never takes a lock.
type submitQueue struct {
	items    []*pendingSlice
	capacity uint64
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

func newSubmitQueue(capacity uint64) *submitQueue {
	capacity = nextPowerOf2(capacity)
	return &submitQueue{
		items:    make([]*pendingSlice, capacity),
		capacity: capacity,
		mask:     capacity - 1,
	}
}

func (q *submitQueue) push(p *pendingSlice) bool {
	wp := q.writePos.Load()
	rp := q.readPos.Load()
	if wp-rp >= q.capacity {
		return false
	}
	q.items[wp&q.mask] = p
	q.writePos.Store(wp + 1)
	return true
}

func (q *submitQueue) peek() *pendingSlice {
	rp := q.readPos.Load()
	wp := q.writePos.Load()
	if rp == wp {
		return nil
	}
	return q.items[rp&q.mask]
}

func (q *submitQueue) pop() {
	rp := q.readPos.Load()
	q.items[rp&q.mask] = nil
	q.readPos.Store(rp + 1)
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// PortAudioSink drives a PortAudio callback-mode output stream.
type PortAudioSink struct {
	stream          *portaudio.PaStream
	deviceIndex     int
	framesPerBuffer int
	format          types.PcmFormat
	bytesPerFrame   int

	queue        *submitQueue
	framesPlayed atomic.Int64
}

// New creates an unopened PortAudio-backed sink for the given format.
// queueCapacity bounds how many slices may be in flight at once;
// Submit returns ErrRendererSubmitFailed if the queue is full.
func New(deviceIndex, framesPerBuffer int, format types.PcmFormat, queueCapacity uint64) *PortAudioSink {
	return &PortAudioSink{
		deviceIndex:     deviceIndex,
		framesPerBuffer: framesPerBuffer,
		format:          format,
		bytesPerFrame:   format.BytesPerFrame(),
		queue:           newSubmitQueue(queueCapacity),
	}
}

// Open initializes and starts the underlying PortAudio stream.
func (s *PortAudioSink) Open() error {
	var sampleFormat portaudio.PaSampleFormat
	switch s.format.BitsPerSample {
	case 16:
		sampleFormat = portaudio.SampleFmtInt16
	case 24:
		sampleFormat = portaudio.SampleFmtInt24
	case 32:
		sampleFormat = portaudio.SampleFmtInt32
	default:
		return fmt.Errorf("unsupported bit depth: %d", s.format.BitsPerSample)
	}

	s.stream = &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  s.deviceIndex,
			ChannelCount: s.format.Channels,
			SampleFormat: sampleFormat,
		},
		SampleRate: float64(s.format.SampleRate),
	}

	if err := s.stream.OpenCallback(s.framesPerBuffer, s.audioCallback); err != nil {
		return fmt.Errorf("failed to open stream with callback: %w", err)
	}
	if err := s.stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

// Close stops and releases the underlying PortAudio stream.
func (s *PortAudioSink) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

// Submit enqueues a slice for playback.
func (s *PortAudioSink) Submit(buf []byte, validFrames int, timestamp int64, completion func(int)) error {
	p := &pendingSlice{buf: buf, validFrames: validFrames, completion: completion}
	if !s.queue.push(p) {
		return types.ErrRendererSubmitFailed
	}
	return nil
}

// CurrentTimestamp returns the running sample clock.
func (s *PortAudioSink) CurrentTimestamp() int64 {
	return s.framesPlayed.Load()
}

// Flush drops every queued slice without invoking completions. Only
// safe once the caller has quiesced submission.
func (s *PortAudioSink) Flush() {
	for s.queue.peek() != nil {
		s.queue.pop()
	}
}

// audioCallback runs on PortAudio's real-time thread. It must not
// allocate or block: the submit queue is lock-free, and completion
// callbacks are expected to be equally cheap.
func (s *PortAudioSink) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	bytesNeeded := int(frameCount) * s.bytesPerFrame
	written := 0

	for written < bytesNeeded {
		head := s.queue.peek()
		if head == nil {
			break
		}

		totalBytes := head.validFrames * s.bytesPerFrame
		remaining := totalBytes - head.offset
		toCopy := remaining
		if bytesNeeded-written < toCopy {
			toCopy = bytesNeeded - written
		}
		if toCopy > 0 {
			copy(output[written:written+toCopy], head.buf[head.offset:head.offset+toCopy])
		}
		head.offset += toCopy
		written += toCopy

		if head.offset >= totalBytes {
			s.queue.pop()
			if head.completion != nil {
				head.completion(head.validFrames)
			}
		}
	}

	if written < bytesNeeded {
		clear(output[written:bytesNeeded])
	}

	s.framesPlayed.Add(int64(written / s.bytesPerFrame))
	return portaudio.Continue
}
