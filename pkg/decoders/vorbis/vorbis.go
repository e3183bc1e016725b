// Package vorbis adapts github.com/jfreymuth/oggvorbis to the RawDecoder
// contract consumed by the PCM staging layer.
package vorbis

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"

	"github.com/jfreymuth/oggvorbis"

	"github.com/drgolem/audiosched/pkg/types"
)

// outputBitsPerSample is the bit depth samples are converted to; the
// oggvorbis reader only produces float32 PCM in [-1, 1].
const outputBitsPerSample = 16

// Decoder wraps an oggvorbis.Reader for decoding Ogg Vorbis audio files.
type Decoder struct {
	file         *os.File
	reader       *oggvorbis.Reader
	format       types.PcmFormat
	currentFrame atomic.Int64
	scratch      []float32
}

// NewDecoder creates a new, unopened Vorbis decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes an Ogg Vorbis file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open Vorbis file: %w", err)
	}

	reader, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create Vorbis decoder: %w", err)
	}

	d.file = file
	d.reader = reader
	d.format = types.PcmFormat{
		SampleRate:    reader.SampleRate(),
		Channels:      reader.Channels(),
		BitsPerSample: outputBitsPerSample,
		Interleaved:   true,
	}
	d.currentFrame.Store(0)

	return nil
}

// Close closes the decoder's underlying file.
func (d *Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// Format returns the fixed PCM format of the opened file.
func (d *Decoder) Format() types.PcmFormat {
	return d.format
}

// TotalFrames returns the total sample count reported by the container,
// or 0 if the underlying stream is not seekable.
func (d *Decoder) TotalFrames() int64 {
	if d.reader == nil {
		return 0
	}
	total := d.reader.Length()
	if total < 0 {
		return 0
	}
	return total
}

// CurrentFrame returns the number of frames decoded so far.
func (d *Decoder) CurrentFrame() int64 {
	return d.currentFrame.Load()
}

// SeekToFrame repositions decoding at the given frame using the
// reader's native sample-accurate seek.
func (d *Decoder) SeekToFrame(frame int64) error {
	if d.reader == nil {
		return fmt.Errorf("decoder not initialized")
	}
	if err := d.reader.SetPosition(frame); err != nil {
		return fmt.Errorf("vorbis seek failed: %w", err)
	}
	d.currentFrame.Store(frame)
	return nil
}

// ReadAudio decodes up to frameCount frames into dst, converting the
// reader's float32 samples to 16-bit little-endian PCM.
func (d *Decoder) ReadAudio(dst []byte, frameCount int) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	channels := d.format.Channels
	want := frameCount * channels
	if cap(d.scratch) < want {
		d.scratch = make([]float32, want)
	}
	buf := d.scratch[:want]

	n, err := d.reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("vorbis decode error: %w", err)
	}

	frames := n / channels
	for i := 0; i < frames*channels; i++ {
		sample := clampFloat32(buf[i])
		value := int16(sample * math.MaxInt16)
		offset := i * 2
		dst[offset] = byte(value)
		dst[offset+1] = byte(value >> 8)
	}

	d.currentFrame.Add(int64(frames))
	return frames, nil
}

func clampFloat32(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
