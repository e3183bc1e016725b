// Package opus adapts github.com/drgolem/go-opus to the RawDecoder
// contract consumed by the PCM staging layer.
package opus

import (
	"fmt"
	"io"
	"sync/atomic"

	goopus "github.com/drgolem/go-opus/opus"

	"github.com/drgolem/audiosched/pkg/types"
)

// outputBitsPerSample is the bit depth go-opus is asked to decode to,
// matching the convention the same author's go-flac wrapper uses.
const outputBitsPerSample = 16

// Decoder wraps the go-opus decoder for decoding Opus audio files.
type Decoder struct {
	fileName     string
	decoder      *goopus.OpusDecoder
	format       types.PcmFormat
	currentFrame atomic.Int64
}

// NewDecoder creates a new, unopened Opus decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes an Opus file for decoding.
func (d *Decoder) Open(fileName string) error {
	decoder, err := goopus.NewOpusDecoder(outputBitsPerSample)
	if err != nil {
		return fmt.Errorf("failed to create Opus decoder: %w", err)
	}
	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to open Opus file %s: %w", fileName, err)
	}

	rate, channels, bps := decoder.GetFormat()

	d.fileName = fileName
	d.decoder = decoder
	d.format = types.PcmFormat{
		SampleRate:    rate,
		Channels:      channels,
		BitsPerSample: bps,
		Interleaved:   true,
	}
	d.currentFrame.Store(0)

	return nil
}

// Close closes the decoder and releases its native resources.
func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

// Format returns the fixed PCM format of the opened file.
func (d *Decoder) Format() types.PcmFormat {
	return d.format
}

// TotalFrames is unknown for Opus streams without a full scan of the
// Ogg page granule positions, which go-opus does not expose; the
// staging layer must rely on ReadAudio returning 0 frames to detect
// end of stream instead.
func (d *Decoder) TotalFrames() int64 {
	return 0
}

// CurrentFrame returns the number of frames decoded so far.
func (d *Decoder) CurrentFrame() int64 {
	return d.currentFrame.Load()
}

// SeekToFrame repositions decoding at the given frame by reopening the
// file and discarding frames up to the target; go-opus has no native
// seek primitive.
func (d *Decoder) SeekToFrame(frame int64) error {
	if d.decoder == nil {
		return fmt.Errorf("decoder not initialized")
	}
	if frame < 0 {
		return fmt.Errorf("negative seek target %d", frame)
	}

	d.decoder.Close()
	d.decoder.Delete()

	decoder, err := goopus.NewOpusDecoder(outputBitsPerSample)
	if err != nil {
		return fmt.Errorf("failed to recreate Opus decoder: %w", err)
	}
	if err := decoder.Open(d.fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to reopen Opus file: %w", err)
	}
	d.decoder = decoder
	d.currentFrame.Store(0)

	remaining := frame
	const skipFrames = 4096
	discard := make([]byte, skipFrames*d.format.BytesPerFrame())
	for remaining > 0 {
		n := skipFrames
		if int64(n) > remaining {
			n = int(remaining)
		}
		produced, err := d.ReadAudio(discard[:n*d.format.BytesPerFrame()], n)
		if err != nil {
			return fmt.Errorf("failed to seek forward: %w", err)
		}
		if produced == 0 {
			break
		}
		remaining -= int64(produced)
	}
	return nil
}

// ReadAudio decodes up to frameCount frames into dst.
func (d *Decoder) ReadAudio(dst []byte, frameCount int) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	n, err := d.decoder.DecodeSamples(frameCount, dst)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("opus decode error: %w", err)
	}
	d.currentFrame.Add(int64(n))
	return n, nil
}
