// Package mp3 adapts github.com/imcarsen/go-mp3 to the RawDecoder
// contract consumed by the PCM staging layer.
package mp3

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/imcarsen/go-mp3"

	"github.com/drgolem/audiosched/pkg/types"
)

// go-mp3 always decodes to 16-bit stereo PCM.
const (
	channels      = 2
	bitsPerSample = 16
)

// Decoder wraps go-mp3 for decoding MP3 audio files.
type Decoder struct {
	file         *os.File
	decoder      *mp3.Decoder
	format       types.PcmFormat
	currentFrame atomic.Int64
}

// NewDecoder creates a new, unopened MP3 decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes an MP3 file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	d.file = file
	d.decoder = decoder
	d.format = types.PcmFormat{
		SampleRate:    decoder.SampleRate(),
		Channels:      channels,
		BitsPerSample: bitsPerSample,
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

// TotalFrames returns the number of decodable frames, derived from the
// decoder's total decoded byte length.
func (d *Decoder) TotalFrames() int64 {
	if d.decoder == nil {
		return 0
	}
	bpf := int64(d.format.BytesPerFrame())
	if bpf == 0 {
		return 0
	}
	return d.decoder.Length() / bpf
}

// CurrentFrame returns the number of frames decoded so far.
func (d *Decoder) CurrentFrame() int64 {
	return d.currentFrame.Load()
}

// SeekToFrame repositions decoding at the given frame using the
// decoder's underlying byte-addressable seek.
func (d *Decoder) SeekToFrame(frame int64) error {
	if d.decoder == nil {
		return fmt.Errorf("decoder not initialized")
	}
	offset := frame * int64(d.format.BytesPerFrame())
	if _, err := d.decoder.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("mp3 seek failed: %w", err)
	}
	d.currentFrame.Store(frame)
	return nil
}

// ReadAudio decodes up to frameCount frames into dst. A short read at
// end of stream is not an error.
func (d *Decoder) ReadAudio(dst []byte, frameCount int) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerFrame := d.format.BytesPerFrame()
	want := frameCount * bytesPerFrame
	if want > len(dst) {
		want = len(dst) - (len(dst) % bytesPerFrame)
	}

	n, err := io.ReadFull(d.decoder, dst[:want])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("mp3 decode error: %w", err)
	}

	frames := n / bytesPerFrame
	d.currentFrame.Add(int64(frames))
	return frames, nil
}
