// Package flac adapts github.com/drgolem/go-flac to the RawDecoder
// contract consumed by the PCM staging layer.
package flac

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/drgolem/audiosched/pkg/types"
)

// outputBitsPerSample is the bit depth go-flac is asked to decode to.
const outputBitsPerSample = 16

// Decoder wraps the go-flac frame decoder for decoding FLAC audio files.
type Decoder struct {
	fileName     string
	decoder      *goflac.FlacDecoder
	format       types.PcmFormat
	totalSamples int64
	currentFrame atomic.Int64
}

// NewDecoder creates a new, unopened FLAC decoder. Output is always
// requested at 16 bits per sample.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes a FLAC file for decoding.
func (d *Decoder) Open(fileName string) error {
	totalSamples, err := streamInfoTotalSamples(fileName)
	if err != nil {
		return fmt.Errorf("failed to read FLAC STREAMINFO: %w", err)
	}

	decoder, err := goflac.NewFlacFrameDecoder(outputBitsPerSample)
	if err != nil {
		return fmt.Errorf("failed to create FLAC decoder: %w", err)
	}
	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to open FLAC file %s: %w", fileName, err)
	}

	rate, channels, bps := decoder.GetFormat()

	d.fileName = fileName
	d.decoder = decoder
	d.totalSamples = totalSamples
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

// TotalFrames returns the number of frames declared in the file's
// STREAMINFO metadata block.
func (d *Decoder) TotalFrames() int64 {
	return d.totalSamples
}

// CurrentFrame returns the number of frames decoded so far.
func (d *Decoder) CurrentFrame() int64 {
	return d.currentFrame.Load()
}

// SeekToFrame repositions decoding at the given frame by reopening the
// file and discarding frames up to the target; go-flac's frame decoder
// has no native seek primitive.
func (d *Decoder) SeekToFrame(frame int64) error {
	if d.decoder == nil {
		return fmt.Errorf("decoder not initialized")
	}
	if frame < 0 {
		return fmt.Errorf("negative seek target %d", frame)
	}

	d.decoder.Close()
	d.decoder.Delete()

	decoder, err := goflac.NewFlacFrameDecoder(outputBitsPerSample)
	if err != nil {
		return fmt.Errorf("failed to recreate FLAC decoder: %w", err)
	}
	if err := decoder.Open(d.fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to reopen FLAC file: %w", err)
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
		return 0, fmt.Errorf("flac decode error: %w", err)
	}
	d.currentFrame.Add(int64(n))
	return n, nil
}

// streamInfoTotalSamples reads the FLAC STREAMINFO metadata block
// directly to recover the total sample count, which go-flac's frame
// decoder does not expose.
func streamInfoTotalSamples(fileName string) (int64, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var marker [4]byte
	if _, err := io.ReadFull(f, marker[:]); err != nil {
		return 0, err
	}
	if string(marker[:]) != "fLaC" {
		return 0, fmt.Errorf("not a FLAC file")
	}

	var blockHeader [4]byte
	if _, err := io.ReadFull(f, blockHeader[:]); err != nil {
		return 0, err
	}
	// blockHeader[0] bit 7 is the "last metadata block" flag, bits 0-6
	// are the block type; STREAMINFO is always type 0 and always first.
	blockLen := int(blockHeader[1])<<16 | int(blockHeader[2])<<8 | int(blockHeader[3])

	info := make([]byte, blockLen)
	if _, err := io.ReadFull(f, info); err != nil {
		return 0, err
	}
	if len(info) < 18 {
		return 0, fmt.Errorf("STREAMINFO block too short")
	}

	// Bytes 10-17 hold: sample rate (20 bits), channels-1 (3 bits),
	// bits-per-sample-1 (5 bits), total samples (36 bits).
	packed := binary.BigEndian.Uint64(info[10:18])
	totalSamples := int64(packed & 0xF_FFFF_FFFF) // low 36 bits
	return totalSamples, nil
}
