// Package wav adapts github.com/youpy/go-wav to the RawDecoder contract
// consumed by the PCM staging layer.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/youpy/go-wav"

	"github.com/drgolem/audiosched/pkg/types"
)

// Decoder wraps go-wav for decoding WAV audio files.
type Decoder struct {
	fileName     string
	file         *os.File
	reader       *wav.Reader
	format       types.PcmFormat
	dataBytes    int64
	currentFrame atomic.Int64
}

// NewDecoder creates a new, unopened WAV decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens a WAV file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open WAV file: %w", err)
	}

	dataBytes, err := dataChunkSize(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to scan WAV chunks: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("unsupported WAV format: %d (only PCM supported)", format.AudioFormat)
	}

	d.fileName = fileName
	d.file = file
	d.reader = reader
	d.dataBytes = dataBytes
	d.format = types.PcmFormat{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
		Interleaved:   true,
	}
	d.currentFrame.Store(0)

	return nil
}

// Close closes the underlying file.
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

// TotalFrames returns the number of frames in the WAV data chunk.
func (d *Decoder) TotalFrames() int64 {
	bpf := int64(d.format.BytesPerFrame())
	if bpf == 0 {
		return 0
	}
	return d.dataBytes / bpf
}

// CurrentFrame returns the number of frames decoded so far.
func (d *Decoder) CurrentFrame() int64 {
	return d.currentFrame.Load()
}

// SeekToFrame repositions decoding at the given frame by reopening the
// file and discarding frames up to the target; go-wav's Reader has no
// native seek primitive.
func (d *Decoder) SeekToFrame(frame int64) error {
	if d.file == nil {
		return fmt.Errorf("decoder not initialized")
	}
	if frame < 0 {
		return fmt.Errorf("negative seek target %d", frame)
	}

	if err := d.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file before seek: %w", err)
	}

	file, err := os.Open(d.fileName)
	if err != nil {
		return fmt.Errorf("failed to reopen WAV file: %w", err)
	}
	reader := wav.NewReader(file)
	if _, err := reader.Format(); err != nil {
		file.Close()
		return fmt.Errorf("failed to re-read WAV format: %w", err)
	}

	d.file = file
	d.reader = reader
	d.currentFrame.Store(0)

	remaining := frame
	const skipChunk = 4096
	discard := make([]byte, skipChunk*d.format.BytesPerFrame())
	for remaining > 0 {
		n := skipChunk
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

// ReadAudio decodes up to frameCount frames into dst, returning the number
// of frames actually produced. Per the RawDecoder contract, a short read
// is not an error, and a return of 0 frames means end of stream.
func (d *Decoder) ReadAudio(dst []byte, frameCount int) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerSample := d.format.BitsPerSample / 8
	channels := d.format.Channels
	produced := 0

	for i := 0; i < frameCount; i++ {
		samples, err := d.reader.ReadSamples(1)
		if err != nil {
			if err == io.EOF {
				break
			}
			return produced, fmt.Errorf("wav decode error: %w", err)
		}
		if len(samples) == 0 {
			break
		}

		for ch := 0; ch < channels; ch++ {
			if ch >= len(samples[0].Values) {
				break
			}
			value := samples[0].Values[ch]
			offset := (produced*channels + ch) * bytesPerSample
			if offset+bytesPerSample > len(dst) {
				d.currentFrame.Add(int64(produced))
				return produced, nil
			}
			writeLittleEndian(dst[offset:offset+bytesPerSample], value, d.format.BitsPerSample)
		}
		produced++
	}

	d.currentFrame.Add(int64(produced))
	return produced, nil
}

func writeLittleEndian(dst []byte, value int, bitsPerSample int) {
	switch bitsPerSample {
	case 8:
		dst[0] = byte(value)
	case 16:
		binary.LittleEndian.PutUint16(dst, uint16(value))
	case 24:
		dst[0] = byte(value)
		dst[1] = byte(value >> 8)
		dst[2] = byte(value >> 16)
	case 32:
		binary.LittleEndian.PutUint32(dst, uint32(value))
	}
}

// dataChunkSize scans the RIFF chunk headers to find the size of the
// "data" chunk, giving us a frame count without relying on go-wav for it.
func dataChunkSize(f *os.File) (int64, error) {
	if _, err := f.Seek(12, io.SeekStart); err != nil { // skip "RIFF"+size+"WAVE"
		return 0, err
	}

	var header [8]byte
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return 0, fmt.Errorf("data chunk not found: %w", err)
		}
		id := string(header[0:4])
		size := int64(binary.LittleEndian.Uint32(header[4:8]))

		if id == "data" {
			return size, nil
		}

		skip := size
		if skip%2 != 0 {
			skip++ // chunks are padded to even length
		}
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return 0, err
		}
	}
}
