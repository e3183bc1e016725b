package mp3

import (
	"testing"
)

func TestNewDecoder(t *testing.T) {
	decoder := NewDecoder()
	if decoder == nil {
		t.Fatal("NewDecoder returned nil")
	}
}

func TestDecoderFormatBeforeOpen(t *testing.T) {
	decoder := NewDecoder()

	format := decoder.Format()
	if format.SampleRate != 0 || format.Channels != 0 || format.BitsPerSample != 0 {
		t.Errorf("expected zero-value format before Open, got %+v", format)
	}
	if decoder.TotalFrames() != 0 {
		t.Errorf("TotalFrames before Open: got %d, want 0", decoder.TotalFrames())
	}
	if decoder.CurrentFrame() != 0 {
		t.Errorf("CurrentFrame before Open: got %d, want 0", decoder.CurrentFrame())
	}
}

func TestDecoderClose(t *testing.T) {
	decoder := NewDecoder()

	if err := decoder.Close(); err != nil {
		t.Errorf("Close on unopened decoder failed: %v", err)
	}
	if err := decoder.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestReadAudioWithoutOpen(t *testing.T) {
	decoder := NewDecoder()

	buffer := make([]byte, 1024)
	if _, err := decoder.ReadAudio(buffer, 256); err == nil {
		t.Error("expected error when decoding without opening file")
	}
}

func TestSeekToFrameWithoutOpen(t *testing.T) {
	decoder := NewDecoder()

	if err := decoder.SeekToFrame(10); err == nil {
		t.Error("expected error when seeking without opening file")
	}
}

func TestOpenMissingFile(t *testing.T) {
	decoder := NewDecoder()

	if err := decoder.Open("no-such-file.mp3"); err == nil {
		t.Error("expected error opening a nonexistent file")
	}
}
