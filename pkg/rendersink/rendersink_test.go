package rendersink

import (
	"testing"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/audiosched/pkg/types"
)

func TestSubmitQueuePushPeekPop(t *testing.T) {
	q := newSubmitQueue(4)

	if q.peek() != nil {
		t.Fatal("peek on empty queue should return nil")
	}

	p1 := &pendingSlice{validFrames: 10}
	p2 := &pendingSlice{validFrames: 20}

	if !q.push(p1) {
		t.Fatal("push into non-full queue should succeed")
	}
	if !q.push(p2) {
		t.Fatal("push into non-full queue should succeed")
	}

	if got := q.peek(); got != p1 {
		t.Fatalf("peek should return the oldest item, got %+v", got)
	}

	q.pop()
	if got := q.peek(); got != p2 {
		t.Fatalf("peek after pop should return next item, got %+v", got)
	}

	q.pop()
	if q.peek() != nil {
		t.Fatal("peek after draining queue should return nil")
	}
}

func TestSubmitQueueRejectsPushWhenFull(t *testing.T) {
	q := newSubmitQueue(2) // rounds up to power of 2, stays 2

	if !q.push(&pendingSlice{}) {
		t.Fatal("first push should succeed")
	}
	if !q.push(&pendingSlice{}) {
		t.Fatal("second push should succeed")
	}
	if q.push(&pendingSlice{}) {
		t.Fatal("push into full queue should fail")
	}
}

func TestNextPowerOf2(t *testing.T) {
	cases := map[uint64]uint64{
		0:  1,
		1:  1,
		2:  2,
		3:  4,
		16: 16,
		17: 32,
	}
	for in, want := range cases {
		if got := nextPowerOf2(in); got != want {
			t.Errorf("nextPowerOf2(%d) = %d, want %d", in, got, want)
		}
	}
}

func newTestSink() *PortAudioSink {
	format := types.PcmFormat{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Interleaved: true}
	return New(0, 512, format, 8)
}

// TestAudioCallbackDrainsQueueAndInvokesCompletion exercises audioCallback
// directly, without opening a real PortAudio stream -- it only touches the
// sink's queue and output buffer, both pure Go state.
func TestAudioCallbackDrainsQueueAndInvokesCompletion(t *testing.T) {
	s := newTestSink()

	validFrames := 4
	buf := make([]byte, validFrames*s.bytesPerFrame)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	completed := 0
	if err := s.Submit(buf, validFrames, 0, func(framesConsumed int) {
		completed = framesConsumed
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	output := make([]byte, validFrames*s.bytesPerFrame)
	result := s.audioCallback(nil, output, uint(validFrames), nil, 0)

	if result != portaudio.Continue {
		t.Errorf("audioCallback result = %v, want Continue", result)
	}
	if completed != validFrames {
		t.Errorf("completion framesConsumed = %d, want %d", completed, validFrames)
	}
	for i, b := range output {
		if b != buf[i] {
			t.Fatalf("output[%d] = %d, want %d", i, b, buf[i])
		}
	}
	if s.CurrentTimestamp() != int64(validFrames) {
		t.Errorf("CurrentTimestamp() = %d, want %d", s.CurrentTimestamp(), validFrames)
	}
}

// TestAudioCallbackZeroFillsWhenQueueEmpty matches the renderer's
// underrun behavior: with nothing queued, it must still fill the
// requested frame count with silence rather than leaving it stale.
func TestAudioCallbackZeroFillsWhenQueueEmpty(t *testing.T) {
	s := newTestSink()

	frameCount := 4
	output := make([]byte, frameCount*s.bytesPerFrame)
	for i := range output {
		output[i] = 0xFF
	}

	s.audioCallback(nil, output, uint(frameCount), nil, 0)

	for i, b := range output {
		if b != 0 {
			t.Fatalf("output[%d] = %d, want 0 (silence) on underrun", i, b)
		}
	}
}

// TestAudioCallbackSplitsAcrossTwoSlices verifies a single callback
// invocation can drain more than one queued slice when the requested
// frame count spans both.
func TestAudioCallbackSplitsAcrossTwoSlices(t *testing.T) {
	s := newTestSink()

	buf1 := make([]byte, 2*s.bytesPerFrame)
	buf2 := make([]byte, 2*s.bytesPerFrame)
	for i := range buf1 {
		buf1[i] = 1
	}
	for i := range buf2 {
		buf2[i] = 2
	}

	var done1, done2 bool
	s.Submit(buf1, 2, 0, func(int) { done1 = true })
	s.Submit(buf2, 2, 0, func(int) { done2 = true })

	output := make([]byte, 4*s.bytesPerFrame)
	s.audioCallback(nil, output, 4, nil, 0)

	if !done1 || !done2 {
		t.Fatalf("expected both slices to complete, got done1=%v done2=%v", done1, done2)
	}
	for i := 0; i < 2*s.bytesPerFrame; i++ {
		if output[i] != 1 {
			t.Fatalf("first half output[%d] = %d, want 1", i, output[i])
		}
	}
	for i := 2 * s.bytesPerFrame; i < 4*s.bytesPerFrame; i++ {
		if output[i] != 2 {
			t.Fatalf("second half output[%d] = %d, want 2", i, output[i])
		}
	}
}

func TestFlushDropsQueuedSlicesWithoutCompletion(t *testing.T) {
	s := newTestSink()

	called := false
	s.Submit(make([]byte, s.bytesPerFrame), 1, 0, func(int) { called = true })

	s.Flush()

	if s.queue.peek() != nil {
		t.Fatal("Flush should empty the queue")
	}
	if called {
		t.Fatal("Flush must not invoke completions")
	}
}
