package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/drgolem/audiosched/pkg/region"
	"github.com/drgolem/audiosched/pkg/types"
)

// fakeDecoder produces totalFrames frames of 16-bit stereo PCM.
type fakeDecoder struct {
	format      types.PcmFormat
	totalFrames int64
	framesRead  int64
	closed      bool
}

func newFakeDecoder(totalFrames int64) *fakeDecoder {
	return &fakeDecoder{
		format:      types.PcmFormat{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Interleaved: true},
		totalFrames: totalFrames,
	}
}

func (d *fakeDecoder) Format() types.PcmFormat        { return d.format }
func (d *fakeDecoder) TotalFrames() int64             { return d.totalFrames }
func (d *fakeDecoder) CurrentFrame() int64            { return d.framesRead }
func (d *fakeDecoder) SeekToFrame(frame int64) error  { d.framesRead = frame; return nil }
func (d *fakeDecoder) Close() error                   { d.closed = true; return nil }

func (d *fakeDecoder) ReadAudio(dst []byte, frameCount int) (int, error) {
	remaining := d.totalFrames - d.framesRead
	if remaining <= 0 {
		return 0, nil
	}
	n := int64(frameCount)
	if n > remaining {
		n = remaining
	}
	bpf := int64(d.format.BytesPerFrame())
	if n*bpf > int64(len(dst)) {
		n = int64(len(dst)) / bpf
	}
	d.framesRead += n
	return int(n), nil
}

// fakeSink completes every submission immediately and synchronously,
// simulating a zero-latency renderer. This is an intentional
// simplification for exercising the scheduler's own bookkeeping in
// isolation from real playback timing.
type fakeSink struct {
	mu        sync.Mutex
	submitted int64
	rejectAll bool
}

func (s *fakeSink) Submit(buf []byte, validFrames int, timestamp int64, completion func(int)) error {
	s.mu.Lock()
	if s.rejectAll {
		s.mu.Unlock()
		return types.ErrRendererSubmitFailed
	}
	s.submitted += int64(validFrames)
	s.mu.Unlock()
	completion(validFrames)
	return nil
}

func (s *fakeSink) CurrentTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

func (s *fakeSink) Flush() {}

// spyObserver records every lifecycle callback in order and closes
// done once StoppedScheduling fires.
type spyObserver struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func newSpyObserver() *spyObserver {
	return &spyObserver{done: make(chan struct{})}
}

func (o *spyObserver) record(name string) {
	o.mu.Lock()
	o.events = append(o.events, name)
	o.mu.Unlock()
}

func (o *spyObserver) StartedScheduling() { o.record("started-scheduling") }
func (o *spyObserver) StoppedScheduling() {
	o.record("stopped-scheduling")
	close(o.done)
}
func (o *spyObserver) StartedSchedulingRegion(*region.Region) { o.record("started-scheduling-region") }
func (o *spyObserver) FinishedSchedulingRegion(*region.Region) { o.record("finished-scheduling-region") }
func (o *spyObserver) StartedRenderingRegion(*region.Region) { o.record("started-rendering-region") }
func (o *spyObserver) FinishedRenderingRegion(*region.Region) { o.record("finished-rendering-region") }

func (o *spyObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	copy(out, o.events)
	return out
}

func countOf(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}

func TestSingleRegionRunsToCompletion(t *testing.T) {
	sink := &fakeSink{}
	obs := newSpyObserver()
	sched := New(sink, Config{SlicesPerRegion: 4, FramesPerSlice: 1024, Observer: obs})

	dec := newFakeDecoder(10000)
	reg, err := sched.EnqueueRegion(dec, 0)
	if err != nil {
		t.Fatalf("EnqueueRegion() = %v, want nil", err)
	}

	sched.StartScheduling()

	deadline := time.Now().Add(2 * time.Second)
	for sched.FramesRendered() < 10000 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := sched.FramesRendered(); got != 10000 {
		t.Fatalf("FramesRendered() = %d, want 10000", got)
	}
	if got := sched.FramesScheduled(); got != 10000 {
		t.Fatalf("FramesScheduled() = %d, want 10000", got)
	}
	if !reg.Terminal() {
		t.Fatal("region should be Terminal once fully rendered")
	}

	sched.StopScheduling()
	select {
	case <-obs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stopped-scheduling")
	}

	events := obs.snapshot()
	if events[0] != "started-scheduling" {
		t.Fatalf("first event = %q, want started-scheduling", events[0])
	}
	if events[len(events)-1] != "stopped-scheduling" {
		t.Fatalf("last event = %q, want stopped-scheduling", events[len(events)-1])
	}
	for _, name := range []string{
		"started-scheduling", "started-scheduling-region", "started-rendering-region",
		"finished-scheduling-region", "finished-rendering-region", "stopped-scheduling",
	} {
		if n := countOf(events, name); n != 1 {
			t.Errorf("event %q occurred %d times, want 1 (events: %v)", name, n, events)
		}
	}
}

func TestEnqueueRegionResolvesStartTimeToEndOfPrevious(t *testing.T) {
	sink := &fakeSink{}
	sched := New(sink, Config{SlicesPerRegion: 4, FramesPerSlice: 512})

	a, err := sched.EnqueueRegion(newFakeDecoder(2048), 0)
	if err != nil {
		t.Fatalf("EnqueueRegion(a) = %v", err)
	}
	b, err := sched.EnqueueRegion(newFakeDecoder(1024), region.StartTimeUnset)
	if err != nil {
		t.Fatalf("EnqueueRegion(b) = %v", err)
	}

	if a.StartTime() != 0 {
		t.Fatalf("a.StartTime() = %d, want 0", a.StartTime())
	}
	if b.StartTime() != 2048 {
		t.Fatalf("b.StartTime() = %d, want 2048 (end of region a)", b.StartTime())
	}
}

func TestBackToBackRegionsRenderContinuously(t *testing.T) {
	sink := &fakeSink{}
	sched := New(sink, Config{SlicesPerRegion: 4, FramesPerSlice: 512})

	a, _ := sched.EnqueueRegion(newFakeDecoder(2048), 0)
	b, _ := sched.EnqueueRegion(newFakeDecoder(3000), region.StartTimeUnset)

	sched.StartScheduling()
	deadline := time.Now().Add(2 * time.Second)
	for sched.FramesRendered() < 5048 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.StopScheduling()

	if got := sched.FramesRendered(); got != 5048 {
		t.Fatalf("aggregate FramesRendered() = %d, want 5048", got)
	}
	if b.StartTime() != 2048 {
		t.Fatalf("b.StartTime() = %d, want 2048 (end of region a)", b.StartTime())
	}
	if !a.Terminal() || !b.Terminal() {
		t.Fatalf("both regions should be terminal, got a=%v b=%v", a.Terminal(), b.Terminal())
	}
	if got := a.FramesRendered() + b.FramesRendered(); got != sched.FramesRendered() {
		t.Fatalf("per-region rendered sum = %d, want aggregate %d", got, sched.FramesRendered())
	}
}

func TestStopThenStartResumesPlayback(t *testing.T) {
	sink := &fakeSink{}
	sched := New(sink, Config{SlicesPerRegion: 4, FramesPerSlice: 1024})

	reg, _ := sched.EnqueueRegion(newFakeDecoder(8192), 0)

	sched.StartScheduling()
	deadline := time.Now().Add(2 * time.Second)
	for sched.FramesRendered() < 2048 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.StopScheduling()

	// StartScheduling is a no-op until draining has finished; retry
	// until the Idle -> Scheduling transition takes.
	deadline = time.Now().Add(2 * time.Second)
	for !sched.IsScheduling() && time.Now().Before(deadline) {
		sched.StartScheduling()
		time.Sleep(time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for sched.FramesRendered() < 8192 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.StopScheduling()

	if got := sched.FramesRendered(); got != 8192 {
		t.Fatalf("FramesRendered() after resume = %d, want 8192", got)
	}
	if !reg.Terminal() {
		t.Fatal("region should be terminal after resumed playback completes")
	}
}

func TestRemoveActiveRegionAdvancesToNext(t *testing.T) {
	sink := &fakeSink{}
	sched := New(sink, Config{SlicesPerRegion: 4, FramesPerSlice: 1024})

	a, _ := sched.EnqueueRegion(newFakeDecoder(10000), 0)
	b, _ := sched.EnqueueRegion(newFakeDecoder(5000), region.StartTimeUnset)

	sched.StartScheduling()
	deadline := time.Now().Add(2 * time.Second)
	for a.FramesScheduled() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.RemoveRegion(a)

	deadline = time.Now().Add(2 * time.Second)
	for !b.Terminal() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.StopScheduling()

	if !b.Terminal() {
		t.Fatal("region b should complete after a was removed mid-flight")
	}
	if !a.Terminal() {
		t.Fatal("removed region a should be terminal once its in-flight slices completed")
	}
	if b.StartTime() != a.StartTime()+a.FramesScheduled() {
		t.Fatalf("b.StartTime() = %d, want %d (where a actually stopped scheduling)",
			b.StartTime(), a.StartTime()+a.FramesScheduled())
	}
	sched.mu.Lock()
	n := len(sched.regions)
	sched.mu.Unlock()
	if n != 1 {
		t.Fatalf("len(regions) = %d, want 1 (removed region pruned from the list)", n)
	}
}

func TestEnqueueRegionRejectsNilDecoder(t *testing.T) {
	sched := New(&fakeSink{}, Config{})
	if _, err := sched.EnqueueRegion(nil, 0); err != types.ErrDecoderAttachFailed {
		t.Fatalf("EnqueueRegion(nil) error = %v, want ErrDecoderAttachFailed", err)
	}
}

func TestRemoveRegionPendingIsImmediate(t *testing.T) {
	sink := &fakeSink{}
	sched := New(sink, Config{SlicesPerRegion: 2, FramesPerSlice: 256})

	a, _ := sched.EnqueueRegion(newFakeDecoder(256), 0)
	b, _ := sched.EnqueueRegion(newFakeDecoder(256), region.StartTimeUnset)
	sched.RemoveRegion(b)

	sched.StartScheduling()
	deadline := time.Now().Add(2 * time.Second)
	for sched.FramesRendered() < 256 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.StopScheduling()

	if sched.FramesRendered() != 256 {
		t.Fatalf("FramesRendered() = %d, want 256 (only region a, b was removed)", sched.FramesRendered())
	}
	if !a.Terminal() {
		t.Fatal("region a should have completed normally")
	}
}

func TestResetDropsPendingRegionsOnly(t *testing.T) {
	sched := New(&fakeSink{}, Config{SlicesPerRegion: 2, FramesPerSlice: 256})

	a, _ := sched.EnqueueRegion(newFakeDecoder(256), 0)
	b, _ := sched.EnqueueRegion(newFakeDecoder(256), region.StartTimeUnset)

	sched.mu.Lock()
	sched.schedulingIdx = 0
	sched.renderingIdx = 0
	sched.mu.Unlock()

	sched.Reset()

	if got := sched.RegionBeingScheduled(); got != a {
		t.Fatalf("RegionBeingScheduled() = %v, want region a", got)
	}
	sched.mu.Lock()
	n := len(sched.regions)
	sched.mu.Unlock()
	if n != 1 {
		t.Fatalf("len(regions) after Reset = %d, want 1 (only the active region kept)", n)
	}
	_ = b

	// Reset is idempotent: a second call leaves identical state.
	sched.Reset()
	if got := sched.RegionBeingScheduled(); got != a {
		t.Fatalf("RegionBeingScheduled() after second Reset = %v, want region a", got)
	}
	sched.mu.Lock()
	n = len(sched.regions)
	sched.mu.Unlock()
	if n != 1 {
		t.Fatalf("len(regions) after second Reset = %d, want 1", n)
	}
}

func TestClearDropsEverythingAndFlushesSink(t *testing.T) {
	sched := New(&fakeSink{}, Config{SlicesPerRegion: 2, FramesPerSlice: 256})
	sched.EnqueueRegion(newFakeDecoder(256), 0)
	sched.EnqueueRegion(newFakeDecoder(256), region.StartTimeUnset)

	sched.Clear()

	if sched.RegionBeingScheduled() != nil {
		t.Fatal("RegionBeingScheduled() should be nil after Clear")
	}
	if sched.RegionBeingRendered() != nil {
		t.Fatal("RegionBeingRendered() should be nil after Clear")
	}
	if sched.FramesScheduled() != 0 || sched.FramesRendered() != 0 {
		t.Fatal("counters should be zero after Clear")
	}
}

func TestCurrentPlayTimeOnlyValidWhileScheduling(t *testing.T) {
	sched := New(&fakeSink{}, Config{SlicesPerRegion: 2, FramesPerSlice: 256})
	if _, valid := sched.CurrentPlayTime(); valid {
		t.Fatal("CurrentPlayTime() should be invalid before StartScheduling")
	}

	sched.EnqueueRegion(newFakeDecoder(256), 0)
	sched.StartScheduling()
	if _, valid := sched.CurrentPlayTime(); !valid {
		t.Fatal("CurrentPlayTime() should be valid while Scheduling")
	}
	sched.StopScheduling()
}

func TestRendererSubmitFailureEntersDraining(t *testing.T) {
	sink := &fakeSink{rejectAll: true}
	obs := newSpyObserver()
	sched := New(sink, Config{SlicesPerRegion: 2, FramesPerSlice: 256, Observer: obs})

	reg, _ := sched.EnqueueRegion(newFakeDecoder(256), 0)
	sched.StartScheduling()

	select {
	case <-obs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stopped-scheduling after a rejected submission")
	}

	if sched.IsScheduling() {
		t.Fatal("scheduler should not be Scheduling after a renderer submit failure drained it")
	}

	// The rejected slice must be reclaimed: no completion will ever
	// fire for it, so leaving it renderer-owned would wedge the slot
	// for good.
	ring := reg.SliceRing()
	for i := 0; i < ring.Count(); i++ {
		if !ring.IsProducerOwned(i) {
			t.Fatalf("slice %d still renderer-owned after a rejected submission", i)
		}
	}
}
