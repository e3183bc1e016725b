// Package scheduler drives a producer task across an ordered list of
// regions, keeping a renderer sink topped up with slices and reacting
// to per-slice completion callbacks.
package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/audiosched/pkg/region"
	"github.com/drgolem/audiosched/pkg/rendersink"
	"github.com/drgolem/audiosched/pkg/types"
)

// State is one of the scheduler's three lifecycle states.
type State int32

const (
	Idle State = iota
	Scheduling
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduling:
		return "scheduling"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Default construction parameters.
const (
	DefaultSlicesPerRegion = 16
	DefaultFramesPerSlice  = 4096
)

// Observer receives the scheduler's six lifecycle notifications.
// Implementations must not call back into the Scheduler synchronously.
type Observer interface {
	StartedScheduling()
	StoppedScheduling()
	StartedSchedulingRegion(r *region.Region)
	FinishedSchedulingRegion(r *region.Region)
	StartedRenderingRegion(r *region.Region)
	FinishedRenderingRegion(r *region.Region)
}

// NopObserver implements Observer with no-ops, for callers that don't
// need any lifecycle notifications.
type NopObserver struct{}

func (NopObserver) StartedScheduling() {}
func (NopObserver) StoppedScheduling() {}
func (NopObserver) StartedSchedulingRegion(*region.Region) {}
func (NopObserver) FinishedSchedulingRegion(*region.Region) {}
func (NopObserver) StartedRenderingRegion(*region.Region) {}
func (NopObserver) FinishedRenderingRegion(*region.Region) {}

// Config fixes a scheduler's per-region slicing parameters for its
// whole lifetime.
type Config struct {
	SlicesPerRegion int
	FramesPerSlice  int
	RingCapacity    uint64

	// SliceWatchdog, if nonzero, force-releases a renderer-owned slice
	// that hasn't completed after this long, treating it as having
	// consumed 0 frames. Zero (the default) disables it and makes
	// completion delivery a hard requirement on the sink.
	SliceWatchdog time.Duration

	Observer Observer
}

type regionEntry struct {
	region           *region.Region
	nextFillIndex    int
	removalRequested bool
}

type inFlightSlice struct {
	entry       *regionEntry
	idx         int
	validFrames int
	submittedAt time.Time
}

// Scheduler orchestrates a FIFO sequence of regions against a single
// renderer sink.
type Scheduler struct {
	sink rendersink.Sink
	cfg  Config

	mu            sync.Mutex
	regions       []*regionEntry
	schedulingIdx int
	renderingIdx  int

	scheduledStartTime atomic.Int64

	state           atomic.Int32
	framesScheduled atomic.Int64
	framesRendered  atomic.Int64
	renderingOwned  atomic.Int32

	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	watchdogMu sync.Mutex
	inFlight   []*inFlightSlice
	watchdogWg sync.WaitGroup
	watchdogCh chan struct{}
}

// New creates a scheduler bound to sink, with region slicing fixed by
// cfg. Zero-valued SlicesPerRegion/FramesPerSlice fall back to the
// defaults (16, 4096).
func New(sink rendersink.Sink, cfg Config) *Scheduler {
	if cfg.SlicesPerRegion <= 0 {
		cfg.SlicesPerRegion = DefaultSlicesPerRegion
	}
	if cfg.FramesPerSlice <= 0 {
		cfg.FramesPerSlice = DefaultFramesPerSlice
	}
	if cfg.RingCapacity == 0 {
		// Enough contiguous bytes to stage a few slices ahead even at
		// the widest format the decoders package supports (stereo,
		// 32-bit).
		cfg.RingCapacity = uint64(cfg.FramesPerSlice) * 8 * 4
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	return &Scheduler{
		sink:          sink,
		cfg:           cfg,
		schedulingIdx: -1,
		renderingIdx:  -1,
		wake:          make(chan struct{}, 1),
	}
}

// SetScheduledStartTime sets the sample-clock timestamp assigned to
// the first enqueued region when its own start time is left unset.
// Zero (the default) means "as soon as possible".
func (s *Scheduler) SetScheduledStartTime(ts int64) {
	s.scheduledStartTime.Store(ts)
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// EnqueueRegion appends decoder as a new region to the play list. If
// startTime is region.StartTimeUnset, it is resolved to the end
// timestamp of the previous region (or the scheduler's own start time
// if this is the first). Never rejected based on scheduler state; if
// already Scheduling, the new region is picked up once the current
// one reaches EOF.
func (s *Scheduler) EnqueueRegion(decoder types.RawDecoder, startTime int64) (*region.Region, error) {
	if decoder == nil {
		return nil, types.ErrDecoderAttachFailed
	}

	reg := region.New(decoder, startTime, s.cfg.SlicesPerRegion, s.cfg.FramesPerSlice, s.cfg.RingCapacity)

	s.mu.Lock()
	resolved := startTime
	if resolved == region.StartTimeUnset {
		resolved = s.nextStartTimeLocked()
	}
	reg.SetStartTime(resolved)
	s.regions = append(s.regions, &regionEntry{region: reg})
	s.mu.Unlock()

	s.signalWake()
	return reg, nil
}

func (s *Scheduler) nextStartTimeLocked() int64 {
	if len(s.regions) == 0 {
		return s.scheduledStartTime.Load()
	}
	last := s.regions[len(s.regions)-1].region
	return last.StartTime() + last.TotalFrames()
}

// RemoveRegion drops reg from the play list. A region that is neither
// being scheduled nor rendered (one not yet reached, or one both sides
// have already passed) is spliced out immediately, and a cursor that
// sat past it is shifted down by one so it keeps pointing at the same
// region. A region currently being
// scheduled or rendered is instead marked and let finish naturally:
// the producer completes its in-flight fill, then advanceToEligible-
// SchedulingLocked abandons it (no more slices will be scheduled for
// it) and it becomes Terminal once its already-scheduled slices
// finish rendering.
func (s *Scheduler) RemoveRegion(reg *region.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.regions {
		if e.region != reg {
			continue
		}
		if i == s.schedulingIdx || i == s.renderingIdx {
			e.removalRequested = true
			return
		}
		s.regions = append(s.regions[:i], s.regions[i+1:]...)
		if s.schedulingIdx > i {
			s.schedulingIdx--
		}
		if s.renderingIdx > i {
			s.renderingIdx--
		}
		return
	}
}

// StartScheduling transitions Idle -> Scheduling and spawns the
// producer task. A no-op if not currently Idle.
func (s *Scheduler) StartScheduling() {
	if !s.state.CompareAndSwap(int32(Idle), int32(Scheduling)) {
		return
	}

	s.cfg.Observer.StartedScheduling()

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.producerLoop()

	if s.cfg.SliceWatchdog > 0 {
		s.watchdogCh = make(chan struct{})
		s.watchdogWg.Add(1)
		go s.watchdogLoop()
	}

	s.signalWake()
}

// StopScheduling transitions Scheduling -> Draining, requests the
// producer task to exit, and emits stopped-scheduling once it has
// exited and no slices remain renderer-owned. A no-op if not
// currently Scheduling.
func (s *Scheduler) StopScheduling() {
	if !s.state.CompareAndSwap(int32(Scheduling), int32(Draining)) {
		return
	}

	close(s.stopCh)
	s.signalWake()

	go func() {
		s.wg.Wait()
		if s.watchdogCh != nil {
			close(s.watchdogCh)
			s.watchdogWg.Wait()
		}
		s.waitForRenderingDrain()
		s.state.Store(int32(Idle))
		s.cfg.Observer.StoppedScheduling()
	}()
}

func (s *Scheduler) waitForRenderingDrain() {
	for s.renderingOwned.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Reset drops every region except the one currently being scheduled
// and the one currently being rendered, zeroing aggregate counters
// and clearing the slices of every dropped region. Idempotent.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*regionEntry
	newSchedulingIdx, newRenderingIdx := -1, -1
	for i, e := range s.regions {
		if i == s.schedulingIdx || i == s.renderingIdx {
			if i == s.schedulingIdx {
				newSchedulingIdx = len(kept)
			}
			if i == s.renderingIdx {
				newRenderingIdx = len(kept)
			}
			kept = append(kept, e)
			continue
		}
		e.region.SliceRing().ClearAll()
	}

	s.regions = kept
	s.schedulingIdx = newSchedulingIdx
	s.renderingIdx = newRenderingIdx
	s.framesScheduled.Store(0)
	s.framesRendered.Store(0)
}

// Clear drops every region, including the active ones, and flushes
// the renderer sink. Must only be called once the renderer has been
// externally quiesced — unlike Reset, it forcibly drops in-flight
// slices.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.regions {
		e.region.SliceRing().ClearAll()
	}
	s.regions = nil
	s.schedulingIdx = -1
	s.renderingIdx = -1
	s.framesScheduled.Store(0)
	s.framesRendered.Store(0)
	s.renderingOwned.Store(0)
	s.sink.Flush()
}

// CurrentPlayTime returns the renderer's sample clock. The second
// return value is false outside the Scheduling state: rather than
// hand back a stale timestamp from a previous scheduling run, callers
// get an explicit validity flag.
func (s *Scheduler) CurrentPlayTime() (int64, bool) {
	if State(s.state.Load()) != Scheduling {
		return 0, false
	}
	return s.sink.CurrentTimestamp(), true
}

func (s *Scheduler) IsScheduling() bool { return State(s.state.Load()) == Scheduling }
func (s *Scheduler) IsRendering() bool  { return s.renderingOwned.Load() > 0 }

func (s *Scheduler) FramesScheduled() int64 { return s.framesScheduled.Load() }
func (s *Scheduler) FramesRendered() int64  { return s.framesRendered.Load() }

// GetPlaybackStatus implements types.PlaybackMonitor with the
// scheduler's aggregate view of playback.
func (s *Scheduler) GetPlaybackStatus() types.PlaybackStatus {
	rendered := s.framesRendered.Load()
	scheduled := s.framesScheduled.Load()

	status := types.PlaybackStatus{
		FramesPerSlice: s.cfg.FramesPerSlice,
		PlayedFrames:   uint64(rendered),
		BufferedFrames: uint64(scheduled - rendered),
	}
	if r := s.RegionBeingRendered(); r != nil {
		status.Format = r.Format()
		if status.Format.SampleRate > 0 {
			status.ElapsedTime = time.Duration(rendered) * time.Second / time.Duration(status.Format.SampleRate)
		}
	}
	return status
}

// RegionBeingScheduled returns the region the producer is currently
// filling slices for, or nil if none.
func (s *Scheduler) RegionBeingScheduled() *region.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedulingIdx < 0 || s.schedulingIdx >= len(s.regions) {
		return nil
	}
	return s.regions[s.schedulingIdx].region
}

// RegionBeingRendered returns the region currently receiving
// completions from the renderer, or nil if none.
func (s *Scheduler) RegionBeingRendered() *region.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderingIdx < 0 || s.renderingIdx >= len(s.regions) {
		return nil
	}
	return s.regions[s.renderingIdx].region
}

// producerLoop is the dedicated worker that fills and submits slices.
// It is never the renderer's real-time thread, so it may block on
// decoder I/O and on the wake semaphore.
func (s *Scheduler) producerLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if s.producerStep() {
			continue
		}

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		}
	}
}

// producerStep performs at most one slice fill-and-submit and reports
// whether it made forward progress, so the caller knows whether to
// park on the wake semaphore.
func (s *Scheduler) producerStep() bool {
	s.mu.Lock()
	entry := s.advanceToEligibleSchedulingLocked()
	if entry == nil {
		s.mu.Unlock()
		return false
	}
	ring := entry.region.SliceRing()
	idx := entry.nextFillIndex
	ready := ring.IsProducerOwned(idx)
	s.mu.Unlock()

	if !ready {
		return false
	}

	n, buf, ts := entry.region.FillSlice(idx)
	if n == 0 {
		return entry.region.AtEnd()
	}

	// Account before submitting: the sink may invoke the completion
	// synchronously, and onSliceConsumed must observe the slice as
	// renderer-owned when it does.
	s.framesScheduled.Add(int64(n))
	s.renderingOwned.Add(1)
	if s.cfg.SliceWatchdog > 0 {
		s.trackInFlight(entry, idx, n, time.Now())
	}

	err := s.sink.Submit(buf, n, ts, func(consumed int) {
		s.onSliceConsumed(entry, idx, consumed)
	})
	if err != nil {
		s.renderingOwned.Add(-1)
		s.untrackInFlight(entry, idx)
		// FillSlice already handed the slice to the renderer side, and
		// no completion will ever fire for a rejected submission; take
		// it back so the slot isn't wedged if scheduling restarts.
		ring.Reclaim(idx)
		slog.Warn("renderer rejected slice submission, entering draining", "error", err)
		s.StopScheduling()
		return true
	}

	s.mu.Lock()
	entry.nextFillIndex = (idx + 1) % ring.Count()
	s.mu.Unlock()

	return true
}

// advanceToEligibleSchedulingLocked returns the region currently
// eligible for scheduling (not at end, not marked for removal),
// advancing regionBeingScheduled and emitting lifecycle events for
// every region it skips past. Must be called with s.mu held.
func (s *Scheduler) advanceToEligibleSchedulingLocked() *regionEntry {
	if s.schedulingIdx == -1 {
		if len(s.regions) == 0 {
			return nil
		}
		s.schedulingIdx = 0
		s.cfg.Observer.StartedSchedulingRegion(s.regions[0].region)
	}

	for s.schedulingIdx < len(s.regions) {
		e := s.regions[s.schedulingIdx]
		if e.removalRequested || e.region.AtEnd() {
			if e.removalRequested {
				e.region.Abandon()
			}
			s.cfg.Observer.FinishedSchedulingRegion(e.region)
			s.schedulingIdx++
			if s.schedulingIdx < len(s.regions) {
				nxt := s.regions[s.schedulingIdx]
				// Realign the next region's start to where this one
				// actually stopped scheduling. A region removed or
				// EOF'd early ends before the estimate EnqueueRegion
				// assigned from TotalFrames.
				if nxt.region.FramesScheduled() == 0 {
					nxt.region.SetStartTime(e.region.StartTime() + e.region.FramesScheduled())
				}
				s.cfg.Observer.StartedSchedulingRegion(nxt.region)
			}
			continue
		}
		return e
	}
	return nil
}

// onSliceConsumed is the renderer's completion callback. It must stay
// cheap: it updates counters, hands the slice back to the producer
// side, and signals the wake semaphore.
func (s *Scheduler) onSliceConsumed(entry *regionEntry, idx int, frames int) {
	entry.region.OnSliceConsumed(idx, frames)
	s.framesRendered.Add(int64(frames))
	s.renderingOwned.Add(-1)
	s.untrackInFlight(entry, idx)

	s.mu.Lock()
	s.advanceRenderingLocked()
	s.mu.Unlock()

	s.signalWake()
}

// advanceRenderingLocked mirrors advanceToEligibleSchedulingLocked for
// the consume side: it tracks which region is currently considered
// "being rendered" and emits started/finished-rendering-region as
// regions become fully rendered. Must be called with s.mu held.
func (s *Scheduler) advanceRenderingLocked() {
	if s.renderingIdx == -1 {
		if len(s.regions) == 0 {
			return
		}
		s.renderingIdx = 0
		s.cfg.Observer.StartedRenderingRegion(s.regions[0].region)
	}

	for s.renderingIdx < len(s.regions) {
		e := s.regions[s.renderingIdx]
		if !e.region.Terminal() {
			return
		}
		s.cfg.Observer.FinishedRenderingRegion(e.region)
		s.renderingIdx++
		if s.renderingIdx < len(s.regions) {
			s.cfg.Observer.StartedRenderingRegion(s.regions[s.renderingIdx].region)
		}
	}
	s.pruneRemovedLocked()
}

// pruneRemovedLocked splices out regions marked for removal while they
// were active, once they are terminal and both cursors have moved past
// them. Must be called with s.mu held.
func (s *Scheduler) pruneRemovedLocked() {
	for i := 0; i < len(s.regions); {
		e := s.regions[i]
		if e.removalRequested && e.region.Terminal() && i != s.schedulingIdx && i != s.renderingIdx {
			s.regions = append(s.regions[:i], s.regions[i+1:]...)
			if s.schedulingIdx > i {
				s.schedulingIdx--
			}
			if s.renderingIdx > i {
				s.renderingIdx--
			}
			continue
		}
		i++
	}
}

func (s *Scheduler) trackInFlight(entry *regionEntry, idx, validFrames int, at time.Time) {
	s.watchdogMu.Lock()
	s.inFlight = append(s.inFlight, &inFlightSlice{entry: entry, idx: idx, validFrames: validFrames, submittedAt: at})
	s.watchdogMu.Unlock()
}

func (s *Scheduler) untrackInFlight(entry *regionEntry, idx int) {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()
	for i, f := range s.inFlight {
		if f.entry == entry && f.idx == idx {
			s.inFlight = append(s.inFlight[:i], s.inFlight[i+1:]...)
			return
		}
	}
}

// watchdogLoop force-releases slices the renderer never completed, at
// 0 consumed frames (the conservative choice: we don't know how much,
// if any, actually played). Only runs when Config.SliceWatchdog > 0.
func (s *Scheduler) watchdogLoop() {
	defer s.watchdogWg.Done()

	ticker := time.NewTicker(s.cfg.SliceWatchdog / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.watchdogCh:
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

func (s *Scheduler) sweepStale() {
	deadline := time.Now().Add(-s.cfg.SliceWatchdog)

	s.watchdogMu.Lock()
	var stale []*inFlightSlice
	var fresh []*inFlightSlice
	for _, f := range s.inFlight {
		if f.submittedAt.Before(deadline) {
			stale = append(stale, f)
		} else {
			fresh = append(fresh, f)
		}
	}
	s.inFlight = fresh
	s.watchdogMu.Unlock()

	for _, f := range stale {
		slog.Warn("slice watchdog force-releasing slice with no completion",
			"index", f.idx, "age", time.Since(f.submittedAt))
		s.onSliceConsumed(f.entry, f.idx, 0)
	}
}
