package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/drgolem/audiosched/pkg/region"
	"github.com/drgolem/audiosched/pkg/scheduler"
)

// configureLogging installs a text slog handler at Info or Debug level.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// logObserver implements scheduler.Observer by logging every lifecycle
// notification. Observers must not call back into the scheduler
// synchronously (per pkg/scheduler's contract), and this one doesn't --
// it only logs.
type logObserver struct{}

func newLogObserver() *logObserver { return &logObserver{} }

func (logObserver) StartedScheduling() { slog.Info("scheduler started") }
func (logObserver) StoppedScheduling() { slog.Info("scheduler stopped") }

func (logObserver) StartedSchedulingRegion(r *region.Region) {
	slog.Debug("started scheduling region", "start_time", r.StartTime(), "total_frames", r.TotalFrames())
}

func (logObserver) FinishedSchedulingRegion(r *region.Region) {
	slog.Debug("finished scheduling region", "frames_scheduled", r.FramesScheduled())
}

func (logObserver) StartedRenderingRegion(r *region.Region) {
	slog.Info("started rendering region", "start_time", r.StartTime())
}

func (logObserver) FinishedRenderingRegion(r *region.Region) {
	slog.Info("finished rendering region", "frames_rendered", r.FramesRendered())
}

// monitorScheduler logs the scheduler's aggregate progress every two
// seconds until done is closed.
func monitorScheduler(sched *scheduler.Scheduler, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := sched.GetPlaybackStatus()
			playTime, _ := sched.CurrentPlayTime()
			slog.Info("playback status",
				"played_frames", status.PlayedFrames,
				"buffered_frames", status.BufferedFrames,
				"elapsed", status.ElapsedTime.Round(time.Second),
				"play_time", playTime,
				"rendering", sched.IsRendering())
		case <-done:
			return
		}
	}
}
