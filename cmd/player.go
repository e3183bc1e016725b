package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/audiosched/pkg/decoders"
	"github.com/drgolem/audiosched/pkg/region"
	"github.com/drgolem/audiosched/pkg/rendersink"
	"github.com/drgolem/audiosched/pkg/scheduler"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	deviceIdx       int
	framesPerBuffer int
	slicesPerRegion int
	framesPerSlice  int
	showVersion     bool
	verbose         bool
)

// playerCmd represents the player command
var playerCmd = &cobra.Command{
	Use:   "play <audio_file>",
	Short: "Play a single audio file through the scheduler",
	Long: `Play a single audio file, driven end to end by the scheduler: the file
is decoded through the staging ring, sliced into fixed-size PCM buffers,
and handed to a PortAudio renderer one slice at a time.

Examples:
  # Play an MP3 file
  audiosched play music.mp3

  # Play a FLAC file on a specific device
  audiosched play -d 0 music.flac

  # Larger slices for more tolerance of scheduling jitter
  audiosched play --frames-per-slice 8192 music.wav

Buffer Recommendations:
  Low latency:    --pa-frames 256   --frames-per-slice 1024
  Balanced:       --pa-frames 512   --frames-per-slice 4096  (default)
  High stability: --pa-frames 1024  --frames-per-slice 8192

Supported Formats:
  MP3, FLAC, WAV, Ogg Vorbis (.ogg), Opus (.opus)`,
	Args: cobra.ExactArgs(1),
	Run:  runPlayer,
}

func init() {
	rootCmd.AddCommand(playerCmd)

	playerCmd.Flags().IntVarP(&deviceIdx, "device", "d", 1, "Audio output device index")
	playerCmd.Flags().IntVar(&framesPerBuffer, "pa-frames", 512, "PortAudio frames per callback buffer")
	playerCmd.Flags().IntVar(&slicesPerRegion, "slices", scheduler.DefaultSlicesPerRegion, "Slices allocated per region")
	playerCmd.Flags().IntVar(&framesPerSlice, "frames-per-slice", scheduler.DefaultFramesPerSlice, "Frames per slice buffer")
	playerCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	playerCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}

func runPlayer(cmd *cobra.Command, args []string) {
	if showVersion {
		fmt.Printf("audiosched v%s\n", version)
		fmt.Println("Built with:")
		fmt.Println("  - Lock-free SPSC ringbuffer and per-slice-locked slice ring")
		fmt.Println("  - Dedicated producer task / renderer callback split")
		fmt.Println("  - PortAudio for cross-platform audio")
		os.Exit(0)
	}

	fileName := args[0]
	configureLogging(verbose)

	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		slog.Error("file not found", "path", fileName)
		os.Exit(1)
	}

	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

	decoder, err := decoders.NewDecoder(fileName)
	if err != nil {
		slog.Error("failed to open decoder", "file", fileName, "error", err)
		os.Exit(1)
	}

	sink := rendersink.New(deviceIdx, framesPerBuffer, decoder.Format(), uint64(slicesPerRegion))
	if err := sink.Open(); err != nil {
		slog.Error("failed to open renderer sink", "error", err)
		decoder.Close()
		os.Exit(1)
	}
	defer sink.Close()

	obs := newLogObserver()
	sched := scheduler.New(sink, scheduler.Config{
		SlicesPerRegion: slicesPerRegion,
		FramesPerSlice:  framesPerSlice,
		Observer:        obs,
	})

	reg, err := sched.EnqueueRegion(decoder, region.StartTimeUnset)
	if err != nil {
		slog.Error("failed to enqueue region", "error", err)
		decoder.Close()
		os.Exit(1)
	}

	format := decoder.Format()
	slog.Info("starting playback",
		"file", fileName,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"bits_per_sample", format.BitsPerSample,
		"total_frames", reg.TotalFrames())

	sched.StartScheduling()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	statusDone := make(chan struct{})
	go monitorScheduler(sched, statusDone)

	done := make(chan struct{})
	go func() {
		waitForTerminal(reg)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("playback completed")
	case sig := <-sigChan:
		slog.Info("signal received, stopping playback", "signal", sig)
	}

	sched.StopScheduling()
	close(statusDone)

	slog.Info("exiting")
}

// waitForTerminal polls reg.Terminal() until the region has finished
// scheduling and rendering every frame it will produce. The scheduler
// has no blocking "wait for region" primitive of its own -- callers
// needing one poll FramesRendered()/Terminal() the way this does, or
// use the Observer's FinishedRenderingRegion notification instead.
func waitForTerminal(reg *region.Region) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if reg.Terminal() {
			return
		}
	}
}
