package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drgolem/audiosched/pkg/decoders"
	"github.com/drgolem/audiosched/pkg/region"
	"github.com/drgolem/audiosched/pkg/rendersink"
	"github.com/drgolem/audiosched/pkg/scheduler"
	"github.com/drgolem/audiosched/pkg/types"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

var (
	playlistDeviceIdx       int
	playlistFramesPerBuffer int
	playlistSlicesPerRegion int
	playlistFramesPerSlice  int
	playlistVerbose         bool
)

// playlistCmd represents the playlist command
var playlistCmd = &cobra.Command{
	Use:   "playlist <audio_file> [audio_file...]",
	Short: "Play multiple audio files back to back on one scheduler",
	Long: `Play a sequence of audio files back to back on a single scheduler.

Every file is enqueued as its own region up front; the scheduler resolves
each region's start timestamp to the end of the one before it and plays
them continuously, with no gap or re-initialization between files.

Examples:
  # Play multiple files
  audiosched playlist song1.mp3 song2.flac song3.wav

  # Use a specific device with verbose output
  audiosched playlist -d 0 -v music/*.flac

Supported Formats:
  MP3, FLAC, WAV, Ogg Vorbis (.ogg), Opus (.opus)`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPlaylist,
}

func init() {
	rootCmd.AddCommand(playlistCmd)

	playlistCmd.Flags().IntVarP(&playlistDeviceIdx, "device", "d", 1, "Audio output device index")
	playlistCmd.Flags().IntVar(&playlistFramesPerBuffer, "pa-frames", 512, "PortAudio frames per callback buffer")
	playlistCmd.Flags().IntVar(&playlistSlicesPerRegion, "slices", scheduler.DefaultSlicesPerRegion, "Slices allocated per region")
	playlistCmd.Flags().IntVar(&playlistFramesPerSlice, "frames-per-slice", scheduler.DefaultFramesPerSlice, "Frames per slice buffer")
	playlistCmd.Flags().BoolVarP(&playlistVerbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func runPlaylist(cmd *cobra.Command, args []string) {
	configureLogging(playlistVerbose)

	files := args

	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())

	fileDecoders, format, err := openPlaylistDecoders(files)
	if err != nil {
		slog.Error("failed to open playlist", "error", err)
		os.Exit(1)
	}

	sink := rendersink.New(playlistDeviceIdx, playlistFramesPerBuffer, format, uint64(playlistSlicesPerRegion))
	if err := sink.Open(); err != nil {
		slog.Error("failed to open renderer sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	obs := newLogObserver()
	sched := scheduler.New(sink, scheduler.Config{
		SlicesPerRegion: playlistSlicesPerRegion,
		FramesPerSlice:  playlistFramesPerSlice,
		Observer:        obs,
	})

	regions := make([]*region.Region, 0, len(fileDecoders))
	for i, d := range fileDecoders {
		reg, err := sched.EnqueueRegion(d, region.StartTimeUnset)
		if err != nil {
			slog.Error("failed to enqueue region", "file", files[i], "error", err)
			continue
		}
		regions = append(regions, reg)
	}
	if len(regions) == 0 {
		slog.Error("no files could be enqueued")
		os.Exit(1)
	}

	slog.Info("starting playlist", "file_count", len(regions))
	sched.StartScheduling()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	statusDone := make(chan struct{})
	go monitorScheduler(sched, statusDone)

	done := make(chan struct{})
	go func() {
		waitForTerminal(regions[len(regions)-1])
		close(done)
	}()

	select {
	case <-done:
		slog.Info("playlist completed", "file_count", len(regions))
	case sig := <-sigChan:
		slog.Info("signal received, stopping playlist", "signal", sig)
	}

	sched.StopScheduling()
	close(statusDone)
	slog.Info("exiting")
}

// openPlaylistDecoders opens every file's decoder up front so every
// region can be enqueued before StartScheduling, and checks that they
// all share a common PCM format -- the scheduler plays one renderer
// sink across every region in its list, so a format change mid-playlist
// isn't something this subsystem can represent (PcmFormat is fixed per
// decoder and no resampling happens on the playback path).
func openPlaylistDecoders(files []string) ([]types.RawDecoder, types.PcmFormat, error) {
	out := make([]types.RawDecoder, 0, len(files))
	var format types.PcmFormat

	for i, fileName := range files {
		d, err := decoders.NewDecoder(fileName)
		if err != nil {
			for _, opened := range out {
				opened.Close()
			}
			return nil, types.PcmFormat{}, err
		}
		if i == 0 {
			format = d.Format()
		} else if d.Format() != format {
			slog.Warn("playlist file format differs from first file; playing at first file's rate",
				"file", fileName, "format", d.Format())
		}
		out = append(out, d)
	}
	return out, format, nil
}
