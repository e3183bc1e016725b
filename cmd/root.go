package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "audiosched",
	Short: "Scheduler-backed audio player",
	Long: `audiosched - an audio player built around a real-time-safe scheduling
subsystem: a lock-free SPSC staging ringbuffer feeds a ring of fixed-size
PCM slices, which a scheduler drives against a PortAudio renderer sink one
region at a time.

Features:
  - Lock-free SPSC ringbuffer and per-slice-locked slice ring with zero-copy audio handoff
  - Producer task / renderer callback split, with a real-time-safe completion path
  - Support for MP3, FLAC, WAV, Ogg Vorbis, and Opus audio formats
  - Back-to-back region scheduling with continuous timestamps
  - Sample rate transformation and format conversion

Commands:
  - play: Play a single audio file with real-time monitoring
  - playlist: Play multiple audio files back-to-back on one scheduler
  - transform: Convert audio files to different sample rates and WAV format`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
