package decoders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/drgolem/audiosched/pkg/decoders/flac"
	"github.com/drgolem/audiosched/pkg/decoders/mp3"
	"github.com/drgolem/audiosched/pkg/decoders/opus"
	"github.com/drgolem/audiosched/pkg/decoders/vorbis"
	"github.com/drgolem/audiosched/pkg/decoders/wav"
	"github.com/drgolem/audiosched/pkg/types"
)

// openableDecoder is what every concrete decoder package provides: the
// RawDecoder contract plus a file-opening entry point.
type openableDecoder interface {
	types.RawDecoder
	Open(fileName string) error
}

// NewDecoder creates and opens the appropriate decoder based on file
// extension. Supports .mp3, .flac, .fla, .wav, .ogg, and .opus.
// Returns an opened decoder ready for use, or an error if the format is
// unsupported or the file cannot be opened.
func NewDecoder(fileName string) (types.RawDecoder, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	var decoder openableDecoder

	switch ext {
	case ".mp3":
		decoder = mp3.NewDecoder()
	case ".flac", ".fla":
		decoder = flac.NewDecoder()
	case ".wav":
		decoder = wav.NewDecoder()
	case ".ogg":
		decoder = vorbis.NewDecoder()
	case ".opus":
		decoder = opus.NewDecoder()
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %s (supported: .mp3, .flac, .fla, .wav, .ogg, .opus)", types.ErrDecoderAttachFailed, ext)
	}

	if err := decoder.Open(fileName); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrDecoderAttachFailed, fileName, err)
	}

	return decoder, nil
}
