// Package audioconv decodes audio files to 16 kHz mono float32 PCM and converts
// between that representation and the 16-bit little-endian frames used on the wire.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// SampleRate is the rate every decoder resamples to.
const SampleRate = 16000

// ErrUnsupportedFormat is returned for files no decoder recognizes.
var ErrUnsupportedFormat = errors.New("audioconv: unsupported format")

type Options struct {
	// MaxSamples truncates the decoded signal; 0 keeps everything.
	MaxSamples int
}

// DecodeFile decodes a wav, mp3 or ogg (vorbis, or opus with -tags opus) file.
// Unknown extensions are sniffed by their magic bytes.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pcm []float32
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		pcm, err = decodeWAV(f)
	case ".mp3":
		pcm, err = decodeMP3(f)
	case ".ogg", ".oga", ".opus":
		pcm, err = decodeOgg(f)
	default:
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, serr
		}
		switch string(magic) {
		case "RIFF":
			pcm, err = decodeWAV(f)
		case "OggS":
			pcm, err = decodeOgg(f)
		default:
			return nil, fmt.Errorf("%w: %s (supported: wav, mp3, ogg)", ErrUnsupportedFormat, path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if opt.MaxSamples > 0 && len(pcm) > opt.MaxSamples {
		pcm = pcm[:opt.MaxSamples]
	}
	return pcm, nil
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	channels, rate := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}

	return normalize(intsToFloat32(pb.Data, depth), channels, rate), nil
}

func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	samples := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, samples); err != nil {
		return nil, err
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always yields interleaved stereo.
	return normalize(int16sToFloat32(samples), 2, rate), nil
}

// decodeOgg tries Vorbis first, then Opus.
func decodeOgg(r io.ReadSeeker) ([]float32, error) {
	pcm, verr := decodeVorbis(r)
	if verr == nil {
		return pcm, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pcm, oerr := decodeOpus(r)
	if oerr == nil {
		return pcm, nil
	}
	return nil, fmt.Errorf("ogg: vorbis: %v; opus: %w", verr, oerr)
}

func decodeVorbis(r io.Reader) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid vorbis stream")
	}
	return normalize(pcm, format.Channels, format.SampleRate), nil
}

// normalize downmixes interleaved samples and resamples them to SampleRate.
func normalize(pcm []float32, channels, rate int) []float32 {
	return Resample(Downmix(pcm, channels), rate, SampleRate)
}
