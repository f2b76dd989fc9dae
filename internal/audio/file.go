// Package audio holds audio sources and the volume ducker.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"murmur/pkg/audioconv"
)

// DefaultFrameSize is 20 ms at 16 kHz.
const DefaultFrameSize = 320

// FileSource replays a decoded audio file as fixed-size frames, followed by a
// second of silence so a trailing utterance is closed, then io.EOF.
type FileSource struct {
	mu        sync.Mutex
	data      []byte
	pos       int
	frameSize int
}

// OpenFile decodes path (wav, mp3 or ogg) to 16 kHz mono.
func OpenFile(ctx context.Context, path string, frameSize int) (*FileSource, error) {
	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{})
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return NewFileSource(pcm, frameSize), nil
}

// NewFileSource replays pcm.
func NewFileSource(pcm []float32, frameSize int) *FileSource {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	padded := append(append([]float32(nil), pcm...), make([]float32, audioconv.SampleRate)...)
	return &FileSource{
		data:      audioconv.Float32ToInt16LE(padded),
		frameSize: frameSize,
	}
}

// ReadFrame never blocks; the last frame may be short.
func (f *FileSource) ReadFrame(time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pos >= len(f.data) {
		return nil, io.EOF
	}
	end := min(f.pos+2*f.frameSize, len(f.data))
	frame := f.data[f.pos:end]
	f.pos = end
	return frame, nil
}

// Duration is the total replay length including the trailing silence.
func (f *FileSource) Duration() time.Duration {
	return time.Duration(len(f.data)/2) * time.Second / audioconv.SampleRate
}

func (f *FileSource) Close() error { return nil }
