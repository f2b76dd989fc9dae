package audio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/pkg/audioconv"
)

func TestFileSource_FramesThenEOF(t *testing.T) {
	src := NewFileSource(make([]float32, 1000), 320)

	var total int
	for {
		frame, err := src.ReadFrame(time.Millisecond)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(frame), 640)
		total += len(frame)
	}

	assert.Equal(t, 2*(1000+audioconv.SampleRate), total)
	_, err := src.ReadFrame(time.Millisecond)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, time.Second+62500*time.Microsecond, src.Duration())
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audioconv.EncodeWAV(f, make([]float32, 3200), audioconv.SampleRate))
	require.NoError(t, f.Close())

	src, err := OpenFile(context.Background(), path, 0)
	require.NoError(t, err)

	frame, err := src.ReadFrame(0)
	require.NoError(t, err)
	assert.Len(t, frame, 2*DefaultFrameSize)
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), 0)
	assert.Error(t, err)
}
