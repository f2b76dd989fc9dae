package recognize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/pkg/audioconv"
)

// 20 ms at 16 kHz.
const frameSamples = 320

func tone(amp float64) []byte {
	pcm := make([]float32, frameSamples)
	for i := range pcm {
		pcm[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/audioconv.SampleRate))
	}
	return audioconv.Float32ToInt16LE(pcm)
}

func silence() []byte {
	return make([]byte, 2*frameSamples)
}

type fakeTranscriber struct {
	calls []int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []float32) (string, error) {
	f.calls = append(f.calls, len(pcm))
	return f.text, f.err
}

func feed(t *testing.T, s *Segmenter, frame []byte, n int) (bool, error) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := s.Accept(frame)
		if done || err != nil {
			return done, err
		}
	}
	return false, nil
}

func TestSegmenter_SilenceEndsUtterance(t *testing.T) {
	tr := &fakeTranscriber{text: "  what's the weather "}
	s := NewSegmenter(tr)

	done, err := feed(t, s, silence(), 10)
	require.NoError(t, err)
	assert.False(t, done, "leading silence is ignored")

	done, err = feed(t, s, tone(0.3), 25)
	require.NoError(t, err)
	assert.False(t, done)

	// 600 ms of silence is 30 frames; the 30th ends the utterance.
	done, err = feed(t, s, silence(), 29)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = s.Accept(silence())
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "what's the weather", s.Result())
	assert.Equal(t, []int{(25 + 30) * frameSamples}, tr.calls)
}

func TestSegmenter_MaxLengthCutsUtterance(t *testing.T) {
	tr := &fakeTranscriber{text: "long"}
	s := NewSegmenter(tr, WithMaxLength(time.Second))

	done, err := feed(t, s, tone(0.3), 100)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []int{50 * frameSamples}, tr.calls)
}

func TestSegmenter_ShortNoiseIgnored(t *testing.T) {
	tr := &fakeTranscriber{text: "click"}
	s := NewSegmenter(tr)

	_, _ = feed(t, s, tone(0.3), 2)
	done, err := feed(t, s, silence(), 40)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, tr.calls)
}

func TestSegmenter_EmptyTranscriptIsNotAnUtterance(t *testing.T) {
	s := NewSegmenter(&fakeTranscriber{text: "   "})

	_, _ = feed(t, s, tone(0.3), 20)
	done, err := feed(t, s, silence(), 40)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestSegmenter_TranscriberError(t *testing.T) {
	s := NewSegmenter(&fakeTranscriber{err: errors.New("model not loaded")})

	_, _ = feed(t, s, tone(0.3), 20)
	_, err := feed(t, s, silence(), 40)
	assert.ErrorContains(t, err, "model not loaded")

	// the segmenter is reset and keeps working
	done, err := s.Accept(silence())
	assert.NoError(t, err)
	assert.False(t, done)
}

func TestSegmenter_Flush(t *testing.T) {
	tr := &fakeTranscriber{text: "trailing"}
	s := NewSegmenter(tr)

	done, err := s.Flush()
	require.NoError(t, err)
	assert.False(t, done)

	_, _ = feed(t, s, tone(0.3), 20)
	done, err = s.Flush()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "trailing", s.Result())
}

func TestSegmenter_Threshold(t *testing.T) {
	tr := &fakeTranscriber{text: "quiet"}
	s := NewSegmenter(tr, WithThreshold(0.5))

	_, _ = feed(t, s, tone(0.3), 20)
	done, err := feed(t, s, silence(), 40)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, tr.calls)
}

func TestSegmenter_BoundContextInterruptsTranscription(t *testing.T) {
	entered := make(chan struct{})
	s := NewSegmenter(TranscriberFunc(func(ctx context.Context, _ []float32) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}), WithMaxLength(100*time.Millisecond), WithMinSpeech(0))

	ctx, cancel := context.WithCancel(context.Background())
	s.Bind(ctx)
	go func() {
		<-entered
		cancel()
	}()

	start := time.Now()
	_, err := feed(t, s, tone(0.5), 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
