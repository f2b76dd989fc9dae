// Package notify plays short audio cues.
package notify

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Chime plays one decoded MP3 on the default output.
type Chime struct {
	mu     sync.Mutex
	buffer *beep.Buffer
}

var (
	speakerOnce sync.Once
	speakerErr  error
)

// NewChime decodes the MP3 at path and opens the speaker.
func NewChime(path string) (*Chime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chime: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode chime %s: %w", path, err)
	}
	defer streamer.Close()

	buffer := beep.NewBuffer(format)
	buffer.Append(streamer)

	speakerOnce.Do(func() {
		speakerErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return nil, fmt.Errorf("init speaker: %w", speakerErr)
	}

	return &Chime{buffer: buffer}, nil
}

// Play blocks until the chime has been played.
func (c *Chime) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	done := make(chan struct{})
	speaker.Play(beep.Seq(c.buffer.Streamer(0, c.buffer.Len()), beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-time.After(c.buffer.Format().SampleRate.D(c.buffer.Len()) + time.Second):
		return fmt.Errorf("chime playback stalled")
	}
}
