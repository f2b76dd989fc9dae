// Package mic captures the default input device with PortAudio.
package mic

import (
	"encoding/binary"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"murmur/pkg/voice"
)

const (
	SampleRate = 16000
	// FrameSize is 20 ms at SampleRate.
	FrameSize = 320
	// backlog frames buffered between the device and the reader.
	backlog = 250
)

// Capture is a voice.AudioSource reading 16-bit mono frames from the default
// input device.
type Capture struct {
	stream *portaudio.Stream
	buf    []int16

	frames chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	fatal error

	closeOnce sync.Once
}

// Open initializes PortAudio and starts capturing.
func Open(frameSize int) (*Capture, error) {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("init portaudio: %w", err)
	}

	c := &Capture{
		buf:    make([]int16, frameSize),
		frames: make(chan []byte, backlog),
		done:   make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(c.buf), c.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	c.stream = stream

	c.wg.Add(1)
	go c.pump()

	return c, nil
}

func (c *Capture) pump() {
	defer c.wg.Done()

	for {
		err := c.stream.Read()
		select {
		case <-c.done:
			return
		default:
		}

		if err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				log.Debug("input overflowed")
				continue
			}
			c.mu.Lock()
			c.fatal = err
			c.mu.Unlock()
			log.Error("audio capture stopped", "err", err)
			return
		}

		frame := make([]byte, 2*len(c.buf))
		for i, s := range c.buf {
			binary.LittleEndian.PutUint16(frame[2*i:], uint16(s))
		}

		select {
		case c.frames <- frame:
		default:
			log.Warn("capture backlog full, dropping frame")
		}
	}
}

// ReadFrame returns the next captured frame or voice.ErrTimeout.
func (c *Capture) ReadFrame(timeout time.Duration) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	default:
	}

	if err := c.err(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return nil, voice.ErrDeviceClosed
	case <-timer.C:
		if err := c.err(); err != nil {
			return nil, err
		}
		return nil, voice.ErrTimeout
	}
}

func (c *Capture) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return fmt.Errorf("%w: %v", voice.ErrDeviceClosed, c.fatal)
	}
	return nil
}

// Close stops the stream and releases PortAudio.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = errors.Join(c.stream.Stop())
		c.wg.Wait()
		err = errors.Join(err, c.stream.Close(), portaudio.Terminate())
	})
	return err
}
