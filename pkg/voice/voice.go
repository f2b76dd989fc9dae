// Package voice defines the collaborator contracts and the events exchanged by the
// listen, dispatch and speak stages.
package voice

import (
	"errors"
	"time"
)

var (
	// ErrTimeout indicates that no audio frame arrived within the requested wait.
	ErrTimeout = errors.New("voice: audio read timeout")
	// ErrDeviceClosed indicates that the audio device is gone and capture cannot continue.
	ErrDeviceClosed = errors.New("voice: audio device closed")
)

// AudioSource produces fixed-size frames of 16-bit little-endian mono PCM.
//
// ReadFrame blocks for at most timeout. It returns ErrTimeout when no frame is
// available yet, ErrDeviceClosed when the device failed, and io.EOF when a finite
// source has been fully consumed.
type AudioSource interface {
	ReadFrame(timeout time.Duration) ([]byte, error)
}

// Recognizer turns a stream of frames into utterances.
type Recognizer interface {
	// Accept consumes one frame and reports whether an utterance boundary was reached.
	Accept(frame []byte) (bool, error)
	// Result returns the text of the last completed utterance.
	Result() string
}

// Synthesizer speaks text synchronously.
type Synthesizer interface {
	Speak(text string) error
}

// SynthesisError wraps a failure of the synthesis engine.
type SynthesisError struct {
	Text string
	Err  error
}

func (e *SynthesisError) Error() string {
	return "synthesize " + quoteShort(e.Text) + ": " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func quoteShort(s string) string {
	const max = 40
	r := []rune(s)
	if len(r) > max {
		return `"` + string(r[:max]) + `..."`
	}
	return `"` + s + `"`
}

// RecognizedText is one utterance flowing from the Listener to the Dispatcher.
type RecognizedText struct {
	ID   string
	Text string
	At   time.Time
}

// SpeechRequest is one response flowing from the Dispatcher to the Speaker.
type SpeechRequest struct {
	// ID is the utterance the response belongs to.
	ID     string
	Text   string
	Plugin string
	// Final stops the pipeline once the request has been spoken.
	Final bool
}
