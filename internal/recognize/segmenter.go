// Package recognize turns a stream of PCM frames into utterance text: an
// energy-based voice activity detector cuts the stream into utterances and a
// Transcriber converts each one to text.
package recognize

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"murmur/pkg/audioconv"
)

// Transcriber converts one utterance of 16 kHz mono PCM to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, pcm []float32) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	return f(ctx, pcm)
}

const (
	defaultThreshold     = 0.015
	defaultSilence       = 600 * time.Millisecond
	defaultMaxLength     = 10 * time.Second
	defaultMinSpeech     = 200 * time.Millisecond
	defaultTranscribeFor = 60 * time.Second
)

// Segmenter implements voice.Recognizer. It is driven by a single goroutine;
// Result may be read from another.
type Segmenter struct {
	tr         Transcriber
	threshold  float64
	silence    time.Duration
	maxLength  time.Duration
	minSpeech  time.Duration
	trTimeout  time.Duration
	sampleRate int

	speaking bool
	quiet    time.Duration
	voiced   time.Duration
	buf      []float32

	mu     sync.Mutex
	base   context.Context
	result string
}

type Option func(*Segmenter)

// WithThreshold sets the RMS level above which a frame counts as speech.
func WithThreshold(rms float64) Option {
	return func(s *Segmenter) {
		if rms > 0 {
			s.threshold = rms
		}
	}
}

// WithSilence sets how much trailing silence ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.silence = d
		}
	}
}

// WithMaxLength cuts utterances that run longer than d.
func WithMaxLength(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.maxLength = d
		}
	}
}

// WithMinSpeech discards utterances with less voiced audio than d.
func WithMinSpeech(d time.Duration) Option {
	return func(s *Segmenter) {
		if d >= 0 {
			s.minSpeech = d
		}
	}
}

// WithTranscribeTimeout bounds each transcription.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.trTimeout = d
		}
	}
}

func NewSegmenter(tr Transcriber, options ...Option) *Segmenter {
	s := &Segmenter{
		tr:         tr,
		threshold:  defaultThreshold,
		silence:    defaultSilence,
		maxLength:  defaultMaxLength,
		minSpeech:  defaultMinSpeech,
		trTimeout:  defaultTranscribeFor,
		sampleRate: audioconv.SampleRate,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Accept consumes one 16-bit little-endian frame. It returns true once an
// utterance has been transcribed to non-empty text.
func (s *Segmenter) Accept(frame []byte) (bool, error) {
	pcm := audioconv.Int16LEToFloat32(frame)
	if len(pcm) == 0 {
		return false, nil
	}
	dur := time.Duration(len(pcm)) * time.Second / time.Duration(s.sampleRate)

	if audioconv.RMS(pcm) > s.threshold {
		s.speaking = true
		s.quiet = 0
		s.voiced += dur
		s.buf = append(s.buf, pcm...)
	} else if s.speaking {
		s.quiet += dur
		s.buf = append(s.buf, pcm...)
		if s.quiet >= s.silence {
			return s.finish()
		}
	}

	if s.speaking && s.length() >= s.maxLength {
		return s.finish()
	}
	return false, nil
}

// Flush transcribes a pending utterance, if any.
func (s *Segmenter) Flush() (bool, error) {
	if !s.speaking {
		return false, nil
	}
	return s.finish()
}

// Bind makes transcriptions end when ctx is done. Until bound they run
// under context.Background and the transcribe timeout only.
func (s *Segmenter) Bind(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
}

func (s *Segmenter) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		return context.Background()
	}
	return s.base
}

func (s *Segmenter) Result() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Segmenter) length() time.Duration {
	return time.Duration(len(s.buf)) * time.Second / time.Duration(s.sampleRate)
}

func (s *Segmenter) finish() (bool, error) {
	pcm, voiced := s.buf, s.voiced
	s.buf, s.speaking, s.quiet, s.voiced = nil, false, 0, 0

	if voiced < s.minSpeech {
		log.Debug("utterance too short, ignoring", "voiced", voiced)
		return false, nil
	}
	if s.tr == nil {
		return false, errors.New("recognize: no transcriber")
	}

	ctx, cancel := context.WithTimeout(s.baseContext(), s.trTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.tr.Transcribe(ctx, pcm)
	if err != nil {
		return false, fmt.Errorf("transcribe %d samples: %w", len(pcm), err)
	}
	text = strings.TrimSpace(text)
	log.Debug("transcribed", "samples", len(pcm), "elapsed", time.Since(start), "text", text)

	if text == "" {
		return false, nil
	}

	s.mu.Lock()
	s.result = text
	s.mu.Unlock()
	return true, nil
}
