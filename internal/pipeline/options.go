package pipeline

import (
	"context"
	"log/slog"
	"time"

	"murmur/internal/metrics"
	"murmur/pkg/voice"
)

const (
	defaultQueueSize       = 8
	defaultReadTimeout     = 100 * time.Millisecond
	defaultMaxReadFailures = 50
	defaultDuckFactor      = 0.3
	defaultDuckFade        = 150 * time.Millisecond
	defaultRestoreTimeout  = 2 * time.Second
)

// Observer is notified of every event flowing through the pipeline. Calls are
// made from the stage goroutines and must not block.
type Observer interface {
	OnRecognized(voice.RecognizedText)
	OnSpeech(voice.SpeechRequest)
}

// Ducker lowers other audio streams while the assistant speaks.
type Ducker interface {
	DuckOthers(ctx context.Context, factor float64, fade time.Duration) error
	UnduckOthers(ctx context.Context, fade time.Duration) error
}

// Cue is played when an utterance is taken for dispatch.
type Cue interface {
	Play() error
}

type config struct {
	queueSize       int
	readTimeout     time.Duration
	maxReadFailures int
	logger          *slog.Logger
	metrics         *metrics.Metrics
	observers       []Observer
	ducker          Ducker
	duckFactor      float64
	duckFade        time.Duration
	cue             Cue
}

func defaultConfig() config {
	return config{
		queueSize:       defaultQueueSize,
		readTimeout:     defaultReadTimeout,
		maxReadFailures: defaultMaxReadFailures,
		logger:          slog.Default(),
		duckFactor:      defaultDuckFactor,
		duckFade:        defaultDuckFade,
	}
}

// Option configures a Pipeline.
type Option func(*config)

// WithQueueSize sets the capacity of both pipeline queues.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithReadTimeout bounds each audio read and therefore the shutdown latency of the Listener.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.readTimeout = timeout
		}
	}
}

// WithMaxReadFailures sets how many consecutive read errors are tolerated
// before the source is treated as closed.
func WithMaxReadFailures(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxReadFailures = n
		}
	}
}

// WithLogger sets the logger used by all three stages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records queue, dispatch and speech counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithDucker lowers other streams to factor of their volume while speaking.
func WithDucker(d Ducker, factor float64, fade time.Duration) Option {
	return func(c *config) {
		c.ducker = d
		if factor > 0 && factor <= 1 {
			c.duckFactor = factor
		}
		if fade >= 0 {
			c.duckFade = fade
		}
	}
}

// WithCue plays cue each time the Dispatcher takes a command.
func WithCue(cue Cue) Option {
	return func(c *config) {
		c.cue = cue
	}
}
