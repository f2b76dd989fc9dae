// Package pipeline runs the listen, dispatch and speak stages of the assistant.
//
// The Listener owns the audio source and feeds recognized text into a bounded
// command queue. The Dispatcher routes each command to a plugin and feeds the
// response into a bounded speech queue. The Speaker owns the synthesizer.
// Each queue is closed by its only producer.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"murmur/internal/plugin"
	"murmur/pkg/voice"
)

// Reply spoken when no plugin matches the recognized text.
const UnmatchedReply = "I'm sorry, I didn't understand that command."

var (
	// ErrAlreadyRunning is returned by Run on a pipeline that was already started.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	errStopped = errors.New("pipeline: stopped")
)

// Router selects the plugin for recognized text.
type Router interface {
	Route(text string) (*plugin.Descriptor, bool)
}

// Executor runs one plugin for one command.
type Executor interface {
	Execute(ctx context.Context, d *plugin.Descriptor, command string, pc *plugin.Context) (voice.SpeechRequest, error)
}

// Flusher is implemented by recognizers that can finish a partial utterance
// when the audio source is exhausted.
type Flusher interface {
	Flush() (bool, error)
}

// Binder is implemented by recognizers whose Accept can block, such as one
// that transcribes inline. Run binds them to the pipeline context so a stop
// interrupts the blocked call.
type Binder interface {
	Bind(ctx context.Context)
}

// State is the Dispatcher-side position in the command cycle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateRecognized
	StateDispatching
	StateExecuting
	StateUnmatched
	StateSpeechQueued
	StateStopping
	StateStopped
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateListening:    "listening",
	StateRecognized:   "recognized",
	StateDispatching:  "dispatching",
	StateExecuting:    "executing",
	StateUnmatched:    "unmatched",
	StateSpeechQueued: "speech-queued",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Pipeline wires an audio source, a recognizer, a router, an executor and a
// synthesizer together. A Pipeline runs once.
type Pipeline struct {
	source     voice.AudioSource
	recognizer voice.Recognizer
	router     Router
	exec       Executor
	synth      voice.Synthesizer
	cfg        config

	state   atomic.Int32
	started atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	stopped bool
}

// New creates a pipeline. All collaborators are required.
func New(source voice.AudioSource, recognizer voice.Recognizer, router Router, exec Executor, synth voice.Synthesizer, options ...Option) (*Pipeline, error) {
	switch {
	case source == nil:
		return nil, errors.New("pipeline: nil audio source")
	case recognizer == nil:
		return nil, errors.New("pipeline: nil recognizer")
	case router == nil:
		return nil, errors.New("pipeline: nil router")
	case exec == nil:
		return nil, errors.New("pipeline: nil executor")
	case synth == nil:
		return nil, errors.New("pipeline: nil synthesizer")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Pipeline{
		source:     source,
		recognizer: recognizer,
		router:     router,
		exec:       exec,
		synth:      synth,
		cfg:        cfg,
	}, nil
}

// Run starts the three stages and blocks until all of them have returned.
// It returns nil on cancellation, Stop, a final response or an exhausted source,
// and the Listener's error when the audio device fails.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.setState(StateStopped)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancelCause(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel(nil)

	commands := make(chan voice.RecognizedText, p.cfg.queueSize)
	speech := make(chan voice.SpeechRequest, p.cfg.queueSize)

	p.cfg.logger.Info("pipeline started", "queue_size", p.cfg.queueSize, "read_timeout", p.cfg.readTimeout)

	g, gctx := errgroup.WithContext(ctx)
	if b, ok := p.recognizer.(Binder); ok {
		b.Bind(gctx)
	}
	g.Go(func() error {
		return p.listen(gctx, commands)
	})
	g.Go(func() error {
		return p.dispatch(gctx, commands, speech)
	})
	g.Go(func() error {
		return p.speak(gctx, speech)
	})

	err := g.Wait()
	p.cfg.logger.Info("pipeline stopped", "cause", context.Cause(ctx))
	return err
}

// Stop asks a running pipeline to shut down. Queued items are discarded.
// It is safe to call at any time, more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	if p.cancel != nil {
		p.setState(StateStopping)
		p.cancel(errStopped)
	}
}

// State reports where the Dispatcher is in the command cycle.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// transition moves to s unless the pipeline is already shutting down.
func (p *Pipeline) transition(s State) {
	for {
		cur := p.state.Load()
		if State(cur) >= StateStopping {
			return
		}
		if p.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// drain empties a queue without blocking and returns how many items it held.
func drain[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
