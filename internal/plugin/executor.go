package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"murmur/pkg/voice"
)

const (
	defaultExecTimeout = 10 * time.Second
	defaultWaitDelay   = 2 * time.Second
)

// Executor runs plugins through the adapter matching their runtime kind.
// It is safe for concurrent use.
type Executor struct {
	timeout      time.Duration
	waitDelay    time.Duration
	interpreters map[Language][]string
	logger       *slog.Logger
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// DefaultInterpreters maps external-process languages to the command used to run them.
func DefaultInterpreters() map[Language][]string {
	return map[Language][]string{
		LangPython:     {"python3"},
		LangJavaScript: {"node"},
		LangPerl:       {"perl"},
		LangShell:      {"sh"},
	}
}

// NewExecutor creates an executor with a 10s per-call budget.
func NewExecutor(options ...ExecOption) *Executor {
	e := &Executor{
		timeout:      defaultExecTimeout,
		waitDelay:    defaultWaitDelay,
		interpreters: DefaultInterpreters(),
		logger:       slog.Default(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// WithExecTimeout bounds every plugin call.
func WithExecTimeout(timeout time.Duration) ExecOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithWaitDelay bounds how long a killed subprocess may keep its pipes open.
func WithWaitDelay(delay time.Duration) ExecOption {
	return func(e *Executor) {
		if delay > 0 {
			e.waitDelay = delay
		}
	}
}

// WithInterpreter overrides the command used for lang.
func WithInterpreter(lang Language, argv ...string) ExecOption {
	return func(e *Executor) {
		if len(argv) > 0 {
			e.interpreters[lang] = append([]string(nil), argv...)
		}
	}
}

// WithExecLogger sets the executor logger.
func WithExecLogger(logger *slog.Logger) ExecOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Execute runs d for command. Speech queued through pc and the text returned by
// the plugin are joined into one request. Every failure is a *PluginError.
func (e *Executor) Execute(ctx context.Context, d *Descriptor, command string, pc *Context) (voice.SpeechRequest, error) {
	if d == nil {
		return voice.SpeechRequest{}, &PluginError{Plugin: "<nil>", Err: errors.New("nil descriptor")}
	}
	if pc == nil {
		pc = NewContext(d.Name, command, "")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	var out string
	err := runSafely(func() error {
		var runErr error
		out, runErr = e.run(runCtx, d, command, pc)
		return runErr
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", ErrPluginTimeout, e.timeout, err)
		}
		e.logger.Debug("plugin failed", "plugin", d.Name, "runtime", d.Runtime(), "elapsed", time.Since(start), "error", err)
		return voice.SpeechRequest{}, &PluginError{Plugin: d.Name, Err: err}
	}

	e.logger.Debug("plugin done", "plugin", d.Name, "runtime", d.Runtime(), "elapsed", time.Since(start))

	return voice.SpeechRequest{
		ID:     pc.UtteranceID,
		Text:   joinSpeech(pc.Spoken(), out),
		Plugin: d.Name,
		Final:  pc.finished(),
	}, nil
}

func (e *Executor) run(ctx context.Context, d *Descriptor, command string, pc *Context) (string, error) {
	switch d.Kind {
	case NativeCallable:
		return e.runNative(ctx, d, command, pc)
	case EmbeddedScript:
		return e.runScript(ctx, d, command, pc)
	case ExternalProcess:
		return e.runProcess(ctx, d, command, pc)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRuntime, d.Kind)
	}
}

func joinSpeech(spoken []string, out string) string {
	parts := spoken
	if out = strings.TrimSpace(out); out != "" {
		parts = append(parts, out)
	}
	return strings.Join(parts, " ")
}

// runSafely converts a panic inside fn into an error.
func runSafely(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic recovered: %v", recovered)
		}
	}()

	return fn()
}
