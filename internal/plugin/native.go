package plugin

import (
	"context"
	"fmt"
	goplugin "plugin"
)

// NativeFunc is the entry point of an in-process plugin.
type NativeFunc func(ctx context.Context, pc *Context, command string) (string, error)

// HandleSymbol is the symbol a Go plugin (main.so) must export.
const HandleSymbol = "Handle"

// HandleFunc is the signature of the exported Handle symbol. It only uses
// standard types so plugins need not import this module.
type HandleFunc = func(ctx context.Context, speak func(string), command string) (string, error)

// OpenGoPlugin loads a Go plugin and adapts its Handle symbol.
func OpenGoPlugin(path string) (NativeFunc, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open go plugin: %w", err)
	}

	sym, err := p.Lookup(HandleSymbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", HandleSymbol, err)
	}

	var handle HandleFunc
	switch h := sym.(type) {
	case HandleFunc:
		handle = h
	case *HandleFunc:
		handle = *h
	default:
		return nil, fmt.Errorf("symbol %s has type %T", HandleSymbol, sym)
	}

	return func(ctx context.Context, pc *Context, command string) (string, error) {
		return handle(ctx, pc.Speak, command)
	}, nil
}

type nativeResult struct {
	out string
	err error
}

// runNative waits for the callable or for ctx. A callable that ignores ctx keeps
// running in the background; its result is discarded.
func (e *Executor) runNative(ctx context.Context, d *Descriptor, command string, pc *Context) (string, error) {
	fn, ok := d.handle.(NativeFunc)
	if !ok || fn == nil {
		return "", fmt.Errorf("native handle has type %T", d.handle)
	}

	done := make(chan nativeResult, 1)
	go func() {
		var res nativeResult
		res.err = runSafely(func() error {
			var err error
			res.out, err = fn(ctx, pc, command)
			return err
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
