package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"murmur/internal/metrics"
	"murmur/internal/plugin"
	"murmur/pkg/voice"
)

// dispatch turns every recognized text into exactly one speech request.
func (p *Pipeline) dispatch(ctx context.Context, in <-chan voice.RecognizedText, out chan<- voice.SpeechRequest) error {
	defer close(out)

	for {
		p.transition(StateListening)

		select {
		case <-ctx.Done():
			p.discard(metrics.QueueCommands, drain(in))
			return nil
		case item, ok := <-in:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				p.discard(metrics.QueueCommands, 1+drain(in))
				return nil
			}

			req := p.handle(ctx, item)
			if ctx.Err() != nil {
				p.discard(metrics.QueueSpeech, 1)
				p.discard(metrics.QueueCommands, drain(in))
				return nil
			}
			p.transition(StateSpeechQueued)

			select {
			case out <- req:
			case <-ctx.Done():
				p.discard(metrics.QueueSpeech, 1)
				p.discard(metrics.QueueCommands, drain(in))
				return nil
			}
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, item voice.RecognizedText) voice.SpeechRequest {
	logger := p.cfg.logger.With("utterance", item.ID, "command", item.Text)

	p.transition(StateRecognized)
	if p.cfg.cue != nil {
		if err := p.cfg.cue.Play(); err != nil {
			logger.Debug("cue failed", "error", err)
		}
	}

	p.transition(StateDispatching)
	d, ok := p.router.Route(item.Text)
	if !ok {
		p.transition(StateUnmatched)
		p.cfg.metrics.Dispatched("", metrics.OutcomeUnmatched, 0)
		logger.Info("no plugin matched")
		return voice.SpeechRequest{ID: item.ID, Text: UnmatchedReply}
	}

	p.transition(StateExecuting)
	logger = logger.With("plugin", d.Name)

	start := time.Now()
	req, err := p.exec.Execute(ctx, d, item.Text, plugin.NewContext(d.Name, item.Text, item.ID))
	elapsed := time.Since(start)
	if err != nil {
		p.cfg.metrics.Dispatched(d.Name, metrics.OutcomeError, elapsed)
		logger.Error("plugin failed", "elapsed", elapsed, "error", err)
		return voice.SpeechRequest{
			ID:     item.ID,
			Text:   ErrorReply(d.Name, err),
			Plugin: d.Name,
		}
	}

	p.cfg.metrics.Dispatched(d.Name, metrics.OutcomeOK, elapsed)
	logger.Info("plugin done", "elapsed", elapsed, "final", req.Final)

	req.ID = item.ID
	req.Plugin = d.Name
	return req
}

// ErrorReply is spoken when plugin name fails with err.
func ErrorReply(name string, err error) string {
	var perr *plugin.PluginError
	if errors.As(err, &perr) && perr.Err != nil {
		err = perr.Err
	}
	return fmt.Sprintf("An error occurred while running the plugin %s: %v", name, err)
}

func (p *Pipeline) discard(queue string, n int) {
	p.transition(StateStopping)
	if n == 0 {
		return
	}
	p.cfg.metrics.Dropped(queue, n)
	p.cfg.logger.Info("discarding queued items on shutdown", "queue", queue, "dropped", n)
}
