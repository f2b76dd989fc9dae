package pipeline

import (
	"context"
	"errors"
	"strings"

	"murmur/internal/metrics"
	"murmur/pkg/voice"
)

// speak says every request until the queue closes or ctx is done.
func (p *Pipeline) speak(ctx context.Context, in <-chan voice.SpeechRequest) error {
	for {
		select {
		case <-ctx.Done():
			p.discard(metrics.QueueSpeech, drain(in))
			return nil
		case req, ok := <-in:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				p.discard(metrics.QueueSpeech, 1+drain(in))
				return nil
			}

			p.say(ctx, req)

			if req.Final {
				p.cfg.logger.Info("final response spoken, stopping", "utterance", req.ID, "plugin", req.Plugin)
				p.Stop()
				return nil
			}
		}
	}
}

func (p *Pipeline) say(ctx context.Context, req voice.SpeechRequest) {
	for _, o := range p.cfg.observers {
		o.OnSpeech(req)
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		p.cfg.metrics.Spoken("skipped")
		p.cfg.logger.Debug("empty response, nothing to say", "utterance", req.ID, "plugin", req.Plugin)
		return
	}

	logger := p.cfg.logger.With("utterance", req.ID, "plugin", req.Plugin)

	if p.cfg.ducker != nil {
		if err := p.cfg.ducker.DuckOthers(ctx, p.cfg.duckFactor, p.cfg.duckFade); err != nil {
			logger.Warn("duck failed", "error", err)
		}
		defer p.restore(ctx)
	}

	logger.Info("speaking", "text", text)
	if err := p.synth.Speak(text); err != nil {
		var serr *voice.SynthesisError
		if !errors.As(err, &serr) {
			err = &voice.SynthesisError{Text: text, Err: err}
		}
		p.cfg.metrics.Spoken("error")
		logger.Error("speech failed", "error", err)
		return
	}

	p.cfg.metrics.Spoken("ok")
}

// restore unducks even after ctx is cancelled so other streams are not left quiet.
func (p *Pipeline) restore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRestoreTimeout)
	defer cancel()

	if err := p.cfg.ducker.UnduckOthers(ctx, p.cfg.duckFade); err != nil {
		p.cfg.logger.Warn("unduck failed", "error", err)
	}
}
