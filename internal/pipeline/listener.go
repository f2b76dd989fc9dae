package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"murmur/internal/metrics"
	"murmur/pkg/voice"
)

// listen reads frames until ctx is done, the source is exhausted or the device fails.
func (p *Pipeline) listen(ctx context.Context, out chan<- voice.RecognizedText) error {
	defer close(out)

	logger := p.cfg.logger.With("stage", "listener")
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := p.source.ReadFrame(p.cfg.readTimeout)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, voice.ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			logger.Info("audio source exhausted")
			p.flush(ctx, out)
			return nil
		case errors.Is(err, voice.ErrDeviceClosed):
			logger.Error("audio device closed", "error", err)
			return fmt.Errorf("listen: %w", err)
		default:
			failures++
			if failures > p.cfg.maxReadFailures {
				logger.Error("too many consecutive read failures", "failures", failures, "error", err)
				return fmt.Errorf("listen: %d consecutive read failures: %w", failures, errors.Join(voice.ErrDeviceClosed, err))
			}
			logger.Warn("audio read failed", "failures", failures, "error", err)
			continue
		}

		done, err := p.recognizer.Accept(frame)
		if err != nil {
			p.cfg.metrics.RecognizeError()
			logger.Warn("recognizer failed", "error", err)
			continue
		}
		if done {
			p.emit(p.recognizer.Result(), out)
		}
	}
}

// flush finishes a partial utterance held by the recognizer, if it can.
func (p *Pipeline) flush(ctx context.Context, out chan<- voice.RecognizedText) {
	f, ok := p.recognizer.(Flusher)
	if !ok || ctx.Err() != nil {
		return
	}

	done, err := f.Flush()
	if err != nil {
		p.cfg.metrics.RecognizeError()
		p.cfg.logger.Warn("recognizer flush failed", "error", err)
		return
	}
	if done {
		p.emit(p.recognizer.Result(), out)
	}
}

// emit enqueues text, dropping it when the command queue is full.
func (p *Pipeline) emit(text string, out chan<- voice.RecognizedText) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	item := voice.RecognizedText{
		ID:   uuid.NewString(),
		Text: text,
		At:   time.Now(),
	}
	p.cfg.metrics.Utterance()
	p.cfg.logger.Info("recognized", "utterance", item.ID, "text", item.Text)
	for _, o := range p.cfg.observers {
		o.OnRecognized(item)
	}

	select {
	case out <- item:
	default:
		p.cfg.metrics.Dropped(metrics.QueueCommands, 1)
		p.cfg.logger.Warn("command queue full, dropping utterance", "utterance", item.ID, "text", item.Text, "dropped", 1)
	}
}
