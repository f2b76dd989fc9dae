// Package bus mirrors pipeline events to a websocket hub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"murmur/internal/metrics"
	"murmur/pkg/voice"
)

// Message kinds.
const (
	KindRecognized = "recognized"
	KindSpeech     = "speech"
)

// Broadcast is the recipient of every mirrored event.
const Broadcast = "ALL"

const (
	defaultBacklog   = 32
	defaultReconnect = 2 * time.Second
	writeTimeout     = 5 * time.Second
)

// Message is the JSON frame sent to the hub.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// Mirror publishes recognized text and speech requests. Publishing never
// blocks: when the backlog is full the newest event is dropped.
type Mirror struct {
	url       string
	name      string
	out       chan Message
	reconnect time.Duration
	dialer    *ws.Dialer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	dropped   atomic.Uint64
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithBacklog sets how many events wait for the hub before new ones are dropped.
func WithBacklog(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.out = make(chan Message, n)
		}
	}
}

// WithReconnect sets the delay between connection attempts.
func WithReconnect(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.reconnect = d
		}
	}
}

// WithLogger sets the mirror logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics counts dropped events on mx.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Mirror) { m.metrics = mx }
}

// NewMirror creates a mirror publishing as name to the hub at url. Call Run to connect.
func NewMirror(url, name string, options ...Option) *Mirror {
	m := &Mirror{
		url:       url,
		name:      name,
		out:       make(chan Message, defaultBacklog),
		reconnect: defaultReconnect,
		dialer:    ws.DefaultDialer,
		logger:    slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(m)
		}
	}
	return m
}

// OnRecognized publishes recognized text.
func (m *Mirror) OnRecognized(t voice.RecognizedText) {
	m.publish(Message{From: m.name, To: Broadcast, Kind: KindRecognized, Content: t.Text})
}

// OnSpeech publishes a response about to be spoken.
func (m *Mirror) OnSpeech(r voice.SpeechRequest) {
	m.publish(Message{From: m.name, To: Broadcast, Kind: KindSpeech, Content: r.Text})
}

// Dropped reports how many events were discarded because the backlog was full.
func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

func (m *Mirror) publish(msg Message) {
	select {
	case m.out <- msg:
	default:
		m.dropped.Add(1)
		m.metrics.Dropped(metrics.QueueBus, 1)
		m.logger.Debug("bus backlog full, event dropped", "kind", msg.Kind)
	}
}

// Run keeps a connection to the hub and forwards events until ctx is done.
// Connection failures are logged and retried.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		conn, _, err := m.dialer.DialContext(ctx, m.url, http.Header{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("bus dial failed", "url", m.url, "err", err)
		} else {
			m.logger.Info("connected to bus", "url", m.url)
			err = m.pump(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("bus connection lost, reconnecting", "url", m.url, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.reconnect):
		}
	}
}

func (m *Mirror) pump(ctx context.Context, conn *ws.Conn) error {
	// The hub never addresses us; reading only detects a closed peer.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case msg := <-m.out:
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}
