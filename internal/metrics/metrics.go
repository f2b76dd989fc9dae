// Package metrics exposes the assistant's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// Queue names.
const (
	QueueCommands = "commands"
	QueueSpeech   = "speech"
	QueueBus      = "bus"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	UtterancesTotal   prometheus.Counter
	RecognizeErrors   prometheus.Counter
	DroppedTotal      *prometheus.CounterVec
	DispatchTotal     *prometheus.CounterVec
	PluginDuration    *prometheus.HistogramVec
	SpeechTotal       *prometheus.CounterVec
	PluginsRegistered prometheus.Gauge
}

// New creates and registers all metrics on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		UtterancesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "murmur_utterances_total",
				Help: "Total number of recognized utterances",
			},
		),
		RecognizeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "murmur_recognize_errors_total",
				Help: "Total number of recognizer failures",
			},
		),
		DroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_queue_dropped_total",
				Help: "Total number of pipeline items dropped or discarded",
			},
			[]string{"queue"},
		),
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_dispatch_total",
				Help: "Total number of dispatched commands by outcome",
			},
			[]string{"plugin", "outcome"},
		),
		PluginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "murmur_plugin_duration_seconds",
				Help:    "Plugin execution duration in seconds",
				Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"plugin"},
		),
		SpeechTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_speech_total",
				Help: "Total number of speech requests by status",
			},
			[]string{"status"},
		),
		PluginsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "murmur_plugins_registered",
				Help: "Number of plugins in the registry",
			},
		),
	}

	registry.MustRegister(
		m.UtterancesTotal,
		m.RecognizeErrors,
		m.DroppedTotal,
		m.DispatchTotal,
		m.PluginDuration,
		m.SpeechTotal,
		m.PluginsRegistered,
	)

	return m
}

func (m *Metrics) Utterance() {
	if m == nil {
		return
	}
	m.UtterancesTotal.Inc()
}

func (m *Metrics) RecognizeError() {
	if m == nil {
		return
	}
	m.RecognizeErrors.Inc()
}

// Dropped counts n items lost from queue.
func (m *Metrics) Dropped(queue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedTotal.WithLabelValues(queue).Add(float64(n))
}

// Dispatched records one command. plugin is empty for unmatched text.
func (m *Metrics) Dispatched(plugin, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(plugin, outcome).Inc()
	if plugin != "" && outcome != OutcomeUnmatched {
		m.PluginDuration.WithLabelValues(plugin).Observe(elapsed.Seconds())
	}
}

// Spoken records one speech request; status is "ok", "error" or "skipped".
func (m *Metrics) Spoken(status string) {
	if m == nil {
		return
	}
	m.SpeechTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetPlugins(n int) {
	if m == nil {
		return
	}
	m.PluginsRegistered.Set(float64(n))
}

// Handler serves registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RegisterEndpoint registers the /metrics endpoint.
func RegisterEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", Handler(registry))
}
