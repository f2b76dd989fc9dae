package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.Utterance()
	m.Utterance()
	m.RecognizeError()
	m.Dropped(QueueCommands, 3)
	m.Dropped(QueueSpeech, 0)
	m.Dispatched("weather", OutcomeOK, 120*time.Millisecond)
	m.Dispatched("", OutcomeUnmatched, 0)
	m.Spoken("ok")
	m.SetPlugins(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UtterancesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecognizeErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DroppedTotal.WithLabelValues(QueueCommands)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("weather", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("", OutcomeUnmatched)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PluginDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeechTotal.WithLabelValues("ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PluginsRegistered))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Utterance()
		m.RecognizeError()
		m.Dropped(QueueCommands, 1)
		m.Dispatched("weather", OutcomeError, time.Second)
		m.Spoken("error")
		m.SetPlugins(1)
	})
}

func TestRegisterEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.Utterance()

	mux := http.NewServeMux()
	RegisterEndpoint(mux, registry)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "murmur_utterances_total 1")
}
