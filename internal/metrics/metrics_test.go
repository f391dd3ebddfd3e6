package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SampleApplied("power", 1)
		m.SampleDropped("malformed")
		m.ObserverPanicked()
		m.RelayPublished("manual", "ON", nil)
		m.ForecastRun(time.Second, nil)
		m.WebsocketClients(3)
		m.HTTPRequest("/health", http.MethodGet, 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.SampleApplied("power", 120.5)
	m.SampleApplied("power", 130)
	m.SampleDropped("malformed")
	m.RelayPublished("threshold", "OFF", nil)
	m.RelayPublished("manual", "ON", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.samplesTotal.WithLabelValues("power")))
	assert.Equal(t, 130.0, testutil.ToFloat64(m.channelValue.WithLabelValues("power")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samplesDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayPublishes.WithLabelValues("threshold", "OFF", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayPublishes.WithLabelValues("manual", "ON", "rejected")))
}

func TestHandlerServesPrivateRegistry(t *testing.T) {
	a, b := New(), New()
	a.SampleApplied("voltage", 230)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `powerdash_channel_value{channel="voltage"}`)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `powerdash_channel_value{channel="voltage"} 230`)
}
