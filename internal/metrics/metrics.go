// Package metrics exposes the service's Prometheus instruments. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powerdash"

type Metrics struct {
	registry *prometheus.Registry

	samplesTotal     *prometheus.CounterVec
	samplesDropped   *prometheus.CounterVec
	channelValue     *prometheus.GaugeVec
	observerPanics   prometheus.Counter
	relayPublishes   *prometheus.CounterVec
	forecastRuns     *prometheus.CounterVec
	forecastDuration prometheus.Histogram
	wsClients        prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New builds the instruments on a private registry, so several instances can
// coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Telemetry samples applied to the store by channel.",
		}, []string{"channel"}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Telemetry messages discarded at ingestion by reason.",
		}, []string{"reason"}),
		channelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Latest value of each telemetry channel.",
		}, []string{"channel"}),
		observerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_panics_total",
			Help:      "Snapshot observers that panicked during a broadcast.",
		}),
		relayPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publishes_total",
			Help:      "Relay commands by originating intent, payload and outcome.",
		}, []string{"intent", "payload", "outcome"}),
		forecastRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_runs_total",
			Help:      "Forecast runs by outcome.",
		}, []string{"outcome"}),
		forecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_run_duration_seconds",
			Help:      "Wall time of forecast runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected dashboard websocket clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed by route and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samplesTotal,
		m.samplesDropped,
		m.channelValue,
		m.observerPanics,
		m.relayPublishes,
		m.forecastRuns,
		m.forecastDuration,
		m.wsClients,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SampleApplied(channel string, value float64) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(channel).Inc()
	m.channelValue.WithLabelValues(channel).Set(value)
}

func (m *Metrics) SampleDropped(reason string) {
	if m == nil {
		return
	}
	m.samplesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserverPanicked() {
	if m == nil {
		return
	}
	m.observerPanics.Inc()
}

func (m *Metrics) RelayPublished(intent, payload string, err error) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.relayPublishes.WithLabelValues(intent, payload, outcome).Inc()
}

func (m *Metrics) ForecastRun(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.forecastRuns.WithLabelValues(outcome).Inc()
	m.forecastDuration.Observe(duration.Seconds())
}

func (m *Metrics) WebsocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func (m *Metrics) HTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
