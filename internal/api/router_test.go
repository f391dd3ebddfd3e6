package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/db"
	"github.com/powerdash/backend/internal/forecast"
	"github.com/powerdash/backend/internal/services"
	"github.com/powerdash/backend/internal/utils"
)

type fakeBroker struct {
	mu        sync.Mutex
	handler   func(string, []byte)
	published []string
	connected bool
}

func (f *fakeBroker) Subscribe(topics []string, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topics ...string) error { return nil }

func (f *fakeBroker) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, string(payload))
	return nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Connect(ctx context.Context) error {
	f.setConnected(true)
	return nil
}

func (f *fakeBroker) Disconnect() { f.setConnected(false) }

func (f *fakeBroker) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeBroker) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(topic, []byte(payload))
}

func (f *fakeBroker) payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

type testServer struct {
	router *Router
	broker *fakeBroker
	sp     *services.ServiceProvider
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Server.Environment = "test"

	logger := utils.NewNopLogger()
	database, err := db.NewDatabase(&cfg.Journal, logger)
	require.NoError(t, err)

	broker := &fakeBroker{}
	sp := services.NewServiceProvider(logger, cfg, database, services.WithBroker(broker))
	require.NoError(t, sp.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sp.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = sp.Shutdown()
		_ = database.Close()
	})

	router := NewRouter(cfg, logger, sp)
	router.SetupRoutes()
	return &testServer{router: router, broker: broker, sp: sp}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["mqtt_connected"])
}

func TestReadingsAndSeries(t *testing.T) {
	s := setupServer(t)
	s.broker.deliver("power/voltage", "231.5")

	w := s.do(http.MethodGet, "/api/v1/readings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode(t, w)["snapshot"].(map[string]interface{})
	values := snapshot["values"].(map[string]interface{})
	assert.Equal(t, 231.5, values["voltage"])
	assert.Equal(t, "voltage", snapshot["updated"])

	w = s.do(http.MethodGet, "/api/v1/readings/voltage/series", nil)
	require.Equal(t, http.StatusOK, w.Code)
	series := decode(t, w)["series"].(map[string]interface{})
	assert.Len(t, series["points"], 1)

	w = s.do(http.MethodGet, "/api/v1/readings/humidity/series", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBillAtZeroEnergy(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodGet, "/api/v1/bill", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rounded := decode(t, w)["current_rounded"].(map[string]interface{})
	assert.Equal(t, 107.0, rounded["total"])
}

func TestEfficiencyTarget(t *testing.T) {
	s := setupServer(t)
	s.broker.deliver("power/energy", "2000")

	w := s.do(http.MethodPut, "/api/v1/efficiency/target", map[string]float64{"target_kwh": 4})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 50.0, body["score"], 1e-9)

	w = s.do(http.MethodPut, "/api/v1/efficiency/target", map[string]float64{"target_kwh": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoadState(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodGet, "/api/v1/load-state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACTIVE", decode(t, w)["state"])
}

func TestRelayToggleAndJournal(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/v1/relay/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ON", decode(t, w)["last_command"])
	assert.Equal(t, []string{"ON"}, s.broker.payloads())

	require.Eventually(t, func() bool {
		w := s.do(http.MethodGet, "/api/v1/relay/events?intent=manual", nil)
		if w.Code != http.StatusOK {
			return false
		}
		pagination := decode(t, w)["pagination"].(map[string]interface{})
		return pagination["total_items"] == 1.0
	}, 2*time.Second, 10*time.Millisecond)

	w = s.do(http.MethodGet, "/api/v1/relay/events?accepted=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/relay/events/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelayRejectsWhileDisconnected(t *testing.T) {
	s := setupServer(t)
	s.broker.setConnected(false)

	w := s.do(http.MethodPost, "/api/v1/relay/toggle", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, s.broker.payloads())
}

func TestRelayTimerValidationAndConflict(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/v1/relay/timer", map[string]int{"seconds": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/relay/timer", map[string]int{"seconds": 60})
	require.Equal(t, http.StatusOK, w.Code)
	controller := decode(t, w)["controller"].(map[string]interface{})
	assert.Equal(t, "fixed_timer", controller["intent"])

	w = s.do(http.MethodPost, "/api/v1/relay/timer", map[string]int{"seconds": 30})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/v1/relay/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OFF", decode(t, w)["last_command"])
}

func TestRelayScheduleValidation(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPost, "/api/v1/relay/schedule", map[string]string{"start": "25:00", "end": "26:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/relay/schedule", map[string]string{"start": "00:00", "end": "00:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/relay/schedule", map[string]string{"start": "00:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThresholdEndpoints(t *testing.T) {
	s := setupServer(t)

	w := s.do(http.MethodPut, "/api/v1/relay/threshold", map[string]float64{"limit_watts": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/v1/relay/threshold", map[string]float64{"limit_watts": 100})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["enabled"])

	s.broker.deliver("power/power", "150")
	assert.Equal(t, []string{"OFF"}, s.broker.payloads())

	w = s.do(http.MethodGet, "/api/v1/relay/threshold", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["cutoff_active"])

	w = s.do(http.MethodDelete, "/api/v1/relay/threshold", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["enabled"])
}

func TestForecastNeedsData(t *testing.T) {
	s := setupServer(t)

	require.Eventually(t, func() bool {
		return s.sp.GetForecast().Status().State == forecast.StateIdle
	}, 2*time.Second, 10*time.Millisecond)

	w := s.do(http.MethodPost, "/api/v1/forecast/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/v1/forecast", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["result"])
	assert.Equal(t, "idle", body["status"].(map[string]interface{})["state"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	s.do(http.MethodGet, "/health", nil)

	w := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "powerdash_http_requests_total")
}
