package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func setup(p Predictor, settings Settings) (*Adapter, *telemetry.Store, *clock.Fake) {
	clk := clock.NewFake(t0)
	store := telemetry.NewStore(nil, utils.NewNopLogger(), metrics.New(), telemetry.WithClock(clk))
	a := NewAdapter(p, settings, clk, utils.NewNopLogger(), metrics.New())
	store.Subscribe(a.Observe)
	return a, store, clk
}

func smallSettings() Settings {
	return Settings{Channel: telemetry.Power, InputLength: 5, Horizon: 6, Step: time.Second}
}

func feed(t *testing.T, store *telemetry.Store, clk *clock.Fake, n int) {
	for i := 0; i < n; i++ {
		clk.Advance(time.Second)
		require.NoError(t, store.Publish(telemetry.Power, float64(100+i)))
	}
}

func TestAdapterRunsAtWatermark(t *testing.T) {
	p := &echoPredictor{k: 3}
	a, store, clk := setup(p, smallSettings())
	require.NoError(t, a.Load(context.Background()))

	results := make(chan Result, 1)
	a.OnForecast(func(r Result) { results <- r })

	feed(t, store, clk, 4)
	assert.Equal(t, StateIdle, a.Status().State)
	_, ok := a.Latest()
	assert.False(t, ok)

	feed(t, store, clk, 1)
	r := <-results
	a.Wait()

	require.Len(t, r.Points, 6)
	assert.Equal(t, "power", r.Channel)
	assert.Equal(t, t0.Add(5*time.Second), r.TriggeredAt)
	assert.Equal(t, t0.Add(6*time.Second), r.Points[0].Time)
	assert.Equal(t, t0.Add(11*time.Second), r.Points[5].Time)
	assert.InDelta(t, 104, r.Points[0].Value, 1e-9)

	latest, ok := a.Latest()
	require.True(t, ok)
	assert.Equal(t, r.ID, latest.ID)
}

func TestAdapterIgnoresOtherChannels(t *testing.T) {
	a, store, _ := setup(&echoPredictor{k: 1}, smallSettings())
	require.NoError(t, a.Load(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Publish(telemetry.Voltage, 230))
	}
	assert.Equal(t, 0, a.Status().Buffered)
}

func TestAdapterLoadFailureIsPermanent(t *testing.T) {
	p := &echoPredictor{k: 1, loadErr: errors.New("model missing")}
	a, store, clk := setup(p, smallSettings())

	err := a.Load(context.Background())
	assert.ErrorIs(t, err, ErrPredictorUnavailable)

	feed(t, store, clk, 10)
	status := a.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.LastError, "model missing")
	assert.ErrorIs(t, a.Trigger(), ErrPredictorUnavailable)
}

func TestAdapterIgnoresTriggersWhileRunning(t *testing.T) {
	p := &echoPredictor{k: 6, gate: make(chan struct{})}
	a, store, clk := setup(p, smallSettings())
	require.NoError(t, a.Load(context.Background()))

	feed(t, store, clk, 5)
	assert.Equal(t, StateForecasting, a.Status().State)

	feed(t, store, clk, 3)
	assert.ErrorIs(t, a.Trigger(), ErrForecastBusy)

	close(p.gate)
	a.Wait()

	p.mu.Lock()
	calls := len(p.windows)
	p.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateIdle, a.Status().State)
}

func TestAdapterKeepsPreviousForecastOnError(t *testing.T) {
	p := &echoPredictor{k: 6, failAt: 2}
	a, store, clk := setup(p, smallSettings())
	require.NoError(t, a.Load(context.Background()))

	feed(t, store, clk, 5)
	a.Wait()
	first, ok := a.Latest()
	require.True(t, ok)

	require.NoError(t, a.Trigger())
	a.Wait()

	latest, ok := a.Latest()
	require.True(t, ok)
	assert.Equal(t, first.ID, latest.ID)

	status := a.Status()
	assert.True(t, status.Stale)
	assert.NotEmpty(t, status.LastError)
}

func TestAdapterTriggerNeedsData(t *testing.T) {
	a, store, clk := setup(&echoPredictor{k: 1}, smallSettings())
	require.NoError(t, a.Load(context.Background()))
	feed(t, store, clk, 2)

	assert.ErrorIs(t, a.Trigger(), ErrInsufficientData)
}

func TestAdapterRunStopsWithContext(t *testing.T) {
	a, _, _ := setup(&echoPredictor{k: 1}, smallSettings())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Status().State == StateIdle }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
