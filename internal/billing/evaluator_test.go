package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

func newStore() (*telemetry.Store, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	return telemetry.NewStore(nil, utils.NewNopLogger(), metrics.New(), telemetry.WithClock(clk)), clk
}

func TestEvaluatorTracksEnergy(t *testing.T) {
	store, clk := newStore()
	eval := NewEvaluator(DefaultTariff(), Options{EnergyDivisor: 1, Growth: 0.02}, utils.NewNopLogger())
	store.Subscribe(eval.Observe)

	require.NoError(t, store.Publish(telemetry.Energy, 10))
	clk.Advance(time.Second)
	require.NoError(t, store.Publish(telemetry.Voltage, 230))

	state := eval.State()
	assert.Equal(t, DefaultTariff().Compute(10), state.Current)
	assert.InDelta(t, 10.2, state.Predicted.EnergyKWh, 1e-9)
	assert.False(t, state.ForecastBased)
	assert.Equal(t, 1, state.Actual.Len())
	assert.Equal(t, []float64{10.2}, roundAll(state.PredictedChart.Values()))
}

func TestEvaluatorChartIsBounded(t *testing.T) {
	store, clk := newStore()
	eval := NewEvaluator(DefaultTariff(), Options{EnergyDivisor: 1}, utils.NewNopLogger())
	store.Subscribe(eval.Observe)

	for i := 0; i < 15; i++ {
		clk.Advance(time.Second)
		require.NoError(t, store.Publish(telemetry.Energy, float64(i)))
	}

	state := eval.State()
	assert.Equal(t, ChartCapacity, state.Actual.Len())
	assert.Equal(t, 14.0, state.Current.EnergyKWh)
}

func TestEvaluatorUsesPowerForecast(t *testing.T) {
	store, _ := newStore()
	eval := NewEvaluator(DefaultTariff(), Options{EnergyDivisor: 1, Growth: 0.02}, utils.NewNopLogger())
	store.Subscribe(eval.Observe)
	require.NoError(t, store.Publish(telemetry.Energy, 2))

	// 100 points of 3600 W for 10 s each is one kWh
	watts := make([]float64, 100)
	for i := range watts {
		watts[i] = 3600
	}
	eval.SetPowerForecast(watts, 10*time.Second)

	state := eval.State()
	assert.True(t, state.ForecastBased)
	assert.InDelta(t, 3.0, state.Predicted.EnergyKWh, 1e-9)

	eval.ClearForecast()
	assert.InDelta(t, 2.04, eval.State().Predicted.EnergyKWh, 1e-9)
}

func TestEvaluatorDivisor(t *testing.T) {
	store, _ := newStore()
	eval := NewEvaluator(DefaultTariff(), Options{EnergyDivisor: 1000}, utils.NewNopLogger())
	store.Subscribe(eval.Observe)

	require.NoError(t, store.Publish(telemetry.Energy, 2500))
	assert.InDelta(t, 2.5, eval.State().Current.EnergyKWh, 1e-9)
}

func roundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = float64(int(v*1000+0.5)) / 1000
	}
	return out
}
