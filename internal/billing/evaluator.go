package billing

import (
	"sync"
	"time"

	"github.com/powerdash/backend/internal/series"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// ChartCapacity is the number of points kept for the bill chart.
const ChartCapacity = 10

const wattSecondsPerKWh = 3.6e6

// Options tune how the evaluator reads the energy channel and projects it.
type Options struct {
	// EnergyDivisor converts the energy channel into kWh.
	EnergyDivisor float64
	// Growth is the projection applied when no power forecast is available.
	Growth float64
}

// State is the evaluator's view for the dashboard.
type State struct {
	Current        Breakdown     `json:"current"`
	Predicted      Breakdown     `json:"predicted"`
	ForecastBased  bool          `json:"forecast_based"`
	Actual         series.Series `json:"actual"`
	PredictedChart series.Series `json:"predicted_chart"`
}

// Evaluator recomputes the current and predicted bill from the energy
// channel of every snapshot.
type Evaluator struct {
	tariff Tariff
	opts   Options
	logger *utils.Logger

	mu            sync.RWMutex
	energyKWh     float64
	forecastPower []float64
	forecastStep  time.Duration
	current       Breakdown
	predicted     Breakdown
	forecastBased bool
	actual        series.Series
	predChart     series.Series
}

// NewEvaluator creates an evaluator with the zero-energy bill precomputed.
func NewEvaluator(tariff Tariff, opts Options, logger *utils.Logger) *Evaluator {
	if opts.EnergyDivisor <= 0 {
		opts.EnergyDivisor = 1
	}
	e := &Evaluator{
		tariff:    tariff,
		opts:      opts,
		logger:    logger.Named("billing"),
		actual:    series.New(ChartCapacity),
		predChart: series.New(ChartCapacity),
	}
	e.recompute()
	return e
}

// Observe is a telemetry.Observer. Only energy samples move the charts.
func (e *Evaluator) Observe(snap telemetry.Snapshot) {
	if _, ok := snap.Updated(); ok && !snap.Fresh(telemetry.Energy) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.energyKWh = snap.Value(telemetry.Energy) / e.opts.EnergyDivisor
	e.recompute()

	if snap.Fresh(telemetry.Energy) {
		at := snap.UpdatedAt()
		e.actual = e.actual.Append(series.NewPoint(at, e.current.EnergyKWh))
		e.predChart = e.predChart.Append(series.NewPoint(at, e.predicted.EnergyKWh))
	}
}

// SetPowerForecast installs a predicted power series in watts, spaced step
// apart. The predicted bill then adds the forecast energy to the current
// reading instead of applying the growth factor.
func (e *Evaluator) SetPowerForecast(watts []float64, step time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.forecastPower = append([]float64(nil), watts...)
	e.forecastStep = step
	e.recompute()
	e.logger.Debug("Applied power forecast", utils.Int("points", len(watts)))
}

// ClearForecast falls back to the growth projection.
func (e *Evaluator) ClearForecast() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.forecastPower = nil
	e.recompute()
}

// State returns the latest breakdowns and chart series.
func (e *Evaluator) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return State{
		Current:        e.current,
		Predicted:      e.predicted,
		ForecastBased:  e.forecastBased,
		Actual:         e.actual,
		PredictedChart: e.predChart,
	}
}

// recompute must be called with mu held.
func (e *Evaluator) recompute() {
	e.current = e.tariff.Compute(e.energyKWh)

	predicted := e.energyKWh * (1 + e.opts.Growth)
	e.forecastBased = false
	if len(e.forecastPower) > 0 && e.forecastStep > 0 {
		var wattSeconds float64
		for _, w := range e.forecastPower {
			if w > 0 {
				wattSeconds += w * e.forecastStep.Seconds()
			}
		}
		predicted = e.energyKWh + wattSeconds/wattSecondsPerKWh
		e.forecastBased = true
	}
	e.predicted = e.tariff.Compute(predicted)
}
