package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/metrics"
	"github.com/powerdash/backend/internal/series"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// InputCapacity is the number of samples the adapter keeps as model input.
const InputCapacity = 100

type State string

const (
	StateLoading     State = "loading"
	StateIdle        State = "idle"
	StateForecasting State = "forecasting"
	StateFailed      State = "failed"
)

// Settings configure the adapter.
type Settings struct {
	Channel     telemetry.Channel
	InputLength int
	Horizon     int
	Step        time.Duration
	Timeout     time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Channel:     telemetry.Power,
		InputLength: 60,
		Horizon:     100,
		Step:        time.Second,
		Timeout:     10 * time.Second,
	}
}

// Result is one completed forecast run.
type Result struct {
	ID          uuid.UUID      `json:"id"`
	Channel     string         `json:"channel"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Step        time.Duration  `json:"-"`
	Points      []series.Point `json:"points"`
}

// Values returns the predicted values in order.
func (r Result) Values() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Value
	}
	return out
}

// Status describes the adapter for the dashboard. A failed run keeps the
// previous result available as stale data.
type Status struct {
	State     State     `json:"state"`
	Channel   string    `json:"channel"`
	Buffered  int       `json:"buffered"`
	Required  int       `json:"required"`
	LastError string    `json:"last_error,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	Stale     bool      `json:"stale"`
}

// Adapter buffers one channel and runs the predictor in the background every
// time the buffer holds enough samples and no run is in flight.
type Adapter struct {
	predictor Predictor
	settings  Settings
	clock     clock.Clock
	logger    *utils.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	state     State
	input     series.Series
	latest    *Result
	lastErr   error
	lastRunAt time.Time
	stale     bool
	listeners []func(Result)
	ctx       context.Context
	runs      sync.WaitGroup
}

func NewAdapter(p Predictor, settings Settings, clk clock.Clock, logger *utils.Logger, m *metrics.Metrics) *Adapter {
	if clk == nil {
		clk = clock.Real()
	}
	if settings.Step <= 0 {
		settings.Step = time.Second
	}
	return &Adapter{
		predictor: p,
		settings:  settings,
		clock:     clk,
		logger:    logger.Named("forecast"),
		metrics:   m,
		state:     StateLoading,
		input:     series.New(max(InputCapacity, settings.InputLength)),
	}
}

// OnForecast registers fn for every successful run. It is called from the
// run goroutine.
func (a *Adapter) OnForecast(fn func(Result)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Load prepares the predictor. A failure is permanent for this adapter.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	if a.ctx == nil {
		a.ctx = ctx
	}
	a.mu.Unlock()

	err := a.predictor.Load(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.state = StateFailed
		a.lastErr = err
		a.logger.Error("Forecast predictor failed to load", utils.Error(err))
		return fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
	}
	a.state = StateIdle
	a.logger.Info("Forecast predictor ready")
	a.maybeStartLocked(a.clock.Now())
	return nil
}

// Run loads the predictor and keeps the adapter alive until ctx is done,
// then waits for an in-flight run to finish. A load failure only degrades
// forecasting, so Run still blocks until shutdown.
func (a *Adapter) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	_ = a.Load(ctx)

	<-ctx.Done()
	a.runs.Wait()
	return nil
}

// Observe is a telemetry.Observer buffering the configured channel.
func (a *Adapter) Observe(snap telemetry.Snapshot) {
	if !snap.Fresh(a.settings.Channel) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	at := snap.UpdatedAt()
	a.input = a.input.Append(series.NewPoint(at, snap.Value(a.settings.Channel)))
	a.maybeStartLocked(at)
}

// Trigger starts a run now. Unlike automatic triggering it reports why a run
// could not start.
func (a *Adapter) Trigger() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateLoading, StateFailed:
		return ErrPredictorUnavailable
	case StateForecasting:
		return ErrForecastBusy
	}
	if a.input.Len() < a.settings.InputLength {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, a.input.Len(), a.settings.InputLength)
	}
	a.startLocked(a.clock.Now())
	return nil
}

// maybeStartLocked must be called with mu held.
func (a *Adapter) maybeStartLocked(now time.Time) {
	if a.state != StateIdle || a.input.Len() < a.settings.InputLength {
		return
	}
	a.startLocked(now)
}

// startLocked must be called with mu held.
func (a *Adapter) startLocked(triggeredAt time.Time) {
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	a.state = StateForecasting
	values := a.input.Values()
	id := uuid.New()

	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		a.run(ctx, id, values, triggeredAt)
	}()
}

func (a *Adapter) run(ctx context.Context, id uuid.UUID, values []float64, triggeredAt time.Time) {
	if a.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.settings.Timeout)
		defer cancel()
	}

	started := time.Now()
	predicted, err := Forecast(ctx, a.predictor, values, a.settings.InputLength, a.settings.Horizon)
	a.metrics.ForecastRun(time.Since(started), err)

	a.mu.Lock()
	a.state = StateIdle
	a.lastRunAt = triggeredAt
	if err != nil {
		a.lastErr = err
		a.stale = a.latest != nil
		a.mu.Unlock()
		a.logger.Warn("Forecast run failed, keeping previous forecast",
			utils.String("run_id", id.String()),
			utils.Error(err),
		)
		return
	}

	result := Result{
		ID:          id,
		Channel:     a.settings.Channel.String(),
		TriggeredAt: triggeredAt,
		Step:        a.settings.Step,
		Points:      make([]series.Point, len(predicted)),
	}
	for i, v := range predicted {
		result.Points[i] = series.NewPoint(triggeredAt.Add(time.Duration(i+1)*a.settings.Step), v)
	}
	a.latest = &result
	a.lastErr = nil
	a.stale = false
	listeners := make([]func(Result), len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	a.logger.Debug("Forecast run completed",
		utils.String("run_id", id.String()),
		utils.Int("points", len(predicted)),
	)
	for _, fn := range listeners {
		fn(result)
	}
}

// Latest returns the most recent successful forecast.
func (a *Adapter) Latest() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return Result{}, false
	}
	return *a.latest, true
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		State:     a.state,
		Channel:   a.settings.Channel.String(),
		Buffered:  a.input.Len(),
		Required:  a.settings.InputLength,
		LastRunAt: a.lastRunAt,
		Stale:     a.stale,
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}

// Wait blocks until no run is in flight.
func (a *Adapter) Wait() {
	a.runs.Wait()
}
