// Package loadstate classifies the connected load as ACTIVE or IDLE.
package loadstate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

type State string

const (
	Active State = "ACTIVE"
	Idle   State = "IDLE"
)

// Settings configure the classifier. Readings between IdleThreshold and
// ActiveThreshold neither start the dwell timer nor wake an idle load.
type Settings struct {
	Channel         telemetry.Channel
	IdleThreshold   float64
	ActiveThreshold float64
	Dwell           time.Duration
	Tick            time.Duration
}

// DefaultSettings watch the current channel with a five minute dwell.
func DefaultSettings() Settings {
	return Settings{
		Channel:         telemetry.Current,
		IdleThreshold:   0.2,
		ActiveThreshold: 0.3,
		Dwell:           5 * time.Minute,
		Tick:            500 * time.Millisecond,
	}
}

// Status is the classifier output for the dashboard.
type Status struct {
	State   State         `json:"state"`
	Channel string        `json:"channel"`
	Reading float64       `json:"reading"`
	IdleFor time.Duration `json:"-"`
	Since   time.Time     `json:"since"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		alias
		IdleSeconds int64 `json:"idle_seconds"`
	}{alias: alias(s), IdleSeconds: int64(s.IdleFor / time.Second)})
}

// Evaluator is a two-state machine over one channel.
type Evaluator struct {
	settings Settings
	clock    clock.Clock
	logger   *utils.Logger

	mu         sync.Mutex
	state      State
	reading    float64
	below      bool
	belowSince time.Time
	since      time.Time
	changed    bool
	listeners  []func(Status)
}

func NewEvaluator(settings Settings, clk clock.Clock, logger *utils.Logger) *Evaluator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Evaluator{
		settings: settings,
		clock:    clk,
		logger:   logger.Named("loadstate"),
		state:    Active,
		since:    clk.Now(),
	}
}

// Observe is a telemetry.Observer. The snapshot delivered at subscription
// carries no reading and is ignored.
func (e *Evaluator) Observe(snap telemetry.Snapshot) {
	if !snap.Fresh(e.settings.Channel) {
		return
	}
	e.Reading(snap.Value(e.settings.Channel), e.clock.Now())
}

// OnChange registers fn for every state transition. It runs after the
// evaluator's lock is released.
func (e *Evaluator) OnChange(fn func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Reading feeds one sample taken at now.
func (e *Evaluator) Reading(value float64, now time.Time) {
	e.mu.Lock()
	defer e.notify()
	defer e.mu.Unlock()

	e.reading = value
	switch {
	case value > e.settings.ActiveThreshold:
		e.below = false
		e.transition(Active, now)
	case value < e.settings.IdleThreshold:
		if !e.below {
			e.below = true
			e.belowSince = now
		}
	default:
		e.below = false
	}
	e.evaluate(now)
}

// Evaluate re-checks the dwell condition without a new reading.
func (e *Evaluator) Evaluate(now time.Time) {
	e.mu.Lock()
	defer e.notify()
	defer e.mu.Unlock()
	e.evaluate(now)
}

func (e *Evaluator) notify() {
	e.mu.Lock()
	if !e.changed {
		e.mu.Unlock()
		return
	}
	e.changed = false
	listeners := append([](func(Status))(nil), e.listeners...)
	e.mu.Unlock()

	status := e.Status()
	for _, fn := range listeners {
		fn(status)
	}
}

func (e *Evaluator) evaluate(now time.Time) {
	if e.state == Active && e.below && now.Sub(e.belowSince) >= e.settings.Dwell {
		e.transition(Idle, now)
	}
}

func (e *Evaluator) transition(to State, now time.Time) {
	if e.state == to {
		return
	}
	e.logger.Info("Load state changed",
		utils.String("from", string(e.state)),
		utils.String("to", string(to)),
		utils.Float64("reading", e.reading),
	)
	e.state = to
	e.since = now
	e.changed = true
}

// Status reports the current classification.
func (e *Evaluator) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	var idleFor time.Duration
	if e.below {
		idleFor = e.clock.Now().Sub(e.belowSince)
	}
	return Status{
		State:   e.state,
		Channel: e.settings.Channel.String(),
		Reading: e.reading,
		IdleFor: idleFor,
		Since:   e.since,
	}
}

// Run evaluates on every tick until ctx is done.
func (e *Evaluator) Run(ctx context.Context) error {
	tick := e.settings.Tick
	if tick <= 0 {
		tick = DefaultSettings().Tick
	}

	var (
		mu    sync.Mutex
		timer clock.Timer
		arm   func()
	)
	arm = func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		timer = e.clock.AfterFunc(tick, func() {
			e.Evaluate(e.clock.Now())
			arm()
		})
	}
	arm()

	<-ctx.Done()
	mu.Lock()
	if timer != nil {
		timer.Stop()
	}
	mu.Unlock()
	return nil
}
