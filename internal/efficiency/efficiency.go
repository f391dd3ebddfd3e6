// Package efficiency scores today's consumption against a daily energy budget.
package efficiency

import (
	"sync"

	"github.com/powerdash/backend/internal/telemetry"
)

type Band string

const (
	BandExcellent       Band = "excellent"
	BandModerate        Band = "moderate"
	BandHighConsumption Band = "high consumption"
)

// Classify maps a score onto its display band.
func Classify(score float64) Band {
	switch {
	case score > 70:
		return BandExcellent
	case score > 40:
		return BandModerate
	default:
		return BandHighConsumption
	}
}

// Score returns the share of target still unused, clamped to [0, 100]. ok is
// false when target is not positive.
func Score(targetKWh, todayKWh float64) (score float64, ok bool) {
	if targetKWh <= 0 {
		return 0, false
	}
	score = (targetKWh - todayKWh) / targetKWh * 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, true
}

type State struct {
	TargetKWh float64 `json:"target_kwh"`
	TodayKWh  float64 `json:"today_kwh"`
	Score     float64 `json:"score"`
	Band      Band    `json:"band"`
}

// Evaluator keeps the efficiency score current with the energy channel.
type Evaluator struct {
	divisor float64

	mu     sync.RWMutex
	target float64
	today  float64
	score  float64
}

// NewEvaluator starts at a perfect score. divisor converts the energy channel
// to kWh.
func NewEvaluator(targetKWh, divisor float64) *Evaluator {
	if divisor <= 0 {
		divisor = 1
	}
	return &Evaluator{divisor: divisor, target: targetKWh, score: 100}
}

// Observe is a telemetry.Observer.
func (e *Evaluator) Observe(snap telemetry.Snapshot) {
	if _, ok := snap.Updated(); ok && !snap.Fresh(telemetry.Energy) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.today = snap.Value(telemetry.Energy) / e.divisor
	e.recompute()
}

// SetTarget changes the daily budget. A non-positive target leaves the score
// where it was.
func (e *Evaluator) SetTarget(targetKWh float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.target = targetKWh
	e.recompute()
}

func (e *Evaluator) recompute() {
	if score, ok := Score(e.target, e.today); ok {
		e.score = score
	}
}

func (e *Evaluator) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return State{
		TargetKWh: e.target,
		TodayKWh:  e.today,
		Score:     e.score,
		Band:      Classify(e.score),
	}
}
