package actuation

import (
	"fmt"
	"math"
	"sync"

	"github.com/powerdash/backend/internal/series"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// ThresholdChartCapacity is the number of power readings kept for the chart.
const ThresholdChartCapacity = 30

// DefaultHysteresis is the fraction of the limit power must fall below before
// a cutoff is undone.
const DefaultHysteresis = 0.9

type ThresholdStatus struct {
	Enabled      bool          `json:"enabled"`
	Limit        float64       `json:"limit_watts"`
	RestoreBelow float64       `json:"restore_below_watts"`
	CutoffActive bool          `json:"cutoff_active"`
	Reading      float64       `json:"reading_watts"`
	Chart        series.Series `json:"chart"`
}

// ThresholdOption configures a ThresholdPolicy
type ThresholdOption func(*ThresholdPolicy)

// WithRestoreOnly limits ON commands to undoing a cutoff the policy
// performed itself.
func WithRestoreOnly(v bool) ThresholdOption {
	return func(p *ThresholdPolicy) { p.restoreOnly = v }
}

// ThresholdPolicy switches the relay OFF whenever power exceeds the limit and
// ON whenever power is below the hysteresis band. Both commands are
// re-asserted on every reading.
type ThresholdPolicy struct {
	out         *Output
	hysteresis  float64
	restoreOnly bool
	logger      *utils.Logger

	mu      sync.Mutex
	enabled bool
	limit   float64
	cutoff  bool
	reading float64
	chart   series.Series
}

func NewThresholdPolicy(out *Output, hysteresis float64, logger *utils.Logger, opts ...ThresholdOption) *ThresholdPolicy {
	if hysteresis <= 0 || hysteresis >= 1 {
		hysteresis = DefaultHysteresis
	}
	p := &ThresholdPolicy{
		out:        out,
		hysteresis: hysteresis,
		logger:     logger.Named("threshold"),
		chart:      series.New(ThresholdChartCapacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Set arms the policy with a limit in watts.
func (p *ThresholdPolicy) Set(limit float64) error {
	if math.IsNaN(limit) || math.IsInf(limit, 0) || limit <= 0 {
		return fmt.Errorf("%w: threshold must be a positive number of watts", ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = true
	p.limit = limit
	p.logger.Info("Threshold set", utils.Float64("limit", limit))
	return nil
}

// Clear disarms the policy. A pending cutoff is forgotten, not undone.
func (p *ThresholdPolicy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = false
	p.limit = 0
	p.cutoff = false
	p.logger.Info("Threshold cleared")
}

// Observe is a telemetry.Observer reacting to power samples.
func (p *ThresholdPolicy) Observe(snap telemetry.Snapshot) {
	if !snap.Fresh(telemetry.Power) {
		return
	}
	power := snap.Value(telemetry.Power)

	p.mu.Lock()
	p.chart = p.chart.Append(series.NewPoint(snap.UpdatedAt(), power))
	p.mu.Unlock()

	p.Evaluate(power)
}

// Evaluate applies one power reading.
func (p *ThresholdPolicy) Evaluate(power float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reading = power
	if !p.enabled {
		return
	}

	switch {
	case power > p.limit:
		if err := p.out.Publish(IntentThreshold, Off); err != nil {
			return
		}
		if !p.cutoff {
			p.logger.Warn("Power exceeded threshold, relay switched off",
				utils.Float64("power", power),
				utils.Float64("limit", p.limit),
			)
		}
		p.cutoff = true
	case power < p.limit*p.hysteresis:
		if p.restoreOnly && !p.cutoff {
			return
		}
		if err := p.out.Publish(IntentThreshold, On); err != nil {
			return
		}
		if p.cutoff {
			p.logger.Info("Power back under threshold, relay restored", utils.Float64("power", power))
		}
		p.cutoff = false
	}
}

func (p *ThresholdPolicy) Status() ThresholdStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ThresholdStatus{
		Enabled:      p.enabled,
		CutoffActive: p.cutoff,
		Reading:      p.reading,
		Chart:        p.chart,
	}
	if p.enabled {
		s.Limit = p.limit
		s.RestoreBelow = p.limit * p.hysteresis
	}
	return s
}
