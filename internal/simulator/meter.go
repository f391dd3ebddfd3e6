// Package simulator plays the role of the ESP32 power meter: it publishes one
// reading per channel on every tick and honours relay commands.
package simulator

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/powerdash/backend/internal/telemetry"
)

// Meter models a single-phase load behind a relay.
type Meter struct {
	mu       sync.Mutex
	rng      *rand.Rand
	loadW    float64
	on       bool
	energyWh float64
	last     time.Time
}

// NewMeter returns a meter drawing around loadW watts with the relay closed.
func NewMeter(loadW float64, seed int64) *Meter {
	return &Meter{
		rng:   rand.New(rand.NewSource(seed)),
		loadW: loadW,
		on:    true,
	}
}

// HandleRelay applies a relay payload. Anything mentioning "off" opens the
// relay, anything mentioning "on" closes it.
func (m *Meter) HandleRelay(payload []byte) {
	p := strings.ToLower(strings.TrimSpace(string(payload)))

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.Contains(p, "off"):
		m.on = false
	case strings.Contains(p, "on"):
		m.on = true
	}
}

// On reports the relay position.
func (m *Meter) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Read takes one reading at now. Energy integrates the power drawn since the
// previous reading.
func (m *Meter) Read(now time.Time) map[telemetry.Channel]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	voltage := 230 + (m.rng.Float64()-0.5)*6
	frequency := 50 + (m.rng.Float64()-0.5)*0.1
	pf := 0.85 + m.rng.Float64()*0.14

	var power float64
	if m.on {
		power = m.loadW * (0.8 + m.rng.Float64()*0.4)
	}

	if !m.last.IsZero() {
		m.energyWh += power * now.Sub(m.last).Hours()
	}
	m.last = now

	current := power / (voltage * pf)
	apparent := voltage * current
	reactive := math.Sqrt(math.Max(apparent*apparent-power*power, 0))

	return map[telemetry.Channel]float64{
		telemetry.Current:       current,
		telemetry.Voltage:       voltage,
		telemetry.Power:         power,
		telemetry.Energy:        m.energyWh,
		telemetry.Frequency:     frequency,
		telemetry.PowerFactor:   pf,
		telemetry.ApparentPower: apparent,
		telemetry.ReactivePower: reactive,
	}
}
