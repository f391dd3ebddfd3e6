// Package history keeps the short per-channel chart feeds shown next to every
// reading card.
package history

import (
	"sync"

	"github.com/powerdash/backend/internal/series"
	"github.com/powerdash/backend/internal/telemetry"
)

// Capacity is the number of points kept per channel.
const Capacity = 10

// Recorder appends each fresh sample to its channel's series.
type Recorder struct {
	mu     sync.RWMutex
	series map[telemetry.Channel]series.Series
}

func NewRecorder() *Recorder {
	r := &Recorder{series: make(map[telemetry.Channel]series.Series)}
	for _, c := range telemetry.Channels() {
		r.series[c] = series.New(Capacity)
	}
	return r
}

// Observe is a telemetry.Observer.
func (r *Recorder) Observe(snap telemetry.Snapshot) {
	c, ok := snap.Updated()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[c] = r.series[c].Append(series.NewPoint(snap.UpdatedAt(), snap.Value(c)))
}

// Series returns the chart feed of c.
func (r *Recorder) Series(c telemetry.Channel) (series.Series, error) {
	if !c.Valid() {
		return series.Series{}, telemetry.ErrUnknownChannel
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.series[c], nil
}

// All returns every chart feed keyed by channel name.
func (r *Recorder) All() map[string]series.Series {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]series.Series, len(r.series))
	for c, s := range r.series {
		out[c.String()] = s
	}
	return out
}
