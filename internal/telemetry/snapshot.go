package telemetry

import (
	"encoding/json"
	"time"
)

// Snapshot is the latest value of every channel. It is a plain value: copies
// handed to observers never alias the store's state.
type Snapshot struct {
	values    [channelCount]float64
	seq       uint64
	updated   Channel
	hasUpdate bool
	updatedAt time.Time
}

// Value returns the latest value of c, 0 before the first sample.
func (s Snapshot) Value(c Channel) float64 {
	if !c.Valid() {
		return 0
	}
	return s.values[c]
}

// Seq is the number of samples applied so far.
func (s Snapshot) Seq() uint64 {
	return s.seq
}

// UpdatedAt is the arrival time of the sample that produced this snapshot.
func (s Snapshot) UpdatedAt() time.Time {
	return s.updatedAt
}

// Updated returns the channel whose sample produced this snapshot. It is
// false for the initial snapshot delivered before any sample arrived.
func (s Snapshot) Updated() (Channel, bool) {
	return s.updated, s.hasUpdate
}

// Fresh reports whether this snapshot was produced by a sample on c.
func (s Snapshot) Fresh(c Channel) bool {
	return s.hasUpdate && s.updated == c
}

// Sample returns the reading of c carried by this snapshot.
func (s Snapshot) Sample(c Channel) Sample {
	return Sample{Channel: c, Value: s.Value(c), At: s.updatedAt}
}

// Values returns the snapshot keyed by channel name.
func (s Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, channelCount)
	for c, v := range s.values {
		out[channelNames[c]] = v
	}
	return out
}

// MarshalJSON renders the snapshot for the dashboard.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var updated string
	if s.hasUpdate {
		updated = s.updated.String()
	}
	return json.Marshal(struct {
		Values    map[string]float64 `json:"values"`
		Seq       uint64             `json:"seq"`
		Updated   string             `json:"updated,omitempty"`
		UpdatedAt *time.Time         `json:"updated_at,omitempty"`
	}{
		Values:    s.Values(),
		Seq:       s.seq,
		Updated:   updated,
		UpdatedAt: timePtr(s.updatedAt),
	})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
