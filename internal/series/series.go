// Package series implements the fixed-capacity rolling windows that back every
// dashboard chart.
package series

import (
	"encoding/json"
	"time"
)

// LabelLayout renders point labels as minutes:seconds of the arrival time.
const LabelLayout = "04:05"

// Point is one charted value.
type Point struct {
	Label string    `json:"label"`
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// NewPoint stamps value with t and its chart label.
func NewPoint(t time.Time, value float64) Point {
	return Point{Label: t.Format(LabelLayout), Time: t, Value: value}
}

// Series is an ordered FIFO window of at most Cap points. Append never
// mutates the receiver, so a Series can be handed to readers freely.
type Series struct {
	capacity int
	points   []Point
}

// New returns an empty series. A capacity below 1 is treated as 1.
func New(capacity int) Series {
	if capacity < 1 {
		capacity = 1
	}
	return Series{capacity: capacity}
}

// Append returns a new series with p at the tail, evicting from the head
// once the capacity is reached.
func (s Series) Append(p Point) Series {
	capacity := s.Cap()
	start := 0
	if len(s.points) >= capacity {
		start = len(s.points) - capacity + 1
	}

	points := make([]Point, 0, capacity)
	points = append(points, s.points[start:]...)
	points = append(points, p)
	return Series{capacity: capacity, points: points}
}

// Points returns a copy of the points, oldest first.
func (s Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Values returns the point values, oldest first.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Value
	}
	return out
}

func (s Series) Len() int {
	return len(s.points)
}

func (s Series) Cap() int {
	if s.capacity < 1 {
		return 1
	}
	return s.capacity
}

// Last returns the newest point.
func (s Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// MarshalJSON renders the window with its capacity.
func (s Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Capacity int     `json:"capacity"`
		Points   []Point `json:"points"`
	}{Capacity: s.Cap(), Points: s.Points()})
}
