package ui

import (
	"sync"

	"github.com/google/uuid"
)

// Marker is a user-placed point annotation at a data index.
type Marker struct {
	ID    string
	Index int
	Price float64
}

// Drawing is a committed line segment between two chart points.
type Drawing struct {
	ID         string
	StartIndex int
	StartPrice float64
	EndIndex   int
	EndPrice   float64
}

// Measurement captures the delta between two chart points.
type Measurement struct {
	ID         string
	StartIndex int
	StartPrice float64
	EndIndex   int
	EndPrice   float64
}

// DeltaPrice returns the absolute price difference.
func (m Measurement) DeltaPrice() float64 { return m.EndPrice - m.StartPrice }

// DeltaPercent returns the percent move from start to end.
func (m Measurement) DeltaPercent() float64 {
	if m.StartPrice == 0 {
		return 0
	}
	return (m.EndPrice - m.StartPrice) / m.StartPrice * 100
}

// DeltaIndex returns how many buckets the measurement spans.
func (m Measurement) DeltaIndex() int { return m.EndIndex - m.StartIndex }

// Annotations is the append-only set of user marks. Entries are value
// objects; nothing edits them after commit, they are only cleared
// wholesale.
type Annotations struct {
	mu           sync.RWMutex
	markers      []Marker
	drawings     []Drawing
	measurements []Measurement
}

func NewAnnotations() *Annotations {
	return &Annotations{}
}

// AddMarker commits a point annotation and returns it.
func (a *Annotations) AddMarker(index int, price float64) Marker {
	m := Marker{ID: uuid.New().String(), Index: index, Price: price}
	a.mu.Lock()
	a.markers = append(a.markers, m)
	a.mu.Unlock()
	return m
}

// AddDrawing commits a finished line segment.
func (a *Annotations) AddDrawing(startIdx int, startPrice float64, endIdx int, endPrice float64) Drawing {
	d := Drawing{
		ID:         uuid.New().String(),
		StartIndex: startIdx, StartPrice: startPrice,
		EndIndex: endIdx, EndPrice: endPrice,
	}
	a.mu.Lock()
	a.drawings = append(a.drawings, d)
	a.mu.Unlock()
	return d
}

// AddMeasurement commits a finished measurement.
func (a *Annotations) AddMeasurement(startIdx int, startPrice float64, endIdx int, endPrice float64) Measurement {
	m := Measurement{
		ID:         uuid.New().String(),
		StartIndex: startIdx, StartPrice: startPrice,
		EndIndex: endIdx, EndPrice: endPrice,
	}
	a.mu.Lock()
	a.measurements = append(a.measurements, m)
	a.mu.Unlock()
	return m
}

// Markers returns a copy of the committed markers.
func (a *Annotations) Markers() []Marker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Marker, len(a.markers))
	copy(out, a.markers)
	return out
}

// Drawings returns a copy of the committed drawings.
func (a *Annotations) Drawings() []Drawing {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Drawing, len(a.drawings))
	copy(out, a.drawings)
	return out
}

// Measurements returns a copy of the committed measurements.
func (a *Annotations) Measurements() []Measurement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Measurement, len(a.measurements))
	copy(out, a.measurements)
	return out
}

// Clear drops every annotation.
func (a *Annotations) Clear() {
	a.mu.Lock()
	a.markers = nil
	a.drawings = nil
	a.measurements = nil
	a.mu.Unlock()
}
