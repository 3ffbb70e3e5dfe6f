// Package metrics records small time series of coordinator activity for
// observability purposes (e.g. the demo CLI's /metrics endpoints). It never
// persists the slot map itself — see the coordinator's non-goals.
package metrics

import (
	"sync"
	"time"
)

// Point is a single timestamped sample.
type Point struct {
	Timestamp int64 `json:"ts"` // Unix timestamp in milliseconds
	Value     int64 `json:"v"`
}

// TimeSeries is a fixed-size circular buffer of Points.
type TimeSeries struct {
	points []Point
	size   int
	head   int
	full   bool
	mu     sync.RWMutex
}

// NewTimeSeries creates a history buffer holding up to size points.
func NewTimeSeries(size int) *TimeSeries {
	if size <= 0 {
		size = 1
	}
	return &TimeSeries{points: make([]Point, size), size: size}
}

// Add appends a sample stamped with the current time.
func (ts *TimeSeries) Add(val int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.points[ts.head] = Point{Timestamp: time.Now().UnixMilli(), Value: val}
	ts.head = (ts.head + 1) % ts.size
	if ts.head == 0 {
		ts.full = true
	}
}

// Snapshot returns all valid points in chronological order.
func (ts *TimeSeries) Snapshot() []Point {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if !ts.full && ts.head == 0 {
		return []Point{}
	}
	result := make([]Point, 0, ts.size)
	if ts.full {
		result = append(result, ts.points[ts.head:]...)
		result = append(result, ts.points[:ts.head]...)
	} else {
		result = append(result, ts.points[:ts.head]...)
	}
	return result
}

// Recorder tracks coordinator health history: slot map version bumps and
// OK/NOK edge transitions, recorded directly by the coordinator whenever it
// installs a new slot map or crosses an OK/NOK edge, rather than through
// the Observer notification path.
type Recorder struct {
	versions *TimeSeries
	edges    *TimeSeries // 1 = became OK, 0 = became NOK
}

// NewRecorder creates a Recorder retaining up to window samples per series.
func NewRecorder(window int) *Recorder {
	return &Recorder{
		versions: NewTimeSeries(window),
		edges:    NewTimeSeries(window),
	}
}

// RecordVersion appends the current slot map version.
func (r *Recorder) RecordVersion(version int) {
	r.versions.Add(int64(version))
}

// RecordEdge appends an OK/NOK transition (ok=true on becoming OK).
func (r *Recorder) RecordEdge(ok bool) {
	v := int64(0)
	if ok {
		v = 1
	}
	r.edges.Add(v)
}

// VersionHistory returns the recorded slot map version samples.
func (r *Recorder) VersionHistory() []Point { return r.versions.Snapshot() }

// EdgeHistory returns the recorded OK/NOK edge samples.
func (r *Recorder) EdgeHistory() []Point { return r.edges.Snapshot() }
