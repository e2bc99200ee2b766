package route

import "sync"

// Localization is a Service backed by the most recent host pose reported
// for a single segment. It is safe for concurrent use.
type Localization struct {
	mu         sync.RWMutex
	segment    Segment
	available  bool
	downtrack  float64
	crosstrack float64
}

// NewLocalization returns a Localization on the given segment with no
// pose reported yet.
func NewLocalization(segment Segment) *Localization {
	return &Localization{segment: segment}
}

// Update records a new host pose and marks route data available.
func (l *Localization) Update(downtrack, crosstrack float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = true
	l.downtrack = downtrack
	l.crosstrack = crosstrack
}

// Invalidate marks route data unavailable, e.g. after losing localization.
func (l *Localization) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = false
}

func (l *Localization) IsRouteDataAvailable() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.available && l.segment != nil
}

func (l *Localization) CurrentSegment() Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segment
}

func (l *Localization) CurrentDowntrack() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.downtrack
}

func (l *Localization) CurrentCrosstrack() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.crosstrack
}

var _ Service = (*Localization)(nil)
