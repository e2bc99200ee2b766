// Package perception defines the roadway obstacle observations delivered by
// the sensing stack. Observations are values; nothing downstream mutates a
// delivered observation in place.
package perception

import (
	"math"
	"slices"
	"time"
)

// Obstacle is one sensed non-connected object at one instant.
type Obstacle struct {
	ObjectID       int
	Timestamp      time.Time
	Downtrack      float64 // m
	Crosstrack     float64 // m
	PrimaryLane    int
	SecondaryLanes []int // lanes the object also overlaps
	SegmentIndex   int
}

// WithObjectID returns a copy of the observation re-keyed to id.
func (o Obstacle) WithObjectID(id int) Obstacle {
	o.ObjectID = id
	return o
}

// OccupiesSecondaryLane reports whether lane is among the secondary lanes.
func (o Obstacle) OccupiesSecondaryLane(lane int) bool {
	return slices.Contains(o.SecondaryLanes, lane)
}

// StampSeconds returns the observation time in seconds since the Unix epoch.
func (o Obstacle) StampSeconds() float64 {
	return float64(o.Timestamp.UnixNano()) / 1e9
}

// Finite reports whether the position holds no NaN or infinite coordinate.
func (o Obstacle) Finite() bool {
	return !math.IsNaN(o.Downtrack) && !math.IsInf(o.Downtrack, 0) &&
		!math.IsNaN(o.Crosstrack) && !math.IsInf(o.Crosstrack, 0)
}
