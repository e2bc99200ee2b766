// Package route holds the route-relative geometry shared by the collision
// checker and its collaborators: stamped route points, paths, and the
// route service contract used to localize the host vehicle.
package route

import (
	"fmt"
	"math"
)

// PointStamped is a planned or predicted position on the route.
type PointStamped struct {
	Downtrack    float64 // m along the route
	Crosstrack   float64 // m from the route centerline, left positive
	Stamp        float64 // s
	SegmentIndex int
}

func (p PointStamped) String() string {
	return fmt.Sprintf("(dt=%.2f ct=%.2f t=%.3f seg=%d)", p.Downtrack, p.Crosstrack, p.Stamp, p.SegmentIndex)
}

// Path is an ordered sequence of stamped route points. Paths handed to the
// checker are treated as immutable once published.
type Path []PointStamped

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Duration returns the time span covered by the path in seconds.
func (p Path) Duration() float64 {
	if len(p) < 2 {
		return 0
	}
	return p[len(p)-1].Stamp - p[0].Stamp
}

// Segment is the route segment the host currently occupies.
type Segment interface {
	// DeterminePrimaryLane maps a crosstrack distance to a lane index.
	DeterminePrimaryLane(crosstrack float64) int
}

// Service exposes the host's localization on the route.
type Service interface {
	IsRouteDataAvailable() bool
	CurrentSegment() Segment
	CurrentDowntrack() float64
	CurrentCrosstrack() float64
}

// UniformSegment is a segment of equally wide lanes. Lane 0 is the
// rightmost lane; the centerline runs through the middle of the lane set.
type UniformSegment struct {
	LaneWidth float64
	LaneCount int
}

// DeterminePrimaryLane returns the lane containing the crosstrack offset,
// clamped to the segment's lanes.
func (s UniformSegment) DeterminePrimaryLane(crosstrack float64) int {
	if s.LaneCount <= 0 || s.LaneWidth <= 0 {
		return 0
	}
	fromRight := crosstrack + s.LaneWidth*float64(s.LaneCount)/2.0
	lane := int(math.Floor(fromRight / s.LaneWidth))
	if lane < 0 {
		return 0
	}
	if lane >= s.LaneCount {
		return s.LaneCount - 1
	}
	return lane
}
