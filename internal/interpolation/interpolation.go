// Package interpolation turns a planner's coarse trajectory nodes into the
// stamped route paths compared by the collision checker.
package interpolation

import (
	"fmt"
	"math"

	"github.com/banshee-data/ncvguard/internal/route"
)

// Node is one vertex of a planned speed profile, relative to the plan start.
type Node struct {
	Distance float64 // m from plan start
	Time     float64 // s from plan start
	Speed    float64 // m/s
}

// Interpolator converts plan nodes into a stamped path.
type Interpolator interface {
	InterpolateMotion(plan []Node, distanceStep, startTime, startDowntrack float64) (route.Path, error)
}

// Linear places points every distanceStep metres between consecutive nodes,
// interpolating time linearly. The host is assumed to hold its lateral
// position, so every point carries the configured crosstrack and segment.
type Linear struct {
	Crosstrack   float64
	SegmentIndex int
}

func (l Linear) InterpolateMotion(plan []Node, distanceStep, startTime, startDowntrack float64) (route.Path, error) {
	if distanceStep <= 0 {
		return nil, fmt.Errorf("interpolation: distance step must be positive, got %f", distanceStep)
	}
	if len(plan) == 0 {
		return route.Path{}, nil
	}

	point := func(distance, t float64) route.PointStamped {
		return route.PointStamped{
			Downtrack:    startDowntrack + distance,
			Crosstrack:   l.Crosstrack,
			Stamp:        startTime + t,
			SegmentIndex: l.SegmentIndex,
		}
	}

	path := route.Path{point(plan[0].Distance, plan[0].Time)}
	for i := 1; i < len(plan); i++ {
		a, b := plan[i-1], plan[i]
		if b.Time < a.Time {
			return nil, fmt.Errorf("interpolation: node %d time %.3f precedes node %d time %.3f", i, b.Time, i-1, a.Time)
		}

		span := b.Distance - a.Distance
		steps := int(math.Ceil(math.Abs(span)/distanceStep - 1e-9))
		for s := 1; s < steps; s++ {
			frac := float64(s) * distanceStep / math.Abs(span)
			path = append(path, point(a.Distance+frac*span, a.Time+frac*(b.Time-a.Time)))
		}
		path = append(path, point(b.Distance, b.Time))
	}
	return path, nil
}
