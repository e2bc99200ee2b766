// Package conflict finds regions where two stamped paths come within
// configured downtrack, crosstrack and time margins of each other.
//
// The collision checker only cares whether the returned set is empty; the
// Space values exist for diagnostics and the audit trail.
package conflict

import (
	"errors"
	"fmt"

	"github.com/banshee-data/ncvguard/internal/route"
)

// Space is a region of downtrack and time where two paths overlap.
type Space struct {
	StartDowntrack float64
	EndDowntrack   float64
	StartTime      float64
	EndTime        float64
	Crosstrack     float64
}

func (s Space) String() string {
	return fmt.Sprintf("conflict[dt %.2f..%.2f, t %.3f..%.3f]", s.StartDowntrack, s.EndDowntrack, s.StartTime, s.EndTime)
}

// Bounds is an axis-aligned box over (downtrack, crosstrack, time).
type Bounds struct {
	Min, Max [3]float64
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p route.PointStamped) bool {
	v := [3]float64{p.Downtrack, p.Crosstrack, p.Stamp}
	for i := range v {
		if v[i] < b.Min[i] || v[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Index stores keyed route points for box queries.
type Index interface {
	Insert(key int, p route.PointStamped)
	// Query returns the keys of every stored point inside b, ascending.
	Query(b Bounds) []int
}

// IndexFactory builds an empty Index. Each detector call gets a fresh one.
type IndexFactory interface {
	Build() Index
}

// Detector is the conflict predicate over two paths.
type Detector interface {
	Conflicts(a, b route.Path, idx Index,
		downtrackMargin, crosstrackMargin, timeMargin,
		longitudinalBias, lateralBias, temporalBias float64) ([]Space, error)
}

// ErrNilIndex is returned when a detector is handed no index.
var ErrNilIndex = errors.New("conflict: nil spatial index")

// MarginDetector indexes path b and queries it with a margin box around each
// point of path a. Each bias shifts its box along that axis, so a positive
// longitudinal bias looks further ahead of a than behind it.
type MarginDetector struct{}

func (MarginDetector) Conflicts(a, b route.Path, idx Index,
	downtrackMargin, crosstrackMargin, timeMargin,
	longitudinalBias, lateralBias, temporalBias float64) ([]Space, error) {
	if idx == nil {
		return nil, ErrNilIndex
	}
	if downtrackMargin < 0 || crosstrackMargin < 0 || timeMargin < 0 {
		return nil, fmt.Errorf("conflict: negative margin (dt=%f ct=%f t=%f)", downtrackMargin, crosstrackMargin, timeMargin)
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}

	for i, p := range b {
		idx.Insert(i, p)
	}

	var spaces []Space
	var open *Space
	for _, p := range a {
		box := Bounds{
			Min: [3]float64{
				p.Downtrack - downtrackMargin + longitudinalBias,
				p.Crosstrack - crosstrackMargin + lateralBias,
				p.Stamp - timeMargin + temporalBias,
			},
			Max: [3]float64{
				p.Downtrack + downtrackMargin + longitudinalBias,
				p.Crosstrack + crosstrackMargin + lateralBias,
				p.Stamp + timeMargin + temporalBias,
			},
		}
		if len(idx.Query(box)) == 0 {
			if open != nil {
				spaces = append(spaces, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Space{
				StartDowntrack: p.Downtrack,
				StartTime:      p.Stamp,
				Crosstrack:     p.Crosstrack,
			}
		}
		open.EndDowntrack = p.Downtrack
		open.EndTime = p.Stamp
	}
	if open != nil {
		spaces = append(spaces, *open)
	}
	return spaces, nil
}

var _ Detector = MarginDetector{}
