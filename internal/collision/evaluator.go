package collision

import (
	"fmt"

	"github.com/banshee-data/ncvguard/internal/conflict"
	"github.com/banshee-data/ncvguard/internal/route"
)

// dynamicTimeMarginOverlap is added to half the prediction sampling interval
// so neighbouring time windows overlap instead of merely touching.
const dynamicTimeMarginOverlap = 0.0001

// Margins are the tolerances handed to the conflict predicate for one
// predicted path.
type Margins struct {
	Downtrack  float64 // m
	Crosstrack float64 // m
	Time       float64 // s
}

// Biases shift the predicate's tolerance windows along each axis.
type Biases struct {
	Longitudinal float64
	Lateral      float64
	Temporal     float64
}

// conflictHit identifies the first prediction found in conflict.
type conflictHit struct {
	objectID int
	margins  Margins
	spaces   []conflict.Space
}

type evaluator struct {
	detector conflict.Detector
	factory  conflict.IndexFactory

	downtrackMargin  float64
	crosstrackMargin float64
	timeMargin       float64
	biases           Biases
}

func newEvaluator(p Params, detector conflict.Detector, factory conflict.IndexFactory) *evaluator {
	return &evaluator{
		detector:         detector,
		factory:          factory,
		downtrackMargin:  p.VehicleLength/2.0 + p.DowntrackBuffer,
		crosstrackMargin: p.VehicleWidth/2.0 + p.CrosstrackBuffer,
		timeMargin:       p.TimeMargin,
		biases: Biases{
			Longitudinal: p.LongitudinalBias,
			Lateral:      p.LateralBias,
			Temporal:     p.TemporalBias,
		},
	}
}

// marginsFor returns the margins used against pred. When pred has at least
// two points the time margin is half its first sampling interval plus a
// small overlap, which replaces the configured base margin. The crosstrack
// margin is never scaled.
func (e *evaluator) marginsFor(pred route.Path, factor float64) Margins {
	timeMargin := e.timeMargin
	if len(pred) > 1 {
		timeMargin = (pred[1].Stamp-pred[0].Stamp)/2.0 + dynamicTimeMarginOverlap
	}
	return Margins{
		Downtrack:  e.downtrackMargin * factor,
		Crosstrack: e.crosstrackMargin,
		Time:       timeMargin * factor,
	}
}

// firstConflict checks candidate against every cached prediction in id
// order and stops at the first one with a non-empty conflict set.
func (e *evaluator) firstConflict(candidate route.Path, cache *predictionCache, factor float64) (*conflictHit, error) {
	for _, id := range cache.ids() {
		pred, _ := cache.get(id)
		m := e.marginsFor(pred, factor)

		spaces, err := e.detector.Conflicts(candidate, pred, e.factory.Build(),
			m.Downtrack, m.Crosstrack, m.Time,
			e.biases.Longitudinal, e.biases.Lateral, e.biases.Temporal,
		)
		if err != nil {
			return nil, fmt.Errorf("conflict check against object %d: %w", id, err)
		}
		if len(spaces) > 0 {
			return &conflictHit{objectID: id, margins: m, spaces: spaces}, nil
		}
	}
	return nil, nil
}
