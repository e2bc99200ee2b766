package prediction

import (
	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/route"
)

// ConstantVelocity extrapolates from the newest observation using the mean
// speed between the oldest and newest observations.
type ConstantVelocity struct{}

func (ConstantVelocity) PredictMotion(key string, history []perception.Obstacle, distanceStep, timeDuration float64) (route.Path, error) {
	if err := validateRequest(history, distanceStep, timeDuration); err != nil {
		return nil, err
	}

	oldest, newest := history[0], history[len(history)-1]
	var speed float64
	if dt := newest.StampSeconds() - oldest.StampSeconds(); dt > 0 {
		speed = (newest.Downtrack - oldest.Downtrack) / dt
	}

	start := route.PointStamped{
		Downtrack:    newest.Downtrack,
		Crosstrack:   newest.Crosstrack,
		Stamp:        newest.StampSeconds(),
		SegmentIndex: newest.SegmentIndex,
	}
	return sampleConstantSpeed(start, speed, distanceStep, timeDuration)
}
