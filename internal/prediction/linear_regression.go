package prediction

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/route"
)

// LinearRegression fits downtrack against time with ordinary least squares
// and extrapolates the fitted line. Crosstrack is held at the history mean.
type LinearRegression struct{}

func (LinearRegression) PredictMotion(key string, history []perception.Obstacle, distanceStep, timeDuration float64) (route.Path, error) {
	if err := validateRequest(history, distanceStep, timeDuration); err != nil {
		return nil, err
	}

	first := history[0].StampSeconds()
	last := history[len(history)-1]

	// Times are taken relative to the oldest observation to keep the fit
	// well conditioned with epoch-scale stamps.
	ts := make([]float64, len(history))
	ds := make([]float64, len(history))
	cs := make([]float64, len(history))
	for i, obs := range history {
		ts[i] = obs.StampSeconds() - first
		ds[i] = obs.Downtrack
		cs[i] = obs.Crosstrack
	}

	tLast := last.StampSeconds() - first
	var intercept, slope float64
	if stat.Variance(ts, nil) > 0 {
		intercept, slope = stat.LinearRegression(ts, ds, nil, false)
	} else {
		// Single instant: no velocity information, hold position.
		intercept, slope = stat.Mean(ds, nil), 0
	}

	start := route.PointStamped{
		Downtrack:    intercept + slope*tLast,
		Crosstrack:   stat.Mean(cs, nil),
		Stamp:        last.StampSeconds(),
		SegmentIndex: last.SegmentIndex,
	}
	return sampleConstantSpeed(start, slope, distanceStep, timeDuration)
}
