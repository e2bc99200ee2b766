// Package prediction projects the future motion of tracked non-connected
// vehicles from their recent observation history.
//
// Strategies form a closed set resolved once by name with New. Every
// strategy returns a path that starts at the newest observation and spans
// the requested horizon, sampled so consecutive points are one distance
// step apart (or two points bracketing the horizon for a stationary object).
package prediction

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/route"
)

// Model names accepted by New.
const (
	ModelLinearRegression = "linear_regression"
	ModelConstantVelocity = "constant_velocity"
)

const (
	// minSpeedMps is the speed below which an object is treated as stationary.
	minSpeedMps = 0.01
	// maxPathPoints bounds the output size for tiny distance steps.
	maxPathPoints = 10000
)

// ErrEmptyHistory is returned when a prediction is requested with no data.
var ErrEmptyHistory = errors.New("prediction: empty observation history")

// Predictor projects an object's motion over a horizon.
type Predictor interface {
	// PredictMotion returns the predicted path for the object identified by
	// key given its time-ordered history. distanceStep is in metres and
	// timeDuration in seconds.
	PredictMotion(key string, history []perception.Obstacle, distanceStep, timeDuration float64) (route.Path, error)
}

// Models returns the names of all available strategies.
func Models() []string {
	names := []string{ModelLinearRegression, ModelConstantVelocity}
	sort.Strings(names)
	return names
}

// New resolves a strategy by name.
func New(model string) (Predictor, error) {
	switch model {
	case ModelLinearRegression:
		return LinearRegression{}, nil
	case ModelConstantVelocity:
		return ConstantVelocity{}, nil
	default:
		return nil, fmt.Errorf("unknown motion predictor model %q (available: %v)", model, Models())
	}
}

func validateRequest(history []perception.Obstacle, distanceStep, timeDuration float64) error {
	if len(history) == 0 {
		return ErrEmptyHistory
	}
	if !(distanceStep > 0) || math.IsInf(distanceStep, 0) {
		return fmt.Errorf("prediction: distance step must be positive and finite, got %f", distanceStep)
	}
	if !(timeDuration >= 0) || math.IsInf(timeDuration, 0) {
		return fmt.Errorf("prediction: time duration must be non-negative and finite, got %f", timeDuration)
	}
	for i, obs := range history {
		if !obs.Finite() {
			return fmt.Errorf("prediction: observation %d has non-finite position (%f, %f)", i, obs.Downtrack, obs.Crosstrack)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// sampleConstantSpeed walks from start at speed for timeDuration seconds,
// emitting a point every distanceStep metres of travel.
func sampleConstantSpeed(start route.PointStamped, speed, distanceStep, timeDuration float64) (route.Path, error) {
	if !finite(speed) {
		return nil, fmt.Errorf("prediction: non-finite speed %f", speed)
	}
	if !finite(start.Downtrack) || !finite(start.Crosstrack) || !finite(start.Stamp) {
		return nil, fmt.Errorf("prediction: non-finite start point (%f, %f, %f)", start.Downtrack, start.Crosstrack, start.Stamp)
	}

	if math.Abs(speed) < minSpeedMps || timeDuration == 0 {
		path := route.Path{start}
		if timeDuration > 0 {
			end := start
			end.Stamp += timeDuration
			end.Downtrack += speed * timeDuration
			path = append(path, end)
		}
		return path, nil
	}

	dt := distanceStep / math.Abs(speed)
	steps := math.Floor(timeDuration/dt+1e-6) + 1
	n := maxPathPoints
	if steps < maxPathPoints {
		n = int(steps)
	}

	path := make(route.Path, 0, n)
	for i := 0; i < n; i++ {
		p := start
		elapsed := float64(i) * dt
		p.Stamp = start.Stamp + elapsed
		p.Downtrack = start.Downtrack + speed*elapsed
		path = append(path, p)
	}
	return path, nil
}
