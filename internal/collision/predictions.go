package collision

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/prediction"
	"github.com/banshee-data/ncvguard/internal/route"
)

// predictionCache holds the latest predicted path per tracked object.
// Not safe for concurrent use; the Checker lock guards it.
type predictionCache struct {
	predictor    prediction.Predictor
	distanceStep float64 // m
	timeDuration float64 // s
	paths        map[int]route.Path
}

func newPredictionCache(p prediction.Predictor, distanceStep, timeDuration float64) *predictionCache {
	return &predictionCache{
		predictor:    p,
		distanceStep: distanceStep,
		timeDuration: timeDuration,
		paths:        make(map[int]route.Path),
	}
}

// refresh replaces the cached prediction of id with a new one computed from
// history. On error the previous prediction is left untouched.
func (c *predictionCache) refresh(id int, history []perception.Obstacle) error {
	path, err := c.predictor.PredictMotion(strconv.Itoa(id), history, c.distanceStep, c.timeDuration)
	if err != nil {
		return fmt.Errorf("predict motion of object %d: %w", id, err)
	}
	c.paths[id] = path
	return nil
}

func (c *predictionCache) drop(id int) {
	delete(c.paths, id)
}

func (c *predictionCache) get(id int) (route.Path, bool) {
	p, ok := c.paths[id]
	return p, ok
}

// ids returns the ids with a cached prediction in ascending order.
func (c *predictionCache) ids() []int {
	ids := make([]int, 0, len(c.paths))
	for id := range c.paths {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// snapshot returns independent copies of every cached prediction.
func (c *predictionCache) snapshot() map[int]route.Path {
	out := make(map[int]route.Path, len(c.paths))
	for id, p := range c.paths {
		out[id] = p.Clone()
	}
	return out
}
