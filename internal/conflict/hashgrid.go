package conflict

import (
	"math"
	"sort"

	"github.com/banshee-data/ncvguard/internal/route"
)

type cellKey [3]int64

type entry struct {
	key   int
	point route.PointStamped
}

// HashGrid buckets points into fixed-size (downtrack, crosstrack, time)
// cells. It is not safe for concurrent use; build one per query.
type HashGrid struct {
	cellSize [3]float64
	cells    map[cellKey][]entry
}

// NewHashGrid returns an empty grid with the given cell sizes. Non-positive
// sizes fall back to 1.
func NewHashGrid(downtrackCell, crosstrackCell, timeCell float64) *HashGrid {
	size := [3]float64{downtrackCell, crosstrackCell, timeCell}
	for i := range size {
		if size[i] <= 0 {
			size[i] = 1
		}
	}
	return &HashGrid{cellSize: size, cells: make(map[cellKey][]entry)}
}

func (g *HashGrid) cellOf(v [3]float64) cellKey {
	var k cellKey
	for i := range v {
		k[i] = int64(math.Floor(v[i] / g.cellSize[i]))
	}
	return k
}

func (g *HashGrid) Insert(key int, p route.PointStamped) {
	k := g.cellOf([3]float64{p.Downtrack, p.Crosstrack, p.Stamp})
	g.cells[k] = append(g.cells[k], entry{key: key, point: p})
}

func (g *HashGrid) Query(b Bounds) []int {
	lo, hi := g.cellOf(b.Min), g.cellOf(b.Max)
	var keys []int
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				for _, e := range g.cells[cellKey{x, y, z}] {
					if b.Contains(e.point) {
						keys = append(keys, e.key)
					}
				}
			}
		}
	}
	sort.Ints(keys)
	return keys
}

// Len returns the number of stored points.
func (g *HashGrid) Len() int {
	n := 0
	for _, c := range g.cells {
		n += len(c)
	}
	return n
}

// HashGridFactory builds HashGrids with fixed cell sizes.
type HashGridFactory struct {
	DowntrackCell  float64
	CrosstrackCell float64
	TimeCell       float64
}

func (f HashGridFactory) Build() Index {
	return NewHashGrid(f.DowntrackCell, f.CrosstrackCell, f.TimeCell)
}

var (
	_ Index        = (*HashGrid)(nil)
	_ IndexFactory = HashGridFactory{}
)
