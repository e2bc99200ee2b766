// Package plotting renders downtrack-over-time charts of the host plan and
// the predicted object paths, for inspecting replayed scenarios.
package plotting

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ncvguard/internal/route"
)

// ErrNothingToPlot is returned when neither a host plan nor any prediction
// has points.
var ErrNothingToPlot = errors.New("plotting: no paths to plot")

// SpaceTime describes one chart.
type SpaceTime struct {
	Title       string
	HostPlan    route.Path
	Predictions map[int]route.Path
}

// origin returns the earliest stamp across all paths; stamps are plotted
// relative to it.
func (s SpaceTime) origin() (float64, bool) {
	t0, found := math.Inf(1), false
	consider := func(p route.Path) {
		for _, pt := range p {
			t0 = math.Min(t0, pt.Stamp)
			found = true
		}
	}
	consider(s.HostPlan)
	for _, p := range s.Predictions {
		consider(p)
	}
	return t0, found
}

func toXYs(p route.Path, t0 float64) plotter.XYs {
	pts := make(plotter.XYs, len(p))
	for i, pt := range p {
		pts[i] = plotter.XY{X: pt.Stamp - t0, Y: pt.Downtrack}
	}
	return pts
}

// Build assembles the plot without writing it.
func (s SpaceTime) Build() (*plot.Plot, error) {
	t0, ok := s.origin()
	if !ok {
		return nil, ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Downtrack (m)"
	p.Add(plotter.NewGrid())

	if len(s.HostPlan) > 0 {
		line, err := plotter.NewLine(toXYs(s.HostPlan, t0))
		if err != nil {
			return nil, fmt.Errorf("host plan: %w", err)
		}
		line.Color = color.Black
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add("host plan", line)
	}

	ids := make([]int, 0, len(s.Predictions))
	for id := range s.Predictions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for i, id := range ids {
		pred := s.Predictions[id]
		if len(pred) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(toXYs(pred, t0))
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", id, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		points.Color = line.Color
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(fmt.Sprintf("object %d", id), line, points)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10
	return p, nil
}

// Save renders the chart to file; the format follows the extension.
func (s SpaceTime) Save(file string) error {
	p, err := s.Build()
	if err != nil {
		return err
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save %s: %w", file, err)
	}
	return nil
}
