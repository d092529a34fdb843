package evidence

import (
	"bytes"
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/pasture-data/herdsight/internal/vision/census"
)

// renderTimeline plots the per-frame count series with dashed P90 and
// median reference rules, returning the encoded PNG.
func renderTimeline(samples []census.Sample, v *census.VerificationResult) ([]byte, error) {
	ordered := make([]census.Sample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].FrameIndex < ordered[j].FrameIndex })

	xys := make(plotter.XYs, len(ordered))
	counts := make([]float64, len(ordered))
	for i, s := range ordered {
		xys[i] = plotter.XY{X: float64(s.FrameIndex), Y: float64(s.Count)}
		counts[i] = float64(s.Count)
	}
	sort.Float64s(counts)
	p90 := stat.Quantile(0.90, stat.Empirical, counts, nil)

	p := plot.New()
	p.Title.Text = "Census Timeline"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Goat Count"

	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, fmt.Errorf("failed to build count series: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("per-frame count", line)

	x0 := xys[0].X
	x1 := xys[len(xys)-1].X
	addRule := func(y float64, c color.RGBA, label string) error {
		rule, err := plotter.NewLine(plotter.XYs{{X: x0, Y: y}, {X: x1, Y: y}})
		if err != nil {
			return fmt.Errorf("failed to build %s rule: %w", label, err)
		}
		rule.Color = c
		rule.Width = vg.Points(1)
		rule.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(rule)
		p.Legend.Add(label, rule)
		return nil
	}
	if err := addRule(p90, color.RGBA{R: 255, G: 127, B: 14, A: 255}, "P90"); err != nil {
		return nil, err
	}
	median := p90
	if v != nil {
		median = v.MedianCount
	}
	if err := addRule(median, color.RGBA{R: 44, G: 160, B: 44, A: 255}, "median"); err != nil {
		return nil, err
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render timeline: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode timeline png: %w", err)
	}
	return buf.Bytes(), nil
}
