// Package chart renders declarative chart specs produced by sandboxed code
// into PNG images. The sandbox hands over plain numeric arrays; nothing in
// here touches the dataset or the Lua state.
package chart

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type Kind string

const (
	Line      Kind = "line"
	Bar       Kind = "bar"
	Scatter   Kind = "scatter"
	Histogram Kind = "histogram"
)

// Spec is the single chart a run may render.
type Spec struct {
	Kind   Kind
	Title  string
	XLabel string
	YLabel string

	X []float64
	Y []float64
	// TimeX marks X values as unix seconds, drawn with date ticks.
	TimeX bool
	// Labels are the category names for bar charts.
	Labels []string
	// Bins is the histogram bucket count; 0 means the default.
	Bins int
}

const defaultBins = 20

// Dark theme matching the original frontend: black background, orange
// accent, white text.
var (
	bgColor     = color.Black
	accentColor = color.RGBA{R: 0xFC, G: 0x52, B: 0x00, A: 0xFF}
	textColor   = color.White
	tickColor   = color.RGBA{R: 0xAA, G: 0xAA, B: 0xAA, A: 0xFF}
	gridColor   = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xFF}
)

func (s Spec) validate() error {
	switch s.Kind {
	case Line, Scatter:
		if len(s.X) == 0 {
			return fmt.Errorf("%s chart has no data points", s.Kind)
		}
		if len(s.X) != len(s.Y) {
			return fmt.Errorf("%s chart has %d x values but %d y values", s.Kind, len(s.X), len(s.Y))
		}
	case Bar:
		if len(s.Y) == 0 {
			return fmt.Errorf("bar chart has no values")
		}
		if len(s.Labels) != len(s.Y) {
			return fmt.Errorf("bar chart has %d labels but %d values", len(s.Labels), len(s.Y))
		}
	case Histogram:
		if len(s.X) == 0 {
			return fmt.Errorf("histogram has no values")
		}
	default:
		return fmt.Errorf("unknown chart kind %q (want line, bar, scatter, or histogram)", s.Kind)
	}
	return nil
}

// Render draws the spec to a PNG.
func Render(spec Spec) ([]byte, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	p := plot.New()
	applyTheme(p)
	p.Title.Text = spec.Title
	p.X.Label.Text = spec.XLabel
	p.Y.Label.Text = spec.YLabel
	if spec.TimeX {
		p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	}

	grid := plotter.NewGrid()
	grid.Vertical.Color = gridColor
	grid.Horizontal.Color = gridColor
	p.Add(grid)

	switch spec.Kind {
	case Line:
		l, err := plotter.NewLine(xys(spec.X, spec.Y))
		if err != nil {
			return nil, err
		}
		l.Color = accentColor
		l.Width = vg.Points(1.5)
		p.Add(l)
	case Scatter:
		s, err := plotter.NewScatter(xys(spec.X, spec.Y))
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = accentColor
		s.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(s)
	case Bar:
		b, err := plotter.NewBarChart(plotter.Values(spec.Y), vg.Points(18))
		if err != nil {
			return nil, err
		}
		b.Color = accentColor
		b.LineStyle.Width = 0
		p.Add(b)
		p.NominalX(spec.Labels...)
	case Histogram:
		bins := spec.Bins
		if bins <= 0 {
			bins = defaultBins
		}
		h, err := plotter.NewHist(plotter.Values(spec.X), bins)
		if err != nil {
			return nil, err
		}
		h.FillColor = accentColor
		h.LineStyle.Color = gridColor
		p.Add(h)
	}

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func applyTheme(p *plot.Plot) {
	p.BackgroundColor = bgColor

	p.Title.TextStyle.Color = textColor
	for _, axis := range []*plot.Axis{&p.X, &p.Y} {
		axis.Label.TextStyle.Color = textColor
		axis.LineStyle.Color = gridColor
		axis.Tick.LineStyle.Color = gridColor
		axis.Tick.Label.Color = tickColor
	}
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}
