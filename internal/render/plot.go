package render

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/units"
)

var (
	approaching = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 255}
	receding    = color.RGBA{R: 0xb5, G: 0xde, B: 0x2b, A: 255}
)

// PlotOptions controls PlotPNG.
type PlotOptions struct {
	Units  string
	Width  vg.Length
	Height vg.Length
}

func (o PlotOptions) size() (vg.Length, vg.Length) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = 8 * vg.Inch
	}
	if h <= 0 {
		h = 8 * vg.Inch
	}
	return w, h
}

// PlotPNG writes a top-down PNG scatter of c with approaching and receding
// targets drawn in separate series.
func PlotPNG(w io.Writer, c radar.Cloud, o PlotOptions) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s (%d points)", c.FrameID, c.Timestamp.UTC().Format("15:04:05.000"), c.Len())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	var toward, away plotter.XYs
	for _, pt := range c.Points {
		xy := plotter.XY{X: pt.X, Y: pt.Y}
		if pt.Speed < 0 {
			toward = append(toward, xy)
		} else {
			away = append(away, xy)
		}
	}

	label := units.Label(o.Units)
	for _, s := range []struct {
		name string
		pts  plotter.XYs
		col  color.Color
	}{
		{"approaching (" + label + " < 0)", toward, approaching},
		{"receding (" + label + " >= 0)", away, receding},
	} {
		if len(s.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(s.pts)
		if err != nil {
			return fmt.Errorf("failed to build scatter: %w", err)
		}
		sc.GlyphStyle.Color = s.col
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}
	if c.Len() == 0 {
		p.X.Min, p.X.Max = -1, 1
		p.Y.Min, p.Y.Max = -1, 1
	}

	width, height := o.size()
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
