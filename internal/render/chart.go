// Package render draws projected clouds as interactive HTML charts and
// static PNG plots.
package render

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/units"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ChartOptions controls ScatterHTML.
type ChartOptions struct {
	Units string
	// AssetsHost overrides where the echarts javascript is loaded from.
	AssetsHost string
	// Pad is the half-width of both axes in meters. Zero fits the cloud.
	Pad float64
}

// extent returns a symmetric axis half-width that covers every point.
func extent(c radar.Cloud) float64 {
	pad := 1.0
	for _, p := range c.Points {
		pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	return math.Ceil(pad * 1.1)
}

// ScatterHTML writes a top-down X/Y scatter of c coloured by compensated
// speed.
func ScatterHTML(w io.Writer, c radar.Cloud, o ChartOptions) error {
	pad := o.Pad
	if pad <= 0 {
		pad = extent(c)
	}

	data := make([]opts.ScatterData, 0, c.Len())
	minSpeed, maxSpeed := 0.0, 0.0
	for _, p := range c.Points {
		s := units.ConvertSpeed(p.Speed, o.Units)
		minSpeed = math.Min(minSpeed, s)
		maxSpeed = math.Max(maxSpeed, s)
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("target %d", p.TargetID),
			Value: []interface{}{p.X, p.Y, s, p.SNR},
		})
	}
	if minSpeed == maxSpeed {
		maxSpeed = minSpeed + 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Radar Cloud", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Radar Cloud (%s)", c.FrameID),
			Subtitle: fmt.Sprintf("%s points=%d/%d out_of_range=%d speed_rejected=%d",
				c.Timestamp.UTC().Format(time.RFC3339Nano), c.Len(), c.Stats.Input, c.Stats.OutOfRange, c.Stats.SpeedRejected),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minSpeed),
			Max:        float32(maxSpeed),
			Dimension:  "2",
			Text:       []string{units.Label(o.Units)},
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("targets", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	return scatter.Render(w)
}
