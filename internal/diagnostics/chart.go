package diagnostics

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ChartOptions labels the HTML chart.
type ChartOptions struct {
	Subtitle string
	// Threshold draws a dashed reference line when > 0, e.g. the error
	// below which the vehicle counts as on station.
	Threshold float64
}

// RenderChart writes an HTML line chart of the error history to w.
// Non-finite samples appear as gaps.
func RenderChart(w io.Writer, samples []float64, dt float64, o ChartOptions) error {
	xs := make([]string, len(samples))
	ys := make([]opts.LineData, len(samples))
	for i, v := range samples {
		xs[i] = strconv.FormatFloat(float64(i)*dt, 'f', 1, 64)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			ys[i] = opts.LineData{Value: "-"}
			continue
		}
		ys[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tracking error", Theme: "dark", Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: PlotTitle, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "error (m)", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs).AddSeries("tracking error", ys,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	if o.Threshold > 0 {
		ref := make([]opts.LineData, len(samples))
		for i := range ref {
			ref[i] = opts.LineData{Value: o.Threshold}
		}
		line.AddSeries(fmt.Sprintf("threshold %.2fm", o.Threshold), ref,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}),
		)
	}
	return line.Render(w)
}
