// Package diagnostics renders the tracking-error history as a PNG plot and
// as an interactive chart.
package diagnostics

import (
	"fmt"
	"io"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/standoff/internal/fsutil"
	"github.com/banshee-data/standoff/internal/security"
)

// PlotTitle is the title of the error plot.
const PlotTitle = "error evolution"

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// errorPoints pairs each finite sample with its time, index·dt seconds.
func errorPoints(samples []float64, dt float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(samples))
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i) * dt, Y: v})
	}
	return pts
}

func newErrorPlot(samples []float64, dt float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = PlotTitle
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "error (m)"
	p.Add(plotter.NewGrid())

	pts := errorPoints(samples, dt)
	if len(pts) == 0 {
		return p, nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

// WritePlot writes the error history as a PNG to w.
func WritePlot(w io.Writer, samples []float64, dt float64) error {
	p, err := newErrorPlot(samples, dt)
	if err != nil {
		return fmt.Errorf("failed to build error plot: %w", err)
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to render error plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes the error history as a PNG named name inside dir on the
// local filesystem.
func SavePlot(dir, name string, samples []float64, dt float64) (string, error) {
	return SavePlotFS(fsutil.OSFileSystem{}, dir, name, samples, dt)
}

// SavePlotFS is SavePlot against fsys. dir is created when needed and name
// must not escape it.
func SavePlotFS(fsys fsutil.FileSystem, dir, name string, samples []float64, dt float64) (string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plot directory: %w", err)
	}
	if err := security.ValidateFilename(name); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if _, onDisk := fsys.(fsutil.OSFileSystem); onDisk {
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return "", err
		}
	}

	f, err := fsys.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create error plot: %w", err)
	}
	if err := WritePlot(f, samples, dt); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to save error plot: %w", err)
	}
	return path, nil
}
