// Package report renders benchmark throughput as a grouped bar chart.
package report

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// Result is the measurement of one algorithm on one layout.
type Result struct {
	Algorithm string
	Storage   string
	Rows      int
	Duration  time.Duration
}

// RowsPerSecond returns the throughput of r, or 0 for a zero duration.
func (r Result) RowsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Rows) / r.Duration.Seconds()
}

const (
	width  = 6 * vg.Inch
	height = 4 * vg.Inch
)

// Chart builds a bar chart of rows per second with one group per algorithm
// and one bar per layout, in first-seen order.
func Chart(title string, results []Result) (*plot.Plot, error) {
	if len(results) == 0 {
		return nil, filerrors.New("no benchmark results to plot")
	}

	var algos, layouts []string
	algoIdx := map[string]int{}
	layoutIdx := map[string]int{}
	for _, r := range results {
		if _, ok := algoIdx[r.Algorithm]; !ok {
			algoIdx[r.Algorithm] = len(algos)
			algos = append(algos, r.Algorithm)
		}
		if _, ok := layoutIdx[r.Storage]; !ok {
			layoutIdx[r.Storage] = len(layouts)
			layouts = append(layouts, r.Storage)
		}
	}
	values := make([]plotter.Values, len(layouts))
	for i := range values {
		values[i] = make(plotter.Values, len(algos))
	}
	for _, r := range results {
		values[layoutIdx[r.Storage]][algoIdx[r.Algorithm]] = r.RowsPerSecond()
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "rows/s"
	p.Legend.Top = true

	barWidth := vg.Points(18)
	for i, layout := range layouts {
		bars, err := plotter.NewBarChart(values[i], barWidth)
		if err != nil {
			return nil, filerrors.Wrapf(err, "bars for %s", layout)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = barWidth * vg.Length(2*i-len(layouts)+1) / 2
		p.Add(bars)
		p.Legend.Add(layout, bars)
	}
	p.NominalX(algos...)
	return p, nil
}

// WriteTo renders the chart in format ("png", "svg", "pdf", ...) to w.
func WriteTo(w io.Writer, format, title string, results []Result) error {
	p, err := Chart(title, results)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return filerrors.Wrapf(err, "render %s", format)
	}
	_, err = wt.WriteTo(w)
	return filerrors.Wrap(err, "write chart")
}

// Save renders the chart to path; the format follows the extension.
func Save(path, title string, results []Result) error {
	p, err := Chart(title, results)
	if err != nil {
		return err
	}
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		return filerrors.Newf("chart path %q has no extension", path)
	}
	return filerrors.Wrapf(p.Save(width, height, path), "save chart %s", path)
}
