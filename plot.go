package main

import (
	"github.com/cockroachdb/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotLatencies draws a grouped bar chart of ns/op: one group per operation,
// one bar per structure, in the order they first appear in results.
func PlotLatencies(results []BenchResult, path string) error {
	var names, ops []string
	latency := make(map[[2]string]float64)
	seen := make(map[string]bool)
	for _, r := range results {
		if !seen["s:"+r.Name] {
			seen["s:"+r.Name] = true
			names = append(names, r.Name)
		}
		if !seen["o:"+r.Operation] {
			seen["o:"+r.Operation] = true
			ops = append(ops, r.Operation)
		}
		latency[[2]string{r.Name, r.Operation}] = float64(r.LatencyNs)
	}
	if len(names) == 0 {
		return errors.New("plot: no results")
	}

	p := plot.New()
	p.Title.Text = "Latency per operation"
	p.Y.Label.Text = "ns/op"
	p.Legend.Top = true

	width := vg.Points(14)
	for i, name := range names {
		vals := make(plotter.Values, len(ops))
		for j, op := range ops {
			vals[j] = latency[[2]string{name, op}]
		}
		bars, err := plotter.NewBarChart(vals, width)
		if err != nil {
			return errors.Wrapf(err, "plot: %s", name)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = width * vg.Length(2*i-len(names)+1) / 2
		p.Add(bars)
		p.Legend.Add(name, bars)
	}
	p.NominalX(ops...)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "plot: save %s", path)
	}
	return nil
}
