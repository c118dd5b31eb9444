package analysis

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

// Plot dimensions.
const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

var tagPalette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0x40},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0x40},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0x40},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0x40},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0x40},
}

// tachogram builds the RR-over-time plot used by PlotPNG and SavePlot.
func tachogram(title string, rr []int, tags []sink.Tag) (*plot.Plot, error) {
	if len(rr) == 0 {
		return nil, ErrNoData
	}
	times := BeatTimes(rr)
	pts := make(plotter.XYs, len(rr))
	for i := range rr {
		pts[i] = plotter.XY{X: times[i], Y: float64(rr[i])}
	}
	y := toFloats(rr)
	yMin, yMax := floats.Min(y), floats.Max(y)
	if yMin == yMax {
		yMin, yMax = yMin-50, yMax+50
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "RR (ms)"

	for i, tag := range tags {
		span, err := plotter.NewPolygon(plotter.XYs{
			{X: tag.Begin, Y: yMin},
			{X: tag.End, Y: yMin},
			{X: tag.End, Y: yMax},
			{X: tag.Begin, Y: yMax},
		})
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", tag.Name, err)
		}
		span.Color = tagPalette[i%len(tagPalette)]
		span.LineStyle.Width = 0
		p.Add(span)
		p.Legend.Add(tag.Name, span)
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{A: 0xff}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("RR", line)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// PlotPNG writes a PNG tachogram of rr with tags drawn as shaded spans.
func PlotPNG(w io.Writer, title string, rr []int, tags []sink.Tag) error {
	p, err := tachogram(title, rr, tags)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes the tachogram to path; the format follows the extension.
func SavePlot(path, title string, rr []int, tags []sink.Tag) error {
	p, err := tachogram(title, rr, tags)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
