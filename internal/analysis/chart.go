package analysis

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

// EchartsAssetsHost is where rendered pages load the echarts javascript from.
var EchartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ChartHTML renders an interactive tachogram page. Tags are drawn as marked
// areas on the RR series.
func ChartHTML(w io.Writer, title string, rr []int, tags []sink.Tag) error {
	if len(rr) == 0 {
		return ErrNoData
	}
	times := BeatTimes(rr)
	data := make([]opts.LineData, len(rr))
	for i, v := range rr {
		data[i] = opts.LineData{Value: []interface{}{times[i], v}}
	}

	subtitle := fmt.Sprintf("beats=%d", len(rr))
	if s, err := Summarize(rr); err == nil {
		subtitle = fmt.Sprintf("beats=%d mean=%.0fms sdnn=%.1fms rmssd=%.1fms", s.Count, s.MeanRR, s.SDNN, s.RMSSD)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "RR (ms)", Scale: opts.Bool(true)}),
	)

	areas := make([]opts.MarkAreaNameCoordItem, 0, len(tags))
	for _, tag := range tags {
		areas = append(areas, opts.MarkAreaNameCoordItem{
			Name:        tag.Name,
			Coordinate0: []interface{}{tag.Begin, "min"},
			Coordinate1: []interface{}{tag.End, "max"},
		})
	}
	line.AddSeries("RR", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithMarkAreaNameCoordItemOpts(areas...),
	)

	return line.Render(w)
}
