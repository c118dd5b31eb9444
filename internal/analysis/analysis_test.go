package analysis

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

var sampleRR = []int{800, 850, 780, 900}

func TestSummarize(t *testing.T) {
	s, err := Summarize(sampleRR)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 3.33, s.DurationSeconds, 1e-9)
	assert.Equal(t, 780.0, s.MinRR)
	assert.Equal(t, 900.0, s.MaxRR)
	assert.InDelta(t, 832.5, s.MeanRR, 1e-9)

	wantHR := (60000.0/800 + 60000.0/850 + 60000.0/780 + 60000.0/900) / 4
	assert.InDelta(t, wantHR, s.MeanHR, 1e-9)

	// Deviations from the mean: -32.5, 17.5, -52.5, 67.5.
	assert.InDelta(t, math.Sqrt(8675.0/3), s.SDNN, 1e-9)
	// Successive differences: 50, -70, 120.
	assert.InDelta(t, math.Sqrt(21800.0/3), s.RMSSD, 1e-9)
	assert.InDelta(t, 200.0/3, s.PNN50, 1e-9)
}

func TestSummarize_Steady(t *testing.T) {
	s, err := Summarize([]int{800, 800, 800})
	require.NoError(t, err)
	assert.Equal(t, 75.0, s.MeanHR)
	assert.Zero(t, s.SDNN)
	assert.Zero(t, s.RMSSD)
	assert.Zero(t, s.PNN50)
}

func TestSummarize_SingleValue(t *testing.T) {
	s, err := Summarize([]int{1000})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 60.0, s.MeanHR)
	assert.Zero(t, s.SDNN)
}

func TestSummarize_Empty(t *testing.T) {
	_, err := Summarize(nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBeatTimes(t *testing.T) {
	got := BeatTimes(sampleRR)
	want := []float64{0.8, 1.65, 2.43, 3.33}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("beat times mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, BeatTimes(nil))
}

func TestSegments(t *testing.T) {
	tags := []sink.Tag{
		{Name: "photo", Begin: 1.0, End: 3.0},
		{Name: "later", Begin: 10, End: 20},
	}
	segs := Segments(sampleRR, tags)
	require.Len(t, segs, 2)

	assert.Equal(t, "photo", segs[0].Tag.Name)
	assert.Equal(t, 2, segs[0].Summary.Count)
	assert.InDelta(t, 815.0, segs[0].Summary.MeanRR, 1e-9)

	assert.Equal(t, "later", segs[1].Tag.Name)
	assert.Zero(t, segs[1].Summary.Count)
}

func TestPlotPNG(t *testing.T) {
	var buf bytes.Buffer
	tags := []sink.Tag{{Name: "rest", Begin: 0.5, End: 2}}
	require.NoError(t, PlotPNG(&buf, "run1", sampleRR, tags))
	require.Greater(t, buf.Len(), 8)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", buf.String()[:8])
}

func TestPlotPNG_FlatSeries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PlotPNG(&buf, "flat", []int{800, 800}, nil))
	assert.Positive(t, buf.Len())
}

func TestPlotPNG_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, PlotPNG(&buf, "none", nil, nil), ErrNoData)
	assert.Zero(t, buf.Len())
}

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run1.png")
	require.NoError(t, SavePlot(path, "run1", sampleRR, nil))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestChartHTML(t *testing.T) {
	var buf bytes.Buffer
	tags := []sink.Tag{{Name: "video", Begin: 1, End: 2.5}}
	require.NoError(t, ChartHTML(&buf, "run1", sampleRR, tags))

	out := buf.String()
	assert.True(t, strings.Contains(out, "<html"), "expected an HTML page")
	assert.Contains(t, out, "run1")
	assert.Contains(t, out, "video")
	assert.Contains(t, out, "echarts")
}

func TestChartHTML_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, ChartHTML(&buf, "none", nil, nil), ErrNoData)
}
