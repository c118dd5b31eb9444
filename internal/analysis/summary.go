// Package analysis computes heart-rate variability statistics over a recorded
// RR series and renders it as a tachogram, with activity tags shown as shaded
// spans.
package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

// ErrNoData is returned when there are no RR values to work with.
var ErrNoData = errors.New("no RR values")

// nn50Millis is the successive-difference threshold counted by pNN50.
const nn50Millis = 50

// Summary holds time-domain HRV statistics. RR values are in milliseconds,
// heart rates in beats per minute.
type Summary struct {
	Count           int     `json:"count"`
	DurationSeconds float64 `json:"duration_s"`
	MinRR           float64 `json:"min_rr_ms"`
	MaxRR           float64 `json:"max_rr_ms"`
	MeanRR          float64 `json:"mean_rr_ms"`
	MeanHR          float64 `json:"mean_hr_bpm"`
	SDNN            float64 `json:"sdnn_ms"`
	RMSSD           float64 `json:"rmssd_ms"`
	PNN50           float64 `json:"pnn50_pct"`
}

// Summarize computes the statistics of rr. Variability fields are zero when
// fewer than two values are present.
func Summarize(rr []int) (Summary, error) {
	if len(rr) == 0 {
		return Summary{}, ErrNoData
	}
	x := toFloats(rr)
	hr := make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			hr[i] = 60000 / v
		}
	}

	s := Summary{
		Count:           len(x),
		DurationSeconds: floats.Sum(x) / 1000,
		MinRR:           floats.Min(x),
		MaxRR:           floats.Max(x),
		MeanRR:          stat.Mean(x, nil),
		MeanHR:          stat.Mean(hr, nil),
	}
	if len(x) < 2 {
		return s, nil
	}

	s.SDNN = stat.StdDev(x, nil)

	diffs := make([]float64, len(x)-1)
	nn50 := 0
	for i := range diffs {
		diffs[i] = x[i+1] - x[i]
		if math.Abs(diffs[i]) > nn50Millis {
			nn50++
		}
	}
	s.RMSSD = math.Sqrt(floats.Dot(diffs, diffs) / float64(len(diffs)))
	s.PNN50 = 100 * float64(nn50) / float64(len(diffs))
	return s, nil
}

// Segment is the summary of the beats that fall inside one tag.
type Segment struct {
	Tag     sink.Tag `json:"tag"`
	Summary Summary  `json:"summary"`
}

// Segments summarises each tag over the beats whose time, measured from the
// start of the acquisition, lies in [Begin, End]. Tags with no beats are
// reported with a zero summary.
func Segments(rr []int, tags []sink.Tag) []Segment {
	times := BeatTimes(rr)
	out := make([]Segment, 0, len(tags))
	for _, tag := range tags {
		var in []int
		for i, t := range times {
			if t >= tag.Begin && t <= tag.End {
				in = append(in, rr[i])
			}
		}
		seg := Segment{Tag: tag}
		if sum, err := Summarize(in); err == nil {
			seg.Summary = sum
		}
		out = append(out, seg)
	}
	return out
}

// BeatTimes returns the time in seconds at which each beat ends, taking the
// first interval to start at zero.
func BeatTimes(rr []int) []float64 {
	times := toFloats(rr)
	floats.CumSum(times, times)
	floats.Scale(1.0/1000, times)
	return times
}

func toFloats(rr []int) []float64 {
	x := make([]float64, len(rr))
	for i, v := range rr {
		x[i] = float64(v)
	}
	return x
}
