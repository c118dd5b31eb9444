package api

import (
	"bytes"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/banshee-data/heartrate.report/internal/analysis"
	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/httputil"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

// SummaryResponse is the body of GET /api/acquisitions/{id}/summary.
type SummaryResponse struct {
	Acquisition db.Acquisition     `json:"acquisition"`
	Summary     analysis.Summary   `json:"summary"`
	Segments    []analysis.Segment `json:"segments"`
	Tags        []sink.Tag         `json:"tags"`
}

type storedResult struct {
	acq  db.Acquisition
	rr   []int
	tags []sink.Tag
}

// loadResult fetches an acquisition and its recorded series, writing the
// error response itself when it cannot.
func (s *Server) loadResult(w http.ResponseWriter, r *http.Request) (storedResult, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return storedResult{}, false
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return storedResult{}, false
	}

	id := r.PathValue("id")
	acq, err := s.db.GetAcquisition(id)
	if errors.Is(err, db.ErrAcquisitionNotFound) {
		httputil.NotFound(w, err.Error())
		return storedResult{}, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return storedResult{}, false
	}
	rr, err := s.db.AcquisitionRR(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return storedResult{}, false
	}
	tags, err := s.db.AcquisitionTags(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return storedResult{}, false
	}
	return storedResult{acq: acq, rr: rr, tags: tags}, true
}

func (res storedResult) title() string {
	title := filepath.Base(res.acq.BasePath)
	if res.acq.Activity != "" {
		title += " (" + res.acq.Activity + ")"
	}
	return title
}

func (s *Server) getAcquisition(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, res.acq)
}

func (s *Server) acquisitionSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	sum, err := analysis.Summarize(res.rr)
	if errors.Is(err, analysis.ErrNoData) {
		httputil.NotFound(w, "acquisition has no RR values")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if res.tags == nil {
		res.tags = []sink.Tag{}
	}
	httputil.WriteJSONOK(w, SummaryResponse{
		Acquisition: res.acq,
		Summary:     sum,
		Segments:    analysis.Segments(res.rr, res.tags),
		Tags:        res.tags,
	})
}

// acquisitionPlot renders into a buffer first so a plotting failure can still
// be reported as JSON.
func (s *Server) acquisitionPlot(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := analysis.PlotPNG(&buf, res.title(), res.rr, res.tags); err != nil {
		writeAnalysisError(w, err)
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

func (s *Server) acquisitionChart(w http.ResponseWriter, r *http.Request) {
	res, ok := s.loadResult(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := analysis.ChartHTML(&buf, res.title(), res.rr, res.tags); err != nil {
		writeAnalysisError(w, err)
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, analysis.ErrNoData) {
		httputil.NotFound(w, "acquisition has no RR values")
		return
	}
	httputil.InternalServerError(w, err.Error())
}
