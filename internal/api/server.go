package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/heartrate.report/internal/controller"
	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the controller over HTTP. db may be nil, in which case the
// per-acquisition analysis endpoints answer 503.
type Server struct {
	ctl *controller.Controller
	db  *db.DB
	// live receives samples from live tests.
	live sink.Notifier
}

func NewServer(ctl *controller.Controller, db *db.DB, live sink.Notifier) *Server {
	return &Server{
		ctl:  ctl,
		db:   db,
		live: live,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/test", s.handleTest)
	mux.HandleFunc("/api/acquisitions", s.handleAcquisitions)
	mux.HandleFunc("/api/acquisitions/current", s.currentAcquisition)
	mux.HandleFunc("/api/acquisitions/finish", s.finishAcquisition)
	mux.HandleFunc("/api/acquisitions/tags", s.postTag)
	mux.HandleFunc("/api/acquisitions/{id}", s.getAcquisition)
	mux.HandleFunc("/api/acquisitions/{id}/summary", s.acquisitionSummary)
	mux.HandleFunc("/api/acquisitions/{id}/plot.png", s.acquisitionPlot)
	mux.HandleFunc("/api/acquisitions/{id}/chart", s.acquisitionChart)
	return mux
}
