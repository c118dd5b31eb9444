package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/banshee-data/heartrate.report/internal/controller"
	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/device"
	"github.com/banshee-data/heartrate.report/internal/httputil"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
)

// maxBodyBytes caps request bodies; every request here is a small JSON object.
const maxBodyBytes = 64 << 10

// DevicesResponse lists what can be connected to right now.
type DevicesResponse struct {
	Devices   []device.Descriptor `json:"devices"`
	Supported []string            `json:"supported"`
}

// TestRequest is the body of POST /api/test.
type TestRequest struct {
	Device device.Descriptor `json:"device"`
}

// RecentResponse is the body of GET /api/acquisitions.
type RecentResponse struct {
	Recent       []string         `json:"recent"`
	Acquisitions []db.Acquisition `json:"acquisitions,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeControllerError maps controller and device failures onto status codes.
func writeControllerError(w http.ResponseWriter, err error) {
	var connErr *device.ConnectionError
	switch {
	case errors.Is(err, controller.ErrBusy), errors.Is(err, controller.ErrResultsExist):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, controller.ErrNoTest), errors.Is(err, controller.ErrNoAcquisition):
		httputil.NotFound(w, err.Error())
	case errors.As(err, &connErr):
		httputil.BadGateway(w, err.Error())
	default:
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	devices, err := s.ctl.Devices()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, DevicesResponse{Devices: devices, Supported: device.SupportedDevices()})
}

// handleTest handles GET, POST and DELETE on /api/test.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, ok := s.ctl.Test()
		if !ok {
			httputil.NotFound(w, controller.ErrNoTest.Error())
			return
		}
		httputil.WriteJSONOK(w, st)
	case http.MethodPost:
		var req TestRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, err := device.ParseKind(string(req.Device.Kind)); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.ctl.StartTest(req.Device, s.live); err != nil {
			writeControllerError(w, err)
			return
		}
		st, _ := s.ctl.Test()
		httputil.WriteJSON(w, http.StatusCreated, st)
	case http.MethodDelete:
		if err := s.ctl.EndTest(r.Context()); err != nil {
			writeControllerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleAcquisitions handles GET (recent) and POST (begin) on /api/acquisitions.
func (s *Server) handleAcquisitions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRecent(w, r)
	case http.MethodPost:
		s.beginAcquisition(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listRecent(w http.ResponseWriter, r *http.Request) {
	resp := RecentResponse{Recent: s.ctl.Recent()}
	if resp.Recent == nil {
		resp.Recent = []string{}
	}
	if s.db != nil {
		limit := len(resp.Recent)
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				httputil.BadRequest(w, "invalid 'limit' parameter")
				return
			}
			limit = n
		}
		if limit > 0 {
			stored, err := s.db.RecentAcquisitions(limit)
			if err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
			resp.Acquisitions = stored
		}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) beginAcquisition(w http.ResponseWriter, r *http.Request) {
	var req controller.AcquisitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if _, err := device.ParseKind(string(req.Device.Kind)); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	st, err := s.ctl.BeginAcquisition(req)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, st)
}

func (s *Server) currentAcquisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st, ok := s.ctl.Acquisition()
	if !ok {
		httputil.NotFound(w, controller.ErrNoAcquisition.Error())
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) finishAcquisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	res, err := s.ctl.EndAcquisition(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) postTag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var tag sink.Tag
	if !decodeJSON(w, r, &tag) {
		return
	}
	if tag.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if tag.Begin < 0 || tag.End < tag.Begin {
		httputil.BadRequest(w, "tag must satisfy 0 <= begin <= end")
		return
	}
	if err := s.ctl.Tag(tag); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
