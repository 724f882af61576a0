package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/bisindo/internal/log"
)

// SessionHandler handles /api/session and its actions.
type SessionHandler struct {
	session Session
}

// NewSessionHandler creates a SessionHandler for s.
func NewSessionHandler(s Session) *SessionHandler {
	return &SessionHandler{session: s}
}

type thresholdRequest struct {
	Value *float64 `json:"value"`
}

type cameraRequest struct {
	Index *int `json:"index"`
}

type camerasResponse struct {
	Cameras  []int `json:"cameras"`
	Selected int   `json:"selected"`
}

// ServeHTTP routes:
//
//	GET  /api/session
//	POST /api/session/start
//	POST /api/session/stop
//	PUT  /api/session/threshold  {"value": 0.55}
//	PUT  /api/session/camera     {"index": 1}
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/session"), "/")

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, h.session.Status())
	case "start":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.start(w, r)
	case "stop":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.session.Stop()
		writeJSON(w, http.StatusOK, h.session.Status())
	case "threshold":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.threshold(w, r)
	case "camera":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.camera(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *SessionHandler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Start(r.Context()); err != nil {
		log.Warn("start session", "err", err)
		writeError(w, http.StatusServiceUnavailable, "Camera unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *SessionHandler) threshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeJSON(r, &req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.session.SetThreshold(*req.Value); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Status())
}

func (h *SessionHandler) camera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := decodeJSON(r, &req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.session.SelectCamera(r.Context(), *req.Index); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Status())
}

// NewCamerasHandler serves GET /api/cameras.
func NewCamerasHandler(s Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, camerasResponse{
			Cameras:  s.Cameras(),
			Selected: s.Status().Camera,
		})
	})
}
