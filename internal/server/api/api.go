// Package api provides the JSON HTTP handlers for the detection session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/bisindo/internal/pipeline"
	"github.com/ayusman/bisindo/internal/session"
)

// Session is the part of the session controller the API drives.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	SelectCamera(ctx context.Context, idx int) error
	SetThreshold(v float64) error
	SaveSnapshot(ctx context.Context) (*session.Snapshot, error)
	Status() session.Status
	Cameras() []int
}

type errorResponse struct {
	Error   string `json:"error"`
	Warning bool   `json:"warning,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeSessionError maps session errors onto HTTP status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrFrameNotReady):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "Frame not available yet, try again", Warning: true})
	case errors.Is(err, session.ErrNotStreaming):
		writeError(w, http.StatusConflict, "Stream is not active")
	case errors.Is(err, pipeline.ErrThresholdRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrUnknownCamera):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes a small JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
