package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/bisindo/internal/log"
	"github.com/ayusman/bisindo/internal/store"
)

const (
	defaultSnapshotLimit = 50
	maxSnapshotLimit     = 500
)

// SnapshotsHandler handles /api/snapshots.
type SnapshotsHandler struct {
	session Session
	store   *store.Store
}

// NewSnapshotsHandler creates a SnapshotsHandler. st may be nil, in which
// case listing returns nothing.
func NewSnapshotsHandler(s Session, st *store.Store) *SnapshotsHandler {
	return &SnapshotsHandler{session: s, store: st}
}

type listSnapshotsResponse struct {
	Snapshots []*store.Snapshot `json:"snapshots"`
	Total     int               `json:"total"`
}

// ServeHTTP implements http.Handler.
func (h *SnapshotsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// create handles POST /api/snapshots.
func (h *SnapshotsHandler) create(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session.SaveSnapshot(r.Context())
	if err != nil {
		log.Debug("snapshot rejected", "err", err)
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// list handles GET /api/snapshots?limit=N, newest first.
func (h *SnapshotsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	resp := listSnapshotsResponse{Snapshots: []*store.Snapshot{}}
	if h.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	snaps, err := h.store.Snapshots().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots")
		return
	}
	total, err := h.store.Snapshots().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count snapshots")
		return
	}
	if snaps != nil {
		resp.Snapshots = snaps
	}
	resp.Total = total
	writeJSON(w, http.StatusOK, resp)
}
