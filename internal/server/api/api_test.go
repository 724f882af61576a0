package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/bisindo/internal/pipeline"
	"github.com/ayusman/bisindo/internal/session"
	"github.com/ayusman/bisindo/internal/store"
)

// fakeSession is an in-memory Session.
type fakeSession struct {
	mu        sync.Mutex
	state     session.State
	camera    int
	cameras   []int
	threshold float64
	startErr  error
	snapErr   error
	snaps     int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:     session.StateIdle,
		cameras:   []int{0, 2},
		threshold: 0.4,
	}
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.state = session.StateStopped
		return f.startErr
	}
	f.state = session.StateStreaming
	return nil
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == session.StateStreaming {
		f.state = session.StateStopped
	}
}

func (f *fakeSession) SelectCamera(ctx context.Context, idx int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cameras {
		if c == idx {
			f.camera = idx
			return nil
		}
	}
	return fmt.Errorf("%w: %d", session.ErrUnknownCamera, idx)
}

func (f *fakeSession) SetThreshold(v float64) error {
	if err := pipeline.ValidateThreshold(v); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = v
	return nil
}

func (f *fakeSession) SaveSnapshot(ctx context.Context) (*session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	if f.state != session.StateStreaming {
		return nil, session.ErrNotStreaming
	}
	f.snaps++
	return &session.Snapshot{
		ID:        fmt.Sprintf("snap-%d", f.snaps),
		Filename:  "output_1772366400.png",
		CameraID:  f.camera,
		Threshold: f.threshold,
		CreatedAt: time.Unix(1772366400, 0),
	}, nil
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{
		State:     f.state,
		Camera:    f.camera,
		Cameras:   f.cameras,
		Threshold: f.threshold,
	}
}

func (f *fakeSession) Cameras() []int { return f.cameras }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) session.Status {
	t.Helper()
	var st session.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	return st
}

func TestSessionHandler_Status(t *testing.T) {
	h := NewSessionHandler(newFakeSession())

	rec := do(t, h, http.MethodGet, "/api/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	st := decodeStatus(t, rec)
	if st.State != session.StateIdle || st.Threshold != 0.4 {
		t.Errorf("unexpected status %+v", st)
	}

	if rec := do(t, h, http.MethodDelete, "/api/session", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/session/bogus", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown action: expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_StartStop(t *testing.T) {
	fs := newFakeSession()
	h := NewSessionHandler(fs)

	if rec := do(t, h, http.MethodGet, "/api/session/start", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/session/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if st := decodeStatus(t, rec); st.State != session.StateStreaming {
		t.Errorf("after start state = %s", st.State)
	}

	rec = do(t, h, http.MethodPost, "/api/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if st := decodeStatus(t, rec); st.State != session.StateStopped {
		t.Errorf("after stop state = %s", st.State)
	}
}

func TestSessionHandler_StartFailure(t *testing.T) {
	fs := newFakeSession()
	fs.startErr = fmt.Errorf("permission denied")
	h := NewSessionHandler(fs)

	rec := do(t, h, http.MethodPost, "/api/session/start", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	var resp errorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func TestSessionHandler_Threshold(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"value": 0.55}`, http.StatusOK},
		{"lower bound", `{"value": 0.1}`, http.StatusOK},
		{"upper bound", `{"value": 1.0}`, http.StatusOK},
		{"too low", `{"value": 0.05}`, http.StatusBadRequest},
		{"too high", `{"value": 1.5}`, http.StatusBadRequest},
		{"missing value", `{}`, http.StatusBadRequest},
		{"not json", `abc`, http.StatusBadRequest},
		{"unknown field", `{"value": 0.5, "step": 0.05}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionHandler(newFakeSession())
			rec := do(t, h, http.MethodPut, "/api/session/threshold", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	fs := newFakeSession()
	h := NewSessionHandler(fs)
	rec := do(t, h, http.MethodPut, "/api/session/threshold", `{"value": 0.75}`)
	if st := decodeStatus(t, rec); st.Threshold != 0.75 {
		t.Errorf("threshold = %v, want 0.75", st.Threshold)
	}
	if rec := do(t, h, http.MethodGet, "/api/session/threshold", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET threshold: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestSessionHandler_Camera(t *testing.T) {
	fs := newFakeSession()
	h := NewSessionHandler(fs)

	rec := do(t, h, http.MethodPut, "/api/session/camera", `{"index": 2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if st := decodeStatus(t, rec); st.Camera != 2 {
		t.Errorf("camera = %d, want 2", st.Camera)
	}

	if rec := do(t, h, http.MethodPut, "/api/session/camera", `{"index": 7}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown camera: expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/session/camera", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing index: expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestCamerasHandler(t *testing.T) {
	fs := newFakeSession()
	fs.camera = 2
	h := NewCamerasHandler(fs)

	rec := do(t, h, http.MethodGet, "/api/cameras", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var resp camerasResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Cameras) != 2 || resp.Selected != 2 {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := do(t, h, http.MethodPost, "/api/cameras", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestSnapshotsHandler_Create(t *testing.T) {
	fs := newFakeSession()
	h := NewSnapshotsHandler(fs, nil)

	rec := do(t, h, http.MethodPost, "/api/snapshots", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("not streaming: expected status %d, got %d", http.StatusConflict, rec.Code)
	}

	fs.Start(context.Background())
	rec = do(t, h, http.MethodPost, "/api/snapshots", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.ID != "snap-1" || snap.Filename != "output_1772366400.png" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSnapshotsHandler_FrameNotReady(t *testing.T) {
	fs := newFakeSession()
	fs.snapErr = session.ErrFrameNotReady
	h := NewSnapshotsHandler(fs, nil)

	rec := do(t, h, http.MethodPost, "/api/snapshots", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Warning {
		t.Error("frame-not-ready should be reported as a warning")
	}
}

func TestSnapshotsHandler_List(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.Snapshots().Create(&store.Snapshot{
			ID:        fmt.Sprintf("snap-%d", i),
			Filename:  fmt.Sprintf("output_%d.png", base.Unix()+int64(i)),
			Threshold: 0.4,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("failed to create snapshot: %v", err)
		}
	}
	h := NewSnapshotsHandler(newFakeSession(), s)

	rec := do(t, h, http.MethodGet, "/api/snapshots?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var resp listSnapshotsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Snapshots) != 2 || resp.Total != 3 {
		t.Fatalf("got %d snapshots of %d, want 2 of 3", len(resp.Snapshots), resp.Total)
	}
	if resp.Snapshots[0].ID != "snap-2" {
		t.Errorf("expected newest first, got %s", resp.Snapshots[0].ID)
	}

	if rec := do(t, h, http.MethodGet, "/api/snapshots?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/snapshots", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestSnapshotsHandler_ListWithoutStore(t *testing.T) {
	h := NewSnapshotsHandler(newFakeSession(), nil)

	rec := do(t, h, http.MethodGet, "/api/snapshots", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var resp listSnapshotsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Snapshots == nil || len(resp.Snapshots) != 0 {
		t.Errorf("expected empty list, got %v", resp.Snapshots)
	}
}
