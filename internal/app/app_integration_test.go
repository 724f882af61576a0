package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/bisindo/internal/capture"
	"github.com/ayusman/bisindo/internal/config"
	"github.com/ayusman/bisindo/internal/detector"
	"github.com/ayusman/bisindo/internal/fixtures"
	"github.com/ayusman/bisindo/internal/session"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Addr:           "127.0.0.1:0",
		ModelPath:      filepath.Join(dir, "missing.onnx"),
		InferenceSize:  640,
		NMSThreshold:   0.45,
		Threshold:      config.DefaultThreshold,
		MaxCameraIndex: 3,
		CameraFPS:      30,
		ScreenshotDir:  filepath.Join(dir, "screenshots"),
		DataDir:        filepath.Join(dir, "data"),
		ICEServers:     []string{config.DefaultSTUNServer},
	}
}

// fakeRig opens mock cameras for the listed device indices only.
func fakeRig(t *testing.T, devices ...int) capture.Opener {
	t.Helper()
	frames := fixtures.Frames(4, fixtures.Width, fixtures.Height)
	t.Cleanup(func() { fixtures.CloseAll(frames) })

	return func(id int) capture.Camera {
		cam := capture.NewMockCamera(frames, true).WithDeviceID(id)
		if !capture.Contains(devices, id) {
			cam.FailOpen(errors.New("no such device"))
		}
		return cam
	}
}

func newTestApp(t *testing.T, cfg config.Config, devices ...int) (*App, *detector.MockModel) {
	t.Helper()
	model := detector.NewMockModel()
	model.SetDetections(detector.SampleDetections())

	a, err := New(cfg, Options{Open: fakeRig(t, devices...), Model: model})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, model
}

func waitForState(t *testing.T, c *session.Controller, want session.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestNew_NoCameras(t *testing.T) {
	_, err := New(testConfig(t), Options{Open: fakeRig(t), Model: detector.NewMockModel()})
	if !errors.Is(err, capture.ErrNoCameras) {
		t.Errorf("New() error = %v, want ErrNoCameras", err)
	}
}

func TestNew_ModelUnavailable(t *testing.T) {
	_, err := New(testConfig(t), Options{Open: fakeRig(t, 0)})
	if !errors.Is(err, detector.ErrModelUnavailable) {
		t.Errorf("New() error = %v, want ErrModelUnavailable", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Threshold = 2
	if _, err := New(cfg, Options{Open: fakeRig(t, 0), Model: detector.NewMockModel()}); err == nil {
		t.Error("New() should reject an invalid config")
	}
}

func TestNew_CreatesScreenshotDir(t *testing.T) {
	cfg := testConfig(t)
	newTestApp(t, cfg, 0)

	info, err := os.Stat(cfg.ScreenshotDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("screenshot dir not created: %v", err)
	}

	// A second instance over the existing directory must succeed.
	newTestApp(t, cfg, 0)
}

func TestApp_DetectionPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := testConfig(t)
	a, model := newTestApp(t, cfg, 0, 2)
	ctrl := a.Session()

	if got := ctrl.Cameras(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("Cameras() = %v, want [0 2]", got)
	}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, ctrl, session.StateStreaming)

	snap, err := ctrl.SaveSnapshot(context.Background())
	if err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if filepath.Dir(snap.Path) != cfg.ScreenshotDir {
		t.Errorf("snapshot written to %s, want %s", snap.Path, cfg.ScreenshotDir)
	}
	// Only A (0.87) clears the default 0.4 threshold.
	if len(snap.Detections) != 1 || snap.Detections[0].Label != "A" {
		t.Errorf("snapshot detections = %+v", snap.Detections)
	}

	img := gocv.IMRead(snap.Path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() || img.Cols() != fixtures.Width || img.Rows() != fixtures.Height {
		t.Errorf("snapshot image is %dx%d, want %dx%d", img.Cols(), img.Rows(), fixtures.Width, fixtures.Height)
	}

	if model.Calls() == 0 {
		t.Error("model should have been called")
	}

	ctrl.Stop()
	if ctrl.State() != session.StateStopped {
		t.Errorf("state after Stop = %s", ctrl.State())
	}
}

func TestApp_RestoresSettings(t *testing.T) {
	cfg := testConfig(t)

	first, _ := newTestApp(t, cfg, 0, 1)
	if err := first.Session().SetThreshold(0.65); err != nil {
		t.Fatalf("SetThreshold() error = %v", err)
	}
	if err := first.Session().SelectCamera(context.Background(), 1); err != nil {
		t.Fatalf("SelectCamera() error = %v", err)
	}
	first.Close()

	second, _ := newTestApp(t, cfg, 0, 1)
	st := second.Session().Status()
	if st.Threshold != 0.65 {
		t.Errorf("restored threshold = %v, want 0.65", st.Threshold)
	}
	if st.Camera != 1 {
		t.Errorf("restored camera = %d, want 1", st.Camera)
	}
}

func TestApp_ServeStopsStreamOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	a, _ := newTestApp(t, testConfig(t), 0)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/api/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST start error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST start status = %d", resp.StatusCode)
	}
	waitForState(t, a.Session(), session.StateStreaming)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return")
	}

	if a.Session().State() != session.StateStopped {
		t.Errorf("state after shutdown = %s, want stopped", a.Session().State())
	}
}
