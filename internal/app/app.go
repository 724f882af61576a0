// Package app wires the camera, detector, transports, session and HTTP
// server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/bisindo/internal/capture"
	"github.com/ayusman/bisindo/internal/config"
	"github.com/ayusman/bisindo/internal/detector"
	"github.com/ayusman/bisindo/internal/log"
	"github.com/ayusman/bisindo/internal/metrics"
	"github.com/ayusman/bisindo/internal/pipeline"
	"github.com/ayusman/bisindo/internal/rtc"
	"github.com/ayusman/bisindo/internal/server"
	"github.com/ayusman/bisindo/internal/session"
	"github.com/ayusman/bisindo/internal/store"
	"github.com/ayusman/bisindo/internal/stream"
)

// Options replace hardware-bound collaborators.
type Options struct {
	// Open creates camera handles. Defaults to capture.NewCamera.
	Open capture.Opener
	// Model replaces the YOLO model loaded from Config.ModelPath.
	Model detector.Model
}

// App is the running application.
type App struct {
	config config.Config

	// ctx outlives requests and bounds the capture loop.
	ctx    context.Context
	cancel context.CancelFunc

	store       *store.Store
	model       detector.Model
	metrics     *metrics.Metrics
	processor   *pipeline.Processor
	transport   *stream.Transport
	broadcaster *rtc.Broadcaster
	signaler    *rtc.Signaler
	preview     *server.Preview
	session     *session.Controller
	server      *server.Server

	closeOnce sync.Once
	closeErr  error
}

// New builds the application. It fails when no camera is found or the model
// cannot be loaded; both are fatal configuration errors.
func New(cfg config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Open == nil {
		opts.Open = capture.NewCamera
	}

	cameras := capture.Enumerate(cfg.MaxCameraIndex, opts.Open)
	if err := capture.RequireCameras(cameras); err != nil {
		return nil, err
	}
	log.Info("cameras detected", "cameras", cameras)

	a := &App{config: cfg, model: opts.Model, metrics: metrics.New()}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.model == nil {
		yolo, err := detector.LoadYOLO(detector.Config{
			ModelPath:    cfg.ModelPath,
			LabelsPath:   cfg.LabelsPath,
			InputSize:    cfg.InferenceSize,
			ScoreFloor:   config.MinThreshold,
			NMSThreshold: cfg.NMSThreshold,
		})
		if err != nil {
			return nil, err
		}
		a.model = yolo
		log.Info("model loaded", "path", cfg.ModelPath, "classes", len(yolo.Labels()))
	}

	if err := os.MkdirAll(cfg.ScreenshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	a.store, err = store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	threshold, camera := restoreSettings(a.store, cfg)

	a.processor = pipeline.NewProcessor(detector.NewAdapter(a.model), pipeline.NewThreshold(threshold), a.metrics)

	a.transport = stream.New(stream.Config{
		Open:        opts.Open,
		FPS:         cfg.CameraFPS,
		Transform:   a.processor.Process,
		BaseContext: a.ctx,
		OnState: func(state stream.State, deviceID int, err error) {
			a.session.HandleTransportState(state, deviceID, err)
		},
	})

	a.broadcaster, err = rtc.NewBroadcaster(cfg.CameraFPS)
	if err != nil {
		return nil, err
	}
	a.signaler = rtc.NewSignaler(a.broadcaster, cfg.ICEServers)
	a.preview = server.NewPreview()
	a.transport.AddSink(a.broadcaster)
	a.transport.AddSink(a.preview)

	a.session, err = session.New(session.Config{
		Cameras:       cameras,
		Camera:        camera,
		ScreenshotDir: cfg.ScreenshotDir,
		Processor:     a.processor,
		Transport:     a.transport,
		Store:         a.store,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.server = server.New(server.Config{
		StaticDir:     cfg.WebDir,
		ScreenshotDir: cfg.ScreenshotDir,
		Session:       a.session,
		Store:         a.store,
		Preview:       a.preview,
		Signal:        a.signaler,
		Metrics:       a.metrics.Handler(),
	})

	return a, nil
}

// restoreSettings returns the persisted threshold and camera, falling back to
// cfg for anything missing or invalid.
func restoreSettings(st *store.Store, cfg config.Config) (float64, int) {
	threshold := cfg.Threshold
	if v, err := st.Settings().GetFloat(store.SettingThreshold); err == nil {
		if pipeline.ValidateThreshold(v) == nil {
			threshold = v
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn("restore threshold", "err", err)
	}

	camera := 0
	if v, err := st.Settings().GetInt(store.SettingCamera); err == nil {
		camera = v
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn("restore camera", "err", err)
	}

	return threshold, camera
}

// Run serves HTTP on the configured address until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.config.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done. The stream is stopped on the
// way out so the camera is released before Serve returns.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Serve(ctx, ln)
	})

	g.Go(func() error {
		<-ctx.Done()
		a.session.Stop()
		return nil
	})

	return g.Wait()
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server
}

// Session returns the session controller.
func (a *App) Session() *session.Controller {
	return a.session
}

// Preview returns the MJPEG preview sink.
func (a *App) Preview() *server.Preview {
	return a.preview
}

// Metrics returns the metrics registry.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Close stops streaming and releases every resource. It is safe to call on a
// partially built App and more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close()
	})
	return a.closeErr
}

func (a *App) close() error {
	var errs []error

	if a.cancel != nil {
		defer a.cancel()
	}
	if a.session != nil {
		a.session.Close()
	} else if a.transport != nil {
		a.transport.Stop()
	}
	if a.signaler != nil {
		a.signaler.Close()
	}
	if a.broadcaster != nil {
		errs = append(errs, a.broadcaster.Close())
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}

	return errors.Join(errs...)
}
