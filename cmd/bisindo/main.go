package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/ayusman/bisindo/internal/app"
	"github.com/ayusman/bisindo/internal/capture"
	"github.com/ayusman/bisindo/internal/config"
	"github.com/ayusman/bisindo/internal/detector"
	"github.com/ayusman/bisindo/internal/fixtures"
	"github.com/ayusman/bisindo/internal/log"
	"github.com/ayusman/bisindo/internal/session"
	"github.com/ayusman/bisindo/internal/tray"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "ONNX sign detection model")
	flag.StringVar(&cfg.LabelsPath, "labels", cfg.LabelsPath, "data.yaml with class names")
	flag.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "initial confidence threshold (0.1-1.0)")
	flag.IntVar(&cfg.MaxCameraIndex, "max-camera", cfg.MaxCameraIndex, "number of camera indices to probe")
	flag.IntVar(&cfg.CameraFPS, "fps", cfg.CameraFPS, "capture frame rate")
	flag.StringVar(&cfg.ScreenshotDir, "screenshots", cfg.ScreenshotDir, "snapshot output directory")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "directory for the settings database")
	flag.StringVar(&cfg.WebDir, "web", cfg.WebDir, "static web directory (default: auto-detect)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	flag.BoolVar(&cfg.Tray, "tray", cfg.Tray, "show the system tray menu")
	demo := flag.Bool("demo", false, "use a synthetic camera and canned detections")
	flag.Parse()

	log.Init(cfg.LogLevel, cfg.LogFormat)

	if cfg.WebDir == "" {
		cfg.WebDir = findWebDir()
	}
	if cfg.WebDir != "" {
		log.Info("serving static files", "dir", cfg.WebDir)
	}

	var opts app.Options
	if *demo {
		opts = demoOptions()
		log.Info("demo mode: synthetic camera and canned detections")
	}

	a, err := app.New(*cfg, opts)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrNoCameras):
			log.Error("no camera detected; connect a camera or run with -demo", "err", err)
		case errors.Is(err, detector.ErrModelUnavailable):
			log.Error("model unavailable; check -model", "err", err)
		default:
			log.Error("startup failed", "err", err)
		}
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		if err := a.Run(ctx); err != nil {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
		return
	}

	runWithTray(ctx, stop, a, cfg.Addr)
}

// runWithTray serves in the background while the tray owns the main goroutine.
func runWithTray(ctx context.Context, stop context.CancelFunc, a *app.App, addr string) {
	t := tray.New()
	ctrl := a.Session()

	t.OnToggle(func(streaming bool) {
		if !streaming {
			ctrl.Stop()
			return
		}
		if err := ctrl.Start(ctx); err != nil {
			log.Warn("tray start", "err", err)
		}
	})
	t.OnSnapshot(func() {
		if _, err := ctrl.SaveSnapshot(ctx); err != nil {
			log.Warn("tray snapshot", "err", err)
		}
	})
	t.OnOpen(func() {
		openBrowser(browserURL(addr))
	})
	t.OnQuit(stop)

	go func() {
		events, cancel := ctrl.Subscribe()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				t.SetStreaming(ev.Status.State == session.StateStreaming)
				t.SetLastDetection(ev.Status.Detections)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(ctx); err != nil {
			log.Error("server failed", "err", err)
		}
		t.Quit()
	}()

	t.Run()
	stop()
	<-done
}

func demoOptions() app.Options {
	frames := fixtures.Frames(30, fixtures.Width, fixtures.Height)
	model := detector.NewMockModel()
	model.SetDetections(detector.SampleDetections())

	return app.Options{
		Open: func(id int) capture.Camera {
			cam := capture.NewMockCamera(frames, true).WithDeviceID(id)
			if id != 0 {
				cam.FailOpen(capture.ErrCameraNotOpen)
			}
			return cam
		},
		Model: model,
	}
}

func browserURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn("open browser", "url", url, "err", err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.bisindo/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".bisindo", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
