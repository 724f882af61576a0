// Package session implements the user-facing control flow: starting and
// stopping the camera stream, switching cameras, adjusting the confidence
// threshold and saving annotated snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/bisindo/internal/capture"
	"github.com/ayusman/bisindo/internal/detector"
	"github.com/ayusman/bisindo/internal/log"
	"github.com/ayusman/bisindo/internal/metrics"
	"github.com/ayusman/bisindo/internal/pipeline"
	"github.com/ayusman/bisindo/internal/store"
	"github.com/ayusman/bisindo/internal/stream"
)

// State is the session lifecycle stage.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateStreaming            State = "streaming"
	StateStopped              State = "stopped"
)

// AllStates lists every state, for gauges and UIs.
var AllStates = []string{
	string(StateIdle),
	string(StateRequestingPermission),
	string(StateStreaming),
	string(StateStopped),
}

var (
	// ErrNotStreaming is returned by operations that need a live stream.
	ErrNotStreaming = errors.New("stream is not active")
	// ErrFrameNotReady means the stream is live but no frame has arrived yet.
	// It is recoverable: retry once the first frame is through.
	ErrFrameNotReady = errors.New("frame not available yet")
	// ErrUnknownCamera is returned for a device index that was not enumerated.
	ErrUnknownCamera = errors.New("unknown camera")
)

// Transport is the part of the video transport the controller drives.
type Transport interface {
	Start(ctx context.Context, deviceID int) error
	Stop()
}

// Config holds the collaborators of a Controller.
type Config struct {
	// Cameras are the enumerated device indices. Must not be empty.
	Cameras []int
	// Camera is the initially selected device. Falls back to Cameras[0].
	Camera int
	// ScreenshotDir receives snapshot PNGs. It must exist.
	ScreenshotDir string

	Processor *pipeline.Processor
	Transport Transport

	// Store is optional. When set, threshold and camera choices persist and
	// snapshots are indexed.
	Store *store.Store
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of the session.
type Status struct {
	State      State                `json:"state"`
	Camera     int                  `json:"camera"`
	Cameras    []int                `json:"cameras"`
	Threshold  float64              `json:"threshold"`
	LastError  string               `json:"last_error,omitempty"`
	Detections []detector.Detection `json:"detections"`
	DetectedAt *time.Time           `json:"detected_at,omitempty"`
	Frames     uint64               `json:"frames"`
	Snapshot   *Snapshot            `json:"last_snapshot,omitempty"`
}

// Controller owns the session state machine.
type Controller struct {
	config Config

	// op serializes Start, Stop and SelectCamera.
	op sync.Mutex
	// snap serializes SaveSnapshot.
	snap sync.Mutex

	mu       sync.Mutex
	state    State
	camera   int
	lastErr  string
	lastSnap *Snapshot

	events *broker
}

// New creates an idle Controller.
func New(config Config) (*Controller, error) {
	if err := capture.RequireCameras(config.Cameras); err != nil {
		return nil, err
	}
	if config.Processor == nil || config.Transport == nil {
		return nil, errors.New("session: processor and transport are required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	camera := config.Camera
	if !capture.Contains(config.Cameras, camera) {
		camera = config.Cameras[0]
	}

	c := &Controller{
		config: config,
		state:  StateIdle,
		camera: camera,
		events: newBroker(),
	}
	c.config.Metrics.SetState(string(StateIdle), AllStates)
	c.config.Metrics.SetThreshold(config.Processor.Threshold().Load())
	return c, nil
}

// Start opens the selected camera and begins streaming. Starting an active
// session is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.state == StateStreaming || c.state == StateRequestingPermission {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	c.config.Processor.Reset()

	c.mu.Lock()
	camera := c.camera
	c.lastErr = ""
	c.setStateLocked(StateRequestingPermission)
	c.mu.Unlock()

	if err := c.config.Transport.Start(ctx, camera); err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.setStateLocked(StateStopped)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop ends the stream. Stopping an idle or stopped session is a no-op.
func (c *Controller) Stop() {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	active := c.state == StateStreaming || c.state == StateRequestingPermission
	c.mu.Unlock()
	if !active {
		return
	}

	c.config.Transport.Stop()

	c.mu.Lock()
	c.setStateLocked(StateStopped)
	c.mu.Unlock()
}

// SelectCamera switches to device idx, which must be one of the enumerated
// cameras. A running stream restarts on the new device.
func (c *Controller) SelectCamera(ctx context.Context, idx int) error {
	if !capture.Contains(c.config.Cameras, idx) {
		return fmt.Errorf("%w: %d", ErrUnknownCamera, idx)
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.camera == idx {
		c.mu.Unlock()
		return nil
	}
	c.camera = idx
	active := c.state == StateStreaming || c.state == StateRequestingPermission
	c.emitLocked(EventCamera, nil)
	c.mu.Unlock()

	c.persist(func(s *store.SettingsRepository) error { return s.SetInt(store.SettingCamera, idx) })
	log.Info("camera selected", "camera", idx)

	if !active {
		return nil
	}
	c.config.Transport.Stop()
	return c.startLocked(ctx)
}

// SetThreshold changes the confidence threshold. The next processed frame
// uses the new value.
func (c *Controller) SetThreshold(v float64) error {
	if err := c.config.Processor.Threshold().Store(v); err != nil {
		return err
	}
	c.config.Metrics.SetThreshold(v)
	c.persist(func(s *store.SettingsRepository) error { return s.SetFloat(store.SettingThreshold, v) })

	c.mu.Lock()
	c.emitLocked(EventThreshold, nil)
	c.mu.Unlock()
	return nil
}

// Threshold returns the active confidence threshold.
func (c *Controller) Threshold() float64 {
	return c.config.Processor.Threshold().Load()
}

// Cameras returns the enumerated device indices.
func (c *Controller) Cameras() []int {
	return append([]int(nil), c.config.Cameras...)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	dets, at := c.config.Processor.LastDetections()
	st := Status{
		State:      c.state,
		Camera:     c.camera,
		Cameras:    append([]int(nil), c.config.Cameras...),
		Threshold:  c.config.Processor.Threshold().Load(),
		LastError:  c.lastErr,
		Detections: dets,
		Frames:     c.config.Processor.Frames(),
		Snapshot:   c.lastSnap,
	}
	if !at.IsZero() {
		st.DetectedAt = &at
	}
	return st
}

// HandleTransportState follows the transport lifecycle. Wire it as the
// transport's StateFunc.
func (c *Controller) HandleTransportState(state stream.State, deviceID int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch state {
	case stream.StatePlaying:
		if c.state == StateRequestingPermission && deviceID == c.camera {
			c.setStateLocked(StateStreaming)
		}
	case stream.StateFailed:
		if err != nil {
			c.lastErr = err.Error()
		}
		if c.state == StateStreaming || c.state == StateRequestingPermission {
			c.setStateLocked(StateStopped)
		}
		log.Warn("transport failure", "camera", deviceID, "err", err)
	case stream.StateStopped:
		// A camera switch stops the previous device, whose index no longer
		// matches c.camera.
		if deviceID != c.camera {
			return
		}
		if c.state == StateStreaming || c.state == StateRequestingPermission {
			c.setStateLocked(StateStopped)
		}
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	log.Info("session state", "from", string(c.state), "to", string(s), "camera", c.camera)
	c.state = s
	c.config.Metrics.SetState(string(s), AllStates)
	c.emitLocked(EventState, nil)
}

func (c *Controller) persist(fn func(*store.SettingsRepository) error) {
	if c.config.Store == nil {
		return
	}
	if err := fn(c.config.Store.Settings()); err != nil {
		log.Warn("persist setting", "err", err)
	}
}

// Close stops the stream and ends every subscription.
func (c *Controller) Close() {
	c.Stop()
	c.events.close()
}
