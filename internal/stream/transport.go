// Package stream runs the capture loop that feeds camera frames through the
// frame transform and out to the connected sinks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/bisindo/internal/capture"
	"github.com/ayusman/bisindo/internal/log"
)

// MaxReadFailures is the number of consecutive failed reads after which the
// device is treated as lost.
const MaxReadFailures = 50

// ErrDeviceLost is reported when the camera stops delivering frames.
var ErrDeviceLost = errors.New("camera stopped delivering frames")

// FrameTransform maps one raw frame to one display frame. The transport keeps
// ownership of raw and takes ownership of the returned Mat.
type FrameTransform func(raw *gocv.Mat) (*gocv.Mat, error)

// Sink receives every display frame. WriteFrame must not retain frame.
type Sink interface {
	WriteFrame(frame *gocv.Mat) error
}

// State is a transport lifecycle stage.
type State string

const (
	StateOpening State = "opening"
	StatePlaying State = "playing"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// StateFunc is notified of lifecycle changes. err is set for StateFailed.
type StateFunc func(state State, deviceID int, err error)

// Config holds options for a Transport.
type Config struct {
	// Open creates camera handles. Defaults to capture.NewCamera.
	Open capture.Opener
	// FPS is the capture rate (default: capture.DefaultFPS).
	FPS int
	// Transform is applied to every frame before it reaches the sinks.
	Transform FrameTransform
	// OnState is optional.
	OnState StateFunc
	// BaseContext bounds every capture loop. Defaults to
	// context.Background(); the loop otherwise runs until Stop.
	BaseContext context.Context
}

// Transport streams one camera at a time.
type Transport struct {
	config Config

	mu       sync.Mutex
	sinks    []Sink
	cancel   context.CancelFunc
	done     chan struct{}
	deviceID int
	playing  bool
}

// New creates a stopped Transport.
func New(config Config) *Transport {
	if config.Open == nil {
		config.Open = capture.NewCamera
	}
	if config.FPS <= 0 {
		config.FPS = capture.DefaultFPS
	}
	if config.BaseContext == nil {
		config.BaseContext = context.Background()
	}
	return &Transport{config: config, deviceID: -1}
}

// AddSink registers a sink for all subsequent frames.
func (t *Transport) AddSink(s Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// Start opens deviceID and begins streaming. A running stream is stopped
// first. ctx only bounds the open: the capture loop lives until Stop or until
// the base context ends. An error means nothing runs.
func (t *Transport) Start(ctx context.Context, deviceID int) error {
	t.Stop()

	if err := ctx.Err(); err != nil {
		return err
	}

	t.notify(StateOpening, deviceID, nil)

	cam := t.config.Open(deviceID)
	cam.SetFPS(t.config.FPS)
	if err := cam.Open(); err != nil {
		err = fmt.Errorf("open camera %d: %w", deviceID, err)
		t.notify(StateFailed, deviceID, err)
		return err
	}

	loopCtx, cancel := context.WithCancel(t.config.BaseContext)
	done := make(chan struct{})

	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.deviceID = deviceID
	t.playing = false
	t.mu.Unlock()

	go t.run(loopCtx, cam, done)

	log.Info("stream started", "camera", deviceID, "fps", t.config.FPS)
	return nil
}

// Stop ends the stream and releases the camera. When Stop returns no
// further transform runs, and the result of one in flight is dropped.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Playing reports whether at least one frame has been delivered since the
// last Start and the stream is still running.
func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Running reports whether a capture loop is active.
func (t *Transport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// DeviceID returns the device of the current or last stream, or -1.
func (t *Transport) DeviceID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceID
}

func (t *Transport) run(ctx context.Context, cam capture.Camera, done chan struct{}) {
	deviceID := cam.DeviceID()
	var failure error

	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn("close camera", "camera", deviceID, "err", err)
		}

		t.mu.Lock()
		t.playing = false
		if t.done == done {
			t.cancel, t.done = nil, nil
		}
		t.mu.Unlock()

		if failure != nil {
			t.notify(StateFailed, deviceID, failure)
		} else {
			t.notify(StateStopped, deviceID, nil)
		}
		log.Info("stream stopped", "camera", deviceID)
		close(done)
	}()

	ticker := time.NewTicker(time.Second / time.Duration(t.config.FPS))
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := cam.ReadFrame()
		if err != nil {
			misses++
			log.Debug("read frame", "camera", deviceID, "err", err)
			if misses >= MaxReadFailures {
				failure = fmt.Errorf("camera %d: %w", deviceID, ErrDeviceLost)
				return
			}
			continue
		}
		misses = 0

		out := raw
		if t.config.Transform != nil {
			out, err = t.config.Transform(raw)
			raw.Close()
			if err != nil {
				log.Warn("transform frame", "camera", deviceID, "err", err)
				continue
			}
		}

		if ctx.Err() != nil {
			out.Close()
			return
		}

		t.deliver(out)
		out.Close()

		t.markPlaying(deviceID)
	}
}

func (t *Transport) deliver(frame *gocv.Mat) {
	t.mu.Lock()
	sinks := make([]Sink, len(t.sinks))
	copy(sinks, t.sinks)
	t.mu.Unlock()

	for _, s := range sinks {
		if err := s.WriteFrame(frame); err != nil {
			log.Debug("sink write", "err", err)
		}
	}
}

func (t *Transport) markPlaying(deviceID int) {
	t.mu.Lock()
	first := !t.playing
	t.playing = true
	t.mu.Unlock()

	if first {
		t.notify(StatePlaying, deviceID, nil)
	}
}

func (t *Transport) notify(state State, deviceID int, err error) {
	if t.config.OnState != nil {
		t.config.OnState(state, deviceID, err)
	}
}
