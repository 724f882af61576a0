package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/bisindo/internal/detector"
	"github.com/ayusman/bisindo/internal/log"
	"github.com/ayusman/bisindo/internal/store"
)

// maxNameAttempts bounds the suffix search for a free snapshot filename.
const maxNameAttempts = 1000

// Snapshot describes an annotated image written to disk.
type Snapshot struct {
	ID         string               `json:"id"`
	Path       string               `json:"path"`
	Filename   string               `json:"filename"`
	CameraID   int                  `json:"camera_id"`
	Threshold  float64              `json:"threshold"`
	Detections []detector.Detection `json:"detections"`
	CreatedAt  time.Time            `json:"created_at"`
}

// SaveSnapshot runs detection on the most recent raw frame with the current
// threshold and writes the annotated result as a PNG named after the current
// Unix second. Existing files are never overwritten.
func (c *Controller) SaveSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.snap.Lock()
	defer c.snap.Unlock()

	c.mu.Lock()
	state, camera := c.state, c.camera
	c.mu.Unlock()

	if state != StateStreaming {
		return nil, ErrNotStreaming
	}

	frame, ok := c.config.Processor.LastFrame()
	if !ok {
		c.config.Metrics.ObserveSnapshot("not_ready")
		return nil, ErrFrameNotReady
	}
	defer frame.Close()

	threshold := c.config.Processor.Threshold().Load()

	res, err := c.config.Processor.Detect(*frame, threshold)
	if err != nil {
		c.config.Metrics.ObserveSnapshot("error")
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer res.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, res.Annotated)
	if err != nil {
		c.config.Metrics.ObserveSnapshot("error")
		return nil, fmt.Errorf("snapshot: encode png: %w", err)
	}
	defer buf.Close()

	now := c.config.Now()
	path, err := writeUnique(c.config.ScreenshotDir, now, buf.GetBytes())
	if err != nil {
		c.config.Metrics.ObserveSnapshot("error")
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	snap := &Snapshot{
		ID:         uuid.New().String(),
		Path:       path,
		Filename:   filepath.Base(path),
		CameraID:   camera,
		Threshold:  threshold,
		Detections: res.Detections,
		CreatedAt:  now,
	}
	c.record(snap)
	c.config.Metrics.ObserveSnapshot("saved")
	log.Info("snapshot saved", "path", path, "detections", len(snap.Detections), "threshold", threshold)

	c.mu.Lock()
	c.lastSnap = snap
	c.emitLocked(EventSnapshot, snap)
	c.mu.Unlock()

	return snap, nil
}

// LastSnapshot returns the most recent snapshot of this process, if any.
func (c *Controller) LastSnapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSnap
}

func (c *Controller) record(snap *Snapshot) {
	if c.config.Store == nil {
		return
	}

	labels := make([]string, len(snap.Detections))
	for i, d := range snap.Detections {
		labels[i] = d.Label
	}

	err := c.config.Store.Snapshots().Create(&store.Snapshot{
		ID:             snap.ID,
		Filename:       snap.Filename,
		CameraID:       snap.CameraID,
		Threshold:      snap.Threshold,
		DetectionCount: len(snap.Detections),
		Labels:         labels,
		CreatedAt:      snap.CreatedAt,
	})
	if err != nil {
		log.Warn("index snapshot", "path", snap.Path, "err", err)
	}
}

// SnapshotName returns the filename for a snapshot taken at t. attempt > 0
// adds a disambiguating suffix.
func SnapshotName(t time.Time, attempt int) string {
	if attempt == 0 {
		return fmt.Sprintf("output_%d.png", t.Unix())
	}
	return fmt.Sprintf("output_%d_%d.png", t.Unix(), attempt)
}

// writeUnique writes data to the first free snapshot name in dir.
func writeUnique(dir string, t time.Time, data []byte) (string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(dir, SnapshotName(t, attempt))

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free snapshot name for %d in %s", t.Unix(), dir)
}
