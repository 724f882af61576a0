package pipeline

import (
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/bisindo/internal/detector"
	"github.com/ayusman/bisindo/internal/metrics"
)

// Processor is the per-frame transform the video transport invokes. It keeps
// a copy of the most recent raw frame for snapshots and returns the annotated
// frame for display. Process and Detect never overlap.
type Processor struct {
	adapter   *detector.Adapter
	threshold *Threshold
	metrics   *metrics.Metrics

	// run serializes Process and Detect.
	run sync.Mutex

	mu       sync.Mutex
	last     *gocv.Mat
	lastDets []detector.Detection
	lastAt   time.Time
	frames   uint64
}

// NewProcessor creates a Processor. m may be nil.
func NewProcessor(adapter *detector.Adapter, threshold *Threshold, m *metrics.Metrics) *Processor {
	return &Processor{
		adapter:   adapter,
		threshold: threshold,
		metrics:   m,
	}
}

// Process records raw as the last frame, detects signs at the current
// threshold and returns the annotated frame. The caller keeps ownership of
// raw and owns the returned Mat.
func (p *Processor) Process(raw *gocv.Mat) (*gocv.Mat, error) {
	p.run.Lock()
	defer p.run.Unlock()

	p.storeLast(raw)

	start := time.Now()
	res, err := p.adapter.Detect(*raw, p.threshold.Load())
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.ObserveFrame(elapsed, nil, err)
		return nil, err
	}

	labels := make([]string, len(res.Detections))
	for i, d := range res.Detections {
		labels[i] = d.Label
	}
	p.metrics.ObserveFrame(elapsed, labels, nil)

	p.mu.Lock()
	p.lastDets = res.Detections
	p.lastAt = time.Now()
	p.frames++
	p.mu.Unlock()

	annotated := res.Annotated
	return &annotated, nil
}

func (p *Processor) storeLast(raw *gocv.Mat) {
	clone := raw.Clone()

	p.mu.Lock()
	old := p.last
	p.last = &clone
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// LastFrame returns a copy of the most recent raw frame, or false when no
// frame has been seen since the last Reset. The caller owns the copy.
func (p *Processor) LastFrame() (*gocv.Mat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil {
		return nil, false
	}
	clone := p.last.Clone()
	return &clone, true
}

// LastDetections returns the detections of the most recent frame and when it
// was processed.
func (p *Processor) LastDetections() ([]detector.Detection, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]detector.Detection, len(p.lastDets))
	copy(out, p.lastDets)
	return out, p.lastAt
}

// Frames returns how many frames were processed successfully.
func (p *Processor) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Threshold returns the shared threshold cell.
func (p *Processor) Threshold() *Threshold {
	return p.threshold
}

// Detect runs the detection adapter on img outside the stream, serialized
// with Process. The caller owns the result.
func (p *Processor) Detect(img gocv.Mat, threshold float64) (detector.Result, error) {
	p.run.Lock()
	defer p.run.Unlock()
	return p.adapter.Detect(img, threshold)
}

// Reset drops the last frame and detections.
func (p *Processor) Reset() {
	p.mu.Lock()
	old := p.last
	p.last = nil
	p.lastDets = nil
	p.lastAt = time.Time{}
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
}
