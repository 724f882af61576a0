package detector

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Result is the outcome of one detection pass. The caller owns Annotated and
// must Close the Result.
type Result struct {
	Detections []Detection
	Annotated  gocv.Mat
}

// Close releases the annotated image.
func (r *Result) Close() error {
	return r.Annotated.Close()
}

// Adapter turns a raw frame and a confidence threshold into an annotated
// frame. It is safe for concurrent use when its Model is.
type Adapter struct {
	model Model
}

// NewAdapter wraps model.
func NewAdapter(model Model) *Adapter {
	return &Adapter{model: model}
}

// Detect runs the model on img, keeps detections with confidence >= threshold
// and draws them on a copy of img. img itself is never modified. With no
// surviving detections the copy is returned unchanged.
func (a *Adapter) Detect(img gocv.Mat, threshold float64) (Result, error) {
	if img.Empty() {
		return Result{}, errors.New("detect: empty frame")
	}

	candidates, err := a.model.Predict(img)
	if err != nil {
		return Result{}, fmt.Errorf("detect: %w", err)
	}

	kept := Filter(candidates, threshold)

	annotated := img.Clone()
	Render(&annotated, kept)

	return Result{Detections: kept, Annotated: annotated}, nil
}

// Filter returns the detections whose confidence is at least threshold,
// preserving order.
func Filter(dets []Detection, threshold float64) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}
