// Package detector runs the Bisindo sign model on video frames and draws its
// results.
package detector

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// ErrModelUnavailable is returned when the model weights cannot be loaded.
// Startup treats it as fatal.
var ErrModelUnavailable = errors.New("model unavailable")

// Detection is one recognized sign in a frame.
type Detection struct {
	ClassID    int             `json:"class_id"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Model defines the interface for sign detection models.
type Model interface {
	// Predict returns every candidate scoring above the model's floor, with
	// boxes in the coordinates of img. img is not modified.
	Predict(img gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the model.
	Close() error
}

// Config holds options for loading the sign model.
type Config struct {
	// ModelPath is the ONNX export of the trained detector.
	ModelPath string

	// LabelsPath is an optional data.yaml carrying the class names.
	LabelsPath string

	// InputSize is the square inference resolution (default: 640).
	InputSize int

	// ScoreFloor drops candidates before NMS. Keep it at or below the lowest
	// user-selectable threshold.
	ScoreFloor float64

	// NMSThreshold is the IoU above which overlapping boxes are suppressed.
	NMSThreshold float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPath:    "models/bisindo.onnx",
		LabelsPath:   "models/data.yaml",
		InputSize:    640,
		ScoreFloor:   0.1,
		NMSThreshold: 0.45,
	}
}
