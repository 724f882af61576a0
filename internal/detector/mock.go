package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockModel is a test implementation of the Model interface.
// It allows tests to control the prediction results.
type MockModel struct {
	mu     sync.Mutex
	dets   []Detection
	err    error
	calls  int
	closed bool
}

// NewMockModel creates a new MockModel instance.
func NewMockModel() *MockModel {
	return &MockModel{}
}

// SetDetections sets the detections that will be returned by Predict.
func (m *MockModel) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dets = dets
}

// SetError sets the error that will be returned by Predict.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Predict returns a copy of the pre-configured detections or error.
func (m *MockModel) Predict(img gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Detection, len(m.dets))
	copy(out, m.dets)
	return out, nil
}

// Calls returns how many times Predict was called.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock closed.
func (m *MockModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SampleDetections returns a fixed pair of signs inside a 640x480 frame: a
// confident "A" and a weaker "B".
func SampleDetections() []Detection {
	return []Detection{
		{ClassID: 0, Label: "A", Confidence: 0.87, Box: image.Rect(120, 80, 280, 300)},
		{ClassID: 1, Label: "B", Confidence: 0.35, Box: image.Rect(360, 120, 520, 360)},
	}
}
