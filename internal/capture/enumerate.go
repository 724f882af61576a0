package capture

import (
	"errors"
	"fmt"
)

// DefaultMaxIndex is the number of device indices probed when none is configured.
const DefaultMaxIndex = 5

// ErrNoCameras means enumeration found no usable device. It is a configuration
// error: no stream may be started.
var ErrNoCameras = errors.New("no camera detected")

// Enumerate probes device indices 0..maxIndex-1 and returns, in order, those
// that open and deliver one frame. Every opened handle is released. Indices
// that fail are skipped; Enumerate never fails.
func Enumerate(maxIndex int, open Opener) []int {
	if open == nil {
		open = NewCamera
	}

	var available []int
	for i := 0; i < maxIndex; i++ {
		if probe(open(i)) {
			available = append(available, i)
		}
	}
	return available
}

func probe(cam Camera) bool {
	if err := cam.Open(); err != nil {
		return false
	}
	defer cam.Close()

	frame, err := cam.ReadFrame()
	if err != nil {
		return false
	}
	frame.Close()
	return true
}

// RequireCameras returns ErrNoCameras when indices is empty.
func RequireCameras(indices []int) error {
	if len(indices) == 0 {
		return fmt.Errorf("enumerate cameras: %w", ErrNoCameras)
	}
	return nil
}

// Contains reports whether idx is one of the enumerated indices.
func Contains(indices []int, idx int) bool {
	for _, i := range indices {
		if i == idx {
			return true
		}
	}
	return false
}
