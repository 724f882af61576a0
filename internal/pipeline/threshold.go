// Package pipeline turns raw camera frames into annotated frames using the
// shared confidence threshold.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ayusman/bisindo/internal/config"
)

// ErrThresholdRange is returned when a threshold outside
// [config.MinThreshold, config.MaxThreshold] is stored.
var ErrThresholdRange = errors.New("threshold out of range")

// Threshold is the confidence threshold shared between the control surface
// (one writer) and the frame path (many readers). A value is stored as the
// bits of a float64 so every Load observes a whole value.
type Threshold struct {
	bits atomic.Uint64
}

// NewThreshold returns a cell holding v, or the default when v is invalid.
func NewThreshold(v float64) *Threshold {
	t := &Threshold{}
	if err := t.Store(v); err != nil {
		t.bits.Store(math.Float64bits(config.DefaultThreshold))
	}
	return t
}

// Load returns the current threshold.
func (t *Threshold) Load() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Store replaces the threshold. Values outside the allowed range, and NaN,
// are rejected and leave the cell unchanged.
func (t *Threshold) Store(v float64) error {
	if err := ValidateThreshold(v); err != nil {
		return err
	}
	t.bits.Store(math.Float64bits(v))
	return nil
}

// ValidateThreshold reports whether v may be stored.
func ValidateThreshold(v float64) error {
	if math.IsNaN(v) || v < config.MinThreshold || v > config.MaxThreshold {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrThresholdRange, v, config.MinThreshold, config.MaxThreshold)
	}
	return nil
}
