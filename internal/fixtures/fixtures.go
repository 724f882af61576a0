// Package fixtures generates synthetic camera frames for tests and the demo
// mode.
package fixtures

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Default synthetic frame size, matching the requested camera resolution.
const (
	Width  = 640
	Height = 480
)

// Frame returns a BGR frame with a dark background and a bright block whose
// position depends on n, so consecutive frames differ.
func Frame(width, height, n int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), height, width, gocv.MatTypeCV8UC3)

	size := min(width, height) / 4
	if size < 1 {
		return &mat
	}
	span := max(width-size, 1)
	x := (n * 16) % span
	y := (height - size) / 2

	gocv.Rectangle(&mat, image.Rect(x, y, x+size, y+size), color.RGBA{R: 230, G: 180, B: 60, A: 255}, -1)
	return &mat
}

// Frames returns count frames of the given size.
func Frames(count, width, height int) []*gocv.Mat {
	frames := make([]*gocv.Mat, count)
	for i := range frames {
		frames[i] = Frame(width, height, i)
	}
	return frames
}

// CloseAll releases frames.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
