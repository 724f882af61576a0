// Package rtc delivers annotated frames to browsers over WebRTC.
package rtc

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ToYCbCr converts a BGR frame to a 4:2:0 image for the video encoder. Odd
// widths and heights lose their last column or row.
func ToYCbCr(frame *gocv.Mat) (*image.YCbCr, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	w, h := frame.Cols()&^1, frame.Rows()&^1
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("frame %dx%d too small", frame.Cols(), frame.Rows())
	}

	src := *frame
	if w != frame.Cols() || h != frame.Rows() {
		region := frame.Region(image.Rect(0, 0, w, h))
		cropped := region.Clone()
		region.Close()
		defer cropped.Close()
		src = cropped
	}

	yuv := gocv.NewMat()
	defer yuv.Close()
	gocv.CvtColor(src, &yuv, gocv.ColorBGRToYUVI420)

	return i420Image(w, h, yuv.ToBytes())
}

// i420Image wraps planar I420 bytes as an image.YCbCr.
func i420Image(w, h int, data []byte) (*image.YCbCr, error) {
	ySize := w * h
	cSize := (w / 2) * (h / 2)
	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("i420 buffer has %d bytes, want %d", len(data), ySize+2*cSize)
	}

	return &image.YCbCr{
		Y:              data[:ySize],
		Cb:             data[ySize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize],
		YStride:        w,
		CStride:        w / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}
