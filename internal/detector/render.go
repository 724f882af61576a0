package detector

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const (
	boxThickness  = 2
	labelFont     = gocv.FontHersheySimplex
	labelScale    = 0.6
	labelWeight   = 2
	labelPaddingY = 4
)

var labelText = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// palette gives each class a stable colour.
var palette = []color.RGBA{
	{R: 56, G: 56, B: 255},
	{R: 151, G: 157, B: 255},
	{R: 31, G: 112, B: 255},
	{R: 29, G: 178, B: 255},
	{R: 49, G: 210, B: 207},
	{R: 10, G: 249, B: 72},
	{R: 23, G: 204, B: 146},
	{R: 134, G: 219, B: 61},
	{R: 52, G: 147, B: 26},
	{R: 187, G: 212, B: 0},
	{R: 168, G: 153, B: 44},
	{R: 255, G: 194, B: 0},
	{R: 147, G: 69, B: 52},
	{R: 255, G: 115, B: 100},
	{R: 236, G: 24, B: 0},
	{R: 255, G: 56, B: 132},
	{R: 133, G: 0, B: 82},
	{R: 255, G: 56, B: 203},
	{R: 200, G: 149, B: 255},
	{R: 199, G: 55, B: 255},
}

// ColorFor returns the box colour for a class id.
func ColorFor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Caption is the text drawn above a detection's box.
func Caption(d Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Render draws each detection's box and caption onto img in place.
func Render(img *gocv.Mat, dets []Detection) {
	for _, d := range dets {
		c := ColorFor(d.ClassID)
		gocv.Rectangle(img, d.Box, c, boxThickness)

		text := Caption(d)
		size := gocv.GetTextSize(text, labelFont, labelScale, labelWeight)

		// Caption sits above the box, or inside it when the box touches the top edge.
		top := d.Box.Min.Y - size.Y - 2*labelPaddingY
		if top < 0 {
			top = d.Box.Min.Y
		}
		bg := image.Rect(d.Box.Min.X, top, d.Box.Min.X+size.X+2*labelPaddingY, top+size.Y+2*labelPaddingY)

		gocv.Rectangle(img, bg, c, -1)
		gocv.PutText(img, text, image.Pt(bg.Min.X+labelPaddingY, bg.Max.Y-labelPaddingY), labelFont, labelScale, labelText, labelWeight)
	}
}
