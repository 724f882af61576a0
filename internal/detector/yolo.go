package detector

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// letterboxFill is the grey ultralytics pads letterboxed inputs with.
var letterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 0}

// YOLOModel runs an ONNX export of an ultralytics detector through the
// OpenCV DNN module. Output layout is [1, 4+classes, anchors].
type YOLOModel struct {
	net    gocv.Net
	config Config
	labels []string
	mu     sync.Mutex
}

// LoadYOLO loads the weights and labels named by cfg. A missing or unreadable
// weights file yields ErrModelUnavailable.
func LoadYOLO(cfg Config) (*YOLOModel, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultConfig().InputSize
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, cfg.ModelPath, err)
	}

	labels, err := LoadLabels(cfg.LabelsPath)
	if errors.Is(err, os.ErrNotExist) {
		labels = DefaultLabels()
	} else if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot parse %s", ErrModelUnavailable, cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLOModel{
		net:    net,
		config: cfg,
		labels: labels,
	}, nil
}

// Labels returns the class names in class-id order.
func (m *YOLOModel) Labels() []string {
	return m.labels
}

// Predict implements Model.
func (m *YOLOModel) Predict(img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	input, lb := letterbox(img, m.config.InputSize)
	defer input.Close()

	size := image.Pt(m.config.InputSize, m.config.InputSize)
	blob := gocv.BlobFromImage(input, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	return m.decode(output, lb, image.Rect(0, 0, img.Cols(), img.Rows()))
}

// Close releases the network.
func (m *YOLOModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// classStride separates boxes of different classes so a single NMS pass
// never suppresses across classes.
const classStride = 8192

func classOffset(boxes []image.Rectangle, classIDs []int) []image.Rectangle {
	shifted := make([]image.Rectangle, len(boxes))
	for i, b := range boxes {
		d := classIDs[i] * classStride
		shifted[i] = b.Add(image.Pt(d, d))
	}
	return shifted
}

// letterboxInfo maps inference coordinates back to the source frame.
type letterboxInfo struct {
	scale      float64
	padX, padY int
}

func (l letterboxInfo) toSource(x, y float64) (float64, float64) {
	return (x - float64(l.padX)) / l.scale, (y - float64(l.padY)) / l.scale
}

// letterbox resizes img to fit a size x size square without distortion and
// pads the remainder.
func letterbox(img gocv.Mat, size int) (gocv.Mat, letterboxInfo) {
	w, h := img.Cols(), img.Rows()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(nw, nh), 0, 0, gocv.InterpolationLinear)

	padX := (size - nw) / 2
	padY := (size - nh) / 2

	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, padY, size-nh-padY, padX, size-nw-padX, gocv.BorderConstant, letterboxFill)

	return out, letterboxInfo{scale: scale, padX: padX, padY: padY}
}

func (m *YOLOModel) decode(output gocv.Mat, lb letterboxInfo, bounds image.Rectangle) ([]Detection, error) {
	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs, anchors := dims[1], dims[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(data) < attrs*anchors {
		return nil, fmt.Errorf("output holds %d values, want %d", len(data), attrs*anchors)
	}

	floor := float32(m.config.ScoreFloor)

	var (
		boxes    []image.Rectangle
		scores   []float32
		classIDs []int
	)
	for i := 0; i < anchors; i++ {
		best := float32(0)
		bestID := 0
		for c := 4; c < attrs; c++ {
			if s := data[c*anchors+i]; s > best {
				best = s
				bestID = c - 4
			}
		}
		if best < floor {
			continue
		}

		cx := float64(data[0*anchors+i])
		cy := float64(data[1*anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)
		box := image.Rect(int(x1), int(y1), int(math.Ceil(x2)), int(math.Ceil(y2))).Intersect(bounds)
		if box.Empty() {
			continue
		}

		boxes = append(boxes, box)
		scores = append(scores, best)
		classIDs = append(classIDs, bestID)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(classOffset(boxes, classIDs), scores, floor, float32(m.config.NMSThreshold))

	detections := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		detections = append(detections, Detection{
			ClassID:    classIDs[idx],
			Label:      labelFor(m.labels, classIDs[idx]),
			Confidence: float64(scores[idx]),
			Box:        boxes[idx],
		})
	}
	return detections, nil
}
