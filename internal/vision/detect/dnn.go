package detect

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

const (
	// dnnInputSize is the square input side the detection network
	// expects; tile regions are letterboxed to it by BlobFromImage.
	dnnInputSize = 640

	// dnnNMSThreshold dedupes raw anchor outputs inside one tile.
	// Cross-tile merging happens later in ClusterNMS.
	dnnNMSThreshold = 0.45
)

// cocoLabels is the class table of the standard 80-class models. A
// herd-specific model can override it via NewONNXBackend.
var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard",
	"sports ball", "kite", "baseball bat", "baseball glove", "skateboard",
	"surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork",
	"knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv",
	"laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase",
	"scissors", "teddy bear", "hair drier", "toothbrush",
}

// ONNXBackend runs a YOLO-family ONNX model through the OpenCV DNN
// module. Not safe for concurrent use.
type ONNXBackend struct {
	net     gocv.Net
	labels  []string
	allowed map[string]bool
}

// NewONNXBackend loads the model at modelPath. labels may be nil to use
// the standard 80-class table; allowed restricts which classes are
// reported (empty allows all).
func NewONNXBackend(modelPath string, labels, allowed []string) (*ONNXBackend, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("no detection model configured")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("detection model: %w", err)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load detection model %s: empty network", modelPath)
	}
	if labels == nil {
		labels = cocoLabels
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowSet[name] = true
	}
	return &ONNXBackend{net: net, labels: labels, allowed: allowSet}, nil
}

// Infer runs one forward pass over region and decodes detections in
// region-local pixel coordinates.
func (b *ONNXBackend) Infer(region gocv.Mat, confFloor float64) ([]Detection, error) {
	if region.Empty() {
		return nil, nil
	}
	blob := gocv.BlobFromImage(region, 1.0/255.0,
		image.Pt(dnnInputSize, dnnInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()

	return b.decode(out, region.Cols(), region.Rows(), confFloor)
}

// decode parses a [1, 4+nc, anchors] output tensor: per anchor a box
// center plus per-class scores, in model input coordinates.
func (b *ONNXBackend) decode(out gocv.Mat, regionW, regionH int, confFloor float64) ([]Detection, error) {
	sz := out.Size()
	if len(sz) != 3 || sz[0] != 1 {
		return nil, fmt.Errorf("unexpected model output shape %v", sz)
	}
	attrs, anchors := sz[1], sz[2]
	if attrs < 5 {
		return nil, fmt.Errorf("unexpected model output shape %v", sz)
	}

	flat := out.Reshape(1, attrs)
	defer flat.Close()

	scaleX := float64(regionW) / dnnInputSize
	scaleY := float64(regionH) / dnnInputSize
	bounds := image.Rect(0, 0, regionW, regionH)

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []string
	)
	for a := 0; a < anchors; a++ {
		bestScore := float32(0)
		bestClass := -1
		for c := 4; c < attrs; c++ {
			if s := flat.GetFloatAt(c, a); s > bestScore {
				bestScore = s
				bestClass = c - 4
			}
		}
		if bestClass < 0 || float64(bestScore) < confFloor {
			continue
		}
		name := "unknown"
		if bestClass < len(b.labels) {
			name = b.labels[bestClass]
		}
		if len(b.allowed) > 0 && !b.allowed[name] {
			continue
		}

		cx := float64(flat.GetFloatAt(0, a)) * scaleX
		cy := float64(flat.GetFloatAt(1, a)) * scaleY
		w := float64(flat.GetFloatAt(2, a)) * scaleX
		h := float64(flat.GetFloatAt(3, a)) * scaleY
		box := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)).Intersect(bounds)
		if box.Empty() {
			continue
		}
		boxes = append(boxes, box)
		scores = append(scores, bestScore)
		classes = append(classes, name)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	kept := gocv.NMSBoxes(boxes, scores, float32(confFloor), dnnNMSThreshold)
	dets := make([]Detection, 0, len(kept))
	for _, i := range kept {
		dets = append(dets, Detection{
			Box:        boxes[i],
			Confidence: float64(scores[i]),
			Class:      classes[i],
		})
	}
	return dets, nil
}

// Close releases the network.
func (b *ONNXBackend) Close() error {
	return b.net.Close()
}
