// Package detect locates livestock in video frames. The primary path
// sweeps a DNN over progressively finer overlapping tiles so small and
// partially occluded animals in dense herds still resolve; when no
// neural backend is available a classical contour detector stands in.
package detect

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/config"
)

// Density labels keyed off the per-frame detection count.
const (
	DensitySparse   = "sparse"
	DensityModerate = "moderate"
	DensityDense    = "dense"
	DensityCrowded  = "crowded"
	DensityExtreme  = "extreme"
)

// Uncertainty components, 0-100 scale.
const (
	uncertaintyBase       = 10.0
	uncertaintyLowQuality = 20.0
	uncertaintyHighCount  = 10.0
	uncertaintyFallback   = 80.0

	highCountThreshold = 45
)

// Detection is a single located animal in one frame. Box is in frame
// pixel coordinates. Grid names the tile grid that produced the
// detection, e.g. "grid_2x2"; the fallback path leaves it empty.
type Detection struct {
	Box        image.Rectangle
	Confidence float64
	Class      string
	Grid       string
}

// FrameResult carries everything the detector learned about one frame.
type FrameResult struct {
	FrameIndex int
	Detections []Detection

	// Uncertainty is 0-100; higher means the count is less trustworthy.
	Uncertainty float64
	Density     string

	// LowQuality is set when the frame fails the blur check.
	LowQuality bool

	// Method records which pass produced the detections, e.g.
	// "grid_2x2" or "fallback".
	Method string

	// Occluded is set when the frame needed fine tiling or the kept
	// confidences ran low, both signs of animals hiding each other.
	Occluded bool
}

// Backend runs inference over one image region and returns detections
// in region-local coordinates. Implementations are not safe for
// concurrent use; each worker owns its own.
type Backend interface {
	Infer(region gocv.Mat, confFloor float64) ([]Detection, error)
	Close() error
}

// Detector produces per-frame detections. A nil backend selects the
// classical fallback path.
type Detector struct {
	backend Backend

	overlapPx       int
	nmsIoU          float64
	confFloorCoarse float64
	confFloorFine   float64
	blurThreshold   float64
	minContourArea  float64
}

// New builds a Detector around backend, tuned from cfg. Passing a nil
// backend is allowed and forces the contour fallback for every frame.
func New(backend Backend, cfg *config.TuningConfig) *Detector {
	return &Detector{
		backend:         backend,
		overlapPx:       cfg.GetTileOverlapPx(),
		nmsIoU:          cfg.GetNMSIoUThreshold(),
		confFloorCoarse: cfg.GetConfidenceFloorCoarse(),
		confFloorFine:   cfg.GetConfidenceFloorFine(),
		blurThreshold:   cfg.GetBlurVarianceThreshold(),
		minContourArea:  cfg.GetFallbackMinContourArea(),
	}
}

// NeuralEnabled reports whether the DNN path is active.
func (d *Detector) NeuralEnabled() bool {
	return d.backend != nil
}

// Close releases the backend, if any.
func (d *Detector) Close() error {
	if d.backend == nil {
		return nil
	}
	return d.backend.Close()
}

// DetectFrame runs the full per-frame protocol: blur check, tiled DNN
// sweep (or fallback), then uncertainty and density scoring.
func (d *Detector) DetectFrame(frame gocv.Mat, frameIdx int) (FrameResult, error) {
	res := FrameResult{FrameIndex: frameIdx}
	if frame.Empty() {
		res.Density = DensitySparse
		res.Uncertainty = uncertaintyFallback
		return res, nil
	}

	res.LowQuality = BlurScore(frame) < d.blurThreshold

	if d.backend == nil {
		dets, err := FallbackDetect(frame, d.minContourArea)
		if err != nil {
			return res, err
		}
		res.Detections = dets
		res.Method = "fallback"
		res.Uncertainty = uncertaintyFallback
		res.Density = ClassifyDensity(len(dets))
		return res, nil
	}

	dets, method, err := d.tiledDetect(frame)
	if err != nil {
		return res, err
	}
	res.Detections = dets
	res.Method = method
	res.Uncertainty = UncertaintyScore(len(dets), res.LowQuality)
	res.Density = ClassifyDensity(len(dets))
	res.Occluded = frameOccluded(method, dets)
	return res, nil
}

// ClassifyDensity maps a detection count to a density label.
func ClassifyDensity(count int) string {
	switch {
	case count < 10:
		return DensitySparse
	case count < 30:
		return DensityModerate
	case count < 60:
		return DensityDense
	case count < 100:
		return DensityCrowded
	default:
		return DensityExtreme
	}
}

// UncertaintyScore estimates how trustworthy a neural-path count is:
// base 10, +20 for a blurry frame, +10 past the high-count knee,
// clamped to 100.
func UncertaintyScore(count int, lowQuality bool) float64 {
	score := uncertaintyBase
	if lowQuality {
		score += uncertaintyLowQuality
	}
	if count > highCountThreshold {
		score += uncertaintyHighCount
	}
	if score > 100 {
		score = 100
	}
	return score
}

// frameOccluded flags frames where the sweep had to go fine, or where
// the surviving confidences are weak. Both correlate with animals
// overlapping in the scene.
func frameOccluded(method string, dets []Detection) bool {
	if method != "" && method != "grid_1x1" && method != "fallback" {
		return true
	}
	for _, det := range dets {
		if det.Confidence < 0.2 {
			return true
		}
	}
	return false
}
