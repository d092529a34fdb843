// Package reid extracts biometric embeddings from animal crops and
// resolves them against the persistent identity registry, so the same
// goat keeps the same animal ID across videos and days.
package reid

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Embedding layout. The concatenated raw features (spatial color 288,
// shape 7, texture 59, optional motion 3) are truncated or zero-padded
// to featureDim before normalization.
const (
	featureDim = 256

	roiSide    = 256
	minROISide = 10

	colorGrid = 3
	hueBins   = 16
	satBins   = 16
)

// Extractor computes embeddings. The version tag travels with every
// stored vector; registries only match within one version.
type Extractor struct {
	version string
}

// NewExtractor returns an Extractor stamping vectors with version.
func NewExtractor(version string) *Extractor {
	return &Extractor{version: version}
}

// Version returns the extractor's model-version tag.
func (e *Extractor) Version() string { return e.version }

// Extract computes the embedding for one animal crop. prev, when set,
// is the animal's box on the previous sampled frame and contributes
// motion features. Identical inputs produce bit-identical vectors.
func (e *Extractor) Extract(frame gocv.Mat, box image.Rectangle, prev *image.Rectangle) ([]float64, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	roi := box.Intersect(bounds)
	if roi.Empty() || roi.Dx() < minROISide || roi.Dy() < minROISide {
		return nil, fmt.Errorf("degenerate crop %v within frame %v", box, bounds)
	}

	region := frame.Region(roi)
	defer region.Close()
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(roiSide, roiSide), 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)

	features := make([]float64, 0, colorGrid*colorGrid*(hueBins+satBins)+7+lbpBins+3)
	features = append(features, colorFeatures(resized)...)
	features = append(features, shapeFeatures(gray)...)
	features = append(features, lbpHistogram(gray)...)
	if prev != nil {
		features = append(features, motionFeatures(box, *prev)...)
	}
	return L2Normalize(fitDim(features, featureDim)), nil
}

// colorFeatures builds the 3×3 spatial HSV histogram: per cell 16 hue
// bins over [0,180) and 16 saturation bins over [0,256), each histogram
// L1-normalized.
func colorFeatures(roi gocv.Mat) []float64 {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	cellH := hsv.Rows() / colorGrid
	cellW := hsv.Cols() / colorGrid
	features := make([]float64, 0, colorGrid*colorGrid*(hueBins+satBins))
	for gy := 0; gy < colorGrid; gy++ {
		for gx := 0; gx < colorGrid; gx++ {
			hue := make([]float64, hueBins)
			sat := make([]float64, satBins)
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				for x := gx * cellW; x < (gx+1)*cellW; x++ {
					px := hsv.GetVecbAt(y, x)
					hue[min(int(px[0])*hueBins/180, hueBins-1)]++
					sat[min(int(px[1])*satBins/256, satBins-1)]++
				}
			}
			l1Normalize(hue)
			l1Normalize(sat)
			features = append(features, hue...)
			features = append(features, sat...)
		}
	}
	return features
}

// shapeFeatures computes the 7 Hu invariants of the Otsu-binarized
// crop, log-compressed as -sign(h)·log10(|h|) with exact zeros kept.
func shapeFeatures(gray gocv.Mat) []float64 {
	bw := gocv.NewMat()
	defer bw.Close()
	gocv.Threshold(gray, &bw, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	hu := huInvariants(gocv.Moments(bw, true))
	out := make([]float64, len(hu))
	for i, h := range hu {
		if h != 0 {
			out[i] = -math.Copysign(1, h) * math.Log10(math.Abs(h))
		}
	}
	return out
}

// huInvariants derives the classical seven invariants from normalized
// central moments.
func huInvariants(m map[string]float64) [7]float64 {
	nu20, nu02, nu11 := m["nu20"], m["nu02"], m["nu11"]
	nu30, nu21, nu12, nu03 := m["nu30"], m["nu21"], m["nu12"], m["nu03"]

	s1 := nu30 + nu12
	s2 := nu21 + nu03
	d1 := nu30 - 3*nu12
	d2 := 3*nu21 - nu03

	var h [7]float64
	h[0] = nu20 + nu02
	h[1] = (nu20-nu02)*(nu20-nu02) + 4*nu11*nu11
	h[2] = d1*d1 + d2*d2
	h[3] = s1*s1 + s2*s2
	h[4] = d1*s1*(s1*s1-3*s2*s2) + d2*s2*(3*s1*s1-s2*s2)
	h[5] = (nu20-nu02)*(s1*s1-s2*s2) + 4*nu11*s1*s2
	h[6] = d2*s1*(s1*s1-3*s2*s2) - d1*s2*(3*s1*s1-s2*s2)
	return h
}

// motionFeatures captures gait as center displacement plus area ratio
// between consecutive boxes.
func motionFeatures(box, prev image.Rectangle) []float64 {
	cx := float64(box.Min.X+box.Max.X) / 2
	cy := float64(box.Min.Y+box.Max.Y) / 2
	pcx := float64(prev.Min.X+prev.Max.X) / 2
	pcy := float64(prev.Min.Y+prev.Max.Y) / 2

	areaRatio := 1.0
	if prevArea := prev.Dx() * prev.Dy(); prevArea > 0 {
		areaRatio = float64(box.Dx()*box.Dy()) / float64(prevArea)
	}
	return []float64{cx - pcx, cy - pcy, areaRatio}
}

func fitDim(v []float64, dim int) []float64 {
	if len(v) == dim {
		return v
	}
	if len(v) > dim {
		return v[:dim]
	}
	out := make([]float64, dim)
	copy(out, v)
	return out
}
