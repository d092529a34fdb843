package detect

import (
	"image"

	"gocv.io/x/gocv"
)

// Fallback path constants. Edge thresholds follow the classical Canny
// 1:5 ratio; the flat confidence marks these detections as weak.
const (
	fallbackCannyLow   = 30
	fallbackCannyHigh  = 150
	fallbackConfidence = 0.4
	fallbackClass      = "goat"
)

// FallbackDetect finds animal-sized regions with classical edge
// detection when no neural backend is available: grayscale, Gaussian
// smoothing, Canny edges, external contours, then a minimum-area gate.
func FallbackDetect(frame gocv.Mat, minContourArea float64) ([]Detection, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, fallbackCannyLow, fallbackCannyHigh)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var dets []Detection
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) <= minContourArea {
			continue
		}
		dets = append(dets, Detection{
			Box:        gocv.BoundingRect(contour),
			Confidence: fallbackConfidence,
			Class:      fallbackClass,
		})
	}
	return dets, nil
}
