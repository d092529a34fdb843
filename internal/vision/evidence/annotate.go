package evidence

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/vision/detect"
)

// Drawing constants for annotated frames.
const (
	boxThickness   = 2
	labelFontScale = 0.5
	headerHeight   = 80
	heatmapCellPx  = 50
	heatmapAlpha   = 0.5
)

var (
	colorHighConf = color.RGBA{R: 0, G: 255, B: 0}
	colorMedConf  = color.RGBA{R: 255, G: 165, B: 0}
	colorLowConf  = color.RGBA{R: 255, G: 0, B: 0}
	colorIDTag    = color.RGBA{R: 255, G: 255, B: 0}
	colorTextBG   = color.RGBA{}
	colorHeader   = color.RGBA{R: 255, G: 255, B: 255}
)

// confidenceColor picks the box color for a detection's confidence band.
func confidenceColor(confidence float64) color.RGBA {
	switch {
	case confidence >= 0.7:
		return colorHighConf
	case confidence >= 0.4:
		return colorMedConf
	default:
		return colorLowConf
	}
}

// AnnotateFrame renders boxes, identity labels, and a header band onto
// a copy of the frame. labels supplies the display tag per detection;
// missing entries fall back to a positional G<n> tag. The returned mat
// is headerHeight taller than the input and owned by the caller.
func AnnotateFrame(frame gocv.Mat, dets []detect.Detection, labels []string, frameIndex int, density string, at time.Time) gocv.Mat {
	annotated := frame.Clone()

	for i, det := range dets {
		boxColor := confidenceColor(det.Confidence)
		gocv.Rectangle(&annotated, det.Box, boxColor, boxThickness)

		tag := fmt.Sprintf("G%d", i+1)
		if i < len(labels) && labels[i] != "" {
			tag = labels[i]
		}
		label := fmt.Sprintf("%s (%.2f)", tag, det.Confidence)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, labelFontScale, 1)

		// Anchor above the box, but keep the strip on screen for
		// detections that touch the top edge.
		labelX := det.Box.Min.X
		labelY := det.Box.Min.Y - 5
		if labelY < size.Y+5 {
			labelY = size.Y + 5
		}

		bg := image.Rect(labelX, labelY-size.Y-4, labelX+size.X+4, labelY+2)
		gocv.Rectangle(&annotated, bg, colorTextBG, -1)
		gocv.PutText(&annotated, label, image.Pt(labelX+2, labelY), gocv.FontHersheySimplex, labelFontScale, colorIDTag, 1)
	}

	header := gocv.NewMatWithSize(headerHeight, frame.Cols(), gocv.MatTypeCV8UC3)
	defer header.Close()
	lines := []string{
		fmt.Sprintf("Frame: %d", frameIndex),
		fmt.Sprintf("Detections: %d", len(dets)),
		fmt.Sprintf("Density: %s", strings.ToUpper(density)),
		fmt.Sprintf("Timestamp: %s", at.Format("2006-01-02 15:04:05")),
	}
	y := 20
	for _, line := range lines {
		gocv.PutText(&header, line, image.Pt(10, y), gocv.FontHersheySimplex, 0.6, colorHeader, 1)
		y += 18
	}

	out := gocv.NewMat()
	gocv.Vconcat(header, annotated, &out)
	annotated.Close()
	return out
}

// Heatmap renders the spatial distribution of detections: centers are
// accumulated into a grid of fixed-size cells, normalized, upscaled,
// jet-colored, and alpha-blended over the frame. The returned mat is
// owned by the caller.
func Heatmap(frame gocv.Mat, dets []detect.Detection) gocv.Mat {
	h := frame.Rows()
	w := frame.Cols()
	gridH := h / heatmapCellPx
	gridW := w / heatmapCellPx
	if gridH < 1 {
		gridH = 1
	}
	if gridW < 1 {
		gridW = 1
	}

	grid := gocv.NewMatWithSize(gridH, gridW, gocv.MatTypeCV32F)
	defer grid.Close()
	for _, det := range dets {
		cx := (det.Box.Min.X + det.Box.Max.X) / 2
		cy := (det.Box.Min.Y + det.Box.Max.Y) / 2
		gx := cx / heatmapCellPx
		gy := cy / heatmapCellPx
		if gx > gridW-1 {
			gx = gridW - 1
		}
		if gy > gridH-1 {
			gy = gridH - 1
		}
		if gx < 0 {
			gx = 0
		}
		if gy < 0 {
			gy = 0
		}
		grid.SetFloatAt(gy, gx, grid.GetFloatAt(gy, gx)+1)
	}

	_, maxVal, _, _ := gocv.MinMaxLoc(grid)
	scale := float32(1)
	if maxVal > 0 {
		scale = 255 / maxVal
	}
	normalized := gocv.NewMat()
	defer normalized.Close()
	grid.ConvertToWithParams(&normalized, gocv.MatTypeCV8U, scale, 0)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(normalized, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(resized, &colored, gocv.ColormapJet)

	blended := gocv.NewMat()
	gocv.AddWeighted(frame, 1-heatmapAlpha, colored, heatmapAlpha, 0, &blended)
	return blended
}
