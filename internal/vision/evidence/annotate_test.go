package evidence

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/vision/detect"
	"github.com/pasture-data/herdsight/internal/vision/video"
)

// hasPixel reports whether any pixel in the region satisfies pred.
// Channels arrive in BGR order, matching the mat layout.
func hasPixel(m gocv.Mat, region image.Rectangle, pred func(b, g, r uint8) bool) bool {
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			v := m.GetVecbAt(y, x)
			if pred(v[0], v[1], v[2]) {
				return true
			}
		}
	}
	return false
}

func TestConfidenceColor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       color.RGBA
	}{
		{0.95, colorHighConf},
		{0.70, colorHighConf},
		{0.50, colorMedConf},
		{0.40, colorMedConf},
		{0.39, colorLowConf},
		{0.05, colorLowConf},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, confidenceColor(tc.confidence), "confidence %.2f", tc.confidence)
	}
}

func TestAnnotateFrameLayoutAndColors(t *testing.T) {
	frame := video.NewBlobFrame(320, 240, nil)
	defer frame.Close()

	dets := []detect.Detection{
		{Box: image.Rect(50, 50, 150, 150), Confidence: 0.9, Class: "goat"},
		{Box: image.Rect(200, 30, 280, 100), Confidence: 0.45, Class: "goat"},
		{Box: image.Rect(20, 180, 90, 230), Confidence: 0.2, Class: "goat"},
	}
	labels := []string{"GOAT001"}

	out := AnnotateFrame(frame, dets, labels, 42, "moderate", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	defer out.Close()

	require.Equal(t, 240+headerHeight, out.Rows())
	require.Equal(t, 320, out.Cols())

	// The input frame stays untouched.
	assert.Equal(t, 240, frame.Rows())
	src := frame.GetVecbAt(50, 100)
	assert.Zero(t, int(src[0])+int(src[1])+int(src[2]))

	// Box edges land headerHeight lower in the output. High confidence
	// draws green, medium orange, low red.
	assert.True(t, hasPixel(out, image.Rect(100, 128, 101, 134), func(b, g, r uint8) bool {
		return g > 200 && b < 50 && r < 50
	}), "green box edge for 0.9 confidence")
	assert.True(t, hasPixel(out, image.Rect(240, 108, 241, 114), func(b, g, r uint8) bool {
		return r > 200 && g > 120 && g < 200 && b < 50
	}), "orange box edge for 0.45 confidence")
	assert.True(t, hasPixel(out, image.Rect(55, 258, 56, 264), func(b, g, r uint8) bool {
		return r > 200 && g < 50 && b < 50
	}), "red box edge for 0.2 confidence")

	// Yellow label text over the black strip above the first box.
	assert.True(t, hasPixel(out, image.Rect(52, 112, 184, 128), func(b, g, r uint8) bool {
		return r > 200 && g > 200 && b < 50
	}), "yellow identity label")

	// White header text in the band prepended on top.
	assert.True(t, hasPixel(out, image.Rect(0, 0, 320, headerHeight), func(b, g, r uint8) bool {
		return b > 200 && g > 200 && r > 200
	}), "white header text")
}

func TestAnnotateFrameNoDetections(t *testing.T) {
	frame := video.NewBlobFrame(160, 120, nil)
	defer frame.Close()

	out := AnnotateFrame(frame, nil, nil, 0, "sparse", time.Now())
	defer out.Close()

	assert.Equal(t, 120+headerHeight, out.Rows())
	assert.Equal(t, 160, out.Cols())

	// Body below the header stays the untouched dark frame.
	v := out.GetVecbAt(headerHeight+60, 80)
	assert.Zero(t, int(v[0])+int(v[1])+int(v[2]))
}

func TestHeatmapHotAndColdCells(t *testing.T) {
	frame := video.NewBlobFrame(320, 240, nil)
	defer frame.Close()

	// Three detections centered in the top-left 50px cell.
	dets := []detect.Detection{
		{Box: image.Rect(10, 10, 30, 30), Confidence: 0.8, Class: "goat"},
		{Box: image.Rect(20, 15, 40, 35), Confidence: 0.8, Class: "goat"},
		{Box: image.Rect(5, 25, 25, 45), Confidence: 0.8, Class: "goat"},
	}

	out := Heatmap(frame, dets)
	defer out.Close()

	require.Equal(t, 240, out.Rows())
	require.Equal(t, 320, out.Cols())

	// Jet maps the hottest cell toward red and empty cells toward blue;
	// blending over a black frame halves both.
	hot := out.GetVecbAt(10, 10)
	assert.Greater(t, hot[2], uint8(40), "hot cell red channel")
	assert.Less(t, hot[0], uint8(10), "hot cell blue channel")

	cold := out.GetVecbAt(230, 310)
	assert.Greater(t, cold[0], uint8(40), "cold cell blue channel")
	assert.Less(t, cold[2], uint8(10), "cold cell red channel")
}

func TestHeatmapNoDetections(t *testing.T) {
	frame := video.NewBlobFrame(320, 240, nil)
	defer frame.Close()

	out := Heatmap(frame, nil)
	defer out.Close()

	require.Equal(t, 240, out.Rows())
	require.Equal(t, 320, out.Cols())

	// Zero accumulation renders a uniform cold map.
	a := out.GetVecbAt(10, 10)
	b := out.GetVecbAt(200, 100)
	assert.Equal(t, a, b)
}
