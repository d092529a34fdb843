package video

import (
	"context"
	"image"
	"image/color"
	"io"

	"gocv.io/x/gocv"
)

// SyntheticSource replays pre-built frames. Tests drive the pipeline
// with it instead of real video files.
type SyntheticSource struct {
	meta   VideoMeta
	frames []gocv.Mat
	pos    int
}

// NewSyntheticSource wraps frames as a FrameSource. The source takes
// ownership of the mats and closes them on Close.
func NewSyntheticSource(fps float64, frames []gocv.Mat) *SyntheticSource {
	var width, height int
	if len(frames) > 0 {
		width = frames[0].Cols()
		height = frames[0].Rows()
	}
	if fps <= 0 {
		fps = fallbackFPS
	}
	return &SyntheticSource{
		meta: VideoMeta{
			Path:       "synthetic",
			FPS:        fps,
			Width:      width,
			Height:     height,
			FrameCount: len(frames),
			Duration:   float64(len(frames)) / fps,
		},
		frames: frames,
	}
}

func (s *SyntheticSource) Meta() VideoMeta { return s.meta }

func (s *SyntheticSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}

	idx := s.pos
	s.pos++
	return Frame{
		Index:        idx,
		TimestampSec: float64(idx) / s.meta.FPS,
		Mat:          s.frames[idx],
	}, nil
}

func (s *SyntheticSource) Close() error {
	for i := range s.frames {
		s.frames[i].Close()
	}
	s.frames = nil
	return nil
}

// NewBlobFrame builds a dark BGR frame with solid bright rectangles.
// The fallback detector finds these reliably, which makes them a cheap
// stand-in for animals in tests.
func NewBlobFrame(width, height int, blobs []image.Rectangle) gocv.Mat {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	for _, b := range blobs {
		gocv.Rectangle(&mat, b, color.RGBA{R: 230, G: 230, B: 230, A: 255}, -1)
	}
	return mat
}
