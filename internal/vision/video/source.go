// Package video provides frame sources for the analysis pipeline: a
// gocv-backed file source for production and a synthetic in-memory
// source for tests.
package video

import (
	"context"
	"fmt"
	"io"
	"math"

	"gocv.io/x/gocv"
)

// VideoMeta describes an opened video container.
type VideoMeta struct {
	Path       string  `json:"path"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
}

// Resolution returns the metadata resolution as "WxH".
func (m VideoMeta) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Frame is one decoded frame in BGR. The Mat is owned by the source and
// stays valid until the next call to Next or Close; callers that need to
// retain pixels must Clone.
type Frame struct {
	Index        int
	TimestampSec float64
	Mat          gocv.Mat
}

// FrameSource delivers decoded frames in order. Next returns io.EOF
// after the last frame. Frame skipping is the pipeline's concern: a
// source always delivers every frame.
type FrameSource interface {
	Meta() VideoMeta
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// DecodeError reports an unreadable or undecodable video container.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: unrecognized video format or corruption", e.Path)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FileSource decodes a video file with gocv. The capture buffer is
// reused between frames.
type FileSource struct {
	cap  *gocv.VideoCapture
	meta VideoMeta
	buf  gocv.Mat
	next int
}

// fallbackFPS stands in when the container reports no frame rate, so
// timestamps stay finite.
const fallbackFPS = 30.0

// OpenFile opens a video file and probes its metadata. Containers that
// cannot be opened, or that report a zero-sized frame, yield a
// DecodeError.
func OpenFile(path string) (*FileSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) {
		fps = fallbackFPS
	}
	width := int(cap.Get(gocv.VideoCaptureFrameWidth))
	height := int(cap.Get(gocv.VideoCaptureFrameHeight))
	frameCount := int(cap.Get(gocv.VideoCaptureFrameCount))

	if width <= 0 || height <= 0 {
		cap.Close()
		return nil, &DecodeError{Path: path}
	}

	meta := VideoMeta{
		Path:       path,
		FPS:        fps,
		Width:      width,
		Height:     height,
		FrameCount: frameCount,
		Duration:   float64(frameCount) / fps,
	}

	return &FileSource{cap: cap, meta: meta, buf: gocv.NewMat()}, nil
}

func (s *FileSource) Meta() VideoMeta { return s.meta }

// Next decodes the next frame. Timestamps are synthesized from the
// frame index and the container frame rate.
func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if ok := s.cap.Read(&s.buf); !ok {
		return Frame{}, io.EOF
	}

	idx := s.next
	s.next++
	return Frame{
		Index:        idx,
		TimestampSec: float64(idx) / s.meta.FPS,
		Mat:          s.buf,
	}, nil
}

func (s *FileSource) Close() error {
	s.buf.Close()
	return s.cap.Close()
}
