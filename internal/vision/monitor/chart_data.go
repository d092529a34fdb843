// Package monitor provides chart data preparation utilities for job visualisation.
// This file separates data transformation from eCharts rendering for improved testability.
package monitor

import (
	"encoding/json"
	"fmt"

	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/vision/detect"
)

// CountSeriesData holds prepared data for the detections-per-frame chart.
type CountSeriesData struct {
	Frames    []int   `json:"frames"`
	Counts    []int   `json:"counts"`
	MaxCount  int     `json:"max_count"`
	MeanCount float64 `json:"mean_count"`
	VideoID   string  `json:"video_id"`
	NumFrames int     `json:"num_frames"`
}

// PrepareCountSeries transforms per-frame detection counts into chart data.
func PrepareCountSeries(counts []db.FrameCount, videoID string) *CountSeriesData {
	data := &CountSeriesData{
		Frames:  make([]int, 0, len(counts)),
		Counts:  make([]int, 0, len(counts)),
		VideoID: videoID,
	}

	total := 0
	for _, fc := range counts {
		data.Frames = append(data.Frames, fc.FrameNumber)
		data.Counts = append(data.Counts, fc.Count)
		total += fc.Count
		if fc.Count > data.MaxCount {
			data.MaxCount = fc.Count
		}
	}

	data.NumFrames = len(counts)
	if data.NumFrames > 0 {
		data.MeanCount = float64(total) / float64(data.NumFrames)
	}
	if data.MaxCount == 0 {
		data.MaxCount = 1
	}

	return data
}

// DensityBucket is one density class with the number of frames in it.
type DensityBucket struct {
	Label  string `json:"label"`
	Frames int    `json:"frames"`
}

// DensityChartData holds prepared data for the density distribution chart.
type DensityChartData struct {
	Buckets   []DensityBucket `json:"buckets"`
	VideoID   string          `json:"video_id"`
	NumFrames int             `json:"num_frames"`
	PeakLabel string          `json:"peak_label"`
}

// PrepareDensityData classifies each frame's count into a density bucket.
// Buckets come back in severity order including empty ones, so the chart
// axis stays stable across videos.
func PrepareDensityData(counts []db.FrameCount, videoID string) *DensityChartData {
	order := []string{
		detect.DensitySparse,
		detect.DensityModerate,
		detect.DensityDense,
		detect.DensityCrowded,
		detect.DensityExtreme,
	}
	byLabel := make(map[string]int, len(order))
	for _, fc := range counts {
		byLabel[detect.ClassifyDensity(fc.Count)]++
	}

	data := &DensityChartData{
		Buckets:   make([]DensityBucket, 0, len(order)),
		VideoID:   videoID,
		NumFrames: len(counts),
	}
	peak := 0
	for _, label := range order {
		n := byLabel[label]
		data.Buckets = append(data.Buckets, DensityBucket{Label: label, Frames: n})
		if n > peak {
			peak = n
			data.PeakLabel = label
		}
	}

	return data
}

// similarityBins is the number of equal-width histogram bins over [0, 1].
const similarityBins = 10

// SimilarityBin is one histogram bin of re-identification similarity scores.
type SimilarityBin struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// SimilarityHistogramData holds prepared data for the similarity chart.
type SimilarityHistogramData struct {
	Bins           []SimilarityBin `json:"bins"`
	VideoID        string          `json:"video_id"`
	NumEvents      int             `json:"num_events"`
	MeanSimilarity float64         `json:"mean_similarity"`
	Decisions      map[string]int  `json:"decisions"`
}

// PrepareSimilarityHistogram bins the similarity scores carried in sighting
// event metadata. Events without a parseable similarity value are skipped.
func PrepareSimilarityHistogram(events []db.Event, videoID string) *SimilarityHistogramData {
	data := &SimilarityHistogramData{
		Bins:      make([]SimilarityBin, similarityBins),
		VideoID:   videoID,
		Decisions: make(map[string]int),
	}
	for i := range data.Bins {
		low := float64(i) / similarityBins
		high := float64(i+1) / similarityBins
		data.Bins[i].Label = fmt.Sprintf("%.1f-%.1f", low, high)
	}

	total := 0.0
	for _, ev := range events {
		if ev.EventType != db.EventTypeSighting || ev.Metadata == nil {
			continue
		}
		var meta struct {
			Decision   string   `json:"decision"`
			Similarity *float64 `json:"similarity"`
		}
		if err := json.Unmarshal([]byte(*ev.Metadata), &meta); err != nil || meta.Similarity == nil {
			continue
		}
		sim := *meta.Similarity
		if sim < 0 || sim > 1 {
			continue
		}

		bin := int(sim * similarityBins)
		if bin >= similarityBins {
			bin = similarityBins - 1
		}
		data.Bins[bin].Count++
		data.NumEvents++
		total += sim
		if meta.Decision != "" {
			data.Decisions[meta.Decision]++
		}
	}

	if data.NumEvents > 0 {
		data.MeanSimilarity = total / float64(data.NumEvents)
	}

	return data
}
