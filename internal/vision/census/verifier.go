// Package census turns per-frame detection counts into a verified herd
// count with an honest confidence assessment. Counting animals from
// video is noisy: occlusion, motion blur, and tracker churn all move
// the per-frame number around, so instead of reporting a single figure
// the verifier reports a range, a confidence score, and the reasons a
// result cannot be trusted when it cannot.
package census

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/pasture-data/herdsight/internal/monitoring"
)

// Uncertainty levels, best to worst.
const (
	LevelLow     = "LOW"
	LevelMedium  = "MEDIUM"
	LevelHigh    = "HIGH"
	LevelExtreme = "EXTREME"
)

// DefaultConfidenceThreshold is the reliability cutoff in percent.
// Results scoring below it are flagged unreliable and carry
// recommendations for improving capture conditions.
const DefaultConfidenceThreshold = 60.0

// ErrNoDetections is returned when verification is asked to run over
// zero sampled counts.
var ErrNoDetections = errors.New("census: no detections found")

const noDetectionsReason = "No detections found"

// Sample is one analyzed frame's aggregate: how many animals the
// detector saw and how uncertain it was about the scene (0-100).
type Sample struct {
	FrameIndex  int     `json:"frame_index"`
	Count       int     `json:"count"`
	Uncertainty float64 `json:"uncertainty"`
}

// VideoInfo carries the source properties that feed the capture-quality
// advice. A zero resolution means the metadata was unavailable, and no
// resolution advice is issued for it.
type VideoInfo struct {
	Width          int
	Height         int
	SamplingStride int
}

// VerificationResult is the verifier's full report. LikelyCount is the
// headline figure; MinCount and MaxCount bound it. Reliable is false
// whenever Confidence falls below the verifier's threshold, in which
// case FailureReasons and Recommendation explain why and what to fix.
type VerificationResult struct {
	LikelyCount      int      `json:"likely_count"`
	MinCount         int      `json:"min_count"`
	MaxCount         int      `json:"max_count"`
	Confidence       float64  `json:"confidence_score"`
	UncertaintyLevel string   `json:"uncertainty_level"`
	Reliable         bool     `json:"is_reliable"`
	Stability        float64  `json:"temporal_stability"`
	Warnings         []string `json:"warnings"`
	FailureReasons   []string `json:"failure_reasons"`
	Recommendation   string   `json:"recommendation,omitempty"`

	MeanCount      float64 `json:"mean_count"`
	MedianCount    float64 `json:"median_count"`
	PeakCount      int     `json:"peak_count"`
	CV             float64 `json:"cv"`
	AvgUncertainty float64 `json:"avg_uncertainty"`
	OutlierFrames  int     `json:"outlier_frames"`
	SuddenJumps    int     `json:"sudden_jumps"`
	FramesAnalyzed int     `json:"frames_analyzed"`
	SamplingStride int     `json:"sampling_stride"`
}

// Verifier scores count sequences. It is stateless and safe for
// concurrent use.
type Verifier struct {
	minConfidence float64
}

// New returns a Verifier with the given reliability cutoff in percent.
// Non-positive values select DefaultConfidenceThreshold.
func New(minConfidence float64) *Verifier {
	if minConfidence <= 0 {
		minConfidence = DefaultConfidenceThreshold
	}
	return &Verifier{minConfidence: minConfidence}
}

// Verify analyzes the sampled counts and returns the verified result.
// With no samples it returns a zeroed failure result along with
// ErrNoDetections; callers record the failure but keep the result.
func (v *Verifier) Verify(samples []Sample, info VideoInfo) (*VerificationResult, error) {
	if len(samples) == 0 {
		return v.failureResult(noDetectionsReason, info.SamplingStride), ErrNoDetections
	}

	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].FrameIndex < ordered[j].FrameIndex })

	counts := make([]float64, len(ordered))
	uncertainties := make([]float64, len(ordered))
	for i, s := range ordered {
		counts[i] = float64(s.Count)
		uncertainties[i] = s.Uncertainty
	}
	sorted := make([]float64, len(counts))
	copy(sorted, counts)
	sort.Float64s(sorted)
	quantile := func(p float64) float64 { return stat.Quantile(p, stat.Empirical, sorted, nil) }

	var warnings, failures []string

	mean := stat.Mean(counts, nil)
	median := quantile(0.50)
	sigma := stat.PopStdDev(counts, nil)
	cv := 1.0
	if mean > 0 {
		cv = sigma / mean
	}

	peak := int(sorted[len(sorted)-1])
	p95 := int(quantile(0.95))
	p90 := int(quantile(0.90))

	stability := temporalStability(counts)
	if stability < 50 {
		warnings = append(warnings, "High temporal instability detected - counts vary significantly across frames")
	}

	outliers := countOutliers(counts, quantile(0.25), quantile(0.75))
	outlierRatio := float64(outliers) / float64(len(counts))
	if outlierRatio > 0.2 {
		warnings = append(warnings, fmt.Sprintf("High outlier rate: %d frames with unusual counts", outliers))
	}

	avgUncertainty := stat.Mean(uncertainties, nil)

	if peak > 500 {
		warnings = append(warnings, "Extremely high count detected - may indicate detection errors")
	}
	if peak < 5 && mean > 0 {
		warnings = append(warnings, "Very low count - verify video contains goats")
	}

	jumps := countSuddenJumps(counts)
	if float64(jumps) > float64(len(counts))*0.1 {
		warnings = append(warnings, fmt.Sprintf("Detected %d sudden count changes - possible tracking errors", jumps))
	}

	confidence := confidenceScore(cv, stability, avgUncertainty, outlierRatio)

	var likely, minCount, maxCount int
	switch {
	case cv < 0.05:
		// Very stable counting: a tight band around the 95th percentile.
		likely = p95
		minCount = int(float64(likely) * 0.95)
		maxCount = int(float64(likely) * 1.05)
	case cv < 0.15:
		likely = p90
		minCount = int(float64(likely) * 0.90)
		maxCount = int(float64(peak) * 1.05)
	default:
		likely = int(median)
		minCount = int(quantile(0.25))
		maxCount = peak
		warnings = append(warnings, "High variance in counts - wide range reported")
	}

	var level string
	switch {
	case avgUncertainty > 60 || confidence < 40:
		level = LevelExtreme
		failures = append(failures, "Extreme occlusion or poor video quality")
	case avgUncertainty > 40 || confidence < 60:
		level = LevelHigh
		failures = append(failures, "High occlusion detected")
	case avgUncertainty > 20 || confidence < 75:
		level = LevelMedium
	default:
		level = LevelLow
	}

	reliable := confidence >= v.minConfidence
	if !reliable {
		failures = append(failures, fmt.Sprintf("Confidence score (%.1f%%) below threshold (%.1f%%)", confidence, v.minConfidence))
	}

	var recommendation string
	if !reliable {
		recommendation = buildRecommendation(avgUncertainty, cv, stability, info)
	}

	result := &VerificationResult{
		LikelyCount:      likely,
		MinCount:         minCount,
		MaxCount:         maxCount,
		Confidence:       round1(confidence),
		UncertaintyLevel: level,
		Reliable:         reliable,
		Stability:        round1(stability),
		Warnings:         warnings,
		FailureReasons:   failures,
		Recommendation:   recommendation,
		MeanCount:        mean,
		MedianCount:      median,
		PeakCount:        peak,
		CV:               cv,
		AvgUncertainty:   avgUncertainty,
		OutlierFrames:    outliers,
		SuddenJumps:      jumps,
		FramesAnalyzed:   len(ordered),
		SamplingStride:   info.SamplingStride,
	}

	monitoring.Logf("census: verification complete: %d goats (range: %d-%d, confidence: %.1f%%, reliable: %t)",
		likely, minCount, maxCount, confidence, reliable)
	return result, nil
}

// temporalStability maps the mean frame-to-frame relative change onto
// 0-100, where 100 means the count never moved. Fewer than two samples
// score zero: stability is unknowable from one data point.
func temporalStability(counts []float64) float64 {
	if len(counts) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(counts); i++ {
		sum += math.Abs(counts[i]-counts[i-1]) / math.Max(counts[i-1], 1)
	}
	avgChange := sum / float64(len(counts)-1)
	return math.Max(0, 100*(1-math.Min(avgChange, 1)))
}

// countOutliers applies 1.5-IQR fences. Below four samples the
// quartiles are meaningless, so nothing is flagged.
func countOutliers(counts []float64, q1, q3 float64) int {
	if len(counts) < 4 {
		return 0
	}
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	n := 0
	for _, c := range counts {
		if c < lower || c > upper {
			n++
		}
	}
	return n
}

// countSuddenJumps counts consecutive pairs whose relative change is at
// least 50%. Pairs starting from an empty frame are skipped: a jump
// from zero has no meaningful relative size.
func countSuddenJumps(counts []float64) int {
	jumps := 0
	for i := 1; i < len(counts); i++ {
		prev := counts[i-1]
		if prev <= 0 {
			continue
		}
		if math.Abs(counts[i]-prev)/prev >= 0.5 {
			jumps++
		}
	}
	return jumps
}

// confidenceScore blends four quality signals into 0-100. Weights favor
// count consistency (cv, stability) over detector self-assessment.
func confidenceScore(cv, stability, avgUncertainty, outlierRatio float64) float64 {
	cvScore := math.Max(0, 100*(1-math.Min(cv/0.5, 1)))
	uncertaintyScore := clamp(100-avgUncertainty, 0, 100)
	outlierScore := math.Max(0, 100*(1-math.Min(outlierRatio/0.3, 1)))

	confidence := cvScore*0.30 + clamp(stability, 0, 100)*0.30 + uncertaintyScore*0.25 + outlierScore*0.15
	return clamp(confidence, 0, 100)
}

func buildRecommendation(avgUncertainty, cv, stability float64, info VideoInfo) string {
	var recs []string

	if avgUncertainty > 50 {
		recs = append(recs, "Extreme occlusion detected")
		recs = append(recs, "Recommendation: Use higher camera angle or multiple cameras")
	}
	if cv > 0.3 {
		recs = append(recs, "High count variance across frames")
		recs = append(recs, "Recommendation: Ensure goats are in stable group, not moving rapidly")
	}
	if stability < 40 {
		recs = append(recs, "Unstable tracking detected")
		recs = append(recs, "Recommendation: Improve lighting and reduce motion blur")
	}
	// Resolution advice only applies when the source metadata carried a
	// resolution at all.
	if info.Width > 0 && info.Height > 0 && (info.Width < 1280 || info.Height < 720) {
		recs = append(recs, "Low resolution video")
		recs = append(recs, "Recommendation: Use HD or higher resolution camera (1080p minimum)")
	}
	if len(recs) == 0 {
		recs = append(recs, "General recommendation: Improve video quality, lighting, and camera angle")
	}
	return strings.Join(recs, " | ")
}

func (v *Verifier) failureResult(reason string, stride int) *VerificationResult {
	return &VerificationResult{
		UncertaintyLevel: LevelExtreme,
		Warnings:         []string{},
		FailureReasons:   []string{reason},
		Recommendation:   "Unable to process video - " + reason,
		SamplingStride:   stride,
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
