package evidence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasture-data/herdsight/internal/vision/census"
)

func reliableSummary() JobSummary {
	return JobSummary{
		VideoID:          "vid-report-1",
		PeakFrame:        120,
		UniqueTracked:    54,
		UniqueMatched:    40,
		UniqueRegistered: 14,
		ProcessedAt:      time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		Verification: &census.VerificationResult{
			LikelyCount:      52,
			MinCount:         48,
			MaxCount:         55,
			Confidence:       91.3,
			UncertaintyLevel: census.LevelLow,
			Reliable:         true,
			Stability:        97.2,
			Warnings:         []string{},
			FailureReasons:   []string{},
			MeanCount:        51.5,
			MedianCount:      51,
			PeakCount:        55,
			AvgUncertainty:   12.5,
			FramesAnalyzed:   40,
			SamplingStride:   5,
		},
	}
}

func TestBuildExpertReportReliable(t *testing.T) {
	report := BuildExpertReport(reliableSummary())
	lines := strings.Split(report, "\n")

	require.True(t, strings.HasSuffix(report, reportRule+"\n"))
	assert.Equal(t, reportRule, lines[0])
	assert.Len(t, reportRule, 70)
	assert.Equal(t, "HERD ANALYSIS REPORT - GROUND-TRUTH VERIFIED", lines[1])

	for _, want := range []string{
		"VIDEO ID: vid-report-1",
		"PROCESSING DATE: 2026-03-01 10:30:00",
		"GOAT COUNT ANALYSIS:",
		"  Estimated Herd Size: 52 goats",
		"  Count Range: 48-55 goats",
		"  Peak Visible Count: 55 goats (Frame 120)",
		"  Average Goats/Frame: 51.5",
		"  Unique Goats Tracked: 54",
		"  Matched to Registry: 40",
		"  Newly Registered: 14",
		"CONFIDENCE METRICS:",
		"  Overall Confidence: 91.3%",
		"  Uncertainty Level: LOW",
		"  Temporal Stability: 97.2%",
		"  System Reliability: RELIABLE",
		"SCENE ANALYSIS:",
		"  Density Level: DENSE",
		"  Occlusion Severity: 12.5%",
		"  Frames Analyzed: 40",
		"  Sampling Stride: 5",
		"INTERPRETATION:",
		"  [OK] High confidence count: This video likely contains 52 goats.",
		"  [OK] The actual count is estimated to be between 48 and 55.",
	} {
		assert.Contains(t, lines, want)
	}

	assert.NotContains(t, report, "WARNINGS:")
	assert.NotContains(t, report, "ACCURACY LIMITATIONS:")
	assert.NotContains(t, report, "RECOMMENDATIONS:")
	assert.NotContains(t, report, "LOW CONFIDENCE")
}

func TestBuildExpertReportUnreliable(t *testing.T) {
	s := reliableSummary()
	s.Verification = &census.VerificationResult{
		LikelyCount:      40,
		MinCount:         30,
		MaxCount:         100,
		Confidence:       22.4,
		UncertaintyLevel: census.LevelExtreme,
		Reliable:         false,
		Stability:        0,
		Warnings: []string{
			"High temporal instability detected - counts vary significantly across frames",
		},
		FailureReasons: []string{
			"Extreme occlusion or poor video quality",
			"Confidence score (22.4%) below threshold (60.0%)",
		},
		Recommendation: "Unstable tracking detected | Recommendation: Improve lighting and reduce motion blur",
		MeanCount:      60,
		MedianCount:    40,
		PeakCount:      100,
		AvgUncertainty: 45,
		FramesAnalyzed: 10,
		SamplingStride: 5,
	}

	report := BuildExpertReport(s)

	for _, want := range []string{
		"WARNINGS:\n  [!] High temporal instability detected - counts vary significantly across frames",
		"ACCURACY LIMITATIONS:\n  [X] Extreme occlusion or poor video quality\n  [X] Confidence score (22.4%) below threshold (60.0%)",
		"RECOMMENDATIONS:\n  Unstable tracking detected | Recommendation: Improve lighting and reduce motion blur",
		"  System Reliability: UNRELIABLE",
		"  [!] LOW CONFIDENCE: Accurate counting not possible for this footage.",
		"  [!] Estimated range: 30-100 goats (unreliable).",
		"  [!] Please review recommendations above to improve accuracy.",
	} {
		assert.Contains(t, report, want)
	}

	// Sections keep their documented order.
	warnIdx := strings.Index(report, "WARNINGS:")
	limIdx := strings.Index(report, "ACCURACY LIMITATIONS:")
	recIdx := strings.Index(report, "RECOMMENDATIONS:")
	interpIdx := strings.Index(report, "INTERPRETATION:")
	require.True(t, warnIdx >= 0 && limIdx >= 0 && recIdx >= 0 && interpIdx >= 0)
	assert.Less(t, warnIdx, limIdx)
	assert.Less(t, limIdx, recIdx)
	assert.Less(t, recIdx, interpIdx)

	assert.NotContains(t, report, "[OK]")
}

func TestReliabilityWord(t *testing.T) {
	assert.Equal(t, "RELIABLE", reliabilityWord(true))
	assert.Equal(t, "UNRELIABLE", reliabilityWord(false))
}
