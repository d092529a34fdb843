package evidence

import (
	"fmt"
	"strings"

	"github.com/pasture-data/herdsight/internal/vision/detect"
)

const reportRule = "======================================================================"

// BuildExpertReport renders the plain-text analysis report. The layout
// is fixed so downstream tooling (and humans diffing two runs) can rely
// on section order: count analysis, confidence metrics, scene analysis,
// then warnings, accuracy limitations, and recommendations as needed,
// closed by an interpretation keyed to reliability.
func BuildExpertReport(s JobSummary) string {
	v := s.Verification

	lines := []string{
		reportRule,
		"HERD ANALYSIS REPORT - GROUND-TRUTH VERIFIED",
		reportRule,
		fmt.Sprintf("VIDEO ID: %s", s.VideoID),
		fmt.Sprintf("PROCESSING DATE: %s", s.ProcessedAt.Format("2006-01-02 15:04:05")),
		"",
		"GOAT COUNT ANALYSIS:",
		fmt.Sprintf("  Estimated Herd Size: %d goats", v.LikelyCount),
		fmt.Sprintf("  Count Range: %d-%d goats", v.MinCount, v.MaxCount),
		fmt.Sprintf("  Peak Visible Count: %d goats (Frame %d)", v.PeakCount, s.PeakFrame),
		fmt.Sprintf("  Average Goats/Frame: %.1f", v.MeanCount),
		fmt.Sprintf("  Unique Goats Tracked: %d", s.UniqueTracked),
		fmt.Sprintf("  Matched to Registry: %d", s.UniqueMatched),
		fmt.Sprintf("  Newly Registered: %d", s.UniqueRegistered),
		"",
		"CONFIDENCE METRICS:",
		fmt.Sprintf("  Overall Confidence: %.1f%%", v.Confidence),
		fmt.Sprintf("  Uncertainty Level: %s", v.UncertaintyLevel),
		fmt.Sprintf("  Temporal Stability: %.1f%%", v.Stability),
		fmt.Sprintf("  System Reliability: %s", reliabilityWord(v.Reliable)),
		"",
		"SCENE ANALYSIS:",
		fmt.Sprintf("  Density Level: %s", strings.ToUpper(detect.ClassifyDensity(v.LikelyCount))),
		fmt.Sprintf("  Occlusion Severity: %.1f%%", v.AvgUncertainty),
		fmt.Sprintf("  Frames Analyzed: %d", v.FramesAnalyzed),
		fmt.Sprintf("  Sampling Stride: %d", v.SamplingStride),
		"",
	}

	if len(v.Warnings) > 0 {
		lines = append(lines, "WARNINGS:")
		for _, w := range v.Warnings {
			lines = append(lines, fmt.Sprintf("  [!] %s", w))
		}
		lines = append(lines, "")
	}

	if !v.Reliable {
		lines = append(lines, "ACCURACY LIMITATIONS:")
		for _, r := range v.FailureReasons {
			lines = append(lines, fmt.Sprintf("  [X] %s", r))
		}
		lines = append(lines, "")
	}

	if v.Recommendation != "" {
		lines = append(lines,
			"RECOMMENDATIONS:",
			fmt.Sprintf("  %s", v.Recommendation),
			"",
		)
	}

	lines = append(lines, reportRule, "INTERPRETATION:")
	if v.Reliable {
		lines = append(lines,
			fmt.Sprintf("  [OK] High confidence count: This video likely contains %d goats.", v.LikelyCount),
			fmt.Sprintf("  [OK] The actual count is estimated to be between %d and %d.", v.MinCount, v.MaxCount),
		)
	} else {
		lines = append(lines,
			"  [!] LOW CONFIDENCE: Accurate counting not possible for this footage.",
			fmt.Sprintf("  [!] Estimated range: %d-%d goats (unreliable).", v.MinCount, v.MaxCount),
			"  [!] Please review recommendations above to improve accuracy.",
		)
	}
	lines = append(lines, reportRule)

	return strings.Join(lines, "\n") + "\n"
}

func reliabilityWord(reliable bool) string {
	if reliable {
		return "RELIABLE"
	}
	return "UNRELIABLE"
}
