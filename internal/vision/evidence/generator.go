// Package evidence renders the human-verifiable proof for an analysis
// job: annotated key frames, density heatmaps, per-goat profile crops,
// a gallery sheet, a census timeline plot, and a plain-text expert
// report, all tied together by a JSON manifest. A count nobody can
// check is a count nobody should trust, so every job ends with
// artifacts a farmhand can eyeball.
package evidence

import (
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"github.com/pasture-data/herdsight/internal/fsutil"
	"github.com/pasture-data/herdsight/internal/monitoring"
	"github.com/pasture-data/herdsight/internal/vision/census"
	"github.com/pasture-data/herdsight/internal/vision/detect"
)

const defaultJPEGQuality = 90

// Config wires a Generator. BaseDir is the evidence root; per-job
// artifacts land in video_<id>_diagnostic and video_<id>_profiles
// directories beneath it.
type Config struct {
	BaseDir     string
	JPEGQuality int
	FS          fsutil.FileSystem
}

// Generator writes evidence artifacts for completed jobs. Safe for
// concurrent use: all state is immutable after construction and jobs
// write to disjoint directories.
type Generator struct {
	baseDir string
	quality int
	fs      fsutil.FileSystem
}

// NewGenerator builds a Generator, filling zero config fields with
// defaults (OS filesystem, JPEG quality 90).
func NewGenerator(cfg Config) *Generator {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = defaultJPEGQuality
	}
	return &Generator{
		baseDir: cfg.BaseDir,
		quality: cfg.JPEGQuality,
		fs:      cfg.FS,
	}
}

// RetainedFrame is a frame the job kept in memory for evidence, with
// the detections seen on it and a display label per detection.
type RetainedFrame struct {
	FrameIndex int
	Image      gocv.Mat
	Detections []detect.Detection
	Labels     []string
	Density    string
}

// JobSummary carries everything the evidence artifacts say about a
// finished job.
type JobSummary struct {
	VideoID          string
	Samples          []census.Sample
	Densities        map[int]string
	Verification     *census.VerificationResult
	PeakFrame        int
	UniqueTracked    int
	UniqueMatched    int
	UniqueRegistered int
	OccludedFraction float64
	ProcessedAt      time.Time
}

// Artifacts lists what Generate wrote.
type Artifacts struct {
	Dir            string
	KeyFrames      []int
	AnnotatedPaths []string
	HeatmapPaths   []string
	ReportPath     string
	TimelinePath   string
	ManifestPath   string
}

type manifestScene struct {
	EstimatedGoatCount int     `json:"estimated_goat_count"`
	DensityLevel       string  `json:"density_level"`
	OcclusionSeverity  float64 `json:"occlusion_severity"`
	AvgGoatsPerFrame   float64 `json:"avg_goats_per_frame"`
}

type manifestIdentity struct {
	UniqueTracked   int `json:"unique_tracked"`
	Matched         int `json:"matched"`
	NewlyRegistered int `json:"newly_registered"`
}

type manifestDoc struct {
	VideoID        string                     `json:"video_id"`
	GeneratedAt    string                     `json:"generated_at"`
	SceneAnalysis  manifestScene              `json:"scene_analysis"`
	Identity       manifestIdentity           `json:"identity"`
	Verification   *census.VerificationResult `json:"verification"`
	EvidenceFrames []string                   `json:"evidence_frames"`
	ExpertReport   string                     `json:"expert_report"`
	CensusTimeline string                     `json:"census_timeline,omitempty"`
}

// DiagnosticDir returns the per-job directory evidence is written to.
func (g *Generator) DiagnosticDir(videoID string) string {
	return filepath.Join(g.baseDir, fmt.Sprintf("video_%s_diagnostic", videoID))
}

// ProfileDir returns the per-job directory profile crops are written to.
func (g *Generator) ProfileDir(videoID string) string {
	return filepath.Join(g.baseDir, fmt.Sprintf("video_%s_profiles", videoID))
}

// Generate writes the diagnostic artifact set for a job. Key frames
// are selected from the full sample history, but only frames the job
// retained pixels for can be rendered; the rest are skipped. The
// manifest is written last so its presence marks a complete set, and
// a mid-generation failure leaves partial artifacts behind without it.
// The caller keeps ownership of the retained frame mats.
func (g *Generator) Generate(summary JobSummary, retained []RetainedFrame) (*Artifacts, error) {
	dir := g.DiagnosticDir(summary.VideoID)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence dir: %w", err)
	}
	if summary.ProcessedAt.IsZero() {
		summary.ProcessedAt = time.Now()
	}

	art := &Artifacts{Dir: dir}

	report := BuildExpertReport(summary)
	art.ReportPath = filepath.Join(dir, "expert_analysis.txt")
	if err := g.fs.WriteFile(art.ReportPath, []byte(report), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write expert report: %w", err)
	}

	byIndex := make(map[int]*RetainedFrame, len(retained))
	for i := range retained {
		byIndex[retained[i].FrameIndex] = &retained[i]
	}

	art.KeyFrames = SelectKeyFrames(summary.Samples, summary.Densities)
	var frameNames []string
	for _, idx := range art.KeyFrames {
		rf, ok := byIndex[idx]
		if !ok || rf.Image.Empty() {
			continue
		}
		density := rf.Density
		if density == "" {
			density = detect.ClassifyDensity(len(rf.Detections))
		}

		annotated := AnnotateFrame(rf.Image, rf.Detections, rf.Labels, idx, density, summary.ProcessedAt)
		name := fmt.Sprintf("frame_%d_annotated.jpg", idx)
		err := g.writeJPEG(filepath.Join(dir, name), annotated)
		annotated.Close()
		if err != nil {
			return nil, err
		}
		art.AnnotatedPaths = append(art.AnnotatedPaths, filepath.Join(dir, name))
		frameNames = append(frameNames, name)

		heat := Heatmap(rf.Image, rf.Detections)
		name = fmt.Sprintf("frame_%d_heatmap.jpg", idx)
		err = g.writeJPEG(filepath.Join(dir, name), heat)
		heat.Close()
		if err != nil {
			return nil, err
		}
		art.HeatmapPaths = append(art.HeatmapPaths, filepath.Join(dir, name))
		frameNames = append(frameNames, name)
	}

	if len(summary.Samples) > 0 {
		png, err := renderTimeline(summary.Samples, summary.Verification)
		if err != nil {
			return nil, fmt.Errorf("failed to render census timeline: %w", err)
		}
		art.TimelinePath = filepath.Join(dir, "census_timeline.png")
		if err := g.fs.WriteFile(art.TimelinePath, png, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write census timeline: %w", err)
		}
	}

	doc := manifestDoc{
		VideoID:     summary.VideoID,
		GeneratedAt: summary.ProcessedAt.Format(time.RFC3339),
		SceneAnalysis: manifestScene{
			EstimatedGoatCount: summary.Verification.LikelyCount,
			DensityLevel:       detect.ClassifyDensity(summary.Verification.LikelyCount),
			OcclusionSeverity:  summary.OccludedFraction,
			AvgGoatsPerFrame:   summary.Verification.MeanCount,
		},
		Identity: manifestIdentity{
			UniqueTracked:   summary.UniqueTracked,
			Matched:         summary.UniqueMatched,
			NewlyRegistered: summary.UniqueRegistered,
		},
		Verification:   summary.Verification,
		EvidenceFrames: frameNames,
		ExpertReport:   "expert_analysis.txt",
	}
	if art.TimelinePath != "" {
		doc.CensusTimeline = "census_timeline.png"
	}
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	art.ManifestPath = filepath.Join(dir, "manifest.json")
	if err := g.fs.WriteFile(art.ManifestPath, blob, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	monitoring.Logf("evidence: diagnostic summary created: %s (%d key frames)", dir, len(art.KeyFrames))
	return art, nil
}

// SelectKeyFrames picks the frames worth rendering: the peak-count
// frame, the median-count frame, a sparse frame when the job saw at
// least three distinct density levels, and 10%/50%/90% temporal
// samples when more than ten frames were analyzed. Deduplicated and
// returned in ascending frame order.
func SelectKeyFrames(samples []census.Sample, densities map[int]string) []int {
	if len(samples) == 0 {
		return nil
	}

	ordered := make([]census.Sample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].FrameIndex < ordered[j].FrameIndex })

	peak := ordered[0]
	for _, s := range ordered[1:] {
		if s.Count > peak.Count {
			peak = s
		}
	}

	byCount := make([]census.Sample, len(ordered))
	copy(byCount, ordered)
	sort.SliceStable(byCount, func(i, j int) bool { return byCount[i].Count < byCount[j].Count })

	picks := []int{peak.FrameIndex, byCount[len(byCount)/2].FrameIndex}

	levels := make(map[string]bool)
	for _, s := range ordered {
		if d, ok := densities[s.FrameIndex]; ok {
			levels[d] = true
		}
	}
	if len(levels) >= 3 {
		picks = append(picks, byCount[len(byCount)/4].FrameIndex)
	}

	if n := len(ordered); n > 10 {
		picks = append(picks,
			ordered[n/10].FrameIndex,
			ordered[n/2].FrameIndex,
			ordered[9*n/10].FrameIndex,
		)
	}

	seen := make(map[int]bool, len(picks))
	var out []int
	for _, f := range picks {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Ints(out)
	return out
}

// SaveProfile crops an animal's box out of the frame and writes it as
// the goat's profile image, returning the written path. The box is
// clamped to the frame; a degenerate crop is an error.
func (g *Generator) SaveProfile(videoID string, animalID int64, frame gocv.Mat, box image.Rectangle) (string, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	roi := box.Intersect(bounds)
	if roi.Empty() {
		return "", fmt.Errorf("profile crop for animal %d is outside the frame", animalID)
	}

	dir := g.ProfileDir(videoID)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile dir: %w", err)
	}

	region := frame.Region(roi)
	defer region.Close()
	crop := region.Clone()
	defer crop.Close()

	path := filepath.Join(dir, fmt.Sprintf("goat_%d.jpg", animalID))
	if err := g.writeJPEG(path, crop); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Generator) writeJPEG(path string, img gocv.Mat) error {
	data, err := g.encodeJPEG(img)
	if err != nil {
		return err
	}
	if err := g.fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (g *Generator) encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, g.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
