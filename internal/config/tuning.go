package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for video-analysis tuning
// parameters. The schema matches the /api/params endpoint so the same JSON
// can be used for both startup configuration and runtime inspection.
type TuningConfig struct {
	// Detector params
	ModelPath              *string  `json:"model_path,omitempty"`
	TileOverlapPx          *int     `json:"tile_overlap_px,omitempty"`
	NMSIoUThreshold        *float64 `json:"nms_iou_threshold,omitempty"`
	ConfidenceFloorCoarse  *float64 `json:"confidence_floor_coarse,omitempty"`
	ConfidenceFloorFine    *float64 `json:"confidence_floor_fine,omitempty"`
	FallbackMinContourArea *float64 `json:"fallback_min_contour_area,omitempty"`
	BlurVarianceThreshold  *float64 `json:"blur_variance_threshold,omitempty"`
	AnimalClasses          []string `json:"animal_classes,omitempty"`

	// Tracker params
	TrackerMinHits      *int     `json:"tracker_min_hits,omitempty"`
	TrackerMaxAge       *int     `json:"tracker_max_age,omitempty"`
	TrackerIoUThreshold *float64 `json:"tracker_iou_threshold,omitempty"`
	TrackerAssignment   *string  `json:"tracker_assignment,omitempty"` // "greedy" or "hungarian"

	// Re-identification params
	FeatureVersion      *string  `json:"feature_version,omitempty"`
	ReIDStrongThreshold *float64 `json:"reid_strong_threshold,omitempty"`
	ReIDWeakThreshold   *float64 `json:"reid_weak_threshold,omitempty"`
	ReIDNewThreshold    *float64 `json:"reid_new_threshold,omitempty"`
	ReIDAlphaStrong     *float64 `json:"reid_alpha_strong,omitempty"`
	ReIDAlphaWeak       *float64 `json:"reid_alpha_weak,omitempty"`
	ReIDMinObservations *int     `json:"reid_min_observations,omitempty"`

	// Pipeline params
	FrameSkip         *int    `json:"frame_skip,omitempty"`
	Workers           *int    `json:"workers,omitempty"`
	EvidenceDir       *string `json:"evidence_dir,omitempty"`
	SnapshotByteLimit *int64  `json:"snapshot_byte_limit,omitempty"`
	JPEGQuality       *int    `json:"jpeg_quality,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its default value. Marshalling it reproduces the canonical defaults file.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ModelPath:              ptrString(""),
		TileOverlapPx:          ptrInt(60),
		NMSIoUThreshold:        ptrFloat64(0.75),
		ConfidenceFloorCoarse:  ptrFloat64(0.12),
		ConfidenceFloorFine:    ptrFloat64(0.05),
		FallbackMinContourArea: ptrFloat64(50),
		BlurVarianceThreshold:  ptrFloat64(100),
		AnimalClasses:          []string{"goat", "sheep", "cow"},
		TrackerMinHits:         ptrInt(3),
		TrackerMaxAge:          ptrInt(30),
		TrackerIoUThreshold:    ptrFloat64(0.3),
		TrackerAssignment:      ptrString("greedy"),
		FeatureVersion:         ptrString("hsv-hu-lbp-v1"),
		ReIDStrongThreshold:    ptrFloat64(0.85),
		ReIDWeakThreshold:      ptrFloat64(0.70),
		ReIDNewThreshold:       ptrFloat64(0.60),
		ReIDAlphaStrong:        ptrFloat64(0.10),
		ReIDAlphaWeak:          ptrFloat64(0.05),
		ReIDMinObservations:    ptrInt(1),
		FrameSkip:              ptrInt(1),
		Workers:                ptrInt(2),
		EvidenceDir:            ptrString("data/evidence"),
		SnapshotByteLimit:      ptrInt64(24 << 20),
		JPEGQuality:            ptrInt(90),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/*
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"nms_iou_threshold":       c.NMSIoUThreshold,
		"confidence_floor_coarse": c.ConfidenceFloorCoarse,
		"confidence_floor_fine":   c.ConfidenceFloorFine,
		"tracker_iou_threshold":   c.TrackerIoUThreshold,
		"reid_strong_threshold":   c.ReIDStrongThreshold,
		"reid_weak_threshold":     c.ReIDWeakThreshold,
		"reid_new_threshold":      c.ReIDNewThreshold,
		"reid_alpha_strong":       c.ReIDAlphaStrong,
		"reid_alpha_weak":         c.ReIDAlphaWeak,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	// Match decision bands must be ordered or every similarity collapses
	// into a single decision.
	strong, weak, fresh := c.GetReIDStrongThreshold(), c.GetReIDWeakThreshold(), c.GetReIDNewThreshold()
	if !(fresh <= weak && weak <= strong) {
		return fmt.Errorf("reid thresholds must satisfy new <= weak <= strong, got %f/%f/%f", fresh, weak, strong)
	}

	if c.TrackerMinHits != nil && *c.TrackerMinHits < 1 {
		return fmt.Errorf("tracker_min_hits must be at least 1, got %d", *c.TrackerMinHits)
	}
	if c.TrackerMaxAge != nil && *c.TrackerMaxAge < 1 {
		return fmt.Errorf("tracker_max_age must be at least 1, got %d", *c.TrackerMaxAge)
	}
	if c.TrackerAssignment != nil {
		switch *c.TrackerAssignment {
		case "greedy", "hungarian":
		default:
			return fmt.Errorf("tracker_assignment must be \"greedy\" or \"hungarian\", got %q", *c.TrackerAssignment)
		}
	}
	if c.ReIDMinObservations != nil && *c.ReIDMinObservations < 1 {
		return fmt.Errorf("reid_min_observations must be at least 1, got %d", *c.ReIDMinObservations)
	}
	if c.FrameSkip != nil && *c.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be at least 1, got %d", *c.FrameSkip)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.TileOverlapPx != nil && *c.TileOverlapPx < 0 {
		return fmt.Errorf("tile_overlap_px must be non-negative, got %d", *c.TileOverlapPx)
	}
	if c.SnapshotByteLimit != nil && *c.SnapshotByteLimit < 0 {
		return fmt.Errorf("snapshot_byte_limit must be non-negative, got %d", *c.SnapshotByteLimit)
	}
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
	}

	return nil
}

// GetModelPath returns the model_path value or the default (empty, meaning
// no neural backend is configured).
func (c *TuningConfig) GetModelPath() string {
	if c.ModelPath == nil {
		return ""
	}
	return *c.ModelPath
}

// GetTileOverlapPx returns the tile_overlap_px value or the default.
func (c *TuningConfig) GetTileOverlapPx() int {
	if c.TileOverlapPx == nil {
		return 60
	}
	return *c.TileOverlapPx
}

// GetNMSIoUThreshold returns the nms_iou_threshold value or the default.
func (c *TuningConfig) GetNMSIoUThreshold() float64 {
	if c.NMSIoUThreshold == nil {
		return 0.75
	}
	return *c.NMSIoUThreshold
}

// GetConfidenceFloorCoarse returns the confidence_floor_coarse value or the default.
func (c *TuningConfig) GetConfidenceFloorCoarse() float64 {
	if c.ConfidenceFloorCoarse == nil {
		return 0.12
	}
	return *c.ConfidenceFloorCoarse
}

// GetConfidenceFloorFine returns the confidence_floor_fine value or the default.
func (c *TuningConfig) GetConfidenceFloorFine() float64 {
	if c.ConfidenceFloorFine == nil {
		return 0.05
	}
	return *c.ConfidenceFloorFine
}

// GetFallbackMinContourArea returns the fallback_min_contour_area value or the default.
func (c *TuningConfig) GetFallbackMinContourArea() float64 {
	if c.FallbackMinContourArea == nil {
		return 50
	}
	return *c.FallbackMinContourArea
}

// GetBlurVarianceThreshold returns the blur_variance_threshold value or the default.
func (c *TuningConfig) GetBlurVarianceThreshold() float64 {
	if c.BlurVarianceThreshold == nil {
		return 100
	}
	return *c.BlurVarianceThreshold
}

// GetAnimalClasses returns the animal_classes value or the default.
func (c *TuningConfig) GetAnimalClasses() []string {
	if len(c.AnimalClasses) == 0 {
		return []string{"goat", "sheep", "cow"}
	}
	return c.AnimalClasses
}

// GetTrackerMinHits returns the tracker_min_hits value or the default.
func (c *TuningConfig) GetTrackerMinHits() int {
	if c.TrackerMinHits == nil {
		return 3
	}
	return *c.TrackerMinHits
}

// GetTrackerMaxAge returns the tracker_max_age value or the default.
func (c *TuningConfig) GetTrackerMaxAge() int {
	if c.TrackerMaxAge == nil {
		return 30
	}
	return *c.TrackerMaxAge
}

// GetTrackerIoUThreshold returns the tracker_iou_threshold value or the default.
func (c *TuningConfig) GetTrackerIoUThreshold() float64 {
	if c.TrackerIoUThreshold == nil {
		return 0.3
	}
	return *c.TrackerIoUThreshold
}

// GetTrackerAssignment returns the tracker_assignment value or the default.
func (c *TuningConfig) GetTrackerAssignment() string {
	if c.TrackerAssignment == nil || *c.TrackerAssignment == "" {
		return "greedy"
	}
	return *c.TrackerAssignment
}

// GetFeatureVersion returns the feature_version value or the default.
func (c *TuningConfig) GetFeatureVersion() string {
	if c.FeatureVersion == nil || *c.FeatureVersion == "" {
		return "hsv-hu-lbp-v1"
	}
	return *c.FeatureVersion
}

// GetReIDStrongThreshold returns the reid_strong_threshold value or the default.
func (c *TuningConfig) GetReIDStrongThreshold() float64 {
	if c.ReIDStrongThreshold == nil {
		return 0.85
	}
	return *c.ReIDStrongThreshold
}

// GetReIDWeakThreshold returns the reid_weak_threshold value or the default.
func (c *TuningConfig) GetReIDWeakThreshold() float64 {
	if c.ReIDWeakThreshold == nil {
		return 0.70
	}
	return *c.ReIDWeakThreshold
}

// GetReIDNewThreshold returns the reid_new_threshold value or the default.
func (c *TuningConfig) GetReIDNewThreshold() float64 {
	if c.ReIDNewThreshold == nil {
		return 0.60
	}
	return *c.ReIDNewThreshold
}

// GetReIDAlphaStrong returns the reid_alpha_strong value or the default.
func (c *TuningConfig) GetReIDAlphaStrong() float64 {
	if c.ReIDAlphaStrong == nil {
		return 0.10
	}
	return *c.ReIDAlphaStrong
}

// GetReIDAlphaWeak returns the reid_alpha_weak value or the default.
func (c *TuningConfig) GetReIDAlphaWeak() float64 {
	if c.ReIDAlphaWeak == nil {
		return 0.05
	}
	return *c.ReIDAlphaWeak
}

// GetReIDMinObservations returns the reid_min_observations value or the default.
func (c *TuningConfig) GetReIDMinObservations() int {
	if c.ReIDMinObservations == nil {
		return 1
	}
	return *c.ReIDMinObservations
}

// GetFrameSkip returns the frame_skip value or the default.
func (c *TuningConfig) GetFrameSkip() int {
	if c.FrameSkip == nil {
		return 1
	}
	return *c.FrameSkip
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 2
	}
	return *c.Workers
}

// GetEvidenceDir returns the evidence_dir value or the default.
func (c *TuningConfig) GetEvidenceDir() string {
	if c.EvidenceDir == nil || *c.EvidenceDir == "" {
		return "data/evidence"
	}
	return *c.EvidenceDir
}

// GetSnapshotByteLimit returns the snapshot_byte_limit value or the default.
func (c *TuningConfig) GetSnapshotByteLimit() int64 {
	if c.SnapshotByteLimit == nil {
		return 24 << 20
	}
	return *c.SnapshotByteLimit
}

// GetJPEGQuality returns the jpeg_quality value or the default.
func (c *TuningConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return 90
	}
	return *c.JPEGQuality
}
