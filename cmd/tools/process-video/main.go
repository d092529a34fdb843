// Package main provides a one-shot batch processor for herd videos. It
// runs the full analysis pipeline over the given files without starting
// the API server, writing the same rows, evidence and audit entries the
// server would.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	_ "modernc.org/sqlite"

	"github.com/pasture-data/herdsight/internal/config"
	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/vision/detect"
	"github.com/pasture-data/herdsight/internal/vision/evidence"
	"github.com/pasture-data/herdsight/internal/vision/pipeline"
	"github.com/pasture-data/herdsight/internal/vision/reid"
)

// Config holds the batch run options.
type Config struct {
	DBFile     string
	ConfigFile string
	OutputJSON string
	Verbose    bool
}

func main() {
	cfg, files := parseFlags()

	if len(files) == 0 {
		log.Fatal("Usage: process-video [flags] <video file>...")
	}
	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			log.Fatalf("Video file not found: %s", path)
		}
	}

	var diagW io.Writer
	if cfg.Verbose {
		diagW = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diagW, nil)

	tuning := config.DefaultTuningConfig()
	if cfg.ConfigFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(cfg.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	store, err := db.Open(cfg.DBFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	engine, err := reid.NewEngine(store, reid.ConfigFromTuning(tuning))
	if err != nil {
		log.Fatalf("Failed to load identity registry: %v", err)
	}

	var newBackend func() (detect.Backend, error)
	if modelPath := tuning.GetModelPath(); modelPath != "" {
		classes := tuning.GetAnimalClasses()
		newBackend = func() (detect.Backend, error) {
			return detect.NewONNXBackend(modelPath, nil, classes)
		}
	}

	// The progress hook drives the visible bar. Jobs run one at a time on
	// this goroutine, so swapping the bar between files is safe.
	var bar *progressbar.ProgressBar
	proc, err := pipeline.New(pipeline.Config{
		Store:    store,
		Tuning:   tuning,
		Engine:   engine,
		Evidence: evidence.NewGenerator(evidence.Config{
			BaseDir:     tuning.GetEvidenceDir(),
			JPEGQuality: tuning.GetJPEGQuality(),
		}),
		NewBackend: newBackend,
		Notify: func(u pipeline.ProgressUpdate) {
			if bar != nil && u.Status == db.VideoStatusProcessing {
				bar.Set(int(u.Progress))
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := make([]*pipeline.JobResult, 0, len(files))
	failures := 0
	for _, path := range files {
		if ctx.Err() != nil {
			log.Print("Interrupted; skipping remaining files")
			break
		}

		videoID := uuid.New().String()
		video := &db.Video{ID: videoID, Filename: filepath.Base(path), FilePath: path}
		if err := store.CreateVideo(video); err != nil {
			log.Fatalf("Failed to register video %s: %v", path, err)
		}

		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(filepath.Base(path)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
		)

		res, err := proc.Process(ctx, videoID, path)
		bar.Finish()
		bar = nil
		fmt.Println()

		if err != nil {
			failures++
			log.Printf("Processing failed for %s: %v", path, err)
		}
		results = append(results, res)
	}

	printResults(results)

	if cfg.OutputJSON != "" {
		if err := exportJSON(results, cfg.OutputJSON); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		} else {
			log.Printf("Results exported to: %s", cfg.OutputJSON)
		}
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func parseFlags() (Config, []string) {
	cfg := Config{}

	flag.StringVar(&cfg.DBFile, "db", "herd_data.db", "Path to the SQLite database file")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to a tuning JSON file (built-in defaults when empty)")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g. results.json)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable pipeline diagnostic logging")

	flag.Parse()

	return cfg, flag.Args()
}

func printResults(results []*pipeline.JobResult) {
	fmt.Println("\n=== Herd Analysis Results ===")
	for _, r := range results {
		fmt.Printf("\n%s (%s):\n", r.VideoID, r.Status)
		fmt.Printf("  Frames: %d of %d processed\n", r.FramesProcessed, r.FramesTotal)
		fmt.Printf("  Unique goats: %d (%d matched, %d newly registered)\n",
			r.UniqueDetected, r.UniqueMatched, r.UniqueRegistered)
		fmt.Printf("  Processing time: %.2fs\n", r.ProcessingSeconds)
		if v := r.Verification; v != nil {
			fmt.Printf("  Verified count: %d (range %d-%d, confidence %.2f, %s uncertainty)\n",
				v.LikelyCount, v.MinCount, v.MaxCount, v.Confidence, v.UncertaintyLevel)
			if !v.Reliable {
				fmt.Printf("  Count flagged unreliable: %s\n", v.Recommendation)
			}
		}
		for _, msg := range r.Warnings {
			fmt.Printf("  Warning: %s\n", msg)
		}
		for _, msg := range r.Errors {
			fmt.Printf("  Error: %s\n", msg)
		}
	}
}

func exportJSON(results []*pipeline.JobResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}
