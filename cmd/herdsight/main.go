package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pasture-data/herdsight/internal/api"
	"github.com/pasture-data/herdsight/internal/config"
	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/vision/detect"
	"github.com/pasture-data/herdsight/internal/vision/evidence"
	"github.com/pasture-data/herdsight/internal/vision/monitor"
	"github.com/pasture-data/herdsight/internal/vision/pipeline"
	"github.com/pasture-data/herdsight/internal/version"
	"github.com/pasture-data/herdsight/internal/vision/reid"
)

var (
	listen      = flag.String("listen", ":8080", "API listen address")
	monitorAddr = flag.String("monitor-listen", ":8081", "Monitor dashboard listen address (empty to disable)")
	dbFile      = flag.String("db", "herd_data.db", "Path to the SQLite database file")
	uploadDir   = flag.String("upload-dir", "data/uploads", "Directory for uploaded videos")
	configFile  = flag.String("config", "", "Path to a tuning JSON file (built-in defaults when empty)")
	workers     = flag.Int("workers", 0, "Worker pool size (0 uses the tuning config value)")
	backlog     = flag.Int("backlog", 32, "Job queue capacity")
	debugLog    = flag.Bool("debug", false, "Enable pipeline diagnostic logging")
	traceLog    = flag.Bool("trace", false, "Enable per-frame trace logging (very noisy)")
)

// Main
func main() {
	flag.Parse()

	// The migrate verb manages the schema and exits without starting the
	// server: herdsight migrate up|down|status|version|force|baseline.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("herdsight %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	tuning := config.DefaultTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configFile)
	}

	var diagW, traceW io.Writer
	if *debugLog {
		diagW = os.Stderr
	}
	if *traceLog {
		traceW = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diagW, traceW)

	store, err := db.Open(*dbFile)
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

	gen := evidence.NewGenerator(evidence.Config{
		BaseDir:     tuning.GetEvidenceDir(),
		JPEGQuality: tuning.GetJPEGQuality(),
	})

	// A configured model path selects the neural detector; otherwise jobs
	// run on the classical fallback.
	var newBackend func() (detect.Backend, error)
	if modelPath := tuning.GetModelPath(); modelPath != "" {
		classes := tuning.GetAnimalClasses()
		newBackend = func() (detect.Backend, error) {
			return detect.NewONNXBackend(modelPath, nil, classes)
		}
		log.Printf("Neural detector configured: %s", modelPath)
	} else {
		log.Print("No detection model configured; jobs will use the classical fallback detector")
	}

	hub := api.NewProgressHub()

	proc, err := pipeline.New(pipeline.Config{
		Store:      store,
		Tuning:     tuning,
		Engine:     engine,
		Evidence:   gen,
		NewBackend: newBackend,
		Notify:     hub.Publish,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	poolWorkers := tuning.GetWorkers()
	if *workers > 0 {
		poolWorkers = *workers
	}
	pool := pipeline.NewPool(proc, poolWorkers, *backlog)

	// Create a wait group for the worker pool, API server, and monitor routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)

	// Drain the pool once the signal context ends. Closing the hub after
	// the workers stop releases any open progress streams.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		pool.Stop()
		hub.Close()
		log.Print("worker pool routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(api.ServerConfig{
			Store:     store,
			Pool:      pool,
			Hub:       hub,
			Evidence:  gen,
			UploadDir: *uploadDir,
		})
		mux := apiServer.ServeMux()

		// mount the admin debugging routes
		store.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting API server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Monitor dashboard goroutine
	if *monitorAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws := monitor.NewWebServer(monitor.WebServerConfig{
				Address: *monitorAddr,
				Store:   store,
				Pool:    pool,
			})
			if err := ws.Start(ctx); err != nil {
				log.Printf("monitor server error: %v", err)
			}
		}()
	}

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
