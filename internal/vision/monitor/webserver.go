package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/vision/pipeline"
)

//go:embed status.html
var StatusHTML embed.FS

// recentVideoLimit caps the jobs table on the status page.
const recentVideoLimit = 20

// WebServer handles the HTTP interface for monitoring processing jobs.
// It provides endpoints for health checks, a status page and per-video
// diagnostic charts.
type WebServer struct {
	address   string
	store     *db.DB
	pool      *pipeline.Pool
	startedAt time.Time
	server    *http.Server
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address string
	Store   *db.DB
	Pool    *pipeline.Pool
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		store:     config.Store,
		pool:      config.Pool,
		startedAt: time.Now(),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting monitor HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start monitor server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down monitor HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("monitor server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			log.Printf("monitor server force close error: %v", err)
		}
	}

	log.Printf("monitor server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/charts/counts", ws.handleCountChart)
	mux.HandleFunc("/charts/density", ws.handleDensityChart)
	mux.HandleFunc("/charts/similarity", ws.handleSimilarityChart)

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "herdsight", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	queueStatus := "not running"
	if ws.pool != nil {
		queueStatus = fmt.Sprintf("%d workers, %d queued", ws.pool.Workers(), ws.pool.Backlog())
	}

	// The page degrades to zeroed cards rather than erroring when a
	// rollup query fails mid-migration.
	throughput := &db.VideoThroughput{}
	population := &db.PopulationStats{}
	var videos []db.Video
	if ws.store != nil {
		if t, err := ws.store.GetVideoThroughput(); err == nil {
			throughput = t
		}
		if p, err := ws.store.GetPopulationStats(); err == nil {
			population = p
		}
		videos, _ = ws.store.ListVideos(recentVideoLimit)
	}

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Template data
	data := struct {
		HTTPAddress string
		Uptime      string
		QueueStatus string
		Throughput  *db.VideoThroughput
		Population  *db.PopulationStats
		Videos      []db.Video
	}{
		HTTPAddress: ws.address,
		Uptime:      time.Since(ws.startedAt).Round(time.Second).String(),
		QueueStatus: queueStatus,
		Throughput:  throughput,
		Population:  population,
		Videos:      videos,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
