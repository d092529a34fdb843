// Package api serves the herd management HTTP surface: video upload
// and status, the animal register, analytics rollups, and live job
// progress over SSE.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/fsutil"
	"github.com/pasture-data/herdsight/internal/version"
	"github.com/pasture-data/herdsight/internal/vision/evidence"
	"github.com/pasture-data/herdsight/internal/vision/pipeline"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// defaultListLimit caps collection responses when the client does not
// pass a limit.
const defaultListLimit = 100

type Server struct {
	store     *db.DB
	pool      *pipeline.Pool
	hub       *ProgressHub
	evidence  *evidence.Generator
	fs        fsutil.FileSystem
	uploadDir string
}

// ServerConfig wires a Server. Store is required; a nil Pool rejects
// uploads with 503, a nil Hub serves streams from row snapshots only.
type ServerConfig struct {
	Store     *db.DB
	Pool      *pipeline.Pool
	Hub       *ProgressHub
	Evidence  *evidence.Generator
	UploadDir string
	FS        fsutil.FileSystem
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	return &Server{
		store:     cfg.Store,
		pool:      cfg.Pool,
		hub:       cfg.Hub,
		evidence:  cfg.Evidence,
		fs:        cfg.FS,
		uploadDir: cfg.UploadDir,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/api/videos", s.videosCollection)
	mux.HandleFunc("/api/videos/", s.videoSubtree)
	mux.HandleFunc("/api/animals", s.animalsCollection)
	mux.HandleFunc("/api/animals/", s.animalSubtree)
	mux.HandleFunc("/api/stats", s.showStats)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "herdsight", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// showStats aggregates the analytics rollups behind one endpoint so
// the dashboard loads with a single request.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	population, err := s.store.GetPopulationStats()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve population stats: %v", err))
		return
	}
	identity, err := s.store.GetIdentityMetrics()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve identity metrics: %v", err))
		return
	}
	top, err := s.store.TopAnimals(10)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve top animals: %v", err))
		return
	}
	throughput, err := s.store.GetVideoThroughput()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve video throughput: %v", err))
		return
	}

	queue := map[string]int{"workers": 0, "backlog": 0}
	if s.pool != nil {
		queue["workers"] = s.pool.Workers()
		queue["backlog"] = s.pool.Backlog()
	}

	stats := map[string]interface{}{
		"population":  population,
		"identity":    identity,
		"top_animals": top,
		"videos":      throughput,
		"queue":       queue,
	}

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

// parseLimit reads an optional positive 'limit' query parameter,
// falling back to def when absent.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return limit, nil
}
