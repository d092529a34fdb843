package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pasture-data/herdsight/internal/db"
)

func newTestServer(t *testing.T) (*WebServer, *db.DB) {
	t.Helper()
	store := db.SetupTestDB(t)
	server := NewWebServer(WebServerConfig{Address: ":0", Store: store})
	return server, store
}

// seedProcessedVideo inserts a video with a few detections and one
// sighting event, enough for every chart endpoint to render.
func seedProcessedVideo(t *testing.T, store *db.DB, id string) {
	t.Helper()

	v := &db.Video{ID: id, Filename: id + ".mp4", FilePath: "/uploads/" + id + ".mp4"}
	if err := store.CreateVideo(v); err != nil {
		t.Fatalf("CreateVideo failed: %v", err)
	}

	detections := []db.Detection{
		{FrameNumber: 0, Timestamp: 0, X: 10, Y: 10, W: 40, H: 40, Confidence: 0.9},
		{FrameNumber: 0, Timestamp: 0, X: 80, Y: 20, W: 40, H: 40, Confidence: 0.8},
		{FrameNumber: 1, Timestamp: 0.033, X: 12, Y: 10, W: 40, H: 40, Confidence: 0.9},
	}
	if err := store.InsertDetections(id, detections); err != nil {
		t.Fatalf("InsertDetections failed: %v", err)
	}

	meta := `{"track_id": 1, "frame": 1, "decision": "STRONG_MATCH", "similarity": 0.93, "model_version": "hsv-hu-lbp-v1"}`
	ev := &db.Event{
		VideoID:   &id,
		EventType: db.EventTypeSighting,
		Title:     "Goat Re-identified",
		Metadata:  &meta,
	}
	if err := store.InsertEvent(ev); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
}

func TestNewWebServer(t *testing.T) {
	server, store := newTestServer(t)

	if server == nil {
		t.Fatal("NewWebServer returned nil")
	}
	if server.store != store {
		t.Error("WebServer store not set correctly")
	}
	if server.address != ":0" {
		t.Errorf("WebServer address = %q, want :0", server.address)
	}
	if server.server == nil {
		t.Error("WebServer http.Server not initialised")
	}
}

func TestWebServer_HealthHandler(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Health handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	expected := "application/json"
	if ctype := rr.Header().Get("Content-Type"); ctype != expected {
		t.Errorf("Health handler returned wrong content type: got %v want %v",
			ctype, expected)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `"status": "ok"`) {
		t.Error("Response should contain status: ok")
	}
	if !strings.Contains(body, `"service": "herdsight"`) {
		t.Error("Response should contain service: herdsight")
	}
}

func TestWebServer_StatusHandler(t *testing.T) {
	server, store := newTestServer(t)
	seedProcessedVideo(t, store, "vid-1")

	req, err := http.NewRequest("GET", "/", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Status handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "HerdSight Monitor") {
		t.Error("Response should contain 'HerdSight Monitor'")
	}
	if !strings.Contains(body, "vid-1.mp4") {
		t.Error("Response should list the seeded video")
	}
	if !strings.Contains(body, "/charts/counts?video_id=vid-1") {
		t.Error("Response should link the count chart for the seeded video")
	}
}

func TestWebServer_StatusHandler_UnknownPath(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rr.Code)
	}
}

func TestWebServer_CountChart(t *testing.T) {
	server, store := newTestServer(t)
	seedProcessedVideo(t, store, "vid-1")

	req := httptest.NewRequest(http.MethodGet, "/charts/counts?video_id=vid-1", nil)
	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rr.Code, rr.Body.String())
	}
	expected := "text/html; charset=utf-8"
	if ctype := rr.Header().Get("Content-Type"); ctype != expected {
		t.Errorf("count chart content type = %q, want %q", ctype, expected)
	}
	if !strings.Contains(rr.Body.String(), "Detections Per Frame") {
		t.Error("count chart should contain its title")
	}
}

func TestWebServer_CountChart_MissingParam(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/charts/counts", nil)
	rr := httptest.NewRecorder()
	server.handleCountChart(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 BadRequest, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "video_id") {
		t.Error("error body should name the missing parameter")
	}
}

func TestWebServer_CountChart_UnknownVideo(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/charts/counts?video_id=nope", nil)
	rr := httptest.NewRecorder()
	server.handleCountChart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 NotFound, got %d", rr.Code)
	}
}

func TestWebServer_CountChart_NoDetections(t *testing.T) {
	server, store := newTestServer(t)
	v := &db.Video{ID: "empty-vid", Filename: "empty.mp4", FilePath: "/uploads/empty.mp4"}
	if err := store.CreateVideo(v); err != nil {
		t.Fatalf("CreateVideo failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/charts/counts?video_id=empty-vid", nil)
	rr := httptest.NewRecorder()
	server.handleCountChart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 NotFound, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no detections") {
		t.Errorf("unexpected error body: %s", rr.Body.String())
	}
}

func TestWebServer_DensityChart(t *testing.T) {
	server, store := newTestServer(t)
	seedProcessedVideo(t, store, "vid-1")

	req := httptest.NewRequest(http.MethodGet, "/charts/density?video_id=vid-1", nil)
	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Crowd Density Distribution") {
		t.Error("density chart should contain its title")
	}
	if !strings.Contains(body, "sparse") {
		t.Error("density chart should contain the sparse bucket label")
	}
}

func TestWebServer_SimilarityChart(t *testing.T) {
	server, store := newTestServer(t)
	seedProcessedVideo(t, store, "vid-1")

	req := httptest.NewRequest(http.MethodGet, "/charts/similarity?video_id=vid-1", nil)
	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Re-identification Similarity") {
		t.Error("similarity chart should contain its title")
	}
}

func TestWebServer_SimilarityChart_NoEvents(t *testing.T) {
	server, store := newTestServer(t)
	v := &db.Video{ID: "quiet-vid", Filename: "quiet.mp4", FilePath: "/uploads/quiet.mp4"}
	if err := store.CreateVideo(v); err != nil {
		t.Fatalf("CreateVideo failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/charts/similarity?video_id=quiet-vid", nil)
	rr := httptest.NewRecorder()
	server.handleSimilarityChart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 NotFound, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no identity events") {
		t.Errorf("unexpected error body: %s", rr.Body.String())
	}
}

func TestWebServer_StartStop(t *testing.T) {
	server, _ := newTestServer(t)

	// Start server with context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		err := server.Start(ctx)
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Give the server time to start
	time.Sleep(50 * time.Millisecond)

	// Cancel the context to stop the server
	cancel()

	// Wait a bit for the server to stop
	time.Sleep(50 * time.Millisecond)

	select {
	case err := <-errChan:
		t.Fatalf("Server start failed: %v", err)
	default:
		// No error, which is what we expect
	}
}

func BenchmarkWebServer_HealthHandler(b *testing.B) {
	server := NewWebServer(WebServerConfig{Address: ":0"})

	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		b.Fatal(err)
	}

	mux := server.setupRoutes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
	}
}
