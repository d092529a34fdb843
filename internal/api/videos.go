package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/security"
	"github.com/pasture-data/herdsight/internal/vision/pipeline"
)

// maxUploadBytes bounds one upload request. Pasture cameras produce
// clips well under this; anything bigger is a misdirected file.
const maxUploadBytes = 2 << 30

// multipartMemory is how much of a parsed upload stays in memory
// before spilling to a temp file.
const multipartMemory = 32 << 20

var allowedVideoExt = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

func (s *Server) videosCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listVideos(w, r)
	case http.MethodPost:
		s.uploadVideo(w, r)
	default:
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	videos, err := s.store.ListVideos(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve videos: %v", err))
		return
	}

	response := map[string]interface{}{
		"videos": videos,
		"count":  len(videos),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write videos")
		return
	}
}

// uploadVideo receives a multipart upload under the 'video' field,
// stores it under a fresh UUID, creates the Pending row and queues the
// job. A full queue rejects the upload with 503 and marks the row
// Failed so the attempt stays visible.
func (s *Server) uploadVideo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'video' file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedVideoExt[ext] {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Unsupported video format %q", ext))
		return
	}

	videoID := uuid.New().String()
	path := filepath.Join(s.uploadDir, videoID+ext)

	if err := s.saveUpload(path, file); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to store upload: %v", err))
		return
	}

	video := &db.Video{
		ID:       videoID,
		Filename: header.Filename,
		FilePath: path,
		FileSize: header.Size,
	}
	if err := s.store.CreateVideo(video); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to register video: %v", err))
		return
	}
	if err := s.store.AppendAudit(db.AuditCategoryVideo, "video", videoID,
		db.AuditVideoUploaded, fmt.Sprintf("%s (%d bytes)", header.Filename, header.Size)); err != nil {
		// An upload without its audit row is still an upload.
		log.Printf("audit write failed for upload %s: %v", videoID, err)
	}

	if err := s.enqueue(videoID, path); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
	response := map[string]interface{}{
		"message":  "Video registered and processing started",
		"video_id": videoID,
		"video":    video,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write video")
		return
	}
}

// saveUpload spools the multipart part to the upload directory.
// Failures come back as storage faults so they classify like any other
// interrupted upload.
func (s *Server) saveUpload(path string, file io.Reader) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return &pipeline.StorageError{Op: "upload", Err: err}
	}
	if err := s.fs.MkdirAll(s.uploadDir, 0o755); err != nil {
		return &pipeline.StorageError{Op: "upload", Err: err}
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return &pipeline.StorageError{Op: "upload", Err: err}
	}
	return nil
}

// enqueue hands the stored upload to the worker pool. Queue rejection
// marks the row Failed so a poll of the video shows why nothing ran.
func (s *Server) enqueue(videoID, path string) error {
	if s.pool == nil {
		err := errors.New("processing queue is not running")
		s.markRejected(videoID, err)
		return err
	}
	if err := s.pool.Enqueue(pipeline.Job{VideoID: videoID, Path: path}); err != nil {
		s.markRejected(videoID, err)
		return err
	}
	return nil
}

func (s *Server) markRejected(videoID string, cause error) {
	if err := s.store.MarkVideoFailed(videoID, cause.Error()); err != nil {
		log.Printf("marking rejected upload %s failed: %v", videoID, err)
	}
}

// videoSubtree routes /api/videos/{id}[/result|/stream|/profiles...].
func (s *Server) videoSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "Missing video ID")
		return
	}

	if len(parts) == 1 {
		s.showVideo(w, r, id)
		return
	}

	switch {
	case parts[1] == "result":
		s.showVideoResult(w, r, id)
	case parts[1] == "stream":
		s.streamVideo(w, r, id)
	case parts[1] == "profiles":
		s.listProfiles(w, r, id)
	case strings.HasPrefix(parts[1], "profiles/"):
		s.serveProfile(w, r, id, strings.TrimPrefix(parts[1], "profiles/"))
	default:
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("Unknown video resource %q", parts[1]))
	}
}

// lookupVideo resolves the path ID to a row, writing the error
// response itself so handlers can return on false.
func (s *Server) lookupVideo(w http.ResponseWriter, id string) (*db.Video, bool) {
	video, err := s.store.GetVideo(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No video %q", id))
		} else {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to retrieve video: %v", err))
		}
		return nil, false
	}
	return video, true
}

func (s *Server) showVideo(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	video, ok := s.lookupVideo(w, id)
	if !ok {
		return
	}

	if err := json.NewEncoder(w).Encode(map[string]interface{}{"video": video}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write video")
		return
	}
}

// showVideoResult returns the stored completion metadata: the verified
// count, its confidence interval, and where the evidence went. Jobs
// that have not finished have no result yet.
func (s *Server) showVideoResult(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	video, ok := s.lookupVideo(w, id)
	if !ok {
		return
	}
	if video.Metadata == nil {
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("No result recorded for video %q (status %s)", id, video.ProcessingStatus))
		return
	}

	var result json.RawMessage = []byte(*video.Metadata)
	response := map[string]interface{}{
		"video_id":         video.ID,
		"status":           video.ProcessingStatus,
		"frames_processed": video.FramesProcessed,
		"detections_count": video.DetectionsCount,
		"unique_goats":     video.UniqueGoats,
		"result":           result,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write result")
		return
	}
}

// listProfiles returns the per-goat profile crops written for a job.
func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.evidence == nil {
		s.writeJSONError(w, http.StatusNotFound, "No evidence directory configured")
		return
	}
	if _, ok := s.lookupVideo(w, id); !ok {
		return
	}

	dir := s.evidence.ProfileDir(id)
	paths, err := s.fs.List(dir)
	if err != nil || len(paths) == 0 {
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("No profiles recorded for video %q", id))
		return
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}

	response := map[string]interface{}{
		"video_id": id,
		"profiles": names,
		"count":    len(names),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write profiles")
		return
	}
}

// serveProfile streams one profile crop JPEG.
func (s *Server) serveProfile(w http.ResponseWriter, r *http.Request, id, name string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.evidence == nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "No evidence directory configured")
		return
	}
	dir := s.evidence.ProfileDir(id)
	path := filepath.Join(dir, name)
	if err := security.ValidateArtifactName(name); err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusBadRequest, "Invalid profile name")
		return
	}
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusBadRequest, "Invalid profile name")
		return
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("No profile %q for video %q", name, id))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}
