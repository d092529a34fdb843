package api

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/vision/pipeline"
)

// ProgressHub fans job progress snapshots out to SSE clients. Workers
// publish through Publish (wired as the pipeline Notify hook); each
// watching request subscribes for the duration of its stream.
type ProgressHub struct {
	subscribers  map[string]chan pipeline.ProgressUpdate
	subscriberMu sync.Mutex
	closed       bool
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[string]chan pipeline.ProgressUpdate),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving progress snapshots.
// The channel ID identifies the unique channel when unsubscribing.
func (h *ProgressHub) Subscribe() (string, chan pipeline.ProgressUpdate) {
	id := randomID()
	ch := make(chan pipeline.ProgressUpdate, 16)
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the hub.
func (h *ProgressHub) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish fans a snapshot out to every subscriber without blocking;
// a slow client skips updates rather than stalling a worker.
func (h *ProgressHub) Publish(u pipeline.ProgressUpdate) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- u:
		default:
			// if the channel is full skip so as not to block the worker
		}
	}
}

// Close closes all subscriber channels; further publishes are dropped.
func (h *ProgressHub) Close() {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

func terminalStatus(status string) bool {
	switch status {
	case db.VideoStatusCompleted, db.VideoStatusCompletedWithWarnings, db.VideoStatusFailed:
		return true
	}
	return false
}

// streamVideo tails one job's progress as Server-Sent Events. The row
// as it stands goes out first; live snapshots follow until the job
// reaches a terminal status or the client goes away. A job that is
// already finished gets the snapshot and an immediate close.
func (s *Server) streamVideo(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	video, err := s.store.GetVideo(id)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No video %q", id))
		} else {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to retrieve video: %v", err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	if !writeSSE(w, rowSnapshot(video)) {
		return
	}
	if terminalStatus(video.ProcessingStatus) || s.hub == nil {
		return
	}

	subID, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(subID)

	// The job can finish between the snapshot and the subscription;
	// re-read the row so the stream cannot hang on a missed final
	// update.
	if current, err := s.store.GetVideo(id); err == nil && terminalStatus(current.ProcessingStatus) {
		writeSSE(w, rowSnapshot(current))
		return
	}

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			if update.VideoID != id {
				continue
			}
			if !writeSSE(w, update) {
				return
			}
			if terminalStatus(update.Status) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// rowSnapshot converts a video row into the same shape the pipeline
// publishes, so a stream is uniform whether the data came from the
// row or a live worker.
func rowSnapshot(video *db.Video) pipeline.ProgressUpdate {
	u := pipeline.ProgressUpdate{
		VideoID:         video.ID,
		Status:          video.ProcessingStatus,
		Progress:        video.Progress,
		FramesProcessed: int(video.FramesProcessed),
		UniqueGoats:     int(video.UniqueGoats),
	}
	if video.ErrorMessage != nil {
		u.Error = *video.ErrorMessage
	}
	return u
}

// writeSSE emits one data frame, reporting whether the client is
// still connected.
func writeSSE(w http.ResponseWriter, u pipeline.ProgressUpdate) bool {
	payload, err := json.Marshal(u)
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
		return false
	}
	w.(http.Flusher).Flush()
	return true
}
