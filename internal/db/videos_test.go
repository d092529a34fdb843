package db

import (
	"errors"
	"testing"
)

func TestCreateVideo(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if video.ProcessingStatus != VideoStatusPending {
		t.Errorf("default status = %q, want Pending", video.ProcessingStatus)
	}
	if video.UploadDate.IsZero() {
		t.Error("CreateVideo should fill in upload_date")
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.Filename != "pasture.mp4" {
		t.Errorf("filename = %q, want pasture.mp4", got.Filename)
	}
	if got.Progress != 0 {
		t.Errorf("progress = %v, want 0", got.Progress)
	}
	if got.ProcessedDate != nil {
		t.Error("processed_date should be nil before processing")
	}
}

func TestGetVideo_NotFound(t *testing.T) {
	db := SetupTestDB(t)

	_, err := db.GetVideo("no-such-video")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListVideos(t *testing.T) {
	db := SetupTestDB(t)

	v1 := createTestVideo(t, db, "a.mp4")
	v2 := createTestVideo(t, db, "b.mp4")

	videos, err := db.ListVideos(0)
	if err != nil {
		t.Fatalf("ListVideos failed: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}

	limited, err := db.ListVideos(1)
	if err != nil {
		t.Fatalf("ListVideos(limit=1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 video with limit, got %d", len(limited))
	}

	seen := map[string]bool{}
	for _, v := range videos {
		seen[v.ID] = true
	}
	if !seen[v1.ID] || !seen[v2.ID] {
		t.Error("both created videos should be listed")
	}
}

func TestMarkVideoProcessing(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.MarkVideoProcessing(video.ID); err != nil {
		t.Fatalf("MarkVideoProcessing failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.ProcessingStatus != VideoStatusProcessing {
		t.Errorf("status = %q, want Processing", got.ProcessingStatus)
	}
	if got.Progress != 0 {
		t.Errorf("progress = %v, want 0 after reset", got.Progress)
	}
	if got.ErrorMessage != nil {
		t.Errorf("error_message should be cleared, got %v", *got.ErrorMessage)
	}

	err = db.MarkVideoProcessing("no-such-video")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown video, got %v", err)
	}
}

func TestSetVideoMedia(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.SetVideoMedia(video.ID, 62.5, 25.0, "1920x1080", 4096); err != nil {
		t.Fatalf("SetVideoMedia failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.Duration != 62.5 {
		t.Errorf("duration = %v, want 62.5", got.Duration)
	}
	if got.FPS != 25.0 {
		t.Errorf("fps = %v, want 25", got.FPS)
	}
	if got.Resolution == nil || *got.Resolution != "1920x1080" {
		t.Errorf("resolution = %v, want 1920x1080", got.Resolution)
	}
	if got.FileSize != 4096 {
		t.Errorf("file_size = %d, want 4096", got.FileSize)
	}
}

func TestUpdateVideoProgress_Monotonic(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.UpdateVideoProgress(video.ID, 40); err != nil {
		t.Fatalf("UpdateVideoProgress failed: %v", err)
	}
	if err := db.UpdateVideoProgress(video.ID, 75); err != nil {
		t.Fatalf("UpdateVideoProgress failed: %v", err)
	}

	// A stale, lower report must never move progress backwards.
	if err := db.UpdateVideoProgress(video.ID, 50); err != nil {
		t.Fatalf("UpdateVideoProgress failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.Progress != 75 {
		t.Errorf("progress = %v, want 75 (monotonic)", got.Progress)
	}
}

func TestUpdateVideoCounters(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.UpdateVideoCounters(video.ID, 30, 4); err != nil {
		t.Fatalf("UpdateVideoCounters failed: %v", err)
	}
	if err := db.UpdateVideoCounters(video.ID, 60, 7); err != nil {
		t.Fatalf("UpdateVideoCounters failed: %v", err)
	}

	// Progress is monotonic but the goat count follows the latest report,
	// since identities can be merged mid-job.
	if err := db.UpdateVideoCounters(video.ID, 45, 6); err != nil {
		t.Fatalf("UpdateVideoCounters failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.Progress != 60 {
		t.Errorf("progress = %v, want 60 (monotonic)", got.Progress)
	}
	if got.UniqueGoats != 6 {
		t.Errorf("unique_goats = %d, want 6 (latest report)", got.UniqueGoats)
	}
}

func TestMarkVideoFailed(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.MarkVideoProcessing(video.ID); err != nil {
		t.Fatalf("MarkVideoProcessing failed: %v", err)
	}
	if err := db.UpdateVideoProgress(video.ID, 42); err != nil {
		t.Fatalf("UpdateVideoProgress failed: %v", err)
	}
	if err := db.MarkVideoFailed(video.ID, "CODEC_DECODE_FAILED: cannot open video"); err != nil {
		t.Fatalf("MarkVideoFailed failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.ProcessingStatus != VideoStatusFailed {
		t.Errorf("status = %q, want Failed", got.ProcessingStatus)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "CODEC_DECODE_FAILED: cannot open video" {
		t.Errorf("error_message = %v, want classified message", got.ErrorMessage)
	}
	// Progress stays where the job died; it never fakes completion.
	if got.Progress != 42 {
		t.Errorf("progress = %v, want 42 after failure", got.Progress)
	}
	if got.ProcessedDate != nil {
		t.Error("processed_date should stay nil on failure")
	}
}

func TestCompleteVideo(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.MarkVideoProcessing(video.ID); err != nil {
		t.Fatalf("MarkVideoProcessing failed: %v", err)
	}
	if err := db.UpdateVideoProgress(video.ID, 60); err != nil {
		t.Fatalf("UpdateVideoProgress failed: %v", err)
	}

	meta := strPtr(`{"verified_count": 12}`)
	if err := db.CompleteVideo(video.ID, VideoStatusCompleted, 1500, 18000, 12, meta); err != nil {
		t.Fatalf("CompleteVideo failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.ProcessingStatus != VideoStatusCompleted {
		t.Errorf("status = %q, want Completed", got.ProcessingStatus)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %v, want 100 on completion", got.Progress)
	}
	if got.FramesProcessed != 1500 || got.DetectionsCount != 18000 || got.UniqueGoats != 12 {
		t.Errorf("counters = %d/%d/%d, want 1500/18000/12",
			got.FramesProcessed, got.DetectionsCount, got.UniqueGoats)
	}
	if got.ProcessedDate == nil {
		t.Error("processed_date should be set on completion")
	}
	if got.Metadata == nil || *got.Metadata != *meta {
		t.Errorf("metadata = %v, want %q", got.Metadata, *meta)
	}
}

func TestCompleteVideo_WithWarnings(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	if err := db.CompleteVideo(video.ID, VideoStatusCompletedWithWarnings, 100, 50, 3, nil); err != nil {
		t.Fatalf("CompleteVideo with warnings failed: %v", err)
	}

	got, err := db.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got.ProcessingStatus != VideoStatusCompletedWithWarnings {
		t.Errorf("status = %q, want CompletedWithWarnings", got.ProcessingStatus)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %v, want 100", got.Progress)
	}
}

func TestCompleteVideo_RejectsNonTerminalStatus(t *testing.T) {
	db := SetupTestDB(t)

	video := createTestVideo(t, db, "pasture.mp4")

	for _, status := range []string{VideoStatusFailed, VideoStatusPending, VideoStatusProcessing, "Bogus"} {
		if err := db.CompleteVideo(video.ID, status, 0, 0, 0, nil); err == nil {
			t.Errorf("CompleteVideo(%q) should be rejected", status)
		}
	}
}
