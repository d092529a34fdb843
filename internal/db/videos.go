package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Video processing states. Progress reaches 100 only in the two completed
// states; a Failed job keeps whatever progress it had.
const (
	VideoStatusPending               = "Pending"
	VideoStatusProcessing            = "Processing"
	VideoStatusCompleted             = "Completed"
	VideoStatusCompletedWithWarnings = "CompletedWithWarnings"
	VideoStatusFailed                = "Failed"
)

// Video represents one uploaded video and its processing job state.
type Video struct {
	ID               string     `json:"video_id"`
	Filename         string     `json:"filename"`
	FilePath         string     `json:"file_path"`
	FileSize         int64      `json:"file_size"`
	Duration         float64    `json:"duration"`
	FPS              float64    `json:"fps"`
	Resolution       *string    `json:"resolution"`
	ProcessingStatus string     `json:"processing_status"`
	Progress         float64    `json:"progress"`
	ErrorMessage     *string    `json:"error_message"`
	FramesProcessed  int64      `json:"frames_processed"`
	DetectionsCount  int64      `json:"detections_count"`
	UniqueGoats      int64      `json:"unique_goats"`
	UploadDate       time.Time  `json:"upload_date"`
	ProcessedDate    *time.Time `json:"processed_date"`
	Metadata         *string    `json:"metadata"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CreateVideo inserts a new video row in Pending state. The caller chooses
// the ID (a fresh UUID for uploads).
func (db *DB) CreateVideo(v *Video) error {
	if v.ProcessingStatus == "" {
		v.ProcessingStatus = VideoStatusPending
	}
	now := nowUnix()

	_, err := db.Exec(`
		INSERT INTO videos (
			video_id, filename, file_path, file_size, duration, fps,
			resolution, processing_status, progress, metadata,
			upload_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Filename, v.FilePath, v.FileSize, v.Duration, v.FPS,
		v.Resolution, v.ProcessingStatus, v.Progress, v.Metadata,
		now, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	v.UploadDate = time.Unix(now, 0)
	v.CreatedAt = time.Unix(now, 0)
	v.UpdatedAt = time.Unix(now, 0)
	return nil
}

const videoColumns = `
	video_id, filename, file_path, file_size, duration, fps, resolution,
	processing_status, progress, error_message, frames_processed,
	detections_count, unique_goats, upload_date, processed_date, metadata,
	created_at, updated_at`

func scanVideo(row interface{ Scan(...any) error }) (*Video, error) {
	var v Video
	var uploadDate, createdAt, updatedAt int64
	var processedDate sql.NullInt64

	err := row.Scan(
		&v.ID, &v.Filename, &v.FilePath, &v.FileSize, &v.Duration, &v.FPS,
		&v.Resolution, &v.ProcessingStatus, &v.Progress, &v.ErrorMessage,
		&v.FramesProcessed, &v.DetectionsCount, &v.UniqueGoats,
		&uploadDate, &processedDate, &v.Metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.UploadDate = time.Unix(uploadDate, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	if processedDate.Valid {
		t := time.Unix(processedDate.Int64, 0)
		v.ProcessedDate = &t
	}
	return &v, nil
}

// GetVideo retrieves a video by ID.
func (db *DB) GetVideo(id string) (*Video, error) {
	row := db.QueryRow(`SELECT`+videoColumns+` FROM videos WHERE video_id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("video %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return v, nil
}

// ListVideos returns videos ordered by upload date descending.
// limit <= 0 means no limit.
func (db *DB) ListVideos(limit int) ([]Video, error) {
	query := `SELECT` + videoColumns + ` FROM videos ORDER BY upload_date DESC, video_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return videos, nil
}

// MarkVideoProcessing transitions a video into the Processing state and
// resets its progress and error message.
func (db *DB) MarkVideoProcessing(id string) error {
	result, err := db.Exec(`
		UPDATE videos
		SET processing_status = ?, progress = 0, error_message = NULL, updated_at = ?
		WHERE video_id = ?`,
		VideoStatusProcessing, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark video processing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("video %q: %w", id, ErrNotFound)
	}
	return nil
}

// SetVideoMedia records the probed media properties once the container
// has been opened.
func (db *DB) SetVideoMedia(id string, duration, fps float64, resolution string, fileSize int64) error {
	_, err := db.Exec(`
		UPDATE videos
		SET duration = ?, fps = ?, resolution = ?, file_size = ?, updated_at = ?
		WHERE video_id = ?`,
		duration, fps, resolution, fileSize, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set video media properties: %w", err)
	}
	return nil
}

// UpdateVideoProgress advances the progress of a running job. Progress is
// clamped so it never moves backwards, whatever the caller passes.
func (db *DB) UpdateVideoProgress(id string, progress float64) error {
	_, err := db.Exec(`
		UPDATE videos
		SET progress = MAX(progress, ?), updated_at = ?
		WHERE video_id = ?`,
		progress, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update video progress: %w", err)
	}
	return nil
}

// UpdateVideoCounters advances progress and the running unique-goat count
// mid-job. Progress is clamped the same way as UpdateVideoProgress.
func (db *DB) UpdateVideoCounters(id string, progress float64, uniqueGoats int64) error {
	_, err := db.Exec(`
		UPDATE videos
		SET progress = MAX(progress, ?), unique_goats = ?, updated_at = ?
		WHERE video_id = ?`,
		progress, uniqueGoats, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update video counters: %w", err)
	}
	return nil
}

// MarkVideoFailed transitions a video to Failed with the classified error
// message. Progress stays where it was; it never reaches 100 on failure.
func (db *DB) MarkVideoFailed(id string, errorMessage string) error {
	_, err := db.Exec(`
		UPDATE videos
		SET processing_status = ?, error_message = ?, updated_at = ?
		WHERE video_id = ?`,
		VideoStatusFailed, errorMessage, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark video failed: %w", err)
	}
	return nil
}

// CompleteVideo finalizes a successful job: counters, result metadata,
// terminal status, processed date, and progress pinned to 100.
func (db *DB) CompleteVideo(id, status string, framesProcessed, detectionsCount, uniqueGoats int64, metadata *string) error {
	if status != VideoStatusCompleted && status != VideoStatusCompletedWithWarnings {
		return fmt.Errorf("status %q is not a successful terminal state", status)
	}
	now := nowUnix()
	_, err := db.Exec(`
		UPDATE videos
		SET processing_status = ?, progress = 100, frames_processed = ?,
		    detections_count = ?, unique_goats = ?, metadata = ?,
		    processed_date = ?, updated_at = ?
		WHERE video_id = ?`,
		status, framesProcessed, detectionsCount, uniqueGoats, metadata,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete video: %w", err)
	}
	return nil
}
