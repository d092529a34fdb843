package db

import (
	"fmt"
)

// Detection is one persisted bounding box from a processed frame,
// optionally attributed to a re-identified animal.
type Detection struct {
	ID          int64   `json:"detection_id"`
	VideoID     string  `json:"video_id"`
	AnimalID    *int64  `json:"animal_id"`
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	X           float64 `json:"bbox_x"`
	Y           float64 `json:"bbox_y"`
	W           float64 `json:"bbox_w"`
	H           float64 `json:"bbox_h"`
	Confidence  float64 `json:"confidence"`
	Metadata    *string `json:"metadata"`
}

// InsertDetections writes a batch of detections for one video in a single
// transaction. Rows are inserted in slice order, which the pipeline keeps
// in frame order, so detection IDs preserve frame ordering per job.
func (db *DB) InsertDetections(videoID string, detections []Detection) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin detections transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (
			video_id, animal_id, frame_number, timestamp,
			bbox_x, bbox_y, bbox_w, bbox_h, confidence, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare detections insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.Exec(
			videoID, d.AnimalID, d.FrameNumber, d.Timestamp,
			d.X, d.Y, d.W, d.H, d.Confidence, d.Metadata,
		); err != nil {
			return fmt.Errorf("failed to insert detection at frame %d: %w", d.FrameNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detections: %w", err)
	}
	return nil
}

// ListDetections returns all detections for a video in frame order.
func (db *DB) ListDetections(videoID string) ([]Detection, error) {
	rows, err := db.Query(`
		SELECT detection_id, video_id, animal_id, frame_number, timestamp,
		       bbox_x, bbox_y, bbox_w, bbox_h, confidence, metadata
		FROM detections
		WHERE video_id = ?
		ORDER BY frame_number, detection_id`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(
			&d.ID, &d.VideoID, &d.AnimalID, &d.FrameNumber, &d.Timestamp,
			&d.X, &d.Y, &d.W, &d.H, &d.Confidence, &d.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return detections, nil
}

// FrameCount is the number of detections observed on one frame.
type FrameCount struct {
	FrameNumber int `json:"frame_number"`
	Count       int `json:"count"`
}

// FrameCounts returns per-frame detection counts for a video in frame
// order. Count verification can be reproduced from this alone.
func (db *DB) FrameCounts(videoID string) ([]FrameCount, error) {
	rows, err := db.Query(`
		SELECT frame_number, COUNT(*)
		FROM detections
		WHERE video_id = ?
		GROUP BY frame_number
		ORDER BY frame_number`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frame counts: %w", err)
	}
	defer rows.Close()

	var counts []FrameCount
	for rows.Next() {
		var fc FrameCount
		if err := rows.Scan(&fc.FrameNumber, &fc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan frame count: %w", err)
		}
		counts = append(counts, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

// CountDetections returns the total number of detections stored for a video.
func (db *DB) CountDetections(videoID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM detections WHERE video_id = ?`, videoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}
