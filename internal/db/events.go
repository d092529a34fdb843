package db

import (
	"fmt"
	"time"
)

// Event types written by the pipeline. The column is open-ended so
// husbandry tooling can record its own types alongside these.
const (
	EventTypeSighting     = "SIGHTING"
	EventTypeRegistration = "REGISTRATION"
)

// Event severities.
const (
	SeverityLow      = "Low"
	SeverityMedium   = "Medium"
	SeverityHigh     = "High"
	SeverityCritical = "Critical"
)

// Event is a timestamped record about an animal, a video, or both.
// Events are append-only: nothing in the application updates or deletes
// them. Deleting an animal nulls animal_id but keeps the row.
type Event struct {
	ID          int64     `json:"event_id"`
	AnimalID    *int64    `json:"animal_id"`
	VideoID     *string   `json:"video_id"`
	EventType   string    `json:"event_type"`
	Severity    string    `json:"severity"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Metadata    *string   `json:"metadata"`
}

// InsertEvent appends an event. ID and timestamp are filled in on the
// passed struct.
func (db *DB) InsertEvent(e *Event) error {
	if e.Severity == "" {
		e.Severity = SeverityLow
	}
	now := nowUnix()

	result, err := db.Exec(`
		INSERT INTO events (
			animal_id, video_id, event_type, severity, title,
			description, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AnimalID, e.VideoID, e.EventType, e.Severity, e.Title,
		e.Description, now, e.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	e.ID = id
	e.Timestamp = time.Unix(now, 0)
	return nil
}

const eventColumns = `
	event_id, animal_id, video_id, event_type, severity, title,
	description, timestamp, metadata`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var ts int64
	err := row.Scan(
		&e.ID, &e.AnimalID, &e.VideoID, &e.EventType, &e.Severity,
		&e.Title, &e.Description, &ts, &e.Metadata,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = time.Unix(ts, 0)
	return &e, nil
}

// ListEventsByAnimal returns an animal's events, newest first.
// limit <= 0 means no limit.
func (db *DB) ListEventsByAnimal(animalID int64, limit int) ([]Event, error) {
	query := `SELECT` + eventColumns + ` FROM events WHERE animal_id = ? ORDER BY event_id DESC`
	args := []any{animalID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// ListEventsByVideo returns all events recorded during one video's
// processing, in insertion order.
func (db *DB) ListEventsByVideo(videoID string) ([]Event, error) {
	rows, err := db.Query(`SELECT`+eventColumns+` FROM events WHERE video_id = ? ORDER BY event_id`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// CountSightings returns how many SIGHTING events an animal has.
func (db *DB) CountSightings(animalID int64) (int64, error) {
	var n int64
	err := db.QueryRow(`
		SELECT COUNT(*) FROM events
		WHERE animal_id = ? AND event_type = ?`,
		animalID, EventTypeSighting,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sightings: %w", err)
	}
	return n, nil
}
