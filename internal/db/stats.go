package db

import (
	"fmt"
	"time"
)

// PopulationStats summarises the herd register for dashboards.
type PopulationStats struct {
	TotalAnimals  int64            `json:"total_animals"`
	ActiveAnimals int64            `json:"active_animals"`
	NewThisWeek   int64            `json:"new_this_week"`
	Trend         string           `json:"trend"`
	BreedCounts   map[string]int64 `json:"breed_counts"`
}

// Population trend labels. The trend compares registrations in the two
// halves of the trailing 30 days; a swing under 5% reads as stable.
const (
	TrendGrowing       = "growing"
	TrendDeclining     = "declining"
	TrendStable        = "stable"
	TrendNewPopulation = "new_population"
)

// GetPopulationStats computes register-wide counts and the 30-day
// registration trend.
func (db *DB) GetPopulationStats() (*PopulationStats, error) {
	stats := &PopulationStats{BreedCounts: make(map[string]int64)}
	now := nowUnix()

	err := db.QueryRow(`SELECT COUNT(*) FROM animals`).Scan(&stats.TotalAnimals)
	if err != nil {
		return nil, fmt.Errorf("failed to count animals: %w", err)
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM animals WHERE status = ?`, AnimalStatusActive).Scan(&stats.ActiveAnimals)
	if err != nil {
		return nil, fmt.Errorf("failed to count active animals: %w", err)
	}

	weekAgo := now - 7*24*3600
	err = db.QueryRow(`SELECT COUNT(*) FROM animals WHERE created_at >= ?`, weekAgo).Scan(&stats.NewThisWeek)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent animals: %w", err)
	}

	// Registrations in the two halves of the trailing 30 days.
	monthAgo := now - 30*24*3600
	halfAgo := now - 15*24*3600
	var earlier, recent int64
	err = db.QueryRow(`SELECT COUNT(*) FROM animals WHERE created_at >= ? AND created_at < ?`,
		monthAgo, halfAgo).Scan(&earlier)
	if err != nil {
		return nil, fmt.Errorf("failed to count earlier registrations: %w", err)
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM animals WHERE created_at >= ?`, halfAgo).Scan(&recent)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent registrations: %w", err)
	}
	stats.Trend = trendLabel(earlier, recent)

	rows, err := db.Query(`SELECT COALESCE(breed, 'Unknown'), COUNT(*) FROM animals GROUP BY breed`)
	if err != nil {
		return nil, fmt.Errorf("failed to count breeds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var breed string
		var n int64
		if err := rows.Scan(&breed, &n); err != nil {
			return nil, fmt.Errorf("failed to scan breed count: %w", err)
		}
		stats.BreedCounts[breed] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func trendLabel(earlier, recent int64) string {
	if earlier == 0 {
		if recent > 0 {
			return TrendNewPopulation
		}
		return TrendStable
	}
	ratio := float64(recent) / float64(earlier)
	switch {
	case ratio > 1.05:
		return TrendGrowing
	case ratio < 0.95:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// IdentityMetrics reports how well re-identification is holding up.
// An identity counts as validated once it has been sighted more than
// once, i.e. matched again after registration.
type IdentityMetrics struct {
	TotalIdentities     int64   `json:"total_identities"`
	ValidatedIdentities int64   `json:"validated_identities"`
	ValidationRate      float64 `json:"validation_rate"`
	AvgSightings        float64 `json:"avg_sightings"`
	AvgPersistenceDays  float64 `json:"avg_persistence_days"`
}

// GetIdentityMetrics computes re-identification quality figures from
// the sighting history.
func (db *DB) GetIdentityMetrics() (*IdentityMetrics, error) {
	var m IdentityMetrics

	err := db.QueryRow(`SELECT COUNT(*) FROM animals`).Scan(&m.TotalIdentities)
	if err != nil {
		return nil, fmt.Errorf("failed to count identities: %w", err)
	}
	if m.TotalIdentities == 0 {
		return &m, nil
	}

	err = db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT animal_id FROM events
			WHERE event_type = ? AND animal_id IS NOT NULL
			GROUP BY animal_id HAVING COUNT(*) > 1
		)`, EventTypeSighting).Scan(&m.ValidatedIdentities)
	if err != nil {
		return nil, fmt.Errorf("failed to count validated identities: %w", err)
	}
	m.ValidationRate = float64(m.ValidatedIdentities) / float64(m.TotalIdentities)

	var sightings int64
	err = db.QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = ? AND animal_id IS NOT NULL`,
		EventTypeSighting).Scan(&sightings)
	if err != nil {
		return nil, fmt.Errorf("failed to count sightings: %w", err)
	}
	m.AvgSightings = float64(sightings) / float64(m.TotalIdentities)

	var totalSeconds int64
	err = db.QueryRow(`SELECT COALESCE(SUM(last_seen - first_seen), 0) FROM animals`).Scan(&totalSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to sum persistence: %w", err)
	}
	m.AvgPersistenceDays = float64(totalSeconds) / float64(m.TotalIdentities) / (24 * 3600)

	return &m, nil
}

// TopAnimal is one row of the most-sighted leaderboard.
type TopAnimal struct {
	AnimalID  int64     `json:"animal_id"`
	EarTag    string    `json:"ear_tag"`
	Sightings int64     `json:"sightings"`
	LastSeen  time.Time `json:"last_seen"`
}

// TopAnimals returns the animals with the most sightings, busiest
// first. limit <= 0 defaults to 10.
func (db *DB) TopAnimals(limit int) ([]TopAnimal, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.Query(`
		SELECT a.animal_id, a.ear_tag, COUNT(e.event_id) AS sightings, a.last_seen
		FROM animals a
		JOIN events e ON e.animal_id = a.animal_id AND e.event_type = ?
		GROUP BY a.animal_id
		ORDER BY sightings DESC, a.animal_id
		LIMIT ?`, EventTypeSighting, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top animals: %w", err)
	}
	defer rows.Close()

	var top []TopAnimal
	for rows.Next() {
		var t TopAnimal
		var lastSeen int64
		if err := rows.Scan(&t.AnimalID, &t.EarTag, &t.Sightings, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan top animal: %w", err)
		}
		t.LastSeen = time.Unix(lastSeen, 0)
		top = append(top, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return top, nil
}

// VideoThroughput summarises processing volume for the monitor page.
type VideoThroughput struct {
	TotalVideos     int64   `json:"total_videos"`
	Completed       int64   `json:"completed"`
	Failed          int64   `json:"failed"`
	TotalDetections int64   `json:"total_detections"`
	AvgUniqueGoats  float64 `json:"avg_unique_goats"`
}

// GetVideoThroughput aggregates per-video outcomes.
func (db *DB) GetVideoThroughput() (*VideoThroughput, error) {
	var t VideoThroughput
	err := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN processing_status IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processing_status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(detections_count), 0)
		FROM videos`,
		VideoStatusCompleted, VideoStatusCompletedWithWarnings, VideoStatusFailed,
	).Scan(&t.TotalVideos, &t.Completed, &t.Failed, &t.TotalDetections)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate videos: %w", err)
	}

	if t.Completed > 0 {
		err = db.QueryRow(`
			SELECT COALESCE(AVG(unique_goats), 0) FROM videos
			WHERE processing_status IN (?, ?)`,
			VideoStatusCompleted, VideoStatusCompletedWithWarnings,
		).Scan(&t.AvgUniqueGoats)
		if err != nil {
			return nil, fmt.Errorf("failed to average unique goats: %w", err)
		}
	}

	return &t, nil
}
