package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Animal lifecycle states.
const (
	AnimalStatusActive     = "Active"
	AnimalStatusSick       = "Sick"
	AnimalStatusQuarantine = "Quarantine"
	AnimalStatusSold       = "Sold"
	AnimalStatusDeceased   = "Deceased"
)

// Animal represents a registered animal in the herd. Identity fields
// (breed, gender, color, horn status) are optional; automatic
// registrations from video processing fill only the ear tag.
type Animal struct {
	ID         int64     `json:"animal_id"`
	EarTag     string    `json:"ear_tag"`
	Breed      *string   `json:"breed"`
	Gender     *string   `json:"gender"`
	Color      *string   `json:"color"`
	HornStatus *string   `json:"horn_status"`
	Status     string    `json:"status"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Metadata   *string   `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateAnimal inserts a new animal. The ID, timestamps and default status
// are filled in on the passed struct.
func (db *DB) CreateAnimal(a *Animal) error {
	if a.Status == "" {
		a.Status = AnimalStatusActive
	}
	now := nowUnix()

	result, err := db.Exec(`
		INSERT INTO animals (
			ear_tag, breed, gender, color, horn_status, status,
			first_seen, last_seen, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.EarTag, a.Breed, a.Gender, a.Color, a.HornStatus, a.Status,
		now, now, a.Metadata, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create animal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	a.ID = id
	a.FirstSeen = time.Unix(now, 0)
	a.LastSeen = time.Unix(now, 0)
	a.CreatedAt = time.Unix(now, 0)
	a.UpdatedAt = time.Unix(now, 0)
	return nil
}

const animalColumns = `
	animal_id, ear_tag, breed, gender, color, horn_status, status,
	first_seen, last_seen, metadata, created_at, updated_at`

func scanAnimal(row interface{ Scan(...any) error }) (*Animal, error) {
	var a Animal
	var firstSeen, lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&a.ID, &a.EarTag, &a.Breed, &a.Gender, &a.Color, &a.HornStatus,
		&a.Status, &firstSeen, &lastSeen, &a.Metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.FirstSeen = time.Unix(firstSeen, 0)
	a.LastSeen = time.Unix(lastSeen, 0)
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

// GetAnimal retrieves an animal by ID.
func (db *DB) GetAnimal(id int64) (*Animal, error) {
	row := db.QueryRow(`SELECT`+animalColumns+` FROM animals WHERE animal_id = ?`, id)
	a, err := scanAnimal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("animal %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get animal: %w", err)
	}
	return a, nil
}

// GetAnimalByEarTag retrieves an animal by its unique ear tag.
func (db *DB) GetAnimalByEarTag(earTag string) (*Animal, error) {
	row := db.QueryRow(`SELECT`+animalColumns+` FROM animals WHERE ear_tag = ?`, earTag)
	a, err := scanAnimal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("animal %q: %w", earTag, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get animal: %w", err)
	}
	return a, nil
}

// ListAnimals returns animals ordered by last_seen descending. An empty
// status lists all animals; limit <= 0 means no limit.
func (db *DB) ListAnimals(status string, limit int) ([]Animal, error) {
	query := `SELECT` + animalColumns + ` FROM animals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY last_seen DESC, animal_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list animals: %w", err)
	}
	defer rows.Close()

	var animals []Animal
	for rows.Next() {
		a, err := scanAnimal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan animal: %w", err)
		}
		animals = append(animals, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return animals, nil
}

// UpdateAnimalStatus transitions an animal to a new lifecycle status.
func (db *DB) UpdateAnimalStatus(id int64, status string) error {
	result, err := db.Exec(`
		UPDATE animals SET status = ?, updated_at = ? WHERE animal_id = ?`,
		status, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update animal status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("animal %d: %w", id, ErrNotFound)
	}
	return nil
}

// TouchAnimalLastSeen bumps the animal's last_seen timestamp.
func (db *DB) TouchAnimalLastSeen(id int64) error {
	now := nowUnix()
	_, err := db.Exec(`
		UPDATE animals SET last_seen = ?, updated_at = ? WHERE animal_id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch animal last_seen: %w", err)
	}
	return nil
}

// DeleteAnimal removes an animal. Its biometric template and detections
// cascade away with it; events keep their rows with animal_id nulled.
func (db *DB) DeleteAnimal(id int64) error {
	result, err := db.Exec(`DELETE FROM animals WHERE animal_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete animal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("animal %d: %w", id, ErrNotFound)
	}
	return nil
}
