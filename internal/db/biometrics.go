package db

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Biometric is an animal's stored feature vector. One row per animal;
// re-identification updates replace the embedding in place.
type Biometric struct {
	AnimalID     int64     `json:"animal_id"`
	Embedding    []float64 `json:"-"`
	ModelVersion string    `json:"model_version"`
	LastUpdated  time.Time `json:"last_updated"`
}

// encodeEmbedding packs a vector as a big-endian uint32 length prefix
// followed by the float64 bit patterns. The prefix lets decode reject
// truncated blobs instead of silently returning a short vector.
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, 4+8*len(vec))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(vec)))
	for i, v := range vec {
		binary.BigEndian.PutUint64(buf[4+8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) ([]float64, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("embedding blob too short: %d bytes", len(blob))
	}
	dim := int(binary.BigEndian.Uint32(blob[0:4]))
	if len(blob) != 4+8*dim {
		return nil, fmt.Errorf("embedding blob length mismatch: header says %d values, got %d bytes", dim, len(blob)-4)
	}
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.BigEndian.Uint64(blob[4+8*i:]))
	}
	return vec, nil
}

// UpsertBiometric inserts or replaces an animal's embedding.
func (db *DB) UpsertBiometric(animalID int64, vec []float64, modelVersion string) error {
	_, err := db.Exec(`
		INSERT INTO biometrics (animal_id, embedding, model_version, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(animal_id) DO UPDATE SET
			embedding = excluded.embedding,
			model_version = excluded.model_version,
			last_updated = excluded.last_updated`,
		animalID, encodeEmbedding(vec), modelVersion, nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert biometric: %w", err)
	}
	return nil
}

// GetBiometric returns one animal's stored embedding, or ErrNotFound.
func (db *DB) GetBiometric(animalID int64) (*Biometric, error) {
	var b Biometric
	var blob []byte
	var updated int64
	err := db.QueryRow(`
		SELECT animal_id, embedding, model_version, last_updated
		FROM biometrics WHERE animal_id = ?`,
		animalID,
	).Scan(&b.AnimalID, &blob, &b.ModelVersion, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("biometric for animal %d: %w", animalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get biometric: %w", err)
	}

	b.Embedding, err = decodeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("animal %d: %w", animalID, err)
	}
	b.LastUpdated = time.Unix(updated, 0)
	return &b, nil
}

// LoadBiometrics returns every stored embedding, keyed by animal ID.
// The re-identification engine calls this once at startup to build its
// in-memory gallery.
func (db *DB) LoadBiometrics() (map[int64]*Biometric, error) {
	rows, err := db.Query(`SELECT animal_id, embedding, model_version, last_updated FROM biometrics`)
	if err != nil {
		return nil, fmt.Errorf("failed to load biometrics: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*Biometric)
	for rows.Next() {
		var b Biometric
		var blob []byte
		var updated int64
		if err := rows.Scan(&b.AnimalID, &blob, &b.ModelVersion, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan biometric: %w", err)
		}
		b.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("animal %d: %w", b.AnimalID, err)
		}
		b.LastUpdated = time.Unix(updated, 0)
		out[b.AnimalID] = &b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// CommitBiometricUpdate atomically stores an updated embedding and
// touches the animal's last_seen. Used after each accepted match so a
// crash can't leave the gallery ahead of the herd register.
func (db *DB) CommitBiometricUpdate(animalID int64, vec []float64, modelVersion string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	_, err = tx.Exec(`
		INSERT INTO biometrics (animal_id, embedding, model_version, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(animal_id) DO UPDATE SET
			embedding = excluded.embedding,
			model_version = excluded.model_version,
			last_updated = excluded.last_updated`,
		animalID, encodeEmbedding(vec), modelVersion, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert biometric: %w", err)
	}

	_, err = tx.Exec(`UPDATE animals SET last_seen = ?, updated_at = ? WHERE animal_id = ?`,
		now, now, animalID)
	if err != nil {
		return fmt.Errorf("failed to touch animal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit biometric update: %w", err)
	}
	return nil
}
