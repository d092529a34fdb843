package db

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// Helper functions for creating pointer values
func strPtr(s string) *string {
	return &s
}

func int64Ptr(i int64) *int64 {
	return &i
}

// SetupTestDB opens a migrated database in a per-test temp dir. The
// connection is closed via t.Cleanup; the temp dir removal takes the
// WAL sidecar files with it.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "herdsight_test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("failed to migrate test DB: %v", err)
	}

	return db
}

// createTestAnimal registers a minimal animal and returns it.
func createTestAnimal(t *testing.T, db *DB, earTag string) *Animal {
	t.Helper()

	animal := &Animal{
		EarTag: earTag,
		Breed:  strPtr("Boer"),
	}
	if err := db.CreateAnimal(animal); err != nil {
		t.Fatalf("CreateAnimal failed: %v", err)
	}
	return animal
}

// createTestVideo registers an uploaded video row and returns it.
func createTestVideo(t *testing.T, db *DB, filename string) *Video {
	t.Helper()

	video := &Video{
		ID:       uuid.NewString(),
		Filename: filename,
		FilePath: filepath.Join("data", "uploads", filename),
		FileSize: 1024,
	}
	if err := db.CreateVideo(video); err != nil {
		t.Fatalf("CreateVideo failed: %v", err)
	}
	return video
}
