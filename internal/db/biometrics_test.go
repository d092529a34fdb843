package db

import (
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float64{0.25, -1.5, 0, math.Pi, 1e-9}

	decoded, err := decodeEmbedding(encodeEmbedding(vec))
	if err != nil {
		t.Fatalf("decodeEmbedding failed: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeEmbedding_CorruptBlobs(t *testing.T) {
	if _, err := decodeEmbedding([]byte{1, 2}); err == nil {
		t.Error("expected error for blob shorter than the header")
	}

	// Header claims 3 values, body holds 2.
	blob := encodeEmbedding([]float64{1, 2, 3})
	if _, err := decodeEmbedding(blob[:len(blob)-8]); err == nil {
		t.Error("expected error for truncated body")
	}

	// Empty vector is a valid edge: header 0, no body.
	decoded, err := decodeEmbedding(encodeEmbedding(nil))
	if err != nil {
		t.Fatalf("decodeEmbedding(empty) failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded empty vector has %d values", len(decoded))
	}
}

func TestUpsertAndGetBiometric(t *testing.T) {
	db := SetupTestDB(t)

	animal := createTestAnimal(t, db, "GT-0001")
	vec := []float64{0.1, 0.2, 0.3, 0.4}

	if err := db.UpsertBiometric(animal.ID, vec, "hsv-hu-lbp-v1"); err != nil {
		t.Fatalf("UpsertBiometric failed: %v", err)
	}

	got, err := db.GetBiometric(animal.ID)
	if err != nil {
		t.Fatalf("GetBiometric failed: %v", err)
	}
	if got.ModelVersion != "hsv-hu-lbp-v1" {
		t.Errorf("model_version = %q, want hsv-hu-lbp-v1", got.ModelVersion)
	}
	if len(got.Embedding) != 4 || got.Embedding[2] != 0.3 {
		t.Errorf("embedding = %v, want %v", got.Embedding, vec)
	}

	// Second upsert replaces in place.
	updated := []float64{0.9, 0.8, 0.7, 0.6}
	if err := db.UpsertBiometric(animal.ID, updated, "hsv-hu-lbp-v2"); err != nil {
		t.Fatalf("second UpsertBiometric failed: %v", err)
	}

	got, err = db.GetBiometric(animal.ID)
	if err != nil {
		t.Fatalf("GetBiometric failed: %v", err)
	}
	if got.ModelVersion != "hsv-hu-lbp-v2" {
		t.Errorf("model_version = %q after upsert, want hsv-hu-lbp-v2", got.ModelVersion)
	}
	if got.Embedding[0] != 0.9 {
		t.Errorf("embedding[0] = %v after upsert, want 0.9", got.Embedding[0])
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM biometrics`).Scan(&count); err != nil {
		t.Fatalf("failed to count biometrics: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 biometric row after upsert, got %d", count)
	}
}

func TestGetBiometric_NotFound(t *testing.T) {
	db := SetupTestDB(t)

	_, err := db.GetBiometric(9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadBiometrics(t *testing.T) {
	db := SetupTestDB(t)

	a1 := createTestAnimal(t, db, "GT-0001")
	a2 := createTestAnimal(t, db, "GT-0002")

	if err := db.UpsertBiometric(a1.ID, []float64{1, 0}, "v1"); err != nil {
		t.Fatalf("UpsertBiometric failed: %v", err)
	}
	if err := db.UpsertBiometric(a2.ID, []float64{0, 1}, "v1"); err != nil {
		t.Fatalf("UpsertBiometric failed: %v", err)
	}

	gallery, err := db.LoadBiometrics()
	if err != nil {
		t.Fatalf("LoadBiometrics failed: %v", err)
	}
	if len(gallery) != 2 {
		t.Fatalf("expected 2 gallery entries, got %d", len(gallery))
	}
	if gallery[a1.ID].Embedding[0] != 1 {
		t.Errorf("animal %d embedding = %v", a1.ID, gallery[a1.ID].Embedding)
	}
	if gallery[a2.ID].Embedding[1] != 1 {
		t.Errorf("animal %d embedding = %v", a2.ID, gallery[a2.ID].Embedding)
	}
}

func TestCommitBiometricUpdate_TouchesLastSeen(t *testing.T) {
	db := SetupTestDB(t)

	animal := createTestAnimal(t, db, "GT-0001")

	orig := nowUnix
	t.Cleanup(func() { nowUnix = orig })
	nowUnix = func() int64 { return orig() + 7200 }

	if err := db.CommitBiometricUpdate(animal.ID, []float64{0.5, 0.5}, "v1"); err != nil {
		t.Fatalf("CommitBiometricUpdate failed: %v", err)
	}

	got, err := db.GetAnimal(animal.ID)
	if err != nil {
		t.Fatalf("GetAnimal failed: %v", err)
	}
	if !got.LastSeen.After(animal.LastSeen) {
		t.Errorf("last_seen = %v, should advance with the biometric commit", got.LastSeen)
	}

	bio, err := db.GetBiometric(animal.ID)
	if err != nil {
		t.Fatalf("GetBiometric failed: %v", err)
	}
	if len(bio.Embedding) != 2 || bio.Embedding[0] != 0.5 {
		t.Errorf("embedding = %v, want [0.5 0.5]", bio.Embedding)
	}
}
