package db

import (
	"testing"
)

func TestAppendAudit(t *testing.T) {
	db := SetupTestDB(t)

	err := db.AppendAudit("video_processing", "video", "vid-123", AuditVideoProcessing, `{"workers": 2}`)
	if err != nil {
		t.Fatalf("AppendAudit failed: %v", err)
	}

	// MigrateUp records its own MIGRATION_APPLIED row, so a fresh
	// test database already holds one entry before the append.
	entries, err := db.ListAudit(0)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != AuditMigrationApplied {
		t.Errorf("oldest entry = %q, want %q", entries[1].Action, AuditMigrationApplied)
	}

	e := entries[0]
	if e.Action != AuditVideoProcessing {
		t.Errorf("action = %q, want %q", e.Action, AuditVideoProcessing)
	}
	if e.EntityType == nil || *e.EntityType != "video" {
		t.Errorf("entity_type = %v, want video", e.EntityType)
	}
	if e.EntityID == nil || *e.EntityID != "vid-123" {
		t.Errorf("entity_id = %v, want vid-123", e.EntityID)
	}
	if e.Details == nil || *e.Details != `{"workers": 2}` {
		t.Errorf("details = %v, want workers payload", e.Details)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestAppendAudit_OptionalFieldsNull(t *testing.T) {
	db := SetupTestDB(t)

	if err := db.AppendAudit("system", "", "", AuditEngineInitialized, ""); err != nil {
		t.Fatalf("AppendAudit failed: %v", err)
	}

	entries, err := db.ListAudit(1)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.EntityType != nil || e.EntityID != nil || e.Details != nil {
		t.Errorf("empty optional fields should be NULL, got %v/%v/%v",
			e.EntityType, e.EntityID, e.Details)
	}
}

func TestListAudit_NewestFirstWithLimit(t *testing.T) {
	db := SetupTestDB(t)

	actions := []string{AuditVideoUploaded, AuditVideoProcessing, AuditVideoCompleted}
	for _, action := range actions {
		if err := db.AppendAudit("video_processing", "video", "vid-1", action, ""); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	entries, err := db.ListAudit(2)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries with limit, got %d", len(entries))
	}
	if entries[0].Action != AuditVideoCompleted {
		t.Errorf("first entry = %q, want most recent %q", entries[0].Action, AuditVideoCompleted)
	}
	if entries[1].Action != AuditVideoProcessing {
		t.Errorf("second entry = %q, want %q", entries[1].Action, AuditVideoProcessing)
	}
}
