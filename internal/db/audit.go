package db

import (
	"fmt"
	"time"
)

// Audit actions recorded by the pipeline and API handlers.
const (
	AuditVideoUploaded     = "VIDEO_UPLOADED"
	AuditVideoProcessing   = "VIDEO_PROCESSING_STARTED"
	AuditVideoCompleted    = "VIDEO_PROCESSING_COMPLETED"
	AuditVideoFailed       = "VIDEO_PROCESSING_FAILED"
	AuditAnimalRegistered  = "ANIMAL_REGISTERED"
	AuditAnimalStatus      = "ANIMAL_STATUS_CHANGED"
	AuditAnimalDeleted     = "ANIMAL_DELETED"
	AuditBiometricUpdated  = "BIOMETRIC_UPDATED"
	AuditSightingRecorded  = "SIGHTING_RECORDED"
	AuditMigrationApplied  = "MIGRATION_APPLIED"
	AuditEvidenceGenerated = "EVIDENCE_GENERATED"
	AuditEngineInitialized = "ENGINE_INITIALIZED"
)

// Audit event categories. event_type groups rows; the action column
// carries the specific Audit* constant.
const (
	AuditCategoryVideo     = "VIDEO_PROCESSING"
	AuditCategoryIdentity  = "IDENTITY"
	AuditCategoryEvidence  = "EVIDENCE"
	AuditCategorySystem    = "SYSTEM"
	AuditCategoryMigration = "MIGRATION"
)

// AuditEntry is one row of the append-only audit log. Entries survive
// deletion of the entities they describe, so entity IDs are stored as
// plain text rather than foreign keys.
type AuditEntry struct {
	ID         int64     `json:"log_id"`
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	EntityType *string   `json:"entity_type"`
	EntityID   *string   `json:"entity_id"`
	Action     string    `json:"action"`
	Details    *string   `json:"details"`
}

// AppendAudit writes one audit row. entityType, entityID and details
// may be empty, in which case they are stored as NULL.
func (db *DB) AppendAudit(eventType, entityType, entityID, action, details string) error {
	var et, eid, det *string
	if entityType != "" {
		et = &entityType
	}
	if entityID != "" {
		eid = &entityID
	}
	if details != "" {
		det = &details
	}

	_, err := db.Exec(`
		INSERT INTO audit_log (timestamp, event_type, entity_type, entity_id, action, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nowUnix(), eventType, et, eid, action, det,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
// limit <= 0 means no limit.
func (db *DB) ListAudit(limit int) ([]AuditEntry, error) {
	query := `
		SELECT log_id, timestamp, event_type, entity_type, entity_id, action, details
		FROM audit_log ORDER BY log_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		err := rows.Scan(&e.ID, &ts, &e.EventType, &e.EntityType, &e.EntityID, &e.Action, &e.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
