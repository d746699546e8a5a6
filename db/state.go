// ABOUTME: Database operations for cdr_sync_state and cdr_sync_errors tables
// ABOUTME: Append-only checkpoint log, error log, and sync statistics
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/cdrsync/models"
)

// LastCheckpoint returns the most recent sync checkpoint, or nil if no
// sync has completed yet (first run).
func LastCheckpoint(db *sql.DB) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	var notes sql.NullString

	err := db.QueryRow(`
		SELECT id, run_id, run_at, synced_through, records_fetched,
		       duration_seconds, api_calls, notes
		FROM cdr_sync_state
		ORDER BY id DESC
		LIMIT 1
	`).Scan(
		&cp.ID,
		&cp.RunID,
		&cp.RunAt,
		&cp.SyncedThrough,
		&cp.RecordsFetched,
		&cp.DurationSeconds,
		&cp.APICalls,
		&notes,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last checkpoint: %w", err)
	}

	if notes.Valid {
		cp.Notes = notes.String
	}
	cp.RunAt = cp.RunAt.UTC()
	cp.SyncedThrough = cp.SyncedThrough.UTC()

	return &cp, nil
}

// RecordCheckpoint appends a checkpoint row marking a successful sync.
// Checkpoints are never edited, only appended; callers must write one
// only after the corresponding records have been committed.
func RecordCheckpoint(db *sql.DB, runID string, syncedThrough time.Time, recordsFetched, durationSeconds, apiCalls int, notes string) error {
	var notesVal sql.NullString
	if notes != "" {
		notesVal = sql.NullString{String: notes, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO cdr_sync_state (
			run_id, run_at, synced_through, records_fetched,
			duration_seconds, api_calls, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, time.Now().UTC(), syncedThrough.UTC(), recordsFetched, durationSeconds, apiCalls, notesVal)

	if err != nil {
		return fmt.Errorf("failed to record checkpoint: %w", err)
	}

	return nil
}

// RecordError appends a diagnostic row to cdr_sync_errors. Never read by
// sync logic.
func RecordError(db *sql.DB, category, message, detail string) error {
	var detailVal sql.NullString
	if detail != "" {
		detailVal = sql.NullString{String: detail, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO cdr_sync_errors (id, category, message, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), category, message, detailVal, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}

	return nil
}

// GetStats returns aggregate sync statistics for the stats command.
func GetStats(db *sql.DB) (*models.SyncStats, error) {
	stats := &models.SyncStats{}

	total, err := CountRecords(db)
	if err != nil {
		return nil, err
	}
	stats.TotalRecords = total

	cp, err := LastCheckpoint(db)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		t := cp.RunAt
		stats.LastSyncTime = &t
		stats.LastDuration = cp.DurationSeconds
		stats.LastRecordsFetched = cp.RecordsFetched
		stats.LastAPICalls = cp.APICalls
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM cdr_sync_state").Scan(&stats.TotalSyncs); err != nil {
		return nil, fmt.Errorf("failed to count syncs: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM cdr_sync_errors").Scan(&stats.TotalErrors); err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}

	return stats, nil
}
