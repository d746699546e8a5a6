// ABOUTME: Database operations for cdr_records table
// ABOUTME: Idempotent per-row inserts with duplicate skipping on call_id
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/harperreed/cdrsync/models"
)

const insertRecordQuery = `
	INSERT INTO cdr_records (
		call_id, start_time, direction, call_type, call_outcome,
		calling_number, called_number, user_email, location_name,
		correlation_id, org_id, client_type, duration, answered, raw_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertRecords inserts a batch of CDR records inside one transaction.
// Each record is inserted individually so a duplicate call_id (UNIQUE
// violation) is counted and skipped without sacrificing the rest of the
// batch. Returns (inserted, skipped).
func InsertRecords(db *sql.DB, records []models.CDRRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(insertRecordQuery)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	skipped := 0

	for _, rec := range records {
		_, err := stmt.Exec(
			rec.CallID,
			rec.StartTime.UTC(),
			nullString(rec.Direction),
			nullString(rec.CallType),
			nullString(rec.CallOutcome),
			nullString(rec.CallingNumber),
			nullString(rec.CalledNumber),
			nullString(rec.UserEmail),
			nullString(rec.LocationName),
			nullString(rec.CorrelationID),
			nullString(rec.OrgID),
			nullString(rec.ClientType),
			nullInt(rec.Duration),
			nullBool(rec.Answered),
			string(rec.Raw),
		)
		if err != nil {
			if isConstraintViolation(err) {
				skipped++
				continue
			}
			log.Printf("WARNING: failed to insert record %s: %v", rec.CallID, err)
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit records: %w", err)
	}

	return inserted, skipped, nil
}

// CountRecords returns the total number of stored CDR records.
func CountRecords(db *sql.DB) (int64, error) {
	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM cdr_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
