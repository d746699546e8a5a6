// ABOUTME: Tests for checkpoint, error log, and statistics operations
// ABOUTME: Covers append-only semantics and latest-row resume reads
package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/cdrsync/models"
)

func TestLastCheckpointFirstRun(t *testing.T) {
	db := openTestDB(t)

	cp, err := LastCheckpoint(db)
	require.NoError(t, err)
	assert.Nil(t, cp, "no checkpoint means first run")
}

func TestRecordAndReadCheckpoint(t *testing.T) {
	db := openTestDB(t)

	t0 := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	require.NoError(t, RecordCheckpoint(db, "run-1", t0, 100, 12, 4, "first"))

	cp, err := LastCheckpoint(db)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "run-1", cp.RunID)
	assert.True(t, cp.SyncedThrough.Equal(t0), "synced-through round-trips")
	assert.Equal(t, 100, cp.RecordsFetched)
	assert.Equal(t, 12, cp.DurationSeconds)
	assert.Equal(t, 4, cp.APICalls)
	assert.Equal(t, "first", cp.Notes)
}

func TestCheckpointsAppendOnly(t *testing.T) {
	db := openTestDB(t)

	t0 := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	t1 := t0.Add(3 * time.Hour)

	require.NoError(t, RecordCheckpoint(db, "run-1", t0, 10, 5, 1, ""))
	require.NoError(t, RecordCheckpoint(db, "run-2", t1, 20, 6, 2, ""))

	// The most recent row is the authoritative resume point
	cp, err := LastCheckpoint(db)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "run-2", cp.RunID)
	assert.True(t, cp.SyncedThrough.Equal(t1))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM cdr_sync_state").Scan(&count))
	assert.Equal(t, 2, count, "earlier checkpoints are never edited, only superseded")
}

func TestRecordError(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, RecordError(db, models.ErrorCategoryFetch, "window failed", "server error 500"))
	require.NoError(t, RecordError(db, models.ErrorCategoryDatabase, "insert failed", ""))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM cdr_sync_errors").Scan(&count))
	assert.Equal(t, 2, count)

	var category, message string
	require.NoError(t, db.QueryRow(
		"SELECT category, message FROM cdr_sync_errors WHERE category = ?", models.ErrorCategoryFetch,
	).Scan(&category, &message))
	assert.Equal(t, "window failed", message)
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	// Empty database
	stats, err := GetStats(db)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)
	assert.Nil(t, stats.LastSyncTime)
	assert.Zero(t, stats.TotalSyncs)
	assert.Zero(t, stats.TotalErrors)

	// After some activity
	_, _, err = InsertRecords(db, []models.CDRRecord{testRecord("c1"), testRecord("c2")})
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	require.NoError(t, RecordCheckpoint(db, "run-1", t0, 2, 7, 3, ""))
	require.NoError(t, RecordError(db, models.ErrorCategorySync, "boom", ""))

	stats, err = GetStats(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
	require.NotNil(t, stats.LastSyncTime)
	assert.Equal(t, 7, stats.LastDuration)
	assert.Equal(t, 2, stats.LastRecordsFetched)
	assert.Equal(t, 3, stats.LastAPICalls)
	assert.Equal(t, int64(1), stats.TotalSyncs)
	assert.Equal(t, int64(1), stats.TotalErrors)
}
