// ABOUTME: End-to-end tests for the sync orchestrator
// ABOUTME: Drives real SQLite databases against httptest CDR servers
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/cdrsync/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func recordItem(callID string, start time.Time) map[string]any {
	return map[string]any{
		"Call ID":    callID,
		"Start time": FormatTimestamp(start),
		"Direction":  "ORIGINATING",
		"Duration":   float64(61),
	}
}

func writeItems(w http.ResponseWriter, items []map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

// A checkpoint 50h old clamps to the 48h retention window, splits into
// 4 windows, and a duplicate Call ID repeated across two windows dedups
// down to 119 inserts out of 120 fetched.
func TestRunSyncEndToEnd(t *testing.T) {
	database := openTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	staleCheckpoint := now.Add(-50 * time.Hour)
	require.NoError(t, db.RecordCheckpoint(database, "run-0", staleCheckpoint, 0, 0, 0, ""))

	var windowCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(windowCalls.Add(1))
		start, ok := parseQueryTime(r.URL.Query().Get("startTime"))
		if !ok {
			http.Error(w, "bad startTime", http.StatusBadRequest)
			return
		}

		items := make([]map[string]any, 0, 30)
		for i := 0; i < 30; i++ {
			items = append(items, recordItem(fmt.Sprintf("w%d-r%d", n, i), start.Add(time.Duration(i)*time.Minute)))
		}
		// Same Call ID shows up again in a later window
		if n == 3 {
			items[0]["Call ID"] = "w1-r0"
		}
		writeItems(w, items)
	}))
	defer server.Close()

	fetcher := newSilentFetcher(server.URL)
	err := RunSync(context.Background(), database, fetcher, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(4), windowCalls.Load(), "47h55m range splits into 4 windows")

	count, err := db.CountRecords(database)
	require.NoError(t, err)
	assert.Equal(t, int64(119), count, "120 fetched minus 1 duplicate")

	cp, err := db.LastCheckpoint(database)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 120, cp.RecordsFetched)
	assert.Equal(t, 4, cp.APICalls)
	assert.WithinDuration(t, now.Add(-5*time.Minute), cp.SyncedThrough, 10*time.Second,
		"checkpoint advances to the freshness horizon")
	assert.Contains(t, cp.Notes, "119 new records")
}

func TestRunSyncNoOpPerformsNoWork(t *testing.T) {
	database := openTestDB(t)

	// Checkpoint already at the freshness horizon
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.RecordCheckpoint(database, "run-0", now, 0, 0, 0, ""))

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeItems(w, nil)
	}))
	defer server.Close()

	fetcher := newSilentFetcher(server.URL)
	err := RunSync(context.Background(), database, fetcher, Options{})
	require.NoError(t, err, "nothing-to-do is success")

	assert.Equal(t, int32(0), calls.Load(), "no HTTP calls for an empty window")

	count, err := db.CountRecords(database)
	require.NoError(t, err)
	assert.Zero(t, count)

	var checkpoints int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM cdr_sync_state").Scan(&checkpoints))
	assert.Equal(t, 1, checkpoints, "no-op must not append a checkpoint")
}

func TestRunSyncDryRunPersistsNothing(t *testing.T) {
	database := openTestDB(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		start, _ := parseQueryTime(r.URL.Query().Get("startTime"))
		writeItems(w, []map[string]any{recordItem(fmt.Sprintf("c%d", calls.Load()), start)})
	}))
	defer server.Close()

	fetcher := newSilentFetcher(server.URL)
	err := RunSync(context.Background(), database, fetcher, Options{DryRun: true})
	require.NoError(t, err)

	assert.Positive(t, calls.Load(), "dry run still fetches")

	count, err := db.CountRecords(database)
	require.NoError(t, err)
	assert.Zero(t, count, "dry run must not insert")

	cp, err := db.LastCheckpoint(database)
	require.NoError(t, err)
	assert.Nil(t, cp, "dry run must not advance the checkpoint")
}

func TestRunSyncPartialFailureHoldsCheckpoint(t *testing.T) {
	database := openTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	seeded := now.Add(-24 * time.Hour)
	require.NoError(t, db.RecordCheckpoint(database, "run-0", seeded, 0, 0, 0, ""))

	// First window succeeds, every later call fails: the second window
	// exhausts its retries.
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		start, _ := parseQueryTime(r.URL.Query().Get("startTime"))
		writeItems(w, []map[string]any{recordItem("ok-1", start), recordItem("ok-2", start.Add(time.Minute))})
	}))
	defer server.Close()

	fetcher := newSilentFetcher(server.URL)
	err := RunSync(context.Background(), database, fetcher, Options{})
	require.Error(t, err, "a failed window makes the run fail")

	count, err := db.CountRecords(database)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "the good window's records are still persisted")

	cp, err := db.LastCheckpoint(database)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.WithinDuration(t, seeded.Add(12*time.Hour), cp.SyncedThrough, time.Second,
		"checkpoint stops at the failed window's start")

	var errorCount int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM cdr_sync_errors").Scan(&errorCount))
	assert.Positive(t, errorCount, "window failures are durably recorded")
}

func TestRunSyncAllWindowsFailedNoCheckpoint(t *testing.T) {
	database := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := newSilentFetcher(server.URL)
	err := RunSync(context.Background(), database, fetcher, Options{})
	require.Error(t, err)

	cp, err := db.LastCheckpoint(database)
	require.NoError(t, err)
	assert.Nil(t, cp, "no progress means no checkpoint at all")
}

func TestRunBackfillFillsGap(t *testing.T) {
	database := openTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	seeded := now.Add(-6 * time.Hour)
	require.NoError(t, db.RecordCheckpoint(database, "run-0", seeded, 0, 0, 0, ""))

	var firstStart atomic.Value
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			firstStart.Store(r.URL.Query().Get("startTime"))
		}
		start, _ := parseQueryTime(r.URL.Query().Get("startTime"))
		writeItems(w, []map[string]any{recordItem(fmt.Sprintf("bf-%d", n), start)})
	}))
	defer server.Close()

	fetcher := newSilentFetcher(server.URL)
	err := RunBackfill(context.Background(), database, fetcher, 24, Options{})
	require.NoError(t, err)

	// 18-hour gap (now-24h up to the checkpoint at now-6h) = 2 windows
	assert.Equal(t, int32(2), calls.Load())

	got, ok := parseQueryTime(firstStart.Load().(string))
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(-24*time.Hour), got, 10*time.Second)

	cp, err := db.LastCheckpoint(database)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.WithinDuration(t, seeded, cp.SyncedThrough, time.Second,
		"backfill ends at the pre-existing checkpoint")
}

func newSilentFetcher(url string) *Fetcher {
	f := NewFetcher(&fakeAuth{token: "fresh"})
	f.BaseURL = url
	f.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func parseQueryTime(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
