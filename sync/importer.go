// ABOUTME: Sync orchestrator composing resolver, fetcher, and store
// ABOUTME: Drives resolve → split → fetch → persist → checkpoint per run
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harperreed/cdrsync/db"
	"github.com/harperreed/cdrsync/models"
)

// Options controls a sync or backfill run.
type Options struct {
	// Locations filters records by location name (max 10; excess is
	// truncated by the fetcher).
	Locations []string
	// DryRun fetches and logs but never touches the database.
	DryRun bool
}

// RunSync performs one incremental sync run: resolve the window from the
// last checkpoint, fetch, persist, and advance the checkpoint. Returns
// nil for success-or-nothing-to-do.
func RunSync(ctx context.Context, database *sql.DB, fetcher *Fetcher, opts Options) error {
	cp, err := db.LastCheckpoint(database)
	if err != nil {
		recordRunError(database, models.ErrorCategoryDatabase, "failed to read last checkpoint", err)
		return err
	}

	var lastSyncEnd *time.Time
	if cp != nil {
		lastSyncEnd = &cp.SyncedThrough
	}

	window, dataLoss := ResolveWindow(time.Now().UTC(), lastSyncEnd)
	if dataLoss {
		fmt.Fprintf(errWriter, "WARNING: last sync was more than %v ago; records older than the retention window are permanently unavailable\n", RetentionWindow)
	}
	if cp == nil {
		fmt.Println("First run detected: fetching all available CDR records")
	}

	if window.IsEmpty() {
		fmt.Println("No new CDR data to fetch")
		return nil
	}

	return run(ctx, database, fetcher, window, opts)
}

// RunBackfill performs an explicit historical run from now-hoursBack up
// to the existing checkpoint (or now-5m when none exists).
func RunBackfill(ctx context.Context, database *sql.DB, fetcher *Fetcher, hoursBack int, opts Options) error {
	cp, err := db.LastCheckpoint(database)
	if err != nil {
		recordRunError(database, models.ErrorCategoryDatabase, "failed to read last checkpoint", err)
		return err
	}

	var lastSyncEnd *time.Time
	if cp != nil {
		lastSyncEnd = &cp.SyncedThrough
		fmt.Printf("Last sync was at: %s\n", FormatTimestamp(cp.SyncedThrough))
	} else {
		fmt.Println("No previous sync found")
	}

	window := BackfillWindow(time.Now().UTC(), hoursBack, lastSyncEnd)
	if window.IsEmpty() {
		fmt.Println("Nothing to backfill - last sync is older than the available data window")
		return nil
	}

	fmt.Printf("Backfilling %s (%.1f hours)\n", window, window.Duration().Hours())

	return run(ctx, database, fetcher, window, opts)
}

// run executes the fetch/persist/checkpoint cycle for one resolved
// window. The checkpoint is written only after the batch commit succeeds
// (persist-then-checkpoint), and never advances past a failed window.
func run(ctx context.Context, database *sql.DB, fetcher *Fetcher, window TimeRange, opts Options) error {
	runID := newRunID()
	syncStart := time.Now()

	result, err := fetcher.FetchRange(ctx, window, opts.Locations)
	if err != nil {
		recordRunError(database, models.ErrorCategoryFetch, "fetch aborted", err)
		return err
	}

	fmt.Printf("\nFetched %d CDR records in %d API call(s)\n", len(result.Records), result.APICalls)
	if result.SkippedItems > 0 {
		fmt.Printf("  ✓ Skipped %d malformed item(s)\n", result.SkippedItems)
	}

	if opts.DryRun {
		fmt.Println("\nDRY RUN - not inserting records or advancing the checkpoint")
		printSample(result.Records)
		if result.Failed() {
			return fmt.Errorf("%d of %d window(s) failed", len(result.WindowErrors), len(result.Windows))
		}
		return nil
	}

	inserted := 0
	skipped := 0
	if len(result.Records) > 0 {
		fmt.Println("Inserting records into database...")
		inserted, skipped, err = db.InsertRecords(database, result.Records)
		if err != nil {
			recordRunError(database, models.ErrorCategoryDatabase, "failed to insert records", err)
			return err
		}
	}

	// Advance only through contiguous successful windows. Records from
	// windows past a failure are persisted (dedup makes the re-fetch
	// safe), but they don't count for checkpoint purposes.
	syncedThrough, ok := checkpointHorizon(window, result)
	duration := int(time.Since(syncStart).Seconds())

	if ok {
		notes := fmt.Sprintf("Inserted %d new records", inserted)
		if skipped > 0 {
			notes += fmt.Sprintf(" (skipped %d duplicates)", skipped)
		}
		if result.Failed() {
			notes += fmt.Sprintf("; %d window(s) failed, resuming at %s", len(result.WindowErrors), FormatTimestamp(syncedThrough))
		}
		if err := db.RecordCheckpoint(database, runID, syncedThrough, len(result.Records), duration, result.APICalls, notes); err != nil {
			recordRunError(database, models.ErrorCategoryDatabase, "failed to record checkpoint", err)
			return err
		}
	}

	if result.Failed() {
		for _, we := range result.WindowErrors {
			recordRunError(database, models.ErrorCategoryFetch, we.Error(), we.Err)
		}
		return fmt.Errorf("%d of %d window(s) failed; next run resumes from the last good window", len(result.WindowErrors), len(result.Windows))
	}

	fmt.Println("\n==================================================")
	fmt.Println("Sync Completed Successfully")
	fmt.Println("==================================================")
	fmt.Printf("Time Window:      %s\n", window)
	fmt.Printf("Records Fetched:  %d\n", len(result.Records))
	fmt.Printf("Records Inserted: %d\n", inserted)
	fmt.Printf("API Calls:        %d\n", result.APICalls)
	fmt.Printf("Duration:         %d seconds\n", duration)
	fmt.Println("==================================================")

	return nil
}

// checkpointHorizon returns how far the checkpoint may advance: the full
// window end when everything succeeded, otherwise the start of the first
// failed window. Returns false when no progress at all was made.
func checkpointHorizon(window TimeRange, result *FetchResult) (time.Time, bool) {
	if !result.Failed() {
		return window.End, true
	}

	horizon := window.End
	for _, we := range result.WindowErrors {
		if we.Window.Start.Before(horizon) {
			horizon = we.Window.Start
		}
	}

	if !horizon.After(window.Start) {
		return time.Time{}, false
	}
	return horizon, true
}

func printSample(records []models.CDRRecord) {
	if len(records) == 0 {
		return
	}
	n := len(records)
	if n > 3 {
		n = 3
	}
	fmt.Printf("\nSample of first %d record(s):\n", n)
	for i, rec := range records[:n] {
		fmt.Printf("  Record %d: %s at %s", i+1, rec.CallID, FormatTimestamp(rec.StartTime))
		if rec.Duration != nil {
			fmt.Printf(" (%ds)", *rec.Duration)
		}
		fmt.Println()
	}
}

// recordRunError logs a durable error row best-effort; a failure to log
// must never mask the original error.
func recordRunError(database *sql.DB, category, message string, cause error) {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	if err := db.RecordError(database, category, message, detail); err != nil {
		fmt.Fprintf(errWriter, "WARNING: failed to record sync error: %v\n", err)
	}
}

func newRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
