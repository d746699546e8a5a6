// ABOUTME: Sync window resolution for incremental and backfill runs
// ABOUTME: Applies API retention (48h) and freshness lag (5min) constraints
package sync

import (
	"time"
)

// API availability constraints for the CDR feed.
const (
	// RetentionWindow is how far back the API still serves data.
	RetentionWindow = 48 * time.Hour
	// FreshnessLag is the minimum age a record must reach before the API
	// guarantees it is queryable.
	FreshnessLag = 5 * time.Minute
	// MaxQuerySpan is the maximum time span of a single API query.
	MaxQuerySpan = 12 * time.Hour
)

// ResolveWindow computes the next sync window.
//
// First run (lastSyncEnd nil): everything the API still has, from
// now-48h to now-5m. Incremental: resume at lastSyncEnd; when the gap
// exceeds the retention window the start is clamped to now-48h and the
// second return value reports permanent data loss.
//
// An empty TimeRange means nothing to do; callers must treat that as
// success, not an error.
func ResolveWindow(now time.Time, lastSyncEnd *time.Time) (TimeRange, bool) {
	now = now.UTC()
	earliestAvailable := now.Add(-RetentionWindow)
	latestAvailable := now.Add(-FreshnessLag)

	start := earliestAvailable
	dataLoss := false

	if lastSyncEnd != nil {
		start = lastSyncEnd.UTC()
		if start.Before(earliestAvailable) {
			start = earliestAvailable
			dataLoss = true
		}
	}

	r := TimeRange{Start: start, End: latestAvailable}
	if r.IsEmpty() {
		return TimeRange{}, dataLoss
	}
	return r, dataLoss
}

// BackfillWindow computes an explicit historical window: from
// now-hoursBack up to the existing checkpoint (to recover a gap), or up
// to now-5m when no sync has ever run. hoursBack is clamped to the
// retention window. An empty TimeRange means nothing to backfill.
func BackfillWindow(now time.Time, hoursBack int, lastSyncEnd *time.Time) TimeRange {
	now = now.UTC()

	maxHours := int(RetentionWindow / time.Hour)
	if hoursBack > maxHours {
		hoursBack = maxHours
	}
	if hoursBack < 1 {
		hoursBack = 1
	}

	start := now.Add(-time.Duration(hoursBack) * time.Hour)

	var end time.Time
	if lastSyncEnd != nil {
		end = lastSyncEnd.UTC()
	} else {
		end = now.Add(-FreshnessLag)
	}

	r := TimeRange{Start: start, End: end}
	if r.IsEmpty() {
		return TimeRange{}
	}
	return r
}
