// ABOUTME: Time window planning for bounded CDR API queries
// ABOUTME: Pure functions for splitting ranges and formatting API timestamps
package sync

import (
	"fmt"
	"time"
)

// TimeRange is a half-open [Start, End) window in UTC.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// IsEmpty reports whether the range contains no time at all (Start >= End).
func (r TimeRange) IsEmpty() bool {
	return !r.Start.Before(r.End)
}

// Duration returns End - Start, or zero for an empty range.
func (r TimeRange) Duration() time.Duration {
	if r.IsEmpty() {
		return 0
	}
	return r.End.Sub(r.Start)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s to %s", FormatTimestamp(r.Start), FormatTimestamp(r.End))
}

// SplitRange splits r into an ordered sequence of contiguous,
// non-overlapping windows, each no longer than maxSpan, whose union is
// exactly r. An empty or degenerate range yields nil.
func SplitRange(r TimeRange, maxSpan time.Duration) []TimeRange {
	if r.IsEmpty() || maxSpan <= 0 {
		return nil
	}

	var windows []TimeRange
	cursor := r.Start
	for cursor.Before(r.End) {
		end := cursor.Add(maxSpan)
		if end.After(r.End) {
			end = r.End
		}
		windows = append(windows, TimeRange{Start: cursor, End: end})
		cursor = end
	}

	return windows
}

// FormatTimestamp renders t in the API's exact timestamp contract:
// millisecond-precision ISO 8601 UTC, e.g. 2026-01-01T00:00:00.000Z.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
