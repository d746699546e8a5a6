// ABOUTME: Data models for CDR sync entities
// ABOUTME: Defines CDRRecord, SyncCheckpoint, SyncStats and parse helpers
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// CDRRecord is one call detail record from the Webex CDR feed.
//
// The API returns free-form JSON objects keyed by human-readable field
// names ("Call ID", "Start time", ...). Only CallID and StartTime are
// load-bearing for sync logic; a handful of descriptive fields are
// extracted into typed columns for querying, and Raw keeps the full
// payload verbatim so nothing is lost when the API grows new fields.
type CDRRecord struct {
	CallID        string          `json:"call_id"`
	StartTime     time.Time       `json:"start_time"`
	Direction     string          `json:"direction,omitempty"`
	CallType      string          `json:"call_type,omitempty"`
	CallOutcome   string          `json:"call_outcome,omitempty"`
	CallingNumber string          `json:"calling_number,omitempty"`
	CalledNumber  string          `json:"called_number,omitempty"`
	UserEmail     string          `json:"user_email,omitempty"`
	LocationName  string          `json:"location_name,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OrgID         string          `json:"org_id,omitempty"`
	ClientType    string          `json:"client_type,omitempty"`
	Duration      *int            `json:"duration,omitempty"` // seconds
	Answered      *bool           `json:"answered,omitempty"`
	Raw           json.RawMessage `json:"raw"`
}

// SyncCheckpoint is one append-only row in cdr_sync_state. The most
// recent row's SyncedThrough is the authoritative resume point.
type SyncCheckpoint struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	RunAt           time.Time `json:"run_at"`
	SyncedThrough   time.Time `json:"synced_through"`
	RecordsFetched  int       `json:"records_fetched"`
	DurationSeconds int       `json:"duration_seconds"`
	APICalls        int       `json:"api_calls"`
	Notes           string    `json:"notes,omitempty"`
}

// SyncStats aggregates sync history for the stats command.
type SyncStats struct {
	TotalRecords       int64      `json:"total_records"`
	LastSyncTime       *time.Time `json:"last_sync_time,omitempty"`
	LastDuration       int        `json:"last_duration"`
	LastRecordsFetched int        `json:"last_records_fetched"`
	LastAPICalls       int        `json:"last_api_calls"`
	TotalSyncs         int64      `json:"total_syncs"`
	TotalErrors        int64      `json:"total_errors"`
}

// Error categories for cdr_sync_errors rows.
const (
	ErrorCategoryAuth     = "auth"
	ErrorCategoryFetch    = "fetch"
	ErrorCategoryDatabase = "database"
	ErrorCategorySync     = "sync"
)

// ParseCDRItem converts one raw API item into a CDRRecord. Returns false
// when the item has no Call ID or no parseable start time, which makes
// it unusable for dedup and sync bookkeeping.
func ParseCDRItem(item map[string]any) (CDRRecord, bool) {
	callID := stringField(item, "Call ID")
	if callID == "" {
		return CDRRecord{}, false
	}

	startTime, ok := ParseAPITimestamp(stringField(item, "Start time"))
	if !ok {
		return CDRRecord{}, false
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return CDRRecord{}, false
	}

	return CDRRecord{
		CallID:        callID,
		StartTime:     startTime,
		Direction:     stringField(item, "Direction"),
		CallType:      stringField(item, "Call type"),
		CallOutcome:   stringField(item, "Call outcome"),
		CallingNumber: stringField(item, "Calling number"),
		CalledNumber:  stringField(item, "Called number"),
		UserEmail:     stringField(item, "User"),
		LocationName:  stringField(item, "Location name"),
		CorrelationID: stringField(item, "Correlation ID"),
		OrgID:         stringField(item, "Organization ID"),
		ClientType:    stringField(item, "Client type"),
		Duration:      intField(item, "Duration"),
		Answered:      boolField(item, "Answered"),
		Raw:           raw,
	}, true
}

// ParseAPITimestamp parses the API's ISO 8601 timestamps, with or
// without fractional seconds, into UTC.
func ParseAPITimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000Z", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func stringField(item map[string]any, key string) string {
	v, ok := item[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func intField(item map[string]any, key string) *int {
	v, ok := item[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case string:
		if n == "" {
			return nil
		}
		if i, err := strconv.Atoi(n); err == nil {
			return &i
		}
	}
	return nil
}

func boolField(item map[string]any, key string) *bool {
	v, ok := item[key]
	if !ok || v == nil {
		return nil
	}
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		if b == "" {
			return nil
		}
		val := strings.EqualFold(b, "true") || b == "1" || strings.EqualFold(b, "yes")
		return &val
	}
	return nil
}
