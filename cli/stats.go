// ABOUTME: Sync statistics CLI command
// ABOUTME: Prints record totals and last-run details for monitoring
package cli

import (
	"database/sql"
	"fmt"

	"github.com/harperreed/cdrsync/db"
)

// StatsCommand prints sync statistics and exits.
func StatsCommand(database *sql.DB, args []string) error {
	stats, err := db.GetStats(database)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	lastSync := "Never"
	if stats.LastSyncTime != nil {
		lastSync = stats.LastSyncTime.Format("2006-01-02 15:04:05 UTC")
	}

	fmt.Println("==================================================")
	fmt.Println("CDR Sync Statistics")
	fmt.Println("==================================================")
	fmt.Printf("Total CDR Records:      %d\n", stats.TotalRecords)
	fmt.Printf("Last Sync:              %s\n", lastSync)
	fmt.Printf("Last Sync Duration:     %d seconds\n", stats.LastDuration)
	fmt.Printf("Last Records Fetched:   %d\n", stats.LastRecordsFetched)
	fmt.Printf("Last API Calls:         %d\n", stats.LastAPICalls)
	fmt.Printf("Total Sync Runs:        %d\n", stats.TotalSyncs)
	fmt.Printf("Total Errors:           %d\n", stats.TotalErrors)
	fmt.Println("==================================================")

	return nil
}
