// ABOUTME: CDR sync and backfill CLI commands
// ABOUTME: Parses flags, wires auth manager and fetcher, runs the orchestrator
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"strings"

	"github.com/harperreed/cdrsync/sync"
)

// SyncCommand runs one incremental sync.
func SyncCommand(database *sql.DB, store sync.SecretStore, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	locations := fs.String("locations", "", "Filter by location names, comma-separated (max 10)")
	dryRun := fs.Bool("dry-run", false, "Fetch and log but do not persist")
	_ = fs.Parse(args)

	fetcher, err := newFetcher(store)
	if err != nil {
		return err
	}

	fmt.Println("=== Starting CDR Sync ===")

	return sync.RunSync(context.Background(), database, fetcher, sync.Options{
		Locations: splitLocations(*locations),
		DryRun:    *dryRun,
	})
}

// BackfillCommand runs an explicit historical backfill.
func BackfillCommand(database *sql.DB, store sync.SecretStore, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	hoursBack := fs.Int("hours-back", 48, "How many hours back to fetch (max 48)")
	locations := fs.String("locations", "", "Filter by location names, comma-separated (max 10)")
	dryRun := fs.Bool("dry-run", false, "Fetch and log but do not persist")
	_ = fs.Parse(args)

	if *hoursBack < 1 {
		return fmt.Errorf("--hours-back must be at least 1")
	}
	if *hoursBack > 48 {
		fmt.Println("WARNING: the CDR API only provides 48 hours of data. Setting to 48 hours.")
		*hoursBack = 48
	}

	fetcher, err := newFetcher(store)
	if err != nil {
		return err
	}

	fmt.Println("=== Starting CDR Backfill ===")

	return sync.RunBackfill(context.Background(), database, fetcher, *hoursBack, sync.Options{
		Locations: splitLocations(*locations),
		DryRun:    *dryRun,
	})
}

func newFetcher(store sync.SecretStore) (*sync.Fetcher, error) {
	manager, err := sync.NewAuthManager(store)
	if err != nil {
		return nil, err
	}
	return sync.NewFetcher(manager), nil
}

func splitLocations(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
