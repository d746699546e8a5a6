// ABOUTME: Entry point for the CDR sync CLI
// ABOUTME: Routes to auth, sync, backfill, and stats commands
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"

	"github.com/harperreed/cdrsync/cli"
	"github.com/harperreed/cdrsync/db"
	"github.com/harperreed/cdrsync/sync"
)

const version = "0.2.0"

func main() {
	// Optional .env for WEBEX_CLIENT_ID / WEBEX_CLIENT_SECRET
	_ = godotenv.Load()

	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/cdrsync/cdr.db)")
	initOnly := flag.Bool("init", false, "Initialize database and exit")

	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("cdrsync version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()

	if len(args) == 0 && !*initOnly {
		printUsage()
		os.Exit(0)
	}

	store := sync.NewFileSecretStore()

	// auth commands don't need the database
	if len(args) > 0 && args[0] == "auth" {
		if len(args) < 2 {
			fmt.Println("Error: auth requires a subcommand (init, status, clear)")
			printUsage()
			os.Exit(1)
		}

		var err error
		switch args[1] {
		case "init":
			err = cli.AuthInitCommand(store, args[2:])
		case "status":
			err = cli.AuthStatusCommand(store, args[2:])
		case "clear":
			err = cli.AuthClearCommand(store, args[2:])
		default:
			fmt.Printf("Unknown auth command: %s\n\n", args[1])
			printUsage()
			os.Exit(1)
		}
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	}

	// Everything else works against the database
	finalDBPath := getDatabasePath(*dbPath)
	database, err := db.OpenDatabase(finalDBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if *initOnly {
		log.Printf("Database initialized at %s", finalDBPath)
		return
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "sync":
		if err := cli.SyncCommand(database, store, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "backfill":
		if err := cli.BackfillCommand(database, store, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "stats":
		if err := cli.StatsCommand(database, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func getDatabasePath(dbPath string) string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(xdg.DataHome, "cdrsync", "cdr.db")
}

func printUsage() {
	fmt.Printf(`cdrsync v%s - Webex CDR downloader

USAGE:
  cdrsync [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/cdrsync/cdr.db)
  --init                 Initialize database and exit

COMMANDS:
  auth init              Authenticate with Webex (OAuth flow)
  auth status            Check stored credentials and refresh token
  auth clear             Delete stored credentials

  cdrsync sync           Fetch new CDR records since the last sync
    --locations <list>     Filter by location names, comma-separated (max 10)
    --dry-run              Fetch and log but do not persist

  cdrsync backfill       Fetch historical records into a gap
    --hours-back <n>       How many hours back to fetch (max 48, default 48)
    --locations <list>     Filter by location names, comma-separated (max 10)
    --dry-run              Fetch and log but do not persist

  cdrsync stats          Show sync statistics and exit

EXIT CODES:
  0 - Success (or nothing to do)
  1 - Error (check stderr and the cdr_sync_errors table)

EXAMPLES:
  # First-time setup
  cdrsync --init
  cdrsync auth init

  # Run a sync (designed for cron / Task Scheduler)
  cdrsync sync

  # Filter by location
  cdrsync sync --locations "MainOffice,Branch1"

  # Recover a 24-hour gap without writing anything
  cdrsync backfill --hours-back 24 --dry-run

`, version)
}
