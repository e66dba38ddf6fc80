package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/banshee-data/tsnr.report/internal/monitoring"
)

// RunMigrateCommand handles the 'migrate' subcommand against the auxiliary
// database at dbPath, printing results to w.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	migrationsFS, err := MigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	// Open without migrating; the command decides what to apply.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		monitoring.Logf("Running migrations...")
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		return printVersion(w, database, migrationsFS)

	case "down":
		monitoring.Logf("Rolling back one migration...")
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		return printVersion(w, database, migrationsFS)

	case "status":
		return printStatus(w, database, migrationsFS)

	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: tsnr-summary migrate %s <version_number>", action)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "force" {
			monitoring.Warnf("forcing migration version to %d; use only to recover from a dirty state", v)
			err = database.MigrateForce(migrationsFS, v)
		} else {
			err = database.MigrateTo(migrationsFS, uint(v))
		}
		if err != nil {
			return err
		}
		return printVersion(w, database, migrationsFS)
	}

	PrintMigrateHelp(w)
	return fmt.Errorf("unknown migrate action: %s", action)
}

func printVersion(w io.Writer, database *DB, migrationsFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(w io.Writer, database *DB, migrationsFS fs.FS) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(w, "Latest available: %d\n", status.LatestVersion)
	fmt.Fprintf(w, "Dirty: %v\n", status.Dirty)
	fmt.Fprintf(w, "Schema migrations table exists: %v\n", status.TableExists)
	switch {
	case status.Dirty:
		fmt.Fprintln(w, "WARNING: database is in a dirty state. Inspect it, then run: tsnr-summary migrate force <version>")
	case status.CurrentVersion < status.LatestVersion:
		fmt.Fprintf(w, "Database is %d version(s) behind. Run 'tsnr-summary migrate up' to update.\n",
			status.LatestVersion-status.CurrentVersion)
	default:
		fmt.Fprintln(w, "Database is up to date.")
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprintln(w, "Auxiliary database migration commands")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tsnr-summary migrate <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  up              Apply all pending migrations")
	fmt.Fprintln(w, "  down            Rollback one migration")
	fmt.Fprintln(w, "  status          Show current migration status and version")
	fmt.Fprintln(w, "  version <N>     Migrate to specific version N")
	fmt.Fprintln(w, "  force <N>       Force migration version to N (recovery only)")
	fmt.Fprintln(w, "  help            Show this help message")
}
