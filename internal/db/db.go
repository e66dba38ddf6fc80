// Package db is the auxiliary observing database: the observing log used to
// backfill exposures the reduction never produced, and the sky brightness and
// guide-camera conditions joined into the exposure table. The schema is
// managed by golang-migrate from embedded migrations.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/tsnr.report/internal/monitoring"
)

type DB struct {
	*sql.DB
}

// pragmas applied to every connection of the auxiliary database.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// OpenDB opens the database at path and applies the connection pragmas. It
// does not touch the schema; migrations manage that.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return &DB{db}, nil
}

// NewDB opens the database at path and applies every pending migration.
func NewDB(path string) (*DB, error) {
	database, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrations, err := MigrationsFS()
	if err != nil {
		database.Close()
		return nil, err
	}
	if err := database.MigrateUp(migrations); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

const (
	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

// retryOnBusy runs fn, retrying with linear backoff while SQLite reports the
// database as locked by another connection.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		monitoring.Debugf("database busy, retrying (attempt %d/%d)", attempt+1, busyRetries)
		time.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return fmt.Errorf("database still busy after %d retries: %w", busyRetries, err)
}

func isBusy(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
