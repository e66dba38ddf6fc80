// Package store persists the camera and exposure tables together in one
// SQLite state file. The file is always written fresh to a temporary sibling
// and renamed into place, so a reader sees either the previous state or the
// complete new one.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/tsnr.report/internal/fsutil"
	"github.com/banshee-data/tsnr.report/internal/table"
	"github.com/banshee-data/tsnr.report/internal/version"
)

// Table names inside the state file.
const (
	CamerasTable   = "CAMERAS"
	ExposuresTable = "EXPOSURES"
	MetadataTable  = "METADATA"
)

// PartialSuffix names the per-night checkpoint written beside the output.
const PartialSuffix = ".partial"

// ErrNoState is returned by Read when the state file does not exist.
var ErrNoState = errors.New("no persisted state")

// State is the persisted pair of summary tables.
type State struct {
	Cameras   *table.Table
	Exposures *table.Table
}

// Len reports the row counts of both tables.
func (s *State) Len() (cameras, exposures int) {
	if s == nil {
		return 0, 0
	}
	return s.Cameras.Len(), s.Exposures.Len()
}

// pragmas applied to every connection. The state file is written once and
// renamed, so it uses a rollback journal rather than WAL: a renamed WAL
// database would leave its -wal and -shm companions behind.
var pragmas = []string{
	"PRAGMA journal_mode=DELETE",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return db, nil
}

// PartialPath returns the checkpoint path for the state file at path.
func PartialPath(path string) string {
	return path + PartialSuffix
}

// Write replaces the state file at path with st.
func Write(ctx context.Context, path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp := fsutil.TempName(path)
	if err := writeFile(ctx, tmp, st); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func writeFile(ctx context.Context, path string, st State) (err error) {
	db, err := open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, nt := range []struct {
		name string
		t    *table.Table
	}{{CamerasTable, st.Cameras}, {ExposuresTable, st.Exposures}} {
		if nt.t == nil {
			return fmt.Errorf("state is missing the %s table", nt.name)
		}
		if err := writeTable(ctx, tx, nt.name, nt.t); err != nil {
			return fmt.Errorf("write %s: %w", nt.name, err)
		}
	}
	if err := writeMetadata(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func sqlType(k table.Kind) string {
	switch k {
	case table.KindInt:
		return "INTEGER"
	case table.KindFloat:
		return "REAL"
	}
	return "TEXT"
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func writeTable(ctx context.Context, tx *sql.Tx, name string, t *table.Table) error {
	defs := make([]string, len(t.Columns))
	cols := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = fmt.Sprintf("%s %s NOT NULL", quote(c.Name), sqlType(c.Kind))
		cols[i] = quote(c.Name)
		marks[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quote(name), strings.Join(defs, ",\n\t"))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(name), strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			// SQLite stores NaN as NULL; cells are never NULL.
			v, ok := r[c.Name]
			if !ok || !v.IsFinite() {
				v = c.Default
			}
			args[i] = sqlValue(v.Convert(c.Kind))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func sqlValue(v table.Value) any {
	switch v.Kind() {
	case table.KindInt:
		return v.Int()
	case table.KindFloat:
		return v.Float()
	}
	return v.Str()
}

func writeMetadata(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s (key TEXT PRIMARY KEY, value TEXT NOT NULL)", MetadataTable)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ('writer', ?), ('version', ?)", MetadataTable),
		version.Writer(), version.Version)
	return err
}

// Read loads the state file at path. It returns ErrNoState when the file
// does not exist.
func Read(ctx context.Context, path string) (*State, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoState, path)
		}
		return nil, err
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cams, err := readTable(ctx, db, CamerasTable)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", CamerasTable, path, err)
	}
	exps, err := readTable(ctx, db, ExposuresTable)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", ExposuresTable, path, err)
	}
	return &State{Cameras: cams, Exposures: exps}, nil
}

// Metadata returns the key/value pairs recorded by the writer.
func Metadata(ctx context.Context, path string) (map[string]string, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT key, value FROM %s", MetadataTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func kindOf(sqlType string) table.Kind {
	switch t := strings.ToUpper(sqlType); {
	case strings.Contains(t, "INT"):
		return table.KindInt
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return table.KindFloat
	}
	return table.KindString
}

func readTable(ctx context.Context, db *sql.DB, name string) (*table.Table, error) {
	info, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(name)))
	if err != nil {
		return nil, err
	}
	var schema table.Schema
	for info.Next() {
		var (
			cid     int
			col     string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := info.Scan(&cid, &col, &typ, &notnull, &dflt, &pk); err != nil {
			info.Close()
			return nil, err
		}
		k := kindOf(typ)
		schema = append(schema, table.Column{Name: col, Kind: k, Default: table.Zero(k)})
	}
	info.Close()
	if err := info.Err(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("table %s not found", name)
	}

	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = quote(c.Name)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(cols, ", "), quote(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := table.New(schema)
	cells := make([]any, len(schema))
	ptrs := make([]any, len(schema))
	for i := range cells {
		ptrs[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(table.Record, len(schema))
		for i, c := range schema {
			if cells[i] == nil {
				r[c.Name] = c.Default
				continue
			}
			v, err := table.Of(cells[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			r[c.Name] = v.Convert(c.Kind)
		}
		t.Rows = append(t.Rows, r)
	}
	return t, rows.Err()
}

// CleanupTemp removes the checkpoint and any temporary siblings left next to
// path by interrupted writes. It returns the paths it removed.
func CleanupTemp(path string) ([]string, error) {
	var matches []string
	for _, base := range []string{path, PartialPath(path)} {
		m, err := filepath.Glob(globEscape(base) + fsutil.TempSuffix + "*")
		if err != nil {
			return nil, err
		}
		matches = append(matches, m...)
	}
	matches = append(matches, PartialPath(path))
	var removed []string
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed = append(removed, m)
	}
	return removed, errors.Join(errs...)
}

func globEscape(path string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(path)
}
