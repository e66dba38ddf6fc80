package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// queryChunk bounds the number of ids bound into one IN clause.
const queryChunk = 500

// conditionsTable maps a per-exposure conditions table to the exposure
// table columns it provides. SQL column names are the lower-cased column
// names.
type conditionsTable struct {
	name    string
	columns []string
}

var (
	skyTable = conditionsTable{name: "sky_brightness", columns: summary.SkyColumns}
	gfaTable = conditionsTable{name: "gfa_conditions", columns: summary.GuideColumns}
)

func (c conditionsTable) sqlColumns() []string {
	out := make([]string, len(c.columns))
	for i, name := range c.columns {
		out[i] = strings.ToLower(name)
	}
	return out
}

// RecordExposure inserts or replaces one observing log entry.
func (db *DB) RecordExposure(ctx context.Context, l exposure.Logged) error {
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO exposures (expid, night, tileid, exptime, obstype)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(expid) DO UPDATE SET
				night = excluded.night,
				tileid = excluded.tileid,
				exptime = excluded.exptime,
				obstype = excluded.obstype`,
			l.ExpID, l.Night, l.TileID, l.ExpTime, normaliseObsType(l.ObsType))
		return err
	})
}

func normaliseObsType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return summary.Unknown
	}
	return strings.ToUpper(s)
}

// ObservingLog returns the logged exposures of the given nights ordered by
// exposure id. An empty nights list returns the whole log.
func (db *DB) ObservingLog(ctx context.Context, nights []int) ([]exposure.Logged, error) {
	const q = `SELECT expid, night, tileid, exptime, obstype FROM exposures`
	var out []exposure.Logged
	scan := func(rows *sql.Rows) error {
		for rows.Next() {
			var l exposure.Logged
			if err := rows.Scan(&l.ExpID, &l.Night, &l.TileID, &l.ExpTime, &l.ObsType); err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	}

	if err := queryByIDs(ctx, db.DB, q, "night", nights, scan); err != nil {
		return nil, fmt.Errorf("read observing log: %w", err)
	}
	sortLogged(out)
	return out, nil
}

func sortLogged(ls []exposure.Logged) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].ExpID < ls[j].ExpID })
}

// RecordSkyBrightness stores the spectroscopic sky magnitudes of one
// exposure. Keys are exposure table column names; absent keys are NULL.
func (db *DB) RecordSkyBrightness(ctx context.Context, expid int, values map[string]float64) error {
	return db.recordConditions(ctx, skyTable, expid, values)
}

// RecordGuideConditions stores the guide-camera conditions of one exposure.
func (db *DB) RecordGuideConditions(ctx context.Context, expid int, values map[string]float64) error {
	return db.recordConditions(ctx, gfaTable, expid, values)
}

func (db *DB) recordConditions(ctx context.Context, ct conditionsTable, expid int, values map[string]float64) error {
	cols := ct.sqlColumns()
	args := make([]any, 0, len(cols)+1)
	args = append(args, expid)
	sets := make([]string, len(cols))
	for i, name := range ct.columns {
		if v, ok := values[name]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
		sets[i] = fmt.Sprintf("%s = excluded.%s", cols[i], cols[i])
	}
	q := fmt.Sprintf("INSERT INTO %s (expid, %s) VALUES (?%s) ON CONFLICT(expid) DO UPDATE SET %s",
		ct.name, strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)), strings.Join(sets, ", "))
	return retryOnBusy(func() error {
		_, err := db.ExecContext(ctx, q, args...)
		return err
	})
}

// SkyBrightness returns an EXPID-keyed table of SKY_MAG_*_SPEC values for
// expids. Cells stored as NULL are left out of their row.
func (db *DB) SkyBrightness(ctx context.Context, expids []int) (*table.Table, error) {
	return db.conditions(ctx, skyTable, expids)
}

// GuideConditions returns an EXPID-keyed table of guide-camera columns.
func (db *DB) GuideConditions(ctx context.Context, expids []int) (*table.Table, error) {
	return db.conditions(ctx, gfaTable, expids)
}

func (db *DB) conditions(ctx context.Context, ct conditionsTable, expids []int) (*table.Table, error) {
	schema := table.Schema{table.IntColumn(summary.ColExpID)}
	for _, c := range ct.columns {
		schema = append(schema, table.FloatColumn(c))
	}
	out := table.New(schema)

	q := fmt.Sprintf("SELECT expid, %s FROM %s", strings.Join(ct.sqlColumns(), ", "), ct.name)
	scan := func(rows *sql.Rows) error {
		vals := make([]sql.NullFloat64, len(ct.columns))
		dest := make([]any, len(ct.columns)+1)
		for rows.Next() {
			var expid int64
			dest[0] = &expid
			for i := range vals {
				dest[i+1] = &vals[i]
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			r := table.Record{summary.ColExpID: table.Int(expid)}
			for i, c := range ct.columns {
				if vals[i].Valid {
					r[c] = table.Float(vals[i].Float64)
				}
			}
			out.Rows = append(out.Rows, r)
		}
		return rows.Err()
	}
	if err := queryByIDs(ctx, db.DB, q, "expid", expids, scan); err != nil {
		return nil, fmt.Errorf("read %s: %w", ct.name, err)
	}
	out.SortBy(summary.ColExpID)
	return out, nil
}

// queryByIDs runs base filtered by column IN ids, in chunks, passing each
// result set to scan. An empty ids list runs base unfiltered.
func queryByIDs(ctx context.Context, db *sql.DB, base, column string, ids []int, scan func(*sql.Rows) error) error {
	run := func(q string, args ...any) error {
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		return scan(rows)
	}
	if len(ids) == 0 {
		return run(base)
	}
	for start := 0; start < len(ids); start += queryChunk {
		end := min(start+queryChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := fmt.Sprintf("%s WHERE %s IN (?%s)", base, column, strings.Repeat(", ?", len(chunk)-1))
		if err := run(q, args...); err != nil {
			return err
		}
	}
	return nil
}
