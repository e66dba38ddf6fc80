package db

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/tsnr.report/internal/exposure"
)

// ImportStats counts the rows written by ImportCSV.
type ImportStats struct {
	Rows      int
	Exposures int
	Sky       int
	Guide     int
}

// ImportCSV loads observing-log, sky brightness and guide-camera rows from a
// CSV with a header line. Header names are matched case-insensitively
// against NIGHT, EXPID, TILEID, EXPTIME, OBSTYPE and the exposure table's
// SKY_MAG_*_SPEC and *_GFA columns; other columns are ignored. EXPID is
// required. A row updates the observing log when it has a NIGHT, and a
// conditions table when it has any non-empty value for it.
func (db *DB) ImportCSV(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats ImportStats
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return stats, fmt.Errorf("read CSV header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	if _, ok := index["EXPID"]; !ok {
		return stats, fmt.Errorf("CSV header has no EXPID column")
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		row := csvRow{index: index, fields: rec}
		if err := db.importRow(ctx, row, &stats); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Rows++
	}
	return stats, nil
}

func (db *DB) importRow(ctx context.Context, row csvRow, stats *ImportStats) error {
	expid, ok, err := row.intField("EXPID")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("missing EXPID")
	}

	if night, ok, err := row.intField("NIGHT"); err != nil {
		return err
	} else if ok {
		if err := exposure.ValidateNight(night); err != nil {
			return err
		}
		l := exposure.Logged{Night: night, ExpID: expid, TileID: -1, ObsType: row.strField("OBSTYPE")}
		if tile, ok, err := row.intField("TILEID"); err != nil {
			return err
		} else if ok {
			l.TileID = tile
		}
		if t, ok, err := row.floatField("EXPTIME"); err != nil {
			return err
		} else if ok {
			l.ExpTime = t
		}
		if err := db.RecordExposure(ctx, l); err != nil {
			return err
		}
		stats.Exposures++
	}

	for _, ct := range []struct {
		tbl   conditionsTable
		count *int
	}{{skyTable, &stats.Sky}, {gfaTable, &stats.Guide}} {
		values, err := row.floatFields(ct.tbl.columns)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			continue
		}
		if err := db.recordConditions(ctx, ct.tbl, expid, values); err != nil {
			return err
		}
		*ct.count++
	}
	return nil
}

type csvRow struct {
	index  map[string]int
	fields []string
}

func (r csvRow) strField(name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r csvRow) intField(name string) (int, bool, error) {
	s := r.strField(name)
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid integer %q", name, s)
	}
	return n, true, nil
}

func (r csvRow) floatField(name string) (float64, bool, error) {
	s := r.strField(name)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid number %q", name, s)
	}
	return f, true, nil
}

func (r csvRow) floatFields(names []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, n := range names {
		f, ok, err := r.floatField(n)
		if err != nil {
			return nil, err
		}
		if ok {
			out[n] = f
		}
	}
	return out, nil
}
