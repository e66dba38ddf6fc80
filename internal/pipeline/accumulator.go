package pipeline

import (
	"fmt"

	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// accumulator carries the camera table through the per-night loop. Each night
// returns a new accumulator; nothing outside the loop holds a reference.
type accumulator struct {
	cameras *table.Table
	// nights that contributed at least one record.
	nights int
}

func newAccumulator(prev *table.Table) accumulator {
	if prev == nil {
		prev = table.New(summary.CameraSchema)
	}
	return accumulator{cameras: prev}
}

// add builds the night's records into a camera table and upserts it on
// (EXPID, CAMERA), so a rerun of a night replaces that night's rows.
func (a accumulator) add(records []table.Record) (accumulator, error) {
	batch, err := table.Build(summary.CameraSchema, records)
	if err != nil {
		return a, fmt.Errorf("build camera table: %w", err)
	}
	if err := batch.CheckUnique(summary.CameraKey...); err != nil {
		return a, fmt.Errorf("build camera table: %w", err)
	}
	merged, err := table.Upsert(a.cameras, batch, summary.CameraKey...)
	if err != nil {
		return a, fmt.Errorf("merge camera table: %w", err)
	}
	merged.SortBy(summary.CameraKey...)
	return accumulator{cameras: merged, nights: a.nights + 1}, nil
}

// exposures aggregates the accumulated camera rows.
func (a accumulator) exposures() (*table.Table, error) {
	exp, err := summary.AggregateExposures(a.cameras)
	if err != nil {
		return nil, fmt.Errorf("aggregate exposures: %w", err)
	}
	return exp, nil
}
