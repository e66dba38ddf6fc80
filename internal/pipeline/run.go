package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/fsutil"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
	"github.com/banshee-data/tsnr.report/internal/store"
	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/table"
	"github.com/banshee-data/tsnr.report/internal/timeutil"
)

// AuxProvider supplies the observing log and the per-exposure conditions
// joined into the exposure table. *db.DB implements it.
type AuxProvider interface {
	ObservingLog(ctx context.Context, nights []int) ([]exposure.Logged, error)
	SkyBrightness(ctx context.Context, expids []int) (*table.Table, error)
	GuideConditions(ctx context.Context, expids []int) (*table.Table, error)
}

// Runner holds everything a summary run needs.
type Runner struct {
	// FS is used to enumerate units. Defaults to the OS filesystem.
	FS        fsutil.FileSystem
	Layout    exposure.Layout
	Selection exposure.Selection
	Process   UnitFunc
	Workers   int

	// Output is the state file. With Update set the existing state is read
	// and merged; otherwise it is replaced.
	Output string
	Update bool

	// CSVOutput, when set, receives the exposure table as CSV with floats
	// rounded to CSVPrecision decimals.
	CSVOutput    string
	CSVPrecision int

	// Aux may be nil, in which case no backfill happens and the joined
	// columns are 0.
	Aux     AuxProvider
	EffTime summary.EffTimeConverter
	Clock   timeutil.Clock
}

// Result summarises a completed run.
type Result struct {
	Units      int
	Cameras    int
	Exposures  int
	Backfilled int
	Failed     []UnitError
}

func (r *Runner) fs() fsutil.FileSystem {
	if r.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return r.FS
}

func (r *Runner) clock() timeutil.Clock {
	if r.Clock == nil {
		return timeutil.RealClock{}
	}
	return r.Clock
}

// Run executes the pipeline. Unit failures are collected in the result and
// do not fail the run; schema disagreements and write errors do.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.Process == nil {
		return nil, errors.New("pipeline: no unit processor configured")
	}
	if r.Output == "" {
		return nil, errors.New("pipeline: no output path configured")
	}
	clock := r.clock()
	started := clock.Now()

	units, err := exposure.Enumerate(r.fs(), r.Layout, r.Selection)
	if err != nil {
		return nil, fmt.Errorf("enumerate units: %w", err)
	}
	nights := exposure.NightsOf(units)
	monitoring.Logf("Found %s units on %d nights under %s", humanize.Comma(int64(len(units))), len(nights), r.Layout.Root)

	prev, err := r.previousState(ctx)
	if err != nil {
		return nil, err
	}
	acc := newAccumulator(prev.Cameras)

	res := &Result{Units: len(units)}
	for _, night := range nights {
		nightStart := clock.Now()
		batch := unitsOfNight(units, night)
		records, failed := Dispatch(ctx, batch, r.Workers, r.Process)
		for _, f := range failed {
			monitoring.Warnf("unit %s failed: %v", f.Unit, f.Err)
		}
		res.Failed = append(res.Failed, failed...)
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("night %d: %w", night, err)
		}
		if len(records) == 0 {
			monitoring.Warnf("night %d: no records from %d units, skipping", night, len(batch))
			continue
		}

		if acc, err = acc.add(records); err != nil {
			return res, fmt.Errorf("night %d: %w", night, err)
		}
		if err := r.checkpoint(ctx, acc); err != nil {
			return res, fmt.Errorf("night %d: %w", night, err)
		}
		monitoring.Logf("Night %d: %d records from %d units (%d failed) in %s",
			night, len(records), len(batch), len(failed), clock.Since(nightStart))
	}

	exp, err := acc.exposures()
	if err != nil {
		return res, err
	}
	if prev.Exposures != nil {
		if exp, err = table.Upsert(prev.Exposures, exp, summary.ExposureKey...); err != nil {
			return res, fmt.Errorf("merge exposure table: %w", err)
		}
		exp.SortBy(summary.ExposureKey...)
	}

	res.Backfilled = r.backfill(ctx, exp, nights)
	summary.Enrich(exp, r.enrichment(ctx, exp))

	final := store.State{Cameras: acc.cameras, Exposures: exp}
	if err := normalise(final); err != nil {
		return res, err
	}
	if err := store.Write(ctx, r.Output, final); err != nil {
		return res, fmt.Errorf("write state: %w", err)
	}
	if err := r.writeCSV(exp); err != nil {
		return res, err
	}
	removed, err := store.CleanupTemp(r.Output)
	if err != nil {
		monitoring.Warnf("could not remove temporary files: %v", err)
	}
	for _, p := range removed {
		monitoring.Debugf("removed %s", p)
	}

	res.Cameras, res.Exposures = final.Len()
	monitoring.Logf("Wrote %s camera entries and %s exposure entries to %s in %s",
		humanize.Comma(int64(res.Cameras)), humanize.Comma(int64(res.Exposures)), r.Output, clock.Since(started))
	return res, nil
}

// previousState returns the reconciled persisted tables in update mode, or
// an empty state.
func (r *Runner) previousState(ctx context.Context) (store.State, error) {
	if !r.Update {
		return store.State{}, nil
	}
	st, err := store.Read(ctx, r.Output)
	if errors.Is(err, store.ErrNoState) {
		monitoring.Logf("No existing state at %s, starting fresh", r.Output)
		return store.State{}, nil
	}
	if err != nil {
		return store.State{}, fmt.Errorf("read existing state: %w", err)
	}
	for _, t := range []struct {
		name   string
		t      *table.Table
		schema table.Schema
	}{
		{store.CamerasTable, st.Cameras, summary.CameraSchema},
		{store.ExposuresTable, st.Exposures, summary.ExposureSchema},
	} {
		if added := table.AddMissingColumns(t.t, t.schema); len(added) > 0 {
			monitoring.Logf("Added %d columns missing from the stored %s table: %v", len(added), t.name, added)
		}
		if err := table.Reorder(t.t, t.schema); err != nil {
			return store.State{}, fmt.Errorf("stored %s table: %w", t.name, err)
		}
	}
	cams, exps := st.Len()
	monitoring.Logf("Loaded %s camera and %s exposure entries from %s",
		humanize.Comma(int64(cams)), humanize.Comma(int64(exps)), r.Output)
	return *st, nil
}

// checkpoint writes the tables accumulated so far to the partial file so an
// interrupted run leaves its progress inspectable.
func (r *Runner) checkpoint(ctx context.Context, acc accumulator) error {
	exp, err := acc.exposures()
	if err != nil {
		return err
	}
	if err := store.Write(ctx, store.PartialPath(r.Output), store.State{Cameras: acc.cameras, Exposures: exp}); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (r *Runner) backfill(ctx context.Context, exp *table.Table, nights []int) int {
	if r.Aux == nil {
		monitoring.Warnf("no observing log available; missing exposures are not backfilled")
		return 0
	}
	if len(nights) == 0 {
		return 0
	}
	logged, err := r.Aux.ObservingLog(ctx, nights)
	if err != nil {
		monitoring.Warnf("observing log unavailable, skipping backfill: %v", err)
		return 0
	}
	return summary.BackfillMissing(exp, logged)
}

func (r *Runner) enrichment(ctx context.Context, exp *table.Table) summary.Enrichment {
	e := summary.Enrichment{EffTime: r.EffTime}
	if r.Aux == nil {
		return e
	}
	ids := summary.SortedExpIDs(exp)
	if len(ids) == 0 {
		return e
	}
	var err error
	if e.Sky, err = r.Aux.SkyBrightness(ctx, ids); err != nil {
		monitoring.Warnf("sky brightness unavailable: %v", err)
		e.Sky = nil
	}
	if e.Guide, err = r.Aux.GuideConditions(ctx, ids); err != nil {
		monitoring.Warnf("guide camera conditions unavailable: %v", err)
		e.Guide = nil
	}
	return e
}

// normalise enforces the declared column order and the row order of both
// tables.
func normalise(st store.State) error {
	if err := table.Reorder(st.Cameras, summary.CameraSchema); err != nil {
		return fmt.Errorf("camera table: %w", err)
	}
	if err := table.Reorder(st.Exposures, summary.ExposureSchema); err != nil {
		return fmt.Errorf("exposure table: %w", err)
	}
	st.Cameras.SortBy(summary.CameraKey...)
	st.Exposures.SortBy(summary.ExposureKey...)
	return nil
}

func (r *Runner) writeCSV(exp *table.Table) error {
	if r.CSVOutput == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, exp, r.CSVPrecision); err != nil {
		return fmt.Errorf("format %s: %w", r.CSVOutput, err)
	}
	if err := fsutil.AtomicWriteFile(fsutil.OSFileSystem{}, r.CSVOutput, buf.Bytes(), 0o644); err != nil {
		return err
	}
	monitoring.Logf("Wrote exposure summary CSV to %s", r.CSVOutput)
	return nil
}

func unitsOfNight(units []exposure.Unit, night int) []exposure.Unit {
	var out []exposure.Unit
	for _, u := range units {
		if u.Night == night {
			out = append(out, u)
		}
	}
	return out
}
