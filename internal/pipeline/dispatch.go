// Package pipeline drives a summary run: it enumerates units, dispatches
// them to the unit processor on a bounded worker pool, builds and merges the
// camera and exposure tables night by night, and writes the persisted state.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// UnitFunc produces the record for one unit. A nil record with a nil error
// means the unit has no valid data and is skipped.
type UnitFunc func(ctx context.Context, u exposure.Unit) (table.Record, error)

// UnitError records the failure of a single unit.
type UnitError struct {
	Unit exposure.Unit
	Err  error
}

func (e UnitError) Error() string { return fmt.Sprintf("%s: %v", e.Unit, e.Err) }

func (e UnitError) Unwrap() error { return e.Err }

// slot holds the outcome of one unit. Each task writes only its own slot.
type slot struct {
	rec table.Record
	err error
}

// Dispatch calls fn for every unit and returns the non-nil records in unit
// order together with the units that failed. With workers <= 1 the calls run
// sequentially in the calling goroutine; otherwise at most workers calls run
// at once. A failing or panicking unit never stops the others. Units not yet
// started when ctx is cancelled fail with the context error.
func Dispatch(ctx context.Context, units []exposure.Unit, workers int, fn UnitFunc) ([]table.Record, []UnitError) {
	slots := make([]slot, len(units))

	if workers <= 1 {
		for i, u := range units {
			slots[i] = call(ctx, u, fn)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(workers)
		for i, u := range units {
			i, u := i, u
			g.Go(func() error {
				slots[i] = call(ctx, u, fn)
				return nil
			})
		}
		_ = g.Wait()
	}

	var records []table.Record
	var failed []UnitError
	for i, s := range slots {
		switch {
		case s.err != nil:
			failed = append(failed, UnitError{Unit: units[i], Err: s.err})
		case s.rec != nil:
			records = append(records, s.rec)
		}
	}
	return records, failed
}

func call(ctx context.Context, u exposure.Unit, fn UnitFunc) (s slot) {
	if err := ctx.Err(); err != nil {
		return slot{err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			s = slot{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	rec, err := fn(ctx, u)
	return slot{rec: rec, err: err}
}
