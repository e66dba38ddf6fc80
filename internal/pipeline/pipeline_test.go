package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/store"
	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/table"
	"github.com/banshee-data/tsnr.report/internal/testutil"
	"github.com/banshee-data/tsnr.report/internal/timeutil"
)

var testLayout = exposure.Layout{Root: "/redux/daily"}

// record returns a complete camera record whose TSNR2_LRG is petal+1.
func record(u exposure.Unit) table.Record {
	r := summary.CameraSchema.Defaults()
	r[summary.ColNight] = table.Int(int64(u.Night))
	r[summary.ColExpID] = table.Int(int64(u.ExpID))
	r[summary.ColTileID] = table.Int(42)
	r[summary.ColCamera] = table.Str(u.Camera.String())
	r[summary.ColExpTime] = table.Float(900)
	r[summary.ColGoalType] = table.Str("dark")
	r["TSNR2_LRG"] = table.Float(float64(u.Camera.Petal + 1))
	return r
}

// countingProcessor records every unit it is called with.
type countingProcessor struct {
	mu   sync.Mutex
	seen []exposure.Unit
	fail map[exposure.Unit]error
}

func (p *countingProcessor) Process(ctx context.Context, u exposure.Unit) (table.Record, error) {
	p.mu.Lock()
	p.seen = append(p.seen, u)
	p.mu.Unlock()
	if err := p.fail[u]; err != nil {
		return nil, err
	}
	return record(u), nil
}

func (p *countingProcessor) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.seen))
	for i, u := range p.seen {
		out[i] = u.String()
	}
	sort.Strings(out)
	return out
}

type fakeAux struct {
	logged []exposure.Logged
	sky    *table.Table
}

func (a *fakeAux) ObservingLog(ctx context.Context, nights []int) ([]exposure.Logged, error) {
	return a.logged, nil
}

func (a *fakeAux) SkyBrightness(ctx context.Context, expids []int) (*table.Table, error) {
	return a.sky, nil
}

func (a *fakeAux) GuideConditions(ctx context.Context, expids []int) (*table.Table, error) {
	return nil, errors.New("guide database offline")
}

func TestDispatch_KeepsUnitOrderAndDropsNil(t *testing.T) {
	units := testutil.Units(20210505, 100, "b0", "r0", "z0", "b1")
	fn := func(ctx context.Context, u exposure.Unit) (table.Record, error) {
		if u.Camera.Band == 'z' {
			return nil, nil
		}
		return record(u), nil
	}
	for _, workers := range []int{0, 1, 3} {
		records, failed := Dispatch(context.Background(), units, workers, fn)
		assert.Empty(t, failed)
		require.Len(t, records, 3, "workers=%d", workers)
		var cams []string
		for _, r := range records {
			cams = append(cams, r[summary.ColCamera].Str())
		}
		assert.Equal(t, []string{"b0", "r0", "b1"}, cams, "workers=%d", workers)
	}
}

func TestDispatch_IsolatesFailures(t *testing.T) {
	units := testutil.Units(20210505, 100, "b0", "r0", "z0", "b1", "r1", "z1")
	bad := units[2]
	for _, workers := range []int{1, 4} {
		p := &countingProcessor{fail: map[exposure.Unit]error{bad: errors.New("bad frame")}}
		records, failed := Dispatch(context.Background(), units, workers, p.Process)
		assert.Len(t, records, len(units)-1, "workers=%d", workers)
		require.Len(t, failed, 1)
		assert.Equal(t, bad, failed[0].Unit)
		assert.EqualError(t, failed[0], "20210505/00000100/z0: bad frame")
		assert.Len(t, p.names(), len(units), "every unit is attempted")
	}
}

func TestDispatch_RecoversPanics(t *testing.T) {
	units := testutil.Units(20210505, 100, "b0", "r0", "z0")
	fn := func(ctx context.Context, u exposure.Unit) (table.Record, error) {
		if u.Camera.Band == 'r' {
			panic("corrupt header")
		}
		return record(u), nil
	}
	records, failed := Dispatch(context.Background(), units, 2, fn)
	assert.Len(t, records, 2)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Err.Error(), "panic")
}

func TestDispatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &countingProcessor{}
	records, failed := Dispatch(ctx, testutil.Units(20210505, 100, "b0", "r0"), 2, p.Process)
	assert.Empty(t, records)
	require.Len(t, failed, 2)
	assert.ErrorIs(t, failed[0], context.Canceled)
	assert.Empty(t, p.names())
}

func newRunner(t *testing.T, units []exposure.Unit, p *countingProcessor) *Runner {
	t.Helper()
	testutil.CaptureLogs(t)
	return &Runner{
		FS:      testutil.FrameTree(t, testLayout, units...),
		Layout:  testLayout,
		Process: p.Process,
		Workers: 2,
		Output:  filepath.Join(t.TempDir(), "tsnr.sqlite"),
		Clock:   timeutil.NewMockClock(time.Date(2021, 5, 6, 12, 0, 0, 0, time.UTC)),
	}
}

func allUnits() []exposure.Unit {
	var units []exposure.Unit
	units = append(units, testutil.Units(20210505, 100, "b0", "r0", "b1")...)
	units = append(units, testutil.Units(20210505, 101, "b0", "z3")...)
	units = append(units, testutil.Units(20210506, 200, "b0", "r0")...)
	return units
}

func TestRun_ProcessorNeverSeesFilteredUnits(t *testing.T) {
	p := &countingProcessor{}
	r := newRunner(t, allUnits(), p)
	r.Selection = exposure.Selection{
		Nights:  []int{20210505},
		Cameras: []exposure.Camera{exposure.MustParseCamera("b0")},
	}

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"20210505/00000100/b0", "20210505/00000101/b0"}, p.names())
	assert.Equal(t, 2, res.Units)
	assert.Equal(t, 2, res.Cameras)
	assert.Equal(t, 2, res.Exposures)
}

func TestRun_WritesStateAndCleansUp(t *testing.T) {
	ctx := context.Background()
	p := &countingProcessor{}
	r := newRunner(t, allUnits(), p)
	logs := testutil.CaptureLogs(t)
	r.CSVOutput = filepath.Join(t.TempDir(), "out", "tsnr.csv")
	r.CSVPrecision = 2
	r.Aux = &fakeAux{
		logged: []exposure.Logged{
			{Night: 20210505, ExpID: 100, TileID: 42, ExpTime: 900},
			{Night: 20210505, ExpID: 150, TileID: 7, ExpTime: 600},
			{Night: 20210505, ExpID: 160, TileID: -1, ExpTime: 5},
		},
		sky: func() *table.Table {
			sky := table.New(table.Schema{table.IntColumn(summary.ColExpID), table.FloatColumn("SKY_MAG_R_SPEC")})
			sky.Append(table.Record{summary.ColExpID: table.Int(100), "SKY_MAG_R_SPEC": table.Float(20.5)})
			return sky
		}(),
	}

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Cameras)
	assert.Equal(t, 4, res.Exposures)
	assert.Equal(t, 1, res.Backfilled)
	assert.True(t, logs.Contains("Wrote 7 camera entries and 4 exposure entries"))
	assert.True(t, logs.Contains("WARNING: guide camera conditions unavailable"))

	st, err := store.Read(ctx, r.Output)
	require.NoError(t, err)
	assert.Equal(t, summary.ExposureSchema.Names(), st.Exposures.Columns.Names())
	assert.Equal(t, []int{100, 101, 150, 200}, summary.SortedExpIDs(st.Exposures))

	byID := make(map[int64]table.Record)
	for _, row := range st.Exposures.Rows {
		byID[row[summary.ColExpID].Int()] = row
	}
	// Petal 0 has b0+r0 = 2, petal 1 has b1 = 2.
	assert.InDelta(t, 2.0, byID[100]["TSNR2_LRG"].Float(), 1e-12)
	assert.InDelta(t, 20.5, byID[100]["SKY_MAG_R_SPEC"].Float(), 1e-12)
	assert.Zero(t, byID[101]["SKY_MAG_R_SPEC"].Float())
	assert.Equal(t, summary.Unknown, byID[150][summary.ColGoalType].Str())
	assert.Equal(t, int64(7), byID[150][summary.ColTileID].Int())

	_, err = os.Stat(store.PartialPath(r.Output))
	assert.True(t, os.IsNotExist(err), "checkpoint removed after success")
	leftovers, _ := filepath.Glob(r.Output + ".tmp-*")
	assert.Empty(t, leftovers)

	csv, err := os.ReadFile(r.CSVOutput)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "NIGHT,EXPID,TILEID")
}

func TestRun_UpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newRunner(t, allUnits(), &countingProcessor{})
	r.Update = true

	_, err := r.Run(ctx)
	require.NoError(t, err)
	first, err := os.ReadFile(r.Output)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	require.NoError(t, err)
	second, err := os.ReadFile(r.Output)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_UpdateMergesNights(t *testing.T) {
	ctx := context.Background()
	r := newRunner(t, allUnits(), &countingProcessor{})

	r.Selection = exposure.Selection{Nights: []int{20210505}}
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Cameras)

	r.Update = true
	r.Selection = exposure.Selection{Nights: []int{20210506}}
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Cameras)
	assert.Equal(t, 3, res.Exposures)

	// Without update the state is replaced.
	r.Update = false
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cameras)
	assert.Equal(t, 1, res.Exposures)
}

func TestRun_FailedUnitsAreReported(t *testing.T) {
	units := allUnits()
	p := &countingProcessor{fail: map[exposure.Unit]error{units[1]: errors.New("corrupt sky model")}}
	r := newRunner(t, units, p)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, units[1], res.Failed[0].Unit)
	assert.Equal(t, len(units)-1, res.Cameras)
}

func TestRun_ColumnMismatchIsFatal(t *testing.T) {
	units := allUnits()
	r := newRunner(t, units, &countingProcessor{})
	r.Process = func(ctx context.Context, u exposure.Unit) (table.Record, error) {
		rec := record(u)
		if u.Camera.Band == 'r' {
			rec["TSNR2_EXTRA"] = table.Float(1)
		}
		return rec, nil
	}

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, table.ErrColumnMismatch)
	assert.Contains(t, err.Error(), "TSNR2_EXTRA")
	_, statErr := os.Stat(r.Output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_Misconfigured(t *testing.T) {
	_, err := (&Runner{Output: "x"}).Run(context.Background())
	assert.Error(t, err)
	_, err = (&Runner{Process: (&countingProcessor{}).Process}).Run(context.Background())
	assert.Error(t, err)
}

func TestAccumulator_ReplacesRerunNight(t *testing.T) {
	units := testutil.Units(20210505, 100, "b0", "r0")
	acc := newAccumulator(nil)

	var err error
	acc, err = acc.add([]table.Record{record(units[0]), record(units[1])})
	require.NoError(t, err)
	rerun := record(units[0])
	rerun["TSNR2_LRG"] = table.Float(10)
	acc, err = acc.add([]table.Record{rerun})
	require.NoError(t, err)

	assert.Equal(t, 2, acc.cameras.Len())
	assert.Equal(t, 2, acc.nights)
	assert.Equal(t, table.Float(10), acc.cameras.Rows[0]["TSNR2_LRG"])

	_, err = acc.add([]table.Record{record(units[0]), record(units[0])})
	assert.ErrorIs(t, err, table.ErrDuplicateKey)
}
