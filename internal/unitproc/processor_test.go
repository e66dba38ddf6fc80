package unitproc

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/fsutil"
	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/table"
)

type fakeSource struct {
	header   Header
	result   Result
	err      error
	computed atomic.Int32
}

func (f *fakeSource) ReadHeader(ctx context.Context, path string) (Header, error) {
	return f.header, nil
}

func (f *fakeSource) Compute(ctx context.Context, in exposure.Inputs) (Result, error) {
	f.computed.Add(1)
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func scienceSource() *fakeSource {
	return &fakeSource{
		header: Header{
			"OBSTYPE":  "Science",
			"TILEID":   42,
			"MJD-OBS":  59339.25,
			"ETCFWHM":  1.1,
			"EXPTIME":  900.0,
			"GOALTYPE": "dark",
			"PROGRAM":  "  ",
		},
		result: Result{
			Fibers: map[string]FiberValues{
				"TSNR2_LRG": {0, 4, math.NaN(), 2, 8},
				"TSNR2_ELG": {1, 3},
			},
			Alpha: 0.5,
		},
	}
}

var testUnit = exposure.Unit{Night: 20210505, ExpID: 100, Camera: exposure.MustParseCamera("b3")}

func newProcessor(t *testing.T, src FrameSource, details string) (*Processor, *fsutil.MemoryFileSystem) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	layout := exposure.Layout{Root: "/redux"}
	require.NoError(t, mfs.WriteFile(layout.FramePath(testUnit), []byte("frame"), 0o644))
	return &Processor{FS: mfs, Layout: layout, Source: src, DetailsDir: details}, mfs
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even averages middle", []float64{4, 1, 3, 2}, 2.5},
		{"zeros and non-finite skipped", []float64{0, math.NaN(), 5, math.Inf(1), 0, 7}, 6},
		{"nothing valid", []float64{0, math.NaN()}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Median(tt.in), 1e-12)
		})
	}
}

func TestProcess_Computes(t *testing.T) {
	src := scienceSource()
	p, _ := newProcessor(t, src, "")

	rec, err := p.Process(context.Background(), testUnit)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, summary.CameraSchema.Names(), sortedLike(rec, summary.CameraSchema))
	assert.Equal(t, table.Int(20210505), rec[summary.ColNight])
	assert.Equal(t, table.Int(100), rec[summary.ColExpID])
	assert.Equal(t, table.Str("b3"), rec[summary.ColCamera])
	assert.Equal(t, table.Int(42), rec[summary.ColTileID])
	assert.InDelta(t, 59339.25, rec["MJD"].Float(), 1e-9)
	assert.InDelta(t, 1.1, rec["SEEING_ETC"].Float(), 1e-9)
	assert.InDelta(t, 4.0, rec["TSNR2_LRG"].Float(), 1e-12)
	assert.InDelta(t, 2.0, rec["TSNR2_ELG"].Float(), 1e-12)
	assert.InDelta(t, 0.5, rec[summary.ColAlpha].Float(), 1e-12)

	// Missing or blank keywords fall back to the declared defaults.
	assert.Equal(t, table.Str(summary.Unknown), rec["PROGRAM"])
	assert.Equal(t, table.Str(summary.Unknown), rec["SURVEY"])
	assert.Equal(t, table.Float(0), rec["AIRMASS"])
	assert.Equal(t, table.Float(0), rec["TSNR2_QSO"])
}

// sortedLike returns the schema names that rec carries, in schema order, so
// a record with exactly the schema's columns compares equal to Names().
func sortedLike(rec table.Record, s table.Schema) []string {
	var out []string
	for _, c := range s {
		if _, ok := rec[c.Name]; ok {
			out = append(out, c.Name)
		}
	}
	if len(out) != len(rec) {
		out = append(out, "<extra>")
	}
	return out
}

func TestProcess_Skips(t *testing.T) {
	t.Run("no frame", func(t *testing.T) {
		src := scienceSource()
		p, _ := newProcessor(t, src, "")
		other := testUnit
		other.Camera = exposure.MustParseCamera("z9")
		rec, err := p.Process(context.Background(), other)
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Zero(t, src.computed.Load())
	})
	t.Run("not science", func(t *testing.T) {
		src := scienceSource()
		src.header["OBSTYPE"] = "ARC"
		p, _ := newProcessor(t, src, "")
		rec, err := p.Process(context.Background(), testUnit)
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Zero(t, src.computed.Load())
	})
}

func TestProcess_ComputeError(t *testing.T) {
	src := scienceSource()
	src.err = errors.New("boom")
	p, _ := newProcessor(t, src, "")
	rec, err := p.Process(context.Background(), testUnit)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, src.err)
	assert.Contains(t, err.Error(), "20210505/00000100/b3")
}

func TestProcess_DetailCache(t *testing.T) {
	src := scienceSource()
	p, mfs := newProcessor(t, src, "/details")

	first, err := p.Process(context.Background(), testUnit)
	require.NoError(t, err)
	path := DetailPath("/details", testUnit)
	assert.Equal(t, "/details/20210505/00000100/tsnr-b3-00000100.json.gz", path)
	assert.True(t, mfs.Exists(path))
	assert.EqualValues(t, 1, src.computed.Load())

	// The frame is not needed on a cache hit.
	require.NoError(t, mfs.Remove(p.Layout.FramePath(testUnit)))
	second, err := p.Process(context.Background(), testUnit)
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.computed.Load())
	assert.Equal(t, first, second)

	// Recompute bypasses the cache.
	require.NoError(t, mfs.WriteFile(p.Layout.FramePath(testUnit), []byte("frame"), 0o644))
	p.Recompute = true
	_, err = p.Process(context.Background(), testUnit)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.computed.Load())
}

func TestProcess_CorruptDetailRecomputes(t *testing.T) {
	src := scienceSource()
	p, mfs := newProcessor(t, src, "/details")
	require.NoError(t, mfs.WriteFile(DetailPath("/details", testUnit), []byte("not gzip"), 0o644))

	rec, err := p.Process(context.Background(), testUnit)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.EqualValues(t, 1, src.computed.Load())
}

func TestExecSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script helper")
	}
	script := filepath.Join(t.TempDir(), "tsnr-helper")
	body := `#!/bin/sh
case "$1" in
header) echo '{"OBSTYPE":"SCIENCE","TILEID":7,"EXPTIME":60.5}' ;;
compute) echo '{"fibers":{"TSNR2_BGS":[1,null,3]},"alpha":0.25}' ;;
*) echo "unknown $1" >&2; exit 2 ;;
esac
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	src := ExecSource{Command: script}
	ctx := context.Background()

	hdr, err := src.ReadHeader(ctx, "/frame.fits")
	require.NoError(t, err)
	assert.Equal(t, "SCIENCE", hdr.Str("OBSTYPE"))
	v, ok := hdr.Value("TILEID")
	require.True(t, ok)
	assert.Equal(t, table.Int(7), v)

	res, err := src.Compute(ctx, exposure.Inputs{Frame: "/frame.fits"})
	require.NoError(t, err)
	require.Len(t, res.Fibers["TSNR2_BGS"], 3)
	assert.True(t, math.IsNaN(res.Fibers["TSNR2_BGS"][1]))
	assert.InDelta(t, 2.0, Median(res.Fibers["TSNR2_BGS"]), 1e-12)
	assert.InDelta(t, 0.25, res.Alpha, 1e-12)

	_, err = ExecSource{Command: script, Args: []string{"bogus"}}.ReadHeader(ctx, "/frame.fits")
	assert.Error(t, err)
}
