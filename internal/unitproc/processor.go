// Package unitproc turns one (night, exposure, camera) unit into a camera
// table record: it reads the frame header, runs the metric computation,
// reduces the per-fiber values and caches the intermediate result on disk.
package unitproc

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/fsutil"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
	"github.com/banshee-data/tsnr.report/internal/summary"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// headerKeywords maps camera table columns to the frame header keywords they
// are read from, in lookup order.
var headerKeywords = map[string][]string{
	summary.ColTileID:   {"TILEID"},
	"TILERA":            {"TILERA"},
	"TILEDEC":           {"TILEDEC"},
	"MJD":               {"MJD-OBS", "MJD"},
	"SURVEY":            {"SURVEY"},
	"PROGRAM":           {"PROGRAM"},
	"FAPRGRM":           {"FAPRGRM"},
	"FAFLAVOR":          {"FAFLAVOR"},
	"GOALTIME":          {"GOALTIME"},
	summary.ColGoalType: {"GOALTYPE"},
	"MINTFRAC":          {"MINTFRAC"},
	"AIRMASS":           {"AIRMASS"},
	"EBV":               {"EBV"},
	"SEEING_ETC":        {"ETCFWHM", "SEEING_ETC"},
	"EFFTIME_ETC":       {"ETCTEFF", "EFFTIME_ETC"},
	summary.ColExpTime:  {"EXPTIME"},
}

// keptKeywords are stored in the detail document alongside the fibers.
var keptKeywords = func() []string {
	out := []string{"OBSTYPE"}
	for _, kws := range headerKeywords {
		out = append(out, kws...)
	}
	sort.Strings(out)
	return out
}()

// Processor computes unit records. A Processor is safe for concurrent use as
// long as its Source is; each call touches only its own unit's files.
type Processor struct {
	FS     fsutil.FileSystem
	Layout exposure.Layout
	Source FrameSource

	// DetailsDir, when set, holds the per-unit detail cache.
	DetailsDir string
	// Recompute ignores cached details.
	Recompute bool
}

func (p *Processor) fs() fsutil.FileSystem {
	if p.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return p.FS
}

// Process returns the record for u, or nil with no error when the unit has
// no frame or is not a science exposure. Errors from the computation are
// returned unchanged in meaning so the caller can isolate them per unit.
func (p *Processor) Process(ctx context.Context, u exposure.Unit) (table.Record, error) {
	fsys := p.fs()

	if p.DetailsDir != "" && !p.Recompute {
		path := DetailPath(p.DetailsDir, u)
		if fsys.Exists(path) {
			d, err := readDetail(fsys, path)
			if err == nil {
				monitoring.Debugf("%s: using cached detail %s", u, path)
				return reduce(u, d.Header, d.Fibers, d.Alpha), nil
			}
			monitoring.Warnf("%s: ignoring unreadable detail %s: %v", u, path, err)
		}
	}

	in := p.Layout.Inputs(u)
	if !fsys.Exists(in.Frame) {
		monitoring.Logf("%s: no frame at %s, skipping", u, in.Frame)
		return nil, nil
	}
	hdr, err := p.Source.ReadHeader(ctx, in.Frame)
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", u, err)
	}
	if obstype := hdr.Str("OBSTYPE"); !strings.EqualFold(obstype, "SCIENCE") {
		monitoring.Debugf("%s: OBSTYPE %q is not SCIENCE, skipping", u, obstype)
		return nil, nil
	}

	res, err := p.Source.Compute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s: compute: %w", u, err)
	}
	rec := reduce(u, hdr, res.Fibers, res.Alpha)

	if p.DetailsDir != "" {
		d := &Detail{
			Night:  u.Night,
			ExpID:  u.ExpID,
			Camera: u.Camera.String(),
			Header: subset(hdr, keptKeywords),
			Alpha:  res.Alpha,
			Fibers: res.Fibers,
		}
		if err := writeDetail(fsys, DetailPath(p.DetailsDir, u), d); err != nil {
			monitoring.Warnf("%s: could not cache detail: %v", u, err)
		}
	}
	return rec, nil
}

// reduce builds the camera record from header keywords and per-fiber values.
func reduce(u exposure.Unit, hdr Header, fibers map[string]FiberValues, alpha float64) table.Record {
	rec := make(table.Record, len(summary.CameraSchema))
	for _, c := range summary.CameraSchema {
		rec[c.Name] = c.Default
	}
	rec[summary.ColNight] = table.Int(int64(u.Night))
	rec[summary.ColExpID] = table.Int(int64(u.ExpID))
	rec[summary.ColCamera] = table.Str(u.Camera.String())

	for col, kws := range headerKeywords {
		c, _ := summary.CameraSchema.Lookup(col)
		v, ok := firstKeyword(hdr, kws)
		if !ok {
			monitoring.Debugf("%s: header has no %s, using default %s", u, strings.Join(kws, "/"), c.Default)
			continue
		}
		if c.Kind == table.KindString && strings.TrimSpace(v.Str()) == "" {
			continue
		}
		rec[col] = v.Convert(c.Kind)
	}

	for _, m := range summary.MetricColumns {
		vals, ok := fibers[m]
		if !ok {
			monitoring.Debugf("%s: no fiber values for %s, using 0", u, m)
			continue
		}
		rec[m] = table.Float(Median(vals))
	}
	for m := range fibers {
		if _, declared := summary.CameraSchema.Lookup(m); !declared {
			monitoring.Warnf("%s: ignoring undeclared metric %s", u, m)
		}
	}
	if !math.IsNaN(alpha) && !math.IsInf(alpha, 0) {
		rec[summary.ColAlpha] = table.Float(alpha)
	}
	return rec
}

func firstKeyword(hdr Header, kws []string) (table.Value, bool) {
	for _, k := range kws {
		if v, ok := hdr.Value(k); ok {
			return v, true
		}
	}
	return table.Value{}, false
}

func subset(hdr Header, keys []string) Header {
	out := make(Header, len(keys))
	for _, k := range keys {
		if v, ok := hdr[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Median returns the median of the finite, nonzero entries of vals, averaging
// the two middle values for an even count. It returns 0 when no entry
// qualifies.
func Median(vals []float64) float64 {
	valid := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		valid = append(valid, v)
	}
	n := len(valid)
	if n == 0 {
		return 0
	}
	sort.Float64s(valid)
	if n%2 == 1 {
		return valid[n/2]
	}
	return stat.Mean(valid[n/2-1:n/2+1], nil)
}
