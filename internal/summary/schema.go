// Package summary reduces per-camera TSNR2 records into the camera and
// exposure summary tables, backfills exposures the reduction never produced,
// and adds the derived effective-time and auxiliary columns.
package summary

import "github.com/banshee-data/tsnr.report/internal/table"

// Unknown is the default for category columns that could not be determined.
const Unknown = "unknown"

// Column names shared by both tables.
const (
	ColNight    = "NIGHT"
	ColExpID    = "EXPID"
	ColTileID   = "TILEID"
	ColCamera   = "CAMERA"
	ColExpTime  = "EXPTIME"
	ColGoalType = "GOALTYPE"
	ColAlpha    = "TSNR2_ALPHA"
)

// MetricColumns are the per-camera TSNR2 values. They add across bands and
// are representative across petals.
var MetricColumns = []string{
	"TSNR2_BGS",
	"TSNR2_ELG",
	"TSNR2_GPBBACKUP",
	"TSNR2_GPBBRIGHT",
	"TSNR2_GPBDARK",
	"TSNR2_LRG",
	"TSNR2_LYA",
	"TSNR2_QSO",
}

// DescriptiveColumns are invariant across the cameras of one exposure and are
// copied from any camera row when aggregating.
var DescriptiveColumns = table.Schema{
	table.IntColumn(ColNight),
	table.IntColumn(ColTileID),
	table.FloatColumn("TILERA"),
	table.FloatColumn("TILEDEC"),
	table.FloatColumn("MJD"),
	table.StrColumn("SURVEY", Unknown),
	table.StrColumn("PROGRAM", Unknown),
	table.StrColumn("FAPRGRM", Unknown),
	table.StrColumn("FAFLAVOR", Unknown),
	table.FloatColumn("GOALTIME"),
	table.StrColumn(ColGoalType, Unknown),
	table.FloatColumn("MINTFRAC"),
	table.FloatColumn("AIRMASS"),
	table.FloatColumn("EBV"),
	table.FloatColumn("SEEING_ETC"),
	table.FloatColumn("EFFTIME_ETC"),
}

// EffTimeColumns are derived from the exposure-level TSNR2 values.
var EffTimeColumns = []string{
	"EFFTIME_SPEC",
	"LRG_EFFTIME_DARK",
	"ELG_EFFTIME_DARK",
	"BGS_EFFTIME_BRIGHT",
	"LYA_EFFTIME_DARK",
	"GPB_EFFTIME_DARK",
	"GPB_EFFTIME_BRIGHT",
	"GPB_EFFTIME_BACKUP",
}

// GuideColumns are joined from the guide-camera conditions provider.
var GuideColumns = []string{
	"TRANSPARENCY_GFA",
	"SEEING_GFA",
	"FIBER_FRACFLUX_GFA",
	"FIBERFAC_GFA",
	"AIRMASS_GFA",
	"SKY_MAG_AB_GFA",
	"EFFTIME_GFA",
}

// SkyColumns are joined from the sky brightness provider.
var SkyColumns = []string{
	"SKY_MAG_G_SPEC",
	"SKY_MAG_R_SPEC",
	"SKY_MAG_Z_SPEC",
}

// CameraKey identifies a camera table row.
var CameraKey = []string{ColExpID, ColCamera}

// ExposureKey identifies an exposure table row.
var ExposureKey = []string{ColExpID}

// CameraSchema is the declared column order of the camera table.
var CameraSchema = buildCameraSchema()

// ExposureSchema is the declared column order of the exposure table.
var ExposureSchema = buildExposureSchema()

func buildCameraSchema() table.Schema {
	s := table.Schema{
		table.IntColumn(ColNight),
		table.IntColumn(ColExpID),
		table.IntColumn(ColTileID),
		table.StrColumn(ColCamera, Unknown),
	}
	for _, c := range DescriptiveColumns {
		if c.Name == ColNight || c.Name == ColTileID {
			continue
		}
		s = append(s, c)
	}
	s = append(s, table.FloatColumn(ColExpTime))
	for _, m := range MetricColumns {
		s = append(s, table.FloatColumn(m))
	}
	return append(s, table.FloatColumn(ColAlpha))
}

func buildExposureSchema() table.Schema {
	s := table.Schema{
		table.IntColumn(ColNight),
		table.IntColumn(ColExpID),
		table.IntColumn(ColTileID),
	}
	for _, c := range DescriptiveColumns {
		if c.Name == ColNight || c.Name == ColTileID {
			continue
		}
		s = append(s, c)
	}
	s = append(s, table.FloatColumn(ColExpTime))
	for _, m := range MetricColumns {
		s = append(s, table.FloatColumn(m))
	}
	for _, group := range [][]string{EffTimeColumns, GuideColumns, SkyColumns} {
		for _, name := range group {
			s = append(s, table.FloatColumn(name))
		}
	}
	return s
}
