package summary

import (
	"strings"

	"github.com/banshee-data/tsnr.report/internal/monitoring"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// EffTimeConverter turns an exposure-level TSNR2 value for a target class
// into an effective exposure time in seconds.
type EffTimeConverter interface {
	EffTime(targetClass string, tsnr2 float64) float64
}

// LinearEffTime converts with a per-class proportionality constant.
// Classes without a constant convert to 0.
type LinearEffTime map[string]float64

// DefaultEffTimeCoefficients are the seconds of effective time per unit
// TSNR2 for each target class.
func DefaultEffTimeCoefficients() LinearEffTime {
	return LinearEffTime{
		"LRG":       12.15,
		"ELG":       8.60,
		"BGS":       0.14,
		"LYA":       11.11,
		"QSO":       33.05,
		"GPBDARK":   3.76,
		"GPBBRIGHT": 11.5,
		"GPBBACKUP": 67.0,
	}
}

// EffTime implements EffTimeConverter.
func (l LinearEffTime) EffTime(targetClass string, tsnr2 float64) float64 {
	return l[strings.ToUpper(targetClass)] * tsnr2
}

// effTimeSources maps each derived column to the class and TSNR2 column it
// is computed from.
var effTimeSources = []struct {
	column, class, metric string
}{
	{"LRG_EFFTIME_DARK", "LRG", "TSNR2_LRG"},
	{"ELG_EFFTIME_DARK", "ELG", "TSNR2_ELG"},
	{"BGS_EFFTIME_BRIGHT", "BGS", "TSNR2_BGS"},
	{"LYA_EFFTIME_DARK", "LYA", "TSNR2_LYA"},
	{"GPB_EFFTIME_DARK", "GPBDARK", "TSNR2_GPBDARK"},
	{"GPB_EFFTIME_BRIGHT", "GPBBRIGHT", "TSNR2_GPBBRIGHT"},
	{"GPB_EFFTIME_BACKUP", "GPBBACKUP", "TSNR2_GPBBACKUP"},
}

// specEffTimeColumn selects which derived column becomes EFFTIME_SPEC for
// an observing mode. Unrecognised modes use the dark-time LRG figure.
func specEffTimeColumn(goalType string) string {
	switch strings.ToLower(goalType) {
	case "bright":
		return "BGS_EFFTIME_BRIGHT"
	case "backup":
		return "GPB_EFFTIME_BACKUP"
	}
	return "LRG_EFFTIME_DARK"
}

// Enrichment bundles the collaborators used to complete the exposure table.
// Sky and Guide are keyed by EXPID; a nil table means the provider was
// unavailable and its columns are filled with 0.
type Enrichment struct {
	EffTime EffTimeConverter
	Sky     *table.Table
	Guide   *table.Table
}

// Enrich computes the effective-time columns and joins the sky brightness and
// guide-camera columns into exp. Rows without auxiliary data get 0.
func Enrich(exp *table.Table, e Enrichment) {
	conv := e.EffTime
	if conv == nil {
		conv = DefaultEffTimeCoefficients()
	}
	for _, r := range exp.Rows {
		for _, src := range effTimeSources {
			r[src.column] = table.Float(conv.EffTime(src.class, r[src.metric].Float()))
		}
		r["EFFTIME_SPEC"] = r[specEffTimeColumn(r[ColGoalType].Str())]
	}

	joinProvider(exp, e.Sky, "sky brightness", SkyColumns)
	joinProvider(exp, e.Guide, "guide camera conditions", GuideColumns)
}

func joinProvider(exp, aux *table.Table, what string, columns []string) {
	if aux == nil {
		monitoring.Warnf("no %s available; %s set to 0", what, strings.Join(columns, ", "))
		aux = table.New(nil)
	}
	matched := table.LeftJoin(exp, aux, ColExpID, columns...)
	monitoring.Logf("Joined %s for %d of %d exposures", what, matched, exp.Len())
}
