package summary

import (
	"sort"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// BackfillMissing adds a row for every on-sky exposure in logged that exp
// does not already contain, so the exposure table covers every science
// exposure of the logged nights even when its reduction failed or was
// skipped. Backfilled rows take NIGHT, EXPID, TILEID and EXPTIME from the log
// and column defaults (0 or "unknown") everywhere else. It returns the number
// of rows added; exp is left sorted by EXPID.
func BackfillMissing(exp *table.Table, logged []exposure.Logged) int {
	present := make(map[int64]bool, exp.Len())
	for _, r := range exp.Rows {
		present[r[ColExpID].Int()] = true
	}

	added := 0
	for _, l := range logged {
		id := int64(l.ExpID)
		if !l.OnSky() || present[id] {
			continue
		}
		row := exp.Columns.Defaults()
		row[ColNight] = table.Int(int64(l.Night))
		row[ColExpID] = table.Int(id)
		row[ColTileID] = table.Int(int64(l.TileID))
		row[ColExpTime] = table.Float(l.ExpTime)
		exp.Append(row)
		present[id] = true
		added++
		monitoring.Debugf("backfilled exposure %d (night %d, tile %d) from the observing log", l.ExpID, l.Night, l.TileID)
	}
	if added > 0 {
		exp.SortBy(ColExpID)
		monitoring.Logf("Backfilled %d logged exposures missing from the exposure table", added)
	}
	return added
}

// SortedExpIDs returns the distinct exposure ids of t in ascending order.
func SortedExpIDs(t *table.Table) []int {
	seen := make(map[int]bool, t.Len())
	var out []int
	for _, r := range t.Rows {
		id := int(r[ColExpID].Int())
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
