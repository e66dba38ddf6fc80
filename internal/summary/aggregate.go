package summary

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// AggregateExposures reduces the camera table to one row per exposure.
//
// Descriptive columns come from the first camera row of the exposure and
// EXPTIME is the mean over its cameras. Each TSNR2 column is summed over the
// bands present in a petal, then averaged over the petals that have at least
// one camera. A petal with no cameras is left out of the mean rather than
// counted as zero, and a petal missing a band still contributes the sum of
// the bands it has.
func AggregateExposures(cameras *table.Table) (*table.Table, error) {
	groups := make(map[int64][]table.Record)
	var order []int64
	for _, r := range cameras.Rows {
		id := r[ColExpID].Int()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := table.New(ExposureSchema)
	for _, id := range order {
		rows := groups[id]
		row, err := aggregateExposure(id, rows)
		if err != nil {
			return nil, err
		}
		out.Append(row)
	}
	return out, nil
}

func aggregateExposure(expid int64, rows []table.Record) (table.Record, error) {
	rep := rows[0]
	row := table.Record{ColExpID: table.Int(expid)}
	for _, c := range DescriptiveColumns {
		if v, ok := rep[c.Name]; ok {
			row[c.Name] = v.Convert(c.Kind)
		}
	}

	exptimes := make([]float64, len(rows))
	for i, r := range rows {
		exptimes[i] = r[ColExpTime].Float()
	}
	row[ColExpTime] = table.Float(stat.Mean(exptimes, nil))

	petals, err := petalGroups(expid, rows)
	if err != nil {
		return nil, err
	}
	for _, m := range MetricColumns {
		row[m] = table.Float(petalMean(petals, m))
	}
	return row, nil
}

// petalGroups partitions the camera rows of one exposure by petal.
func petalGroups(expid int64, rows []table.Record) (map[int][]table.Record, error) {
	petals := make(map[int][]table.Record, exposure.NumPetals)
	for _, r := range rows {
		cam := r[ColCamera].Str()
		p := exposure.PetalOf(cam)
		if p < 0 {
			return nil, fmt.Errorf("exposure %d: invalid camera %q", expid, cam)
		}
		petals[p] = append(petals[p], r)
	}
	return petals, nil
}

// petalMean sums metric over the cameras of each present petal and returns
// the mean of those sums.
func petalMean(petals map[int][]table.Record, metric string) float64 {
	if len(petals) == 0 {
		return 0
	}
	sums := make([]float64, 0, len(petals))
	for p := 0; p < exposure.NumPetals; p++ {
		rows, ok := petals[p]
		if !ok {
			continue
		}
		vals := make([]float64, len(rows))
		for i, r := range rows {
			vals[i] = r[metric].Float()
		}
		sums = append(sums, floats.Sum(vals))
	}
	return stat.Mean(sums, nil)
}
