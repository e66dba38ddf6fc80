package table

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes t as CSV with a header row in column order. Float cells are
// rounded to precision decimals; a negative precision keeps full precision.
func WriteCSV(w io.Writer, t *Table, precision int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns.Names()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			v, ok := r[c.Name]
			if !ok {
				v = c.Default
			}
			row[i] = v.Format(precision)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
