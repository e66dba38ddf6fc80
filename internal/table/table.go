package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrColumnMismatch is returned when records combined into one table do
	// not share an identical column set.
	ErrColumnMismatch = errors.New("inconsistent record columns")
	// ErrUnknownColumn is returned when a table carries a column that is not
	// part of the declared output schema.
	ErrUnknownColumn = errors.New("column not in declared schema")
	// ErrSchemaMismatch is returned when two tables that should share a column
	// set do not. Reconcile them with AddMissingColumns first.
	ErrSchemaMismatch = errors.New("table column sets differ")
	// ErrDuplicateKey is returned when a table would hold two rows with the
	// same key.
	ErrDuplicateKey = errors.New("duplicate row key")
)

// Column declares one named, typed column and the value used wherever the
// column cannot be computed.
type Column struct {
	Name    string
	Kind    Kind
	Default Value
}

// IntColumn declares an integer column defaulting to 0.
func IntColumn(name string) Column { return Column{Name: name, Kind: KindInt, Default: Int(0)} }

// FloatColumn declares a float column defaulting to 0.
func FloatColumn(name string) Column { return Column{Name: name, Kind: KindFloat, Default: Float(0)} }

// StrColumn declares a string column with the given default.
func StrColumn(name, def string) Column {
	return Column{Name: name, Kind: KindString, Default: Str(def)}
}

// Schema is an ordered list of column declarations.
type Schema []Column

// Names returns the column names in declared order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Lookup returns the column named name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Defaults returns a record holding every column's default value.
func (s Schema) Defaults() Record {
	r := make(Record, len(s))
	for _, c := range s {
		r[c.Name] = c.Default
	}
	return r
}

// Record maps column names to values. A record is produced once and not
// mutated by the table operations; they copy before changing cells.
type Record map[string]Value

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Names returns the record's column names, sorted.
func (r Record) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Table is an ordered set of columns plus rows keyed by column name.
type Table struct {
	Columns Schema
	Rows    []Record
}

// New returns an empty table with the given columns.
func New(columns Schema) *Table {
	cols := make(Schema, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Clone returns a copy of t whose rows can be modified independently.
func (t *Table) Clone() *Table {
	out := New(t.Columns)
	out.Rows = make([]Record, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// HasColumn reports whether t declares a column named name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Columns.Lookup(name)
	return ok
}

// Column returns every row's value for name, in row order.
func (t *Table) Column(name string) []Value {
	out := make([]Value, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[name]
	}
	return out
}

// Append adds a row after filling any declared column it lacks with the
// column default.
func (t *Table) Append(r Record) {
	row := r.Clone()
	for _, c := range t.Columns {
		if _, ok := row[c.Name]; !ok {
			row[c.Name] = c.Default
		}
	}
	t.Rows = append(t.Rows, row)
}

// Build assembles records into a table laid out by schema. Every record must
// carry exactly the same column set and every column must be declared;
// anything else means the producers disagree about the record layout and is
// reported as ErrColumnMismatch naming the offending columns.
func Build(schema Schema, records []Record) (*Table, error) {
	t := New(schema)
	if len(records) == 0 {
		return t, nil
	}

	ref := records[0].Names()
	for i, r := range records[1:] {
		if missing, extra := diffNames(ref, r.Names()); len(missing)+len(extra) > 0 {
			return nil, fmt.Errorf("%w: record %d differs from record 0 (missing %s; extra %s)",
				ErrColumnMismatch, i+1, joinOrNone(missing), joinOrNone(extra))
		}
	}
	if missing, extra := diffNames(schema.Names(), ref); len(missing)+len(extra) > 0 {
		return nil, fmt.Errorf("%w: records do not match declared columns (missing %s; undeclared %s)",
			ErrColumnMismatch, joinOrNone(missing), joinOrNone(extra))
	}

	for _, r := range records {
		row := make(Record, len(schema))
		for _, c := range schema {
			row[c.Name] = r[c.Name].Convert(c.Kind)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// SortBy orders rows by the given columns, ascending. Ties keep their
// relative order.
func (t *Table) SortBy(columns ...string) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		for _, c := range columns {
			if cmp := compareValues(t.Rows[i][c], t.Rows[j][c]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// CheckUnique returns ErrDuplicateKey if two rows share the same key.
func (t *Table) CheckUnique(keys ...string) error {
	seen := make(map[rowKey]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		k, err := makeKey(r, keys)
		if err != nil {
			return err
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, describeKey(r, keys))
		}
		seen[k] = struct{}{}
	}
	return nil
}

// AddMissingColumns adds every schema column that t lacks, filling existing
// rows with the column default. It returns the names it added. Tables read
// back from an older run go through this before they are merged with a batch
// computed under the current schema.
func AddMissingColumns(t *Table, schema Schema) []string {
	var added []string
	for _, c := range schema {
		if t.HasColumn(c.Name) {
			continue
		}
		t.Columns = append(t.Columns, c)
		for _, r := range t.Rows {
			r[c.Name] = c.Default
		}
		added = append(added, c.Name)
	}
	return added
}

// Reorder lays t out in the declared schema order. Declared columns missing
// from t are added with defaults; a column in t that the schema does not
// declare is ErrUnknownColumn.
func Reorder(t *Table, schema Schema) error {
	var unknown []string
	for _, c := range t.Columns {
		if _, ok := schema.Lookup(c.Name); !ok {
			unknown = append(unknown, c.Name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, strings.Join(unknown, ", "))
	}
	AddMissingColumns(t, schema)
	cols := make(Schema, len(schema))
	copy(cols, schema)
	t.Columns = cols
	for _, r := range t.Rows {
		for _, c := range schema {
			r[c.Name] = r[c.Name].Convert(c.Kind)
		}
	}
	return nil
}

// LeftJoin copies the named columns from aux into t, matching rows on key.
// Rows of t without a match get the column defaults declared in t.
func LeftJoin(t, aux *Table, key string, columns ...string) (matched int) {
	keyKind := KindInt
	if col, ok := t.Columns.Lookup(key); ok {
		keyKind = col.Kind
	}
	index := make(map[Value]Record, len(aux.Rows))
	for _, r := range aux.Rows {
		index[r[key].Convert(keyKind)] = r
	}
	for _, r := range t.Rows {
		src, ok := index[r[key].Convert(keyKind)]
		if ok {
			matched++
		}
		for _, name := range columns {
			col, declared := t.Columns.Lookup(name)
			if !declared {
				continue
			}
			v, present := src[name]
			if !ok || !present || !v.IsFinite() {
				r[name] = col.Default
				continue
			}
			r[name] = v.Convert(col.Kind)
		}
	}
	return matched
}

func compareValues(a, b Value) int {
	if a.kind == KindString || b.kind == KindString {
		return strings.Compare(a.Str(), b.Str())
	}
	if a.kind == KindInt && b.kind == KindInt {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	af, bf := a.Float(), b.Float()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

// diffNames returns names in want but not got, and names in got but not want.
// Both inputs must be sorted or the result order is unspecified.
func diffNames(want, got []string) (missing, extra []string) {
	in := make(map[string]bool, len(got))
	for _, n := range got {
		in[n] = true
	}
	for _, n := range want {
		if !in[n] {
			missing = append(missing, n)
		}
		delete(in, n)
	}
	for n := range in {
		extra = append(extra, n)
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
