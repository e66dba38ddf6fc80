package table

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	IntColumn("EXPID"),
	StrColumn("CAMERA", "unknown"),
	FloatColumn("TSNR2_LRG"),
}

func row(expid int64, camera string, v float64) Record {
	return Record{"EXPID": Int(expid), "CAMERA": Str(camera), "TSNR2_LRG": Float(v)}
}

func keyed(t *Table) map[string]float64 {
	out := make(map[string]float64, len(t.Rows))
	for _, r := range t.Rows {
		out[r["EXPID"].String()+"/"+r["CAMERA"].Str()] = r["TSNR2_LRG"].Float()
	}
	return out
}

func TestUpsert_ReplacesAndAppends(t *testing.T) {
	t.Parallel()

	prev := &Table{Columns: testSchema, Rows: []Record{
		row(1, "b0", 1), row(2, "b0", 2), row(3, "b0", 3),
	}}
	next := &Table{Columns: testSchema, Rows: []Record{
		row(2, "b0", 20), row(4, "b0", 40),
	}}

	merged, err := Upsert(prev, next, "EXPID", "CAMERA")
	require.NoError(t, err)
	require.NoError(t, merged.CheckUnique("EXPID", "CAMERA"))

	want := map[string]float64{"1/b0": 1, "2/b0": 20, "3/b0": 3, "4/b0": 40}
	if diff := cmp.Diff(want, keyed(merged)); diff != "" {
		t.Errorf("merged rows mismatch (-want +got):\n%s", diff)
	}

	// Inputs are untouched.
	assert.Len(t, prev.Rows, 3)
	assert.Equal(t, 2.0, prev.Rows[1]["TSNR2_LRG"].Float())
}

func TestUpsert_NoSurvivorsReturnsNew(t *testing.T) {
	t.Parallel()

	prev := &Table{Columns: testSchema, Rows: []Record{row(7, "r1", 1)}}
	next := &Table{Columns: testSchema, Rows: []Record{row(7, "r1", 9), row(8, "r1", 10)}}

	merged, err := Upsert(prev, next, "EXPID", "CAMERA")
	require.NoError(t, err)
	if diff := cmp.Diff(next.Rows, merged.Rows, cmp.AllowUnexported(Value{})); diff != "" {
		t.Errorf("expected exactly the new rows (-want +got):\n%s", diff)
	}
}

func TestUpsert_EmptyOld(t *testing.T) {
	t.Parallel()

	next := &Table{Columns: testSchema, Rows: []Record{row(1, "z9", 1)}}
	merged, err := Upsert(nil, next, "EXPID")
	require.NoError(t, err)
	assert.Equal(t, 1, merged.Len())
}

func TestUpsert_SchemaMismatch(t *testing.T) {
	t.Parallel()

	prev := &Table{Columns: Schema{IntColumn("EXPID"), StrColumn("CAMERA", "unknown")}, Rows: []Record{{"EXPID": Int(1), "CAMERA": Str("b0")}}}
	next := &Table{Columns: testSchema, Rows: []Record{row(2, "b0", 1)}}

	_, err := Upsert(prev, next, "EXPID", "CAMERA")
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "TSNR2_LRG")

	AddMissingColumns(prev, testSchema)
	merged, err := Upsert(prev, next, "EXPID", "CAMERA")
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, 0.0, merged.Rows[0]["TSNR2_LRG"].Float())
}

func TestUpsert_TypedKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	schema := Schema{StrColumn("K", ""), FloatColumn("V")}
	prev := &Table{Columns: schema, Rows: []Record{{"K": Int(1), "V": Float(1)}}}
	next := &Table{Columns: schema, Rows: []Record{{"K": Str("1"), "V": Float(2)}}}

	merged, err := Upsert(prev, next, "K")
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len(), "int 1 and string \"1\" are distinct keys")
}

func TestUpsert_DuplicateKeyInNew(t *testing.T) {
	t.Parallel()

	prev := &Table{Columns: testSchema, Rows: []Record{row(1, "b0", 1)}}
	next := &Table{Columns: testSchema, Rows: []Record{row(2, "b0", 1), row(2, "b0", 2)}}
	_, err := Upsert(prev, next, "EXPID", "CAMERA")
	assert.ErrorIs(t, err, ErrDuplicateKey)
}
