package table

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_KindsAndConversion(t *testing.T) {
	tests := []struct {
		name  string
		v     Value
		kind  Kind
		str   string
		float float64
	}{
		{"int", Int(42), KindInt, "42", 42},
		{"float", Float(2.5), KindFloat, "2.5", 2.5},
		{"string", Str("dark"), KindString, "dark", 0},
		{"numeric string", Str("3.25"), KindString, "3.25", 3.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", tt.v.Kind(), tt.kind)
			}
			if tt.v.Str() != tt.str {
				t.Errorf("Str() = %q, want %q", tt.v.Str(), tt.str)
			}
			if tt.v.Float() != tt.float {
				t.Errorf("Float() = %v, want %v", tt.v.Float(), tt.float)
			}
		})
	}

	if Int(1) == Str("1") {
		t.Error("Int(1) and Str(\"1\") must not be equal")
	}
	if got := Float(3.9).Convert(KindInt); got != Int(3) {
		t.Errorf("Convert to int = %v, want 3", got)
	}
	if Float(math.NaN()).IsFinite() {
		t.Error("NaN should not be finite")
	}
}

func TestValue_Format(t *testing.T) {
	assert.Equal(t, "1.235", Float(1.23456).Format(3))
	assert.Equal(t, "1.23456", Float(1.23456).Format(-1))
	assert.Equal(t, "7", Int(7).Format(3))
	assert.Equal(t, "dark", Str("dark").Format(3))
}

func TestOf(t *testing.T) {
	v, err := Of(int32(5))
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)

	v, err = Of(true)
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)

	_, err = Of(struct{}{})
	assert.Error(t, err)
}

func TestBuild_ConsistentRecords(t *testing.T) {
	recs := []Record{row(2, "r0", 3), row(1, "b0", 1)}
	tbl, err := Build(testSchema, recs)
	require.NoError(t, err)
	assert.Equal(t, []string{"EXPID", "CAMERA", "TSNR2_LRG"}, tbl.Columns.Names())
	assert.Equal(t, 2, tbl.Len())

	tbl.SortBy("EXPID", "CAMERA")
	assert.Equal(t, int64(1), tbl.Rows[0]["EXPID"].Int())
}

func TestBuild_ColumnMismatchIsFatal(t *testing.T) {
	recs := []Record{
		row(1, "b0", 1),
		{"EXPID": Int(1), "CAMERA": Str("r0"), "TSNR2_ELG": Float(1)},
	}
	_, err := Build(testSchema, recs)
	require.ErrorIs(t, err, ErrColumnMismatch)
	assert.Contains(t, err.Error(), "TSNR2_LRG")
	assert.Contains(t, err.Error(), "TSNR2_ELG")
}

func TestBuild_UndeclaredColumnIsFatal(t *testing.T) {
	r := row(1, "b0", 1)
	r["EXTRA"] = Int(1)
	_, err := Build(testSchema, []Record{r})
	require.ErrorIs(t, err, ErrColumnMismatch)
	assert.Contains(t, err.Error(), "EXTRA")
}

func TestBuild_Empty(t *testing.T) {
	tbl, err := Build(testSchema, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestCheckUnique(t *testing.T) {
	tbl := &Table{Columns: testSchema, Rows: []Record{row(1, "b0", 1), row(1, "b0", 2)}}
	assert.ErrorIs(t, tbl.CheckUnique("EXPID", "CAMERA"), ErrDuplicateKey)
	assert.NoError(t, tbl.CheckUnique("TSNR2_LRG"))
}

func TestAddMissingColumns(t *testing.T) {
	old := &Table{
		Columns: Schema{IntColumn("EXPID")},
		Rows:    []Record{{"EXPID": Int(10)}},
	}
	added := AddMissingColumns(old, testSchema)
	assert.Equal(t, []string{"CAMERA", "TSNR2_LRG"}, added)
	assert.Equal(t, Str("unknown"), old.Rows[0]["CAMERA"])
	assert.Equal(t, Float(0), old.Rows[0]["TSNR2_LRG"])

	assert.Empty(t, AddMissingColumns(old, testSchema))
}

func TestReorder(t *testing.T) {
	tbl := &Table{
		Columns: Schema{FloatColumn("TSNR2_LRG"), IntColumn("EXPID")},
		Rows:    []Record{{"TSNR2_LRG": Int(4), "EXPID": Int(1)}},
	}
	require.NoError(t, Reorder(tbl, testSchema))
	assert.Equal(t, testSchema.Names(), tbl.Columns.Names())
	assert.Equal(t, Float(4), tbl.Rows[0]["TSNR2_LRG"])
	assert.Equal(t, Str("unknown"), tbl.Rows[0]["CAMERA"])

	tbl.Columns = append(tbl.Columns, IntColumn("BOGUS"))
	err := Reorder(tbl, testSchema)
	require.ErrorIs(t, err, ErrUnknownColumn)
	assert.Contains(t, err.Error(), "BOGUS")
}

func TestLeftJoin(t *testing.T) {
	schema := Schema{IntColumn("EXPID"), FloatColumn("SKY")}
	tbl := &Table{Columns: schema, Rows: []Record{
		{"EXPID": Int(1), "SKY": Float(0)},
		{"EXPID": Int(2), "SKY": Float(0)},
	}}
	aux := &Table{Columns: schema, Rows: []Record{
		{"EXPID": Int(2), "SKY": Float(21.5)},
		{"EXPID": Int(3), "SKY": Float(19)},
	}}

	matched := LeftJoin(tbl, aux, "EXPID", "SKY")
	assert.Equal(t, 1, matched)
	assert.Equal(t, 0.0, tbl.Rows[0]["SKY"].Float())
	assert.Equal(t, 21.5, tbl.Rows[1]["SKY"].Float())
}

func TestLeftJoin_NonFiniteBecomesDefault(t *testing.T) {
	schema := Schema{IntColumn("EXPID"), FloatColumn("SKY")}
	tbl := &Table{Columns: schema, Rows: []Record{{"EXPID": Int(1), "SKY": Float(5)}}}
	aux := &Table{Columns: schema, Rows: []Record{{"EXPID": Int(1), "SKY": Float(math.NaN())}}}

	LeftJoin(tbl, aux, "EXPID", "SKY")
	assert.Equal(t, 0.0, tbl.Rows[0]["SKY"].Float())
}

func TestWriteCSV(t *testing.T) {
	tbl := &Table{Columns: testSchema, Rows: []Record{row(1, "b0", 1.23456)}}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl, 2))
	assert.Equal(t, "EXPID,CAMERA,TSNR2_LRG\n1,b0,1.23\n", buf.String())
}
