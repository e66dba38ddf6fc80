// Package table holds the in-memory column tables shared by the camera and
// exposure summaries: typed scalar values, declared schemas, and the
// build/merge/reconcile operations applied to them between runs.
package table

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the scalar type stored in a Value.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a typed scalar cell. Values compare equal only when both the kind
// and the payload match, so Int(1) and Str("1") are distinct keys.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating-point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Str returns a string value.
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Zero returns the zero value of kind k: 0, 0.0 or "".
func Zero(k Kind) Value { return Value{kind: k} }

func (v Value) Kind() Kind { return v.kind }

// Int returns the value as an integer. Floats are truncated and strings are
// parsed; unparseable strings give 0.
func (v Value) Int() int64 {
	switch v.kind {
	case KindFloat:
		return int64(v.f)
	case KindString:
		n, _ := strconv.ParseInt(v.s, 10, 64)
		return n
	}
	return v.i
}

// Float returns the value as a float64. Unparseable strings give 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindString:
		f, _ := strconv.ParseFloat(v.s, 64)
		return f
	}
	return v.f
}

// Str returns the string payload, or the formatted number for numeric kinds.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.s
	}
	return v.String()
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return v.s
}

// Format renders the value with floats rounded to precision decimals.
// A negative precision uses the shortest exact representation.
func (v Value) Format(precision int) string {
	if v.kind == KindFloat && precision >= 0 {
		return strconv.FormatFloat(v.f, 'f', precision, 64)
	}
	return v.String()
}

// Convert coerces v to kind k. It is used when reading persisted tables whose
// storage type differs from the declared column kind.
func (v Value) Convert(k Kind) Value {
	if v.kind == k {
		return v
	}
	switch k {
	case KindInt:
		return Int(v.Int())
	case KindFloat:
		return Float(v.Float())
	}
	return Str(v.Str())
}

// IsFinite reports whether a numeric value is neither NaN nor infinite.
// Strings and integers are always finite.
func (v Value) IsFinite() bool {
	if v.kind != KindFloat {
		return true
	}
	return !math.IsNaN(v.f) && !math.IsInf(v.f, 0)
}

// Of converts a Go scalar into a Value. Supported inputs are the signed and
// unsigned integer types, float32/float64, bool (as 0/1), string and []byte.
func Of(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case bool:
		if t {
			return Int(1), nil
		}
		return Int(0), nil
	case string:
		return Str(t), nil
	case []byte:
		return Str(string(t)), nil
	}
	return Value{}, fmt.Errorf("unsupported scalar type %T", x)
}
